// Package adapter runs the tunnel pump of a node: it moves whole datagrams
// between the virtual interface and the radio links, audits message loss and
// serves repair requests from the peer.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1ureka/rftun/internal/config"
	"github.com/1ureka/rftun/internal/fragment"
	"github.com/1ureka/rftun/internal/link"
	"github.com/1ureka/rftun/internal/loss"
	"github.com/1ureka/rftun/internal/protocol"
	"github.com/1ureka/rftun/internal/tunnel"
	"github.com/1ureka/rftun/internal/util"
)

// ErrTransientIO is returned when interface reads or writes keep failing
// past the retry budget.
var ErrTransientIO = errors.New("interface I/O keeps failing")

// Tuning constants.
const (
	retryDelay       = 100 * time.Millisecond // wait before retrying interface I/O
	maxIOFailures    = 5                      // consecutive failures before giving up
	repairQueueDepth = 16                     // pending repair requests from the peer
)

// Links is the part of link.Multiplexer the pump drives.
type Links interface {
	TransmitFragment(ctx context.Context, frame []byte) error
	TransmitControl(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) (link.Frame, error)
}

var _ Links = (*link.Multiplexer)(nil)

// Config tunes a Pump.
type Config struct {
	Self, Peer   uint8
	FragmentSize int // data bytes per fragment
	MTU          int // largest datagram read from the interface

	MaxAge     time.Duration // reassembly buffer lifetime
	MaxPending int           // reassembly buffers held at once

	Repair         bool
	RepairInterval time.Duration // loss audit period, also the eviction sweep period
	Holdoff        time.Duration
	MaxAttempts    int
	CacheSize      int

	HelloInterval time.Duration
	HelloAttempts int
}

// FromConfig derives the pump settings of a node.
func FromConfig(c config.Config) Config {
	return Config{
		Self:           c.NodeID,
		Peer:           c.PeerID,
		FragmentSize:   c.FragmentSize,
		MTU:            c.Tunnel.MTU,
		MaxAge:         c.Reassembly.MaxAge.Duration,
		MaxPending:     c.Reassembly.MaxPending,
		Repair:         c.Repair.Enabled,
		RepairInterval: c.Repair.Interval.Duration,
		Holdoff:        c.Repair.Holdoff.Duration,
		MaxAttempts:    c.Repair.MaxAttempts,
		CacheSize:      c.Repair.CacheSize,
		HelloInterval:  2 * time.Second,
		HelloAttempts:  5,
	}
}

// Pump bridges one tunnel.Device and the links of a node.
//
// The egress loop owns the fragmenter, the ingress loop owns the
// reassembler, the unwrapper and the requester; only the send cache and the
// detector are shared, and both lock internally.
type Pump struct {
	cfg   Config
	dev   tunnel.Device
	links Links

	frag  *fragment.Fragmenter
	cache *fragment.SendCache

	reasm     *fragment.Reassembler
	unwrap    loss.Unwrapper
	detector  *loss.Detector
	requester *loss.Requester

	repairs  chan protocol.RepairRequest
	peerSeen atomic.Bool
}

// New creates a pump. It does not start any goroutine; call Run.
func New(dev tunnel.Device, links Links, cfg Config) *Pump {
	if cfg.RepairInterval <= 0 {
		cfg.RepairInterval = 5 * time.Second
	}
	if cfg.HelloInterval <= 0 {
		cfg.HelloInterval = 2 * time.Second
	}
	if cfg.MTU <= 0 {
		cfg.MTU = 1500
	}

	p := &Pump{
		cfg:      cfg,
		dev:      dev,
		links:    links,
		frag:     fragment.NewFragmenter(fragment.NewIDAllocator()),
		cache:    fragment.NewSendCache(cfg.CacheSize),
		detector: loss.NewDetector(),
		repairs:  make(chan protocol.RepairRequest, repairQueueDepth),
	}
	p.reasm = fragment.NewReassembler(
		fragment.WithMaxAge(cfg.MaxAge),
		fragment.WithMaxPending(cfg.MaxPending),
		fragment.WithEvictHook(logEviction),
	)
	p.requester = loss.NewRequester(links, cfg.Holdoff, cfg.MaxAttempts)
	return p
}

// Run pumps datagrams until ctx is cancelled or a loop fails. It closes dev
// on the way out, which unblocks a pending interface read. A cancelled ctx
// is a clean shutdown and returns nil.
func (p *Pump) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		p.dev.Close()
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for _, loop := range []func(context.Context) error{p.egress, p.ingress} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop(ctx); err != nil {
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		p.respond(ctx)
	}()
	go func() {
		defer wg.Done()
		p.discover(ctx)
	}()

	util.LogInfo("pump running on %s: node %d <-> peer %d, %d-byte fragments",
		p.dev.Name(), p.cfg.Self, p.cfg.Peer, p.cfg.FragmentSize)

	wg.Wait()
	close(errCh)

	report := p.detector.Report()
	util.Stats.SetLossRate(report.LossRate)
	util.LogInfo("final loss report: %s", report)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Report returns the current message loss report.
func (p *Pump) Report() loss.Report {
	return p.detector.Report()
}

// sleep waits d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// discover announces this node with Hello records until any frame from the
// peer has been heard.
func (p *Pump) discover(ctx context.Context) {
	hello := protocol.EncodeHello(p.cfg.Self)
	for i := 1; i <= p.cfg.HelloAttempts; i++ {
		if p.peerSeen.Load() {
			return
		}
		if err := p.links.TransmitControl(ctx, hello); err != nil {
			if ctx.Err() != nil {
				return
			}
			util.LogWarning("failed to send hello: %v", err)
		}
		util.LogDebug("hello %d/%d sent to %d", i, p.cfg.HelloAttempts, p.cfg.Peer)
		if !sleep(ctx, p.cfg.HelloInterval) {
			return
		}
	}
	if !p.peerSeen.Load() {
		util.LogWarning("peer %d not heard after %d hellos, still listening", p.cfg.Peer, p.cfg.HelloAttempts)
	}
}

func logEviction(e fragment.Evicted) {
	util.Stats.AddEvicted(1)
	expected := "unknown"
	if e.Expected >= 0 {
		expected = fmt.Sprint(e.Expected)
	}
	util.LogWarning("evicted incomplete message %d from %d after %s (%d/%s fragments)",
		e.Key.ID, e.Key.Peer, e.Age.Round(time.Millisecond), e.Received, expected)
}
