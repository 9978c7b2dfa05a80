package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/rftun/internal/fragment"
	"github.com/1ureka/rftun/internal/link"
	"github.com/1ureka/rftun/internal/protocol"
	"github.com/1ureka/rftun/internal/tunnel"
	"github.com/1ureka/rftun/internal/util"
)

// ingress receives frames, reassembles messages and writes them to the
// interface. Between receptions it runs the housekeeping pass every
// RepairInterval, so the reassembler and the loss state stay owned by this
// goroutine alone.
func (p *Pump) ingress(ctx context.Context) error {
	next := time.Now().Add(p.cfg.RepairInterval)
	for {
		rctx, cancel := context.WithDeadline(ctx, next)
		f, err := p.links.Receive(rctx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				if err := p.housekeeping(ctx); err != nil {
					return err
				}
				next = time.Now().Add(p.cfg.RepairInterval)
				continue
			}
			return err
		}

		if err := p.handleFrame(ctx, f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (p *Pump) handleFrame(ctx context.Context, f link.Frame) error {
	if f.Sender == p.cfg.Peer && !p.peerSeen.Swap(true) {
		util.LogSuccess("peer %d heard on link %s (rssi %s)", f.Sender, f.Link, f.Signal())
	}

	h, payload, err := protocol.DecodeHeader(f.Payload)
	if err != nil {
		util.Stats.AddMalformed()
		util.LogWarning("malformed frame from %d on link %s: %v [%s]", f.Sender, f.Link, err, util.Preview(f.Payload, 16))
		return nil
	}
	if h.IsControl() {
		p.handleControl(f, h, payload)
		return nil
	}

	msg, err := p.reasm.Feed(f.Sender, f.Payload)
	if err != nil {
		util.Stats.AddMalformed()
		util.LogWarning("malformed fragment from %d on link %s: %v", f.Sender, f.Link, err)
		return nil
	}
	if msg == nil {
		return nil
	}
	return p.deliver(ctx, msg)
}

func (p *Pump) handleControl(f link.Frame, h protocol.Header, payload []byte) {
	switch h.Sequence {
	case protocol.KindRepairRequest:
		req, err := protocol.DecodeRepairRequest(payload)
		if err != nil {
			util.Stats.AddMalformed()
			util.LogWarning("malformed repair request from %d: %v", f.Sender, err)
			return
		}
		util.LogDebug("repair request from %d for message %d", f.Sender, req.MessageID)
		p.queueRepair(req)

	case protocol.KindHello:
		node, err := protocol.DecodeHello(payload)
		if err != nil {
			util.Stats.AddMalformed()
			util.LogWarning("malformed hello from %d: %v", f.Sender, err)
			return
		}
		if node != f.Sender {
			util.LogWarning("hello from %d claims node %d", f.Sender, node)
		}
		// A hello after traffic means the peer restarted and its message ids
		// begin again at 1.
		if f.Sender == p.cfg.Peer && p.detector.Report().Observed > 0 {
			util.LogInfo("peer %d restarted, resetting loss tracking", f.Sender)
			p.unwrap.Reset()
			p.detector.Reset()
			p.requester.Reset()
		}

	default:
		util.LogDebug("ignoring control record kind %d from %d", h.Sequence, f.Sender)
	}
}

// deliver writes a reassembled message to the interface, retrying transient
// failures.
func (p *Pump) deliver(ctx context.Context, msg *fragment.Message) error {
	if msg.Gaps > 0 {
		util.LogWarning("message %d from %d released with %d missing fragments", msg.ID, msg.Peer, msg.Gaps)
	}

	for failures := 1; ; failures++ {
		_, err := p.dev.Write(msg.Data)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		if failures >= maxIOFailures {
			return fmt.Errorf("%w: write %s: %v", ErrTransientIO, p.dev.Name(), err)
		}
		util.LogWarning("interface write failed (%d/%d): %v", failures, maxIOFailures, err)
		if !sleep(ctx, retryDelay) {
			return nil
		}
	}

	if msg.Peer == p.cfg.Peer {
		p.detector.Observe(p.unwrap.Extend(msg.ID))
	}
	util.Stats.AddMessageRecv()
	if util.DebugEnabled() {
		util.LogDebug("RX msg %d from %d: %s", msg.ID, msg.Peer, tunnel.Describe(msg.Data))
	}
	return nil
}

// housekeeping drops stale reassembly buffers and, when repair is enabled,
// asks the peer for messages that never arrived.
func (p *Pump) housekeeping(ctx context.Context) error {
	for _, e := range p.reasm.Evict() {
		logEviction(e)
	}

	report := p.detector.Report()
	util.Stats.SetLossRate(report.LossRate)
	if len(report.Missing) > 0 {
		util.LogInfo("loss report: %s", report)
	}
	if !p.cfg.Repair || len(report.Missing) == 0 {
		return nil
	}

	n, err := p.requester.Request(ctx, report)
	util.Stats.AddRepairsSent(n)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, link.ErrLinkUnavailable) {
			return err
		}
		util.LogWarning("%v", err)
	}
	return nil
}
