package adapter

import (
	"context"
	"fmt"

	pool "github.com/libp2p/go-buffer-pool"

	"github.com/1ureka/rftun/internal/protocol"
	"github.com/1ureka/rftun/internal/tunnel"
	"github.com/1ureka/rftun/internal/util"
)

// egress reads datagrams from the interface and transmits them as frames.
func (p *Pump) egress(ctx context.Context) error {
	buf := pool.Get(p.cfg.MTU)
	defer pool.Put(buf)

	failures := 0
	for {
		n, err := p.dev.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if failures >= maxIOFailures {
				return fmt.Errorf("%w: read %s: %v", ErrTransientIO, p.dev.Name(), err)
			}
			util.LogWarning("interface read failed (%d/%d): %v", failures, maxIOFailures, err)
			if !sleep(ctx, retryDelay) {
				return nil
			}
			continue
		}
		failures = 0
		if n == 0 {
			continue
		}

		if err := p.send(ctx, buf[:n]); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// send fragments one datagram and transmits its frames in order, keeping
// them for repair.
func (p *Pump) send(ctx context.Context, datagram []byte) error {
	out, err := p.frag.Fragment(datagram, p.cfg.FragmentSize)
	if err != nil {
		util.LogWarning("dropping datagram: %v", err)
		return nil
	}

	frames := make([][]byte, 0, out.FrameCount())
	for frame := range out.Frames() {
		if err := p.links.TransmitFragment(ctx, frame); err != nil {
			return fmt.Errorf("message %d: %w", out.ID, err)
		}
		frames = append(frames, frame)
	}
	p.cache.Store(out.ID, frames)

	util.Stats.AddMessageSent()
	if util.DebugEnabled() {
		util.LogDebug("TX msg %d: %s in %d frames", out.ID, tunnel.Describe(datagram), len(frames))
	}
	return nil
}

// respond serves repair requests from the peer out of the send cache.
func (p *Pump) respond(ctx context.Context) {
	for {
		select {
		case req := <-p.repairs:
			p.serveRepair(ctx, req)
		case <-ctx.Done():
			return
		}
	}
}

// serveRepair retransmits the cached frames req asks for. Only a complete
// resend counts as served.
func (p *Pump) serveRepair(ctx context.Context, req protocol.RepairRequest) bool {
	frames, ok := p.cache.Lookup(req.MessageID, req.Sequence)
	if !ok {
		util.LogDebug("repair of message %d requested, no longer cached", req.MessageID)
		return false
	}
	for _, frame := range frames {
		if err := p.links.TransmitFragment(ctx, frame); err != nil {
			if ctx.Err() == nil {
				util.LogWarning("failed to resend message %d: %v", req.MessageID, err)
			}
			return false
		}
	}

	util.Stats.AddRepairServed()
	if req.WholeMessage() {
		util.LogInfo("resent message %d (%d frames)", req.MessageID, len(frames))
	} else {
		util.LogInfo("resent fragment %d of message %d", req.Sequence, req.MessageID)
	}
	return true
}

// queueRepair hands a repair request to the responder without blocking the
// ingress loop.
func (p *Pump) queueRepair(req protocol.RepairRequest) {
	select {
	case p.repairs <- req:
	default:
		util.LogWarning("repair queue full, request for message %d dropped", req.MessageID)
	}
}
