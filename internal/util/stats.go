package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic counter.
var Stats = &stats{}

type stats struct {
	FramesSent    atomic.Int64 // frames handed to a radio
	FramesRecv    atomic.Int64 // frames received on either radio
	BytesSent     atomic.Int64 // frame bytes handed to a radio
	BytesRecv     atomic.Int64 // frame bytes received on either radio
	MessagesSent  atomic.Int64 // datagrams fragmented and transmitted
	MessagesRecv  atomic.Int64 // datagrams reassembled
	Malformed     atomic.Int64 // frames discarded as malformed
	Evicted       atomic.Int64 // reassembly buffers dropped incomplete
	RepairsSent   atomic.Int64 // repair requests sent to the peer
	RepairsServed atomic.Int64 // repair requests answered from the send cache

	lossRate atomic.Uint64 // last reported loss rate, in units of 0.01%
}

func (s *stats) AddSent(n int) {
	s.FramesSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.FramesRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddMessageSent()      { s.MessagesSent.Add(1) }
func (s *stats) AddMessageRecv()      { s.MessagesRecv.Add(1) }
func (s *stats) AddMalformed()        { s.Malformed.Add(1) }
func (s *stats) AddEvicted(n int)     { s.Evicted.Add(int64(n)) }
func (s *stats) AddRepairsSent(n int) { s.RepairsSent.Add(int64(n)) }
func (s *stats) AddRepairServed()     { s.RepairsServed.Add(1) }

// SetLossRate records the latest loss rate (0..1) for the reporter.
func (s *stats) SetLossRate(rate float64) {
	s.lossRate.Store(uint64(rate * 10000))
}

// LossRate returns the latest recorded loss rate (0..1).
func (s *stats) LossRate() float64 {
	return float64(s.lossRate.Load()) / 10000
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs link statistics every
// interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevOut, prevIn int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				out := Stats.MessagesSent.Load()
				in := Stats.MessagesRecv.Load()

				upS := float64(sent-prevSent) / secs
				downS := float64(recv-prevRecv) / secs
				outC := out - prevOut
				inC := in - prevIn

				if outC > 0 || inC > 0 || upS > 0 || downS > 0 {
					pterm.DefaultLogger.Info(formatStats(upS, downS, outC, inC, Stats.LossRate()))
				}

				prevSent = sent
				prevRecv = recv
				prevOut = out
				prevIn = in

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(upS, downS float64, outC, inC int64, loss float64) string {
	return fmt.Sprintf("Up: %s/s | Down: %s/s | Msg: %2d↑ %2d↓ | Loss: %5.2f%%",
		formatBytes(upS),
		formatBytes(downS),
		outC,
		inC,
		loss*100,
	)
}
