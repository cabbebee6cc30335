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

// Stats is the process-wide traffic counter, aggregated over all connections.
var Stats = &stats{}

type stats struct {
	PacketsSent  atomic.Int64 // cumulative packets transmitted (including resends)
	PacketsRecv  atomic.Int64 // cumulative packets received
	PacketsAcked atomic.Int64 // cumulative packets confirmed by a peer
	PacketsLost  atomic.Int64 // cumulative packets dropped with an exhausted budget
	BytesSent    atomic.Int64 // cumulative datagram bytes written
	BytesRecv    atomic.Int64 // cumulative datagram bytes read
}

func (s *stats) AddSent(n int) {
	s.PacketsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.PacketsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddAcked() { s.PacketsAcked.Add(1) }
func (s *stats) AddLost()  { s.PacketsLost.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevLost int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.PacketsSent.Load()
				recv := Stats.PacketsRecv.Load()
				lost := Stats.PacketsLost.Load()
				bOut := Stats.BytesSent.Load()
				bIn := Stats.BytesRecv.Load()

				dSent := sent - prevSent
				dRecv := recv - prevRecv
				dLost := lost - prevLost

				if dSent > 0 || dRecv > 0 {
					pterm.DefaultLogger.Info(formatStats(dSent, dRecv, dLost, bOut, bIn))
				}

				prevSent = sent
				prevRecv = recv
				prevLost = lost

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

// formatStats returns a formatted string of the last interval's packet
// counts plus lifetime byte totals.
func formatStats(sent, recv, lost, bytesOut, bytesIn int64) string {
	return fmt.Sprintf("Out: %3d pkt | In: %3d pkt | Lost: %2d | Total: %s↑ %s↓",
		sent,
		recv,
		lost,
		formatBytes(float64(bytesOut)),
		formatBytes(float64(bytesIn)),
	)
}
