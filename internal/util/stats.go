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

// Stats is the process-wide payload/connection counter.
var Stats = &stats{}

type stats struct {
	TotalConns   atomic.Int64 // cumulative count of connections reaching Connected
	ClosedConns  atomic.Int64 // cumulative count of connections torn down
	PayloadsSent atomic.Int64
	PayloadsRecv atomic.Int64
	BytesSent    atomic.Int64 // cumulative payload bytes handed to the transport
	BytesRecv    atomic.Int64 // cumulative payload bytes received
}

func (s *stats) AddConn()    { s.TotalConns.Add(1) }
func (s *stats) RemoveConn() { s.ClosedConns.Add(1) }

func (s *stats) AddSent(n int) {
	s.PayloadsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.PayloadsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	total, closed, pSent, pRecv, sent, recv int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		total:  s.TotalConns.Load(),
		closed: s.ClosedConns.Load(),
		pSent:  s.PayloadsSent.Load(),
		pRecv:  s.PayloadsRecv.Load(),
		sent:   s.BytesSent.Load(),
		recv:   s.BytesRecv.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// reportInterval is how often StartStatsReporter logs.
const reportInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs payload statistics
// every 10 seconds when there was activity. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		prev := Stats.snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if line, ok := formatDelta(prev, cur); ok {
					pterm.DefaultLogger.Info(line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatDelta describes the activity between two snapshots. It reports
// false when nothing happened.
func formatDelta(prev, cur snapshot) (string, bool) {
	inC := cur.total - prev.total
	outC := cur.closed - prev.closed
	pOut := cur.pSent - prev.pSent
	pIn := cur.pRecv - prev.pRecv

	if inC == 0 && outC == 0 && pOut == 0 && pIn == 0 {
		return "", false
	}

	return fmt.Sprintf("Sent: %3d (%s) | Recv: %3d (%s) | Conn: %2d↑ %2d↓",
		pOut, formatBytes(float64(cur.sent-prev.sent)),
		pIn, formatBytes(float64(cur.recv-prev.recv)),
		inC, outC,
	), true
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
