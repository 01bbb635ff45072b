package reservation

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically expires overdue reservations so abandoned
// holds cannot pin inventory for longer than one sweep interval past
// their TTL.
type Sweeper struct {
	manager   *Manager
	interval  time.Duration
	batchSize int
}

// NewSweeper constructs a Sweeper around a Manager.
func NewSweeper(m *Manager, interval time.Duration, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{manager: m, interval: interval, batchSize: batchSize}
}

// Run loops until ctx is cancelled, sweeping once per interval.
// Errors are logged and the loop keeps going; a failed sweep only
// delays release until the next tick or the next lazy read.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.manager.SweepExpired(ctx, s.batchSize)
			if err != nil {
				log.Printf("reservation sweeper: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("reservation sweeper: expired %d overdue holds", n)
			}
		}
	}
}
