package task

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Sweeper evicts finished tasks once they are older than the retention
// window.
type Sweeper struct {
	registry  *Registry
	retention time.Duration
	interval  time.Duration
	logger    *log.Logger
	now       func() time.Time

	once   sync.Once
	loops  atomic.Int32
	cycles atomic.Int64
}

// NewSweeper expects retention and interval to be already clamped by the
// configuration.
func NewSweeper(registry *Registry, retention, interval time.Duration, logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{
		registry:  registry,
		retention: retention,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Start launches the sweep loop. Only the first call has any effect; the
// loop runs until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.once.Do(func() {
		s.loops.Add(1)
		s.logger.Printf("Task sweeper started. Retention: %s, interval: %s", s.retention, s.interval)
		go s.loop(ctx)
	})
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("Task sweeper shutting down.")
			return
		case <-ticker.C:
			s.cycle()
		}
	}
}

// cycle runs one sweep and keeps a panic from ending the loop.
func (s *Sweeper) cycle() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("task sweep failed: %v", r)
		}
		s.cycles.Add(1)
	}()
	s.Sweep(s.now())
}

// Sweep evicts completed and failed tasks that finished at least one
// retention window before now.
func (s *Sweeper) Sweep(now time.Time) int {
	var expired []string
	for _, t := range s.registry.Snapshot() {
		if !t.Status.Finished() || t.FinishedAt.IsZero() {
			continue
		}
		if now.Sub(t.FinishedAt) >= s.retention {
			expired = append(expired, t.ID)
		}
	}
	if len(expired) == 0 {
		return 0
	}
	removed := s.registry.Evict(expired...)
	if removed > 0 {
		s.logger.Printf("evicted %d expired tasks", removed)
	}
	return removed
}
