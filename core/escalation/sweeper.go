package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hexascan/core/metrics"
	"hexascan/core/store"
	"hexascan/core/utils"
)

// Sweeper periodically scans active issues and escalates the ones whose
// deadline has passed. One failing issue never aborts the rest of the sweep.
type Sweeper struct {
	service *Service
	store   store.EscalationStore
	logger  *utils.Logger

	interval time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewSweeper(service *Service, st store.EscalationStore, interval time.Duration, logger *utils.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		service:  service,
		store:    st,
		logger:   logger,
		interval: interval,
	}
}

// Sweep runs a single pass. Returns the number of issues it transitioned
// (escalated or exhausted) and the count of per-issue failures.
func (s *Sweeper) Sweep(ctx context.Context) (transitioned, failed int) {
	settings := s.service.CurrentSettings(ctx)
	if !settings.SweepEnabled {
		return 0, 0
	}
	issues, err := s.store.ListActiveIssues(ctx)
	if err != nil {
		s.logger.Errorf("sweep: list active issues: %v", err)
		metrics.SweepErrors.Inc()
		return 0, 1
	}
	now := time.Now().UTC()
	window := settings.Window()
	for i := range issues {
		issue := &issues[i]
		if !now.After(Deadline(issue, window)) {
			continue
		}
		if err := s.service.Escalate(ctx, issue); err != nil {
			s.logger.Errorf("sweep: issue %d: %v", issue.ID, err)
			metrics.SweepErrors.Inc()
			failed++
			continue
		}
		transitioned++
	}
	return transitioned, failed
}

// Start schedules periodic sweeps. Safe to call once per process.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.interval)
		defer cancel()
		if transitioned, failed := s.Sweep(ctx); transitioned > 0 || failed > 0 {
			s.logger.Printf("sweep: %d transitioned, %d failed", transitioned, failed)
		}
	}); err != nil {
		s.logger.Errorf("sweep: schedule %q: %v", spec, err)
		return
	}
	c.Start()
	s.cron = c
	s.running = true
	s.logger.Printf("escalation sweeper started, interval %s", s.interval)
}

// StopWithContext halts the schedule and waits for an in-flight sweep to
// finish, bounded by ctx.
func (s *Sweeper) StopWithContext(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	stopped := s.cron.Stop()
	s.running = false
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
