package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the event digest on a cron schedule
type Scheduler struct {
	cron       *cron.Cron
	ctx        context.Context
	cancel     context.CancelFunc
	spec       string
	reportFunc func(ctx context.Context) error
}

// New creates a scheduler for spec, a standard five-field cron expression evaluated in UTC.
func New(spec string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
		spec:   spec,
	}
}

func (s *Scheduler) SetReportFunction(f func(ctx context.Context) error) {
	s.reportFunc = f
}

// Start registers the report job and starts the cron loop. An empty spec or missing report
// function leaves the scheduler idle.
func (s *Scheduler) Start() error {
	if s.spec == "" || s.reportFunc == nil {
		log.Println("digest scheduler disabled")
		return nil
	}

	_, err := s.cron.AddFunc(s.spec, func() {
		if err := s.reportFunc(s.ctx); err != nil {
			log.Printf("❌ digest generation failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid digest schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	log.Printf("📅 digest scheduler started with schedule %q (UTC)", s.spec)
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
