package application

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler runs debt reconciliation once a day.
type Scheduler struct {
	reconciler *Reconciler
	routes     []string
	dailyAt    string
	logger     logrus.FieldLogger
}

// NewScheduler constructs a Scheduler. Empty routes means every route.
func NewScheduler(reconciler *Reconciler, routes []string, dailyAt string, logger logrus.FieldLogger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		reconciler: reconciler,
		routes:     routes,
		dailyAt:    dailyAt,
		logger:     logger,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.reconciler == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now.UTC()) {
				continue
			}
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	hour, minute, err := parseDailyAt(s.dailyAt)
	if err != nil {
		return false
	}
	return now.Hour() == hour && now.Minute() == minute
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.reconciler.Run(ctx, s.routes); err != nil {
		s.logger.WithError(err).Error("scheduled debt reconciliation failed")
	}
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
