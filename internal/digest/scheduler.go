package digest

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gcolon75/Project-Valine-sub002/internal/chat"
	"github.com/gcolon75/Project-Valine-sub002/internal/logging"
	"github.com/gcolon75/Project-Valine-sub002/internal/workflow"
)

// Cron expressions use the standard 5-field format. Daily digests go out at
// 09:00 every day, weekly digests at 09:00 on Mondays.
const (
	dailySchedule  = "0 9 * * *"
	weeklySchedule = "0 9 * * 1"
)

// Scheduler posts periodic digests to a channel.
type Scheduler struct {
	cron      *cron.Cron
	client    *workflow.Client
	workflows []string
	poster    chat.Poster
	channelID string
	logger    *logging.Logger
}

// NewScheduler creates a scheduler; call RegisterSchedules then Start.
func NewScheduler(client *workflow.Client, workflows []string, poster chat.Poster, channelID string, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scheduler{
		cron:      cron.New(),
		client:    client,
		workflows: workflows,
		poster:    poster,
		channelID: channelID,
		logger:    logger,
	}
}

// RegisterSchedules adds the daily and weekly digest entries.
func (s *Scheduler) RegisterSchedules() error {
	if _, err := s.cron.AddFunc(dailySchedule, func() { s.post(PeriodDaily, dailyWindow) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(weeklySchedule, func() { s.post(PeriodWeekly, weeklyWindow) }); err != nil {
		return err
	}
	return nil
}

func (s *Scheduler) post(period string, window time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	s.logger.Info("scheduled digest fired", map[string]any{"period": period})
	content := Build(ctx, s.client, s.workflows, window, time.Now().UTC())
	if err := s.poster.PostMessage(ctx, s.channelID, content); err != nil {
		s.logger.Error("digest post failed", map[string]any{
			"period": period,
			"error":  err.Error(),
		})
	}
}

// Start begins executing registered entries.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to complete.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries returns the number of registered cron entries (for testing).
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
