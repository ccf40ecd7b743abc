package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"taskmill/internal/domain"
	"taskmill/internal/queue"
	"taskmill/internal/schedule"
)

// Service re-evaluates stored definitions on a ticker. Each due definition
// inserts a fresh task row for the resolved instant and advances its own
// next-run; past task rows are never touched.
type Service struct {
	store    queue.Store
	interval time.Duration
}

func NewService(store queue.Store, checkInterval time.Duration) *Service {
	return &Service{store: store, interval: checkInterval}
}

func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.interval).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case now := <-ticker.C:
			s.processDue(ctx, now.UTC())
		}
	}
}

func (s *Service) processDue(ctx context.Context, now time.Time) {
	defs, err := s.store.DueDefinitions(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to load due definitions")
		return
	}

	for _, def := range defs {
		if err := s.processDefinition(ctx, def, now); err != nil {
			log.Error().Err(err).Str("definition_id", def.ID).Msg("failed to process definition")
		}
	}
}

func (s *Service) processDefinition(ctx context.Context, def domain.Definition, now time.Time) error {
	cron := schedule.CronPattern(def.CronExpr)
	nextRun, err := schedule.Resolve(&cron, now)
	if errors.Is(err, schedule.ErrNoTimestamps) {
		// Pattern yields nothing further; disable instead of re-polling it.
		def.Enabled = false
		if uerr := s.store.UpdateDefinition(ctx, def); uerr != nil {
			return uerr
		}
		log.Warn().Str("definition_id", def.ID).Msg("definition has no future occurrence, disabled")
		return nil
	}
	if err != nil {
		return err
	}

	taskID, err := s.store.Insert(ctx, domain.Task{
		Kind:        def.Kind,
		Payload:     def.Payload,
		MaxRetries:  def.MaxRetries,
		ScheduledAt: now,
	})
	if err != nil {
		return err
	}

	if err := s.store.MarkDefinitionRun(ctx, def.ID, now, nextRun); err != nil {
		return err
	}

	log.Info().
		Str("definition_id", def.ID).
		Str("definition_name", def.Name).
		Str("task_id", taskID).
		Time("next_run", nextRun).
		Msg("scheduled task enqueued")

	return nil
}

// NextRun resolves the first run instant for a new definition.
func NextRun(expr string, from time.Time) (time.Time, error) {
	cron := schedule.CronPattern(expr)
	return schedule.Resolve(&cron, from)
}
