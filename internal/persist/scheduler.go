package persist

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Luna-leo/seriesd/internal/bridge"
	"github.com/Luna-leo/seriesd/internal/registry"
)

// cronFields is the standard five-field cron layout.
const cronFields = cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow

// Scheduler sweeps the registry on a cron schedule and persists
// in-memory references that have aged past the configured threshold, so
// long-lived datasets survive cache eviction without anyone asking.
type Scheduler struct {
	registry *registry.Registry
	bridge   bridge.Bridge
	schedule string
	minAge   time.Duration
	cron     *cron.Cron
	running  bool
	mu       sync.Mutex
	logger   zerolog.Logger
}

// SchedulerConfig holds configuration for the auto-persist scheduler.
type SchedulerConfig struct {
	Registry *registry.Registry
	Bridge   bridge.Bridge
	Schedule string // cron expression, e.g. "*/10 * * * *"
	MinAge   time.Duration
	Logger   zerolog.Logger
}

// NewScheduler creates the scheduler and validates the cron expression.
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "*/10 * * * *"
	}
	parser := cron.NewParser(cronFields)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, err
	}

	s := &Scheduler{
		registry: cfg.Registry,
		bridge:   cfg.Bridge,
		schedule: schedule,
		minAge:   cfg.MinAge,
		logger:   cfg.Logger.With().Str("component", "persist-scheduler").Logger(),
	}
	s.logger.Info().
		Str("schedule", schedule).
		Dur("min_age", cfg.MinAge).
		Msg("Persist scheduler initialized")
	return s, nil
}

// Start begins the periodic sweep. Starting twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("Persist scheduler already running")
		return nil
	}

	s.cron = cron.New(cron.WithParser(cron.NewParser(cronFields)))
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.runSweep()
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Time("next_run", s.nextRun()).
		Msg("Persist scheduler started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.running = false
	s.logger.Info().Msg("Persist scheduler stopped")
}

// runSweep persists every aged in-memory reference.
func (s *Scheduler) runSweep() {
	startTime := time.Now()

	candidates := s.registry.PersistCandidates(s.minAge)
	if len(candidates) == 0 {
		s.logger.Debug().Msg("No references due for persistence")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	var okCount, errCount, partitions int
	for _, id := range candidates {
		keys, err := s.registry.Persist(ctx, id, s.bridge)
		if err != nil {
			s.logger.Error().Err(err).
				Str("reference_id", id).
				Msg("Scheduled persist failed")
			errCount++
			continue
		}
		okCount++
		partitions += len(keys)
	}

	s.logger.Info().
		Int("persisted", okCount).
		Int("failed", errCount).
		Int("partitions", partitions).
		Dur("duration", time.Since(startTime)).
		Msg("Persist sweep completed")
}

// TriggerNow runs one sweep immediately, outside the schedule.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	s.logger.Info().Msg("Manual persist sweep")

	candidates := s.registry.PersistCandidates(s.minAge)
	var lastErr error
	for _, id := range candidates {
		if _, err := s.registry.Persist(ctx, id, s.bridge); err != nil {
			s.logger.Error().Err(err).
				Str("reference_id", id).
				Msg("Persist failed")
			lastErr = err
		}
	}
	return lastErr
}

// IsRunning reports whether the schedule is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns scheduler state for the status endpoint.
func (s *Scheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"running":         s.running,
		"schedule":        s.schedule,
		"min_age_seconds": int(s.minAge.Seconds()),
	}
	if s.running {
		status["next_run"] = s.nextRun().Format(time.RFC3339)
	}
	return status
}

func (s *Scheduler) nextRun() time.Time {
	parser := cron.NewParser(cronFields)
	schedule, err := parser.Parse(s.schedule)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(time.Now())
}
