package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"notifyhub/internal/delivery"
	"notifyhub/internal/domain"
	"notifyhub/internal/events"
	"notifyhub/internal/metrics"
	"notifyhub/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Options configure a Scheduler.
type Options struct {
	RefreshInterval time.Duration
	Message         string
}

// Scheduler owns the task store, the fire handler and the periodic reconciler.
type Scheduler struct {
	store      *Store
	fire       *FireHandler
	reconciler *Reconciler
	events     domain.EventPublisher
	interval   time.Duration
	base       Callback
	logger     *zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

func New(
	opts Options,
	source Source,
	dispatcher domain.Dispatcher,
	publisher delivery.Publisher,
	eventPublisher domain.EventPublisher,
	logger *zerolog.Logger,
) *Scheduler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Second
	}

	fire := NewFireHandler(publisher, eventPublisher, logger)
	store := NewStore(fire.Handle)
	fire.attach(store)

	base := NewDispatchCallback(dispatcher, opts.Message)
	fire.SetCallback(base)

	return &Scheduler{
		store:      store,
		fire:       fire,
		reconciler: NewReconciler(source, store, eventPublisher, logger),
		events:     eventPublisher,
		interval:   opts.RefreshInterval,
		base:       base,
		logger:     logger,
	}
}

// SetCustomCallback layers cb over the dispatch callback. nil restores the default.
func (s *Scheduler) SetCustomCallback(cb Callback) {
	s.fire.SetCallback(Layer(s.base, cb))
}

// Start runs an initial reconciliation and then one every refresh interval.
// A failed initial fetch is logged and does not prevent startup.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	cl := cronLogger{logger: s.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		_, _ = s.reconciler.RunOnce(ctx)
	}); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("schedule reconciliation: %w", err)
	}
	s.cron = c
	s.mu.Unlock()

	_, _ = s.reconciler.RunOnce(ctx)
	c.Start()

	s.logger.Info().Dur("refresh_interval", s.interval).Int("tasks", s.store.Len()).Msg("scheduler started")
	return nil
}

// Stop halts periodic reconciliation, cancels pending timers and waits for
// in-flight fires until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := s.store.Stop(ctx); err != nil {
		return fmt.Errorf("wait for running tasks: %w", err)
	}
	s.logger.Info().Msg("scheduler stopped")
	return nil
}

// Reconcile runs one cycle immediately.
func (s *Scheduler) Reconcile(ctx context.Context) (models.ReconcileResult, error) {
	return s.reconciler.RunOnce(ctx)
}

// Schedule admits a task outside the reconciliation cycle.
// A later cycle evicts it unless the source lists the same id.
func (s *Scheduler) Schedule(id, userID string, at time.Time) bool {
	if !s.store.Admit(id, userID, at) {
		return false
	}
	metrics.IncAdmitted(1)
	if s.events != nil {
		if err := s.events.PublishJSON(events.EventTaskAdmitted, events.TaskEventPayload{
			TaskID:        id,
			UserID:        userID,
			ExecutionTime: at,
		}); err != nil {
			s.logger.Warn().Err(err).Str("task_id", id).Msg("publish task admitted event")
		}
	}
	return true
}

// Cancel removes a task, stopping its timer if it has not fired.
func (s *Scheduler) Cancel(id string) bool {
	return s.store.Cancel(id)
}

func (s *Scheduler) Tasks() []models.Task {
	return s.store.All()
}

func (s *Scheduler) Task(id string) (models.Task, bool) {
	return s.store.Get(id)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger *zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
