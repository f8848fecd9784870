package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"notifyhub/internal/domain"
	"notifyhub/internal/events"
	"notifyhub/internal/metrics"
	"notifyhub/internal/models"

	"github.com/rs/zerolog"
)

// Reconcile cycle results reported to metrics.
const (
	reconcileApplied     = "applied"
	reconcileCleared     = "cleared"
	reconcileFetchFailed = "fetch_failed"
)

// Reconciler brings the store in line with the source's current schedule set.
// Cycles never overlap.
type Reconciler struct {
	source Source
	store  *Store
	events domain.EventPublisher
	logger *zerolog.Logger
	now    func() time.Time

	mu sync.Mutex
	// skipLogged holds ids already reported as rejected so they are logged once.
	skipLogged map[string]struct{}
}

func NewReconciler(source Source, store *Store, eventPublisher domain.EventPublisher, logger *zerolog.Logger) *Reconciler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Reconciler{
		source:     source,
		store:      store,
		events:     eventPublisher,
		logger:     logger,
		now:        time.Now,
		skipLogged: make(map[string]struct{}),
	}
}

// RunOnce performs one cycle. A fetch failure leaves the store untouched and
// is returned; an empty fetch clears the store.
func (r *Reconciler) RunOnce(ctx context.Context) (models.ReconcileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	records, err := r.source.FetchSchedules(ctx)
	if err != nil {
		metrics.IncReconcile(reconcileFetchFailed)
		r.logger.Warn().Err(err).Int("tasks", r.store.Len()).Msg("schedule fetch failed, keeping current tasks")
		return models.ReconcileResult{FetchFailed: true}, fmt.Errorf("reconcile: %w", err)
	}

	res := models.ReconcileResult{Fetched: len(records)}
	if len(records) == 0 {
		cancelled := r.store.Clear()
		res.Cleared = true
		res.Evicted = len(cancelled)
		r.skipLogged = make(map[string]struct{})
		r.publishTasks(events.EventTaskCancelled, cancelled)
		r.finish(res, reconcileCleared, started)
		return res, nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Time.Before(records[j].Time)
	})

	// The earliest occurrence of a duplicated id wins.
	desired := make(map[string]models.ScheduleRecord, len(records))
	for _, rec := range records {
		if _, ok := desired[rec.ID]; !ok {
			desired[rec.ID] = rec
		}
	}

	retained := r.store.Retain(desired)
	res.Evicted = len(retained.Evicted)
	res.Removed = len(retained.Removed)
	r.publishTasks(events.EventTaskCancelled, retained.Evicted)

	now := r.now()
	logged := make(map[string]struct{})
	for _, rec := range records {
		if first, ok := desired[rec.ID]; ok && (!first.Time.Equal(rec.Time) || first.UserID != rec.UserID) {
			continue
		}
		if reason := rejectReason(rec, now); reason != "" {
			res.Skipped++
			r.logSkip(rec, reason, logged)
			continue
		}
		if r.store.Has(rec.ID) {
			continue
		}
		if r.store.Admit(rec.ID, rec.UserID, rec.Time) {
			res.Admitted++
			r.publishTask(events.EventTaskAdmitted, models.Task{ID: rec.ID, UserID: rec.UserID, ExecutionTime: rec.Time})
		}
	}
	r.skipLogged = logged

	metrics.IncAdmitted(res.Admitted)
	r.finish(res, reconcileApplied, started)
	return res, nil
}

func rejectReason(rec models.ScheduleRecord, now time.Time) string {
	switch {
	case strings.TrimSpace(rec.ID) == "":
		return "missing id"
	case strings.TrimSpace(rec.UserID) == "":
		return "missing userId"
	case !rec.Time.After(now):
		return "execution time not in the future"
	default:
		return ""
	}
}

func (r *Reconciler) logSkip(rec models.ScheduleRecord, reason string, logged map[string]struct{}) {
	key := rec.ID + "|" + reason
	logged[key] = struct{}{}
	if _, seen := r.skipLogged[key]; seen {
		return
	}
	r.logger.Info().
		Str("task_id", rec.ID).
		Str("user_id", rec.UserID).
		Time("execution_time", rec.Time).
		Str("reason", reason).
		Msg("schedule record skipped")
}

func (r *Reconciler) finish(res models.ReconcileResult, result string, started time.Time) {
	metrics.IncReconcile(result)
	r.logger.Info().
		Int("fetched", res.Fetched).
		Int("admitted", res.Admitted).
		Int("evicted", res.Evicted).
		Int("removed", res.Removed).
		Int("skipped", res.Skipped).
		Bool("cleared", res.Cleared).
		Int("tasks", r.store.Len()).
		Dur("took", time.Since(started)).
		Msg("reconciliation completed")

	if r.events == nil {
		return
	}
	if err := r.events.PublishJSON(events.EventReconciled, events.ReconcilePayload{
		Fetched:  res.Fetched,
		Admitted: res.Admitted,
		Evicted:  res.Evicted,
		Removed:  res.Removed,
		Skipped:  res.Skipped,
		Cleared:  res.Cleared,
	}); err != nil {
		r.logger.Warn().Err(err).Msg("publish reconcile event")
	}
}

func (r *Reconciler) publishTasks(eventType string, tasks []models.Task) {
	for _, t := range tasks {
		r.publishTask(eventType, t)
	}
}

func (r *Reconciler) publishTask(eventType string, task models.Task) {
	if r.events == nil {
		return
	}
	if err := r.events.PublishJSON(eventType, events.TaskEventPayload{
		TaskID:        task.ID,
		UserID:        task.UserID,
		ExecutionTime: task.ExecutionTime,
	}); err != nil {
		r.logger.Warn().Err(err).Str("event", eventType).Msg("publish task event")
	}
}
