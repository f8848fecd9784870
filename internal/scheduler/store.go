package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"notifyhub/internal/metrics"
	"notifyhub/internal/models"
)

// FireFunc receives a task whose timer expired. It runs outside the store lock.
type FireFunc func(task models.Task)

type entry struct {
	task  models.Task
	timer *time.Timer
	// absent marks an executed task that the previous fetch no longer listed.
	absent bool
}

// Store is the in-memory registry of tasks keyed by external record id.
// It exclusively owns timer lifecycles; every mutation is serialized by mu.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	onFire   FireFunc
	now      func() time.Time
	inflight sync.WaitGroup
	stopped  bool
}

// RetainResult lists what one Retain pass dropped.
type RetainResult struct {
	Evicted []models.Task
	Removed []models.Task
}

func NewStore(onFire FireFunc) *Store {
	return &Store{
		entries: make(map[string]*entry),
		onFire:  onFire,
		now:     time.Now,
	}
}

// Admit creates a task and starts its timer. It is a no-op returning false when
// id is already present or executionTime is not strictly in the future.
func (s *Store) Admit(id, userID string, executionTime time.Time) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, ok := s.entries[id]; ok {
		return false
	}
	now := s.now()
	if !executionTime.After(now) {
		return false
	}

	e := &entry{task: models.Task{
		ID:            id,
		UserID:        userID,
		ExecutionTime: executionTime,
		CreatedAt:     now,
		State:         models.TaskPending,
	}}
	e.timer = time.AfterFunc(executionTime.Sub(now), func() { s.expire(e) })
	s.entries[id] = e

	metrics.SetActiveTasks(len(s.entries))
	return true
}

// expire moves the entry from pending to firing and hands it to onFire.
// Callbacks of cancelled or replaced entries are ignored.
func (s *Store) expire(e *entry) {
	s.mu.Lock()
	cur, ok := s.entries[e.task.ID]
	if !ok || cur != e || e.task.State != models.TaskPending || s.stopped {
		s.mu.Unlock()
		return
	}
	e.task.State = models.TaskFiring
	e.timer = nil
	snapshot := e.task
	s.inflight.Add(1)
	s.mu.Unlock()

	defer s.inflight.Done()
	if s.onFire != nil {
		s.onFire(snapshot)
	}
}

// complete marks a firing task executed. Tasks removed while firing are left alone.
func (s *Store) complete(id string, executedAt, lastRun time.Time) (models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.task.State != models.TaskFiring {
		return models.Task{}, false
	}
	e.task.State = models.TaskExecuted
	e.task.IsExecuted = true
	e.task.ExecutedAt = &executedAt
	e.task.LastRunTime = &lastRun
	return e.task, true
}

// Cancel stops the timer of a pending task and removes the task regardless of state.
func (s *Store) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}
	if s.stopTimerLocked(e) {
		metrics.IncCancelled(1)
	}
	delete(s.entries, id)
	metrics.SetActiveTasks(len(s.entries))
	return true
}

// Clear cancels every pending timer and empties the store.
// It returns the tasks whose timers were cancelled.
func (s *Store) Clear() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cancelled []models.Task
	for _, e := range s.entries {
		if s.stopTimerLocked(e) {
			cancelled = append(cancelled, e.task)
		}
	}
	s.entries = make(map[string]*entry)

	metrics.IncCancelled(len(cancelled))
	metrics.SetActiveTasks(0)
	sortTasks(cancelled)
	return cancelled
}

// Retain applies one reconciliation diff against desired (record id -> record).
// Pending tasks that are not desired, or whose desired time or owner changed,
// are cancelled and dropped. Executed tasks survive the first fetch that omits them and are
// removed by the next one. Firing tasks are never touched.
func (s *Store) Retain(desired map[string]models.ScheduleRecord) RetainResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res RetainResult
	for id, e := range s.entries {
		rec, wanted := desired[id]
		switch e.task.State {
		case models.TaskPending:
			if wanted && rec.Time.Equal(e.task.ExecutionTime) && rec.UserID == e.task.UserID {
				continue
			}
			s.stopTimerLocked(e)
			delete(s.entries, id)
			res.Evicted = append(res.Evicted, e.task)
		case models.TaskExecuted:
			if wanted {
				e.absent = false
				continue
			}
			if e.absent {
				delete(s.entries, id)
				res.Removed = append(res.Removed, e.task)
				continue
			}
			e.absent = true
		}
	}

	metrics.IncCancelled(len(res.Evicted))
	metrics.SetActiveTasks(len(s.entries))
	sortTasks(res.Evicted)
	sortTasks(res.Removed)
	return res
}

func (s *Store) stopTimerLocked(e *entry) bool {
	if e.task.State != models.TaskPending || e.timer == nil {
		return false
	}
	e.timer.Stop()
	e.timer = nil
	return true
}

func (s *Store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

func (s *Store) Get(id string) (models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return models.Task{}, false
	}
	return e.task, true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// All returns a snapshot ordered by execution time.
func (s *Store) All() []models.Task {
	s.mu.Lock()
	out := make([]models.Task, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.task)
	}
	s.mu.Unlock()

	sortTasks(out)
	return out
}

// Stop cancels all pending timers, refuses further admissions and waits for
// in-flight fires until ctx is done.
func (s *Store) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for _, e := range s.entries {
		s.stopTimerLocked(e)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sortTasks(tasks []models.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].ExecutionTime.Equal(tasks[j].ExecutionTime) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].ExecutionTime.Before(tasks[j].ExecutionTime)
	})
}
