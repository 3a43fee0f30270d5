package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks. now is the UTC
// time the run was started for.
type TaskFn func(ctx context.Context, now time.Time) error

var ErrUnknownTask = errors.New("scheduler: unknown task")

// TaskInfo describes a registered task for admin listings.
type TaskInfo struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Aligned   bool          `json:"aligned"`
	Runs      int           `json:"runs"`
	LastRun   time.Time     `json:"last_run"`
	LastError string        `json:"last_error,omitempty"`
}

// Scheduler manages periodic tasks. Runs of the same task never overlap.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

type task struct {
	fn     TaskFn
	stopCh chan struct{}
	runMu  sync.Mutex

	infoMu sync.Mutex
	info   TaskInfo
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make(map[string]*task),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AddTicker registers a task to run on a fixed interval.
// If a task with the same name exists, it is replaced.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	t := s.register(name, interval, false, fn)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.run(t, s.now())
			case <-t.stopCh:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

// AddAligned registers a task that fires on wall-clock multiples of period
// (top of the hour for time.Hour). The run receives the boundary time.
func (s *Scheduler) AddAligned(name string, period time.Duration, fn TaskFn) {
	t := s.register(name, period, true, fn)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			now := s.now()
			next := now.Truncate(period).Add(period)
			timer := time.NewTimer(next.Sub(now))
			select {
			case <-timer.C:
				s.run(t, next)
			case <-t.stopCh:
				timer.Stop()
				return
			case <-s.ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name),
		zap.Duration("period", period), zap.Bool("aligned", true))
}

func (s *Scheduler) register(name string, interval time.Duration, aligned bool, fn TaskFn) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.tasks[name]; ok {
		close(old.stopCh)
	}
	t := &task{
		fn:     fn,
		stopCh: make(chan struct{}),
		info:   TaskInfo{Name: name, Interval: interval, Aligned: aligned},
	}
	s.tasks[name] = t
	return t
}

func (s *Scheduler) run(t *task, now time.Time) (err error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: task panicked: %v", r)
		}
		t.infoMu.Lock()
		t.info.Runs++
		t.info.LastRun = now
		t.info.LastError = ""
		if err != nil {
			t.info.LastError = err.Error()
		}
		name := t.info.Name
		t.infoMu.Unlock()
		if err != nil {
			s.logger.Error("scheduler task failed", zap.String("task", name), zap.Error(err))
			return
		}
		s.logger.Debug("scheduler task done", zap.String("task", name), zap.Duration("took", time.Since(start)))
	}()
	return t.fn(s.ctx, now)
}

// Trigger runs the named task immediately and returns its error. It waits
// for a run already in flight to finish first.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(t, s.now())
}

// Remove stops and removes a task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		close(t.stopCh)
		delete(s.tasks, name)
	}
}

// Stop stops all tasks and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Tasks returns the registered tasks sorted by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.infoMu.Lock()
		out = append(out, t.info)
		t.infoMu.Unlock()
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
