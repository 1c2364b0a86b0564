// Package scheduler runs the periodic maintenance work: download status
// refresh and stale transcode eviction.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// TaskFunc is the function signature for scheduled tasks.
type TaskFunc func(ctx context.Context) error

// Task describes one recurring maintenance task.
type Task struct {
	ID         string
	Name       string
	Interval   time.Duration
	RunOnStart bool // execute once immediately when the scheduler starts
	Func       TaskFunc
}

// TaskStatus describes a registered task's runtime state.
type TaskStatus struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	LastRun  *time.Time    `json:"lastRun,omitempty"`
	NextRun  *time.Time    `json:"nextRun,omitempty"`
	Running  bool          `json:"running"`
}

type taskEntry struct {
	task    Task
	job     gocron.Job
	lastRun *time.Time
	running bool
}

// Scheduler manages recurring background tasks.
type Scheduler struct {
	gocron gocron.Scheduler
	logger zerolog.Logger
	tasks  map[string]*taskEntry
	mu     sync.RWMutex
}

// New creates a scheduler.
func New(logger zerolog.Logger) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		gocron: gs,
		logger: logger.With().Str("component", "scheduler").Logger(),
		tasks:  make(map[string]*taskEntry),
	}, nil
}

// Register adds a recurring task. Task IDs are unique.
func (s *Scheduler) Register(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %q already registered", task.ID)
	}
	if task.Interval <= 0 {
		return fmt.Errorf("task %q has no interval", task.ID)
	}

	job, err := s.gocron.NewJob(
		gocron.DurationJob(task.Interval),
		gocron.NewTask(func() { s.run(task.ID) }),
		gocron.WithName(task.Name),
		gocron.WithTags(task.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to create job for task %q: %w", task.ID, err)
	}

	s.tasks[task.ID] = &taskEntry{task: task, job: job}

	s.logger.Info().
		Str("id", task.ID).
		Dur("interval", task.Interval).
		Bool("runOnStart", task.RunOnStart).
		Msg("Registered task")
	return nil
}

// run executes one task, tracking its running state and last-run stamp.
func (s *Scheduler) run(id string) {
	s.mu.Lock()
	entry, exists := s.tasks[id]
	if !exists || entry.running {
		s.mu.Unlock()
		return
	}
	entry.running = true
	s.mu.Unlock()

	started := time.Now()
	err := entry.task.Func(context.Background())
	duration := time.Since(started)

	s.mu.Lock()
	entry.running = false
	entry.lastRun = &started
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("id", id).
			Dur("duration", duration).
			Msg("Task failed")
		return
	}
	s.logger.Debug().
		Str("id", id).
		Dur("duration", duration).
		Msg("Task completed")
}

// Start begins interval scheduling and kicks off RunOnStart tasks.
func (s *Scheduler) Start() {
	s.gocron.Start()

	s.mu.RLock()
	var startup []string
	for id, entry := range s.tasks {
		if entry.task.RunOnStart {
			startup = append(startup, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range startup {
		go s.run(id)
	}
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	return s.gocron.Shutdown()
}

// RunNow triggers a task outside its interval. A task that is already
// running is not started again.
func (s *Scheduler) RunNow(id string) error {
	s.mu.RLock()
	entry, exists := s.tasks[id]
	running := exists && entry.running
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("task %q not found", id)
	}
	if running {
		return fmt.Errorf("task %q is already running", id)
	}
	go s.run(id)
	return nil
}

// Tasks returns the status of all registered tasks.
func (s *Scheduler) Tasks() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, entry := range s.tasks {
		status := TaskStatus{
			ID:       entry.task.ID,
			Name:     entry.task.Name,
			Interval: entry.task.Interval,
			LastRun:  entry.lastRun,
			Running:  entry.running,
		}
		if next, err := entry.job.NextRun(); err == nil {
			status.NextRun = &next
		}
		out = append(out, status)
	}
	return out
}
