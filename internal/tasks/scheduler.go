package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/careerforge/orchestrator/internal/storage"
	"github.com/careerforge/orchestrator/pkg/models"
)

// cronParser supports both standard (5-field) and extended (6-field with
// seconds) cron expressions, plus the @every/@hourly descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// SchedulerConfig tunes the Scheduler's two loops.
type SchedulerConfig struct {
	// PollInterval is how often the claim loop looks for due, pending
	// TaskRuns. Defaults to 10 seconds.
	PollInterval time.Duration
	// GenerateInterval is how often the generate loop considers creating new
	// TaskRuns for interval-scheduled Definitions. Defaults to 1 minute.
	GenerateInterval time.Duration
	// MaxConcurrency bounds in-flight executions across all task types.
	// Defaults to 4.
	MaxConcurrency int
	Logger         *slog.Logger
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.GenerateInterval <= 0 {
		c.GenerateInterval = time.Minute
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "task-scheduler")
	}
	return c
}

// Scheduler runs every registered Definition: periodically generating
// TaskRuns for interval schedules, claiming due runs, and dispatching them to
// their Handler under a bounded concurrency limit.
type Scheduler struct {
	store         storage.TaskStore
	goals         storage.GoalStore
	notifications storage.NotificationStore
	publisher     Publisher
	defs          map[string]Definition
	config        SchedulerConfig

	sem    chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	inFlight map[string]context.CancelFunc // TaskRun.ID -> cancel, for running executions
}

// NewScheduler builds a Scheduler over the given Definitions. Duplicate
// Types in defs overwrite earlier entries.
func NewScheduler(store storage.TaskStore, goals storage.GoalStore, notifications storage.NotificationStore, publisher Publisher, defs []Definition, config SchedulerConfig) *Scheduler {
	config = config.withDefaults()
	registered := make(map[string]Definition, len(defs))
	for _, d := range defs {
		registered[d.Type] = d
	}
	return &Scheduler{
		store:         store,
		goals:         goals,
		notifications: notifications,
		publisher:     publisher,
		defs:          registered,
		config:        config,
		sem:           make(chan struct{}, config.MaxConcurrency),
		inFlight:      make(map[string]context.CancelFunc),
	}
}

// Start begins the generate and claim loops. Safe to call once; a second
// call while already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.config.Logger.Info("starting task scheduler",
		"task_types", len(s.defs),
		"max_concurrency", s.config.MaxConcurrency,
	)

	s.wg.Add(2)
	go s.generateLoop(ctx)
	go s.claimLoop(ctx)
}

// Stop cancels both loops and waits for in-flight executions to return, or
// for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue creates an on-demand TaskRun, scheduled immediately, for any
// registered task type.
func (s *Scheduler) Enqueue(ctx context.Context, userID, taskType string, config map[string]any) (*models.TaskRun, error) {
	if _, ok := s.defs[taskType]; !ok {
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}
	run := &models.TaskRun{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        taskType,
		Config:      config,
		Status:      models.TaskRunPending,
		ScheduledAt: time.Now(),
	}
	if err := s.store.CreateTaskRun(ctx, run); err != nil {
		return nil, fmt.Errorf("enqueue task run: %w", err)
	}
	return run, nil
}

// Cancel transitions a pending or running TaskRun to cancelled. Already
// produced Notifications are kept; a running execution's context is
// cancelled so its Handler observes ctx.Done promptly.
func (s *Scheduler) Cancel(ctx context.Context, taskRunID string) error {
	run, err := s.store.GetTaskRun(ctx, taskRunID)
	if err != nil {
		return fmt.Errorf("get task run: %w", err)
	}
	if run.Status != models.TaskRunPending && run.Status != models.TaskRunRunning {
		return nil
	}

	s.mu.Lock()
	if cancel, ok := s.inFlight[taskRunID]; ok {
		cancel()
	}
	s.mu.Unlock()

	run.Status = models.TaskRunCancelled
	now := time.Now()
	run.FinishedAt = &now
	return s.store.UpdateTaskRun(ctx, run)
}

func (s *Scheduler) generateLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.GenerateInterval)
	defer ticker.Stop()

	s.generateDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.generateDue(ctx)
		}
	}
}

// generateDue creates the next TaskRun for every interval-scheduled
// Definition, per active-goal user, once its cron schedule comes due.
func (s *Scheduler) generateDue(ctx context.Context) {
	now := time.Now()
	userIDs, err := s.goals.ListActiveGoalUserIDs(ctx)
	if err != nil {
		s.config.Logger.Error("list active goal user ids", "error", err)
		return
	}

	for _, def := range s.defs {
		if def.Schedule == "" {
			continue // on-demand only
		}
		sched, err := cronParser.Parse(def.Schedule)
		if err != nil {
			s.config.Logger.Error("invalid task schedule", "task_type", def.Type, "schedule", def.Schedule, "error", err)
			continue
		}
		for _, userID := range userIDs {
			if err := s.generateForUser(ctx, def, sched, userID, now); err != nil {
				s.config.Logger.Error("generate task run", "task_type", def.Type, "user_id", userID, "error", err)
			}
		}
	}
}

func (s *Scheduler) generateForUser(ctx context.Context, def Definition, sched cron.Schedule, userID string, now time.Time) error {
	runs, err := s.store.ListTaskRuns(ctx, userID, 0)
	if err != nil {
		return fmt.Errorf("list task runs: %w", err)
	}

	var lastOfType *models.TaskRun
	for _, r := range runs {
		if r.Type != def.Type {
			continue
		}
		if !def.AllowOverlap && (r.Status == models.TaskRunPending || r.Status == models.TaskRunRunning) {
			return nil // one already in flight for this user
		}
		if lastOfType == nil || r.ScheduledAt.After(lastOfType.ScheduledAt) {
			lastOfType = r
		}
	}

	var baseline time.Time
	if lastOfType != nil {
		baseline = lastOfType.ScheduledAt
	} else {
		baseline = now.Add(-time.Second)
	}
	next := sched.Next(baseline)
	if next.After(now) {
		return nil
	}

	run := &models.TaskRun{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        def.Type,
		Status:      models.TaskRunPending,
		ScheduledAt: next,
	}
	return s.store.CreateTaskRun(ctx, run)
}

func (s *Scheduler) claimLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.claimAndRun(ctx)
		}
	}
}

func (s *Scheduler) claimAndRun(ctx context.Context) {
	avail := cap(s.sem) - len(s.sem)
	if avail <= 0 {
		return
	}

	claimed, err := s.store.ClaimDueTaskRuns(ctx, time.Now(), avail)
	if err != nil {
		s.config.Logger.Error("claim due task runs", "error", err)
		return
	}

	for _, run := range claimed {
		def, ok := s.defs[run.Type]
		if !ok {
			s.failRun(ctx, run, fmt.Errorf("no handler registered for task type %q", run.Type))
			continue
		}
		if !def.AllowOverlap {
			count, err := s.store.CountRunning(ctx, run.Type)
			if err == nil && count > 1 {
				s.config.Logger.Debug("skipping overlapping task run", "task_run_id", run.ID, "task_type", run.Type)
				continue
			}
		}

		s.sem <- struct{}{}
		s.wg.Add(1)
		go func(run *models.TaskRun, def Definition) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.execute(ctx, run, def)
		}(run, def)
	}
}

func (s *Scheduler) execute(ctx context.Context, run *models.TaskRun, def Definition) {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)

	s.mu.Lock()
	s.inFlight[run.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, run.ID)
		s.mu.Unlock()
		cancel()
	}()

	s.config.Logger.Info("executing task run", "task_run_id", run.ID, "task_type", run.Type, "user_id", run.UserID)

	result, err := def.Handler.Run(rctx, run)

	// A run already moved to cancelled (by Scheduler.Cancel) keeps that
	// status regardless of how the handler returned.
	current, getErr := s.store.GetTaskRun(ctx, run.ID)
	if getErr == nil && current.Status == models.TaskRunCancelled {
		return
	}

	now := time.Now()
	run.FinishedAt = &now
	if err != nil {
		run.Status = models.TaskRunFailed
		run.Error = err.Error()
		s.config.Logger.Error("task run failed", "task_run_id", run.ID, "task_type", run.Type, "error", err)
	} else {
		run.Status = models.TaskRunCompleted
		run.ResultSummary = result.Summary
	}

	if updErr := s.store.UpdateTaskRun(ctx, run); updErr != nil {
		s.config.Logger.Error("update task run", "task_run_id", run.ID, "error", updErr)
	}

	if err != nil {
		return
	}
	s.deliver(ctx, run, result.Notifications)
}

func (s *Scheduler) deliver(ctx context.Context, run *models.TaskRun, notes []Notification) {
	for _, n := range notes {
		note := &models.Notification{
			ID:        uuid.NewString(),
			UserID:    run.UserID,
			Type:      n.Type,
			Title:     n.Title,
			Body:      n.Body,
			Payload:   n.Payload,
			CreatedAt: time.Now(),
		}
		if err := s.notifications.CreateNotification(ctx, note); err != nil {
			s.config.Logger.Error("create notification", "task_run_id", run.ID, "error", err)
			continue
		}
		if s.publisher == nil {
			continue
		}
		s.publisher.Publish(run.UserID, models.NewEvent(run.UserID, models.EventNotification, map[string]any{
			"notification_id": note.ID,
			"task_run_id":      run.ID,
			"task_type":        run.Type,
			"title":            note.Title,
		}))
	}
}

func (s *Scheduler) failRun(ctx context.Context, run *models.TaskRun, err error) {
	run.Status = models.TaskRunFailed
	run.Error = err.Error()
	now := time.Now()
	run.FinishedAt = &now
	if updErr := s.store.UpdateTaskRun(ctx, run); updErr != nil {
		s.config.Logger.Error("update task run", "task_run_id", run.ID, "error", updErr)
	}
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
