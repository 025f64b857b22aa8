package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wardline/wardline/audit"
	"github.com/wardline/wardline/core"
	"github.com/wardline/wardline/resilience"
)

// Defaults for job execution
const (
	DefaultTickInterval = 15 * time.Second
	DefaultJobTimeout   = time.Minute
)

// cronParser accepts standard 5-field specs
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// JobDefinition describes one recurring job. Exactly one of Cron or
// Interval must be set.
type JobDefinition struct {
	Name         string
	Cron         string
	Interval     time.Duration
	RunOnStartup bool
	Timeout      time.Duration
	Retry        *resilience.RetryConfig
	Handler      func(ctx context.Context) error
}

type job struct {
	def      JobDefinition
	schedule cron.Schedule // nil for interval jobs
	next     time.Time
	breaker  *resilience.CircuitBreaker
	running  bool
}

func (j *job) advance(from time.Time) {
	if j.schedule != nil {
		j.next = j.schedule.Next(from)
	} else {
		j.next = from.Add(j.def.Interval)
	}
}

// Options configures a Scheduler
type Options struct {
	Store        core.Store
	InstanceID   string
	TickInterval time.Duration
	LockMargin   time.Duration
	Logger       core.Logger
	Audit        *audit.Logger
}

// Scheduler owns the tick loop and the job table. Multiple instances may
// run the same table against one store; the fenced locks guarantee each
// due run executes once.
type Scheduler struct {
	locks      *LockManager
	dead       *DeadLetterQueue
	audit      *audit.Logger
	instanceID string
	tick       time.Duration
	logger     core.Logger

	mu      sync.Mutex
	jobs    []*job
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup

	now func() time.Time
}

// New creates a scheduler
func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required: %w", core.ErrConfiguration)
	}
	if opts.InstanceID == "" {
		return nil, fmt.Errorf("instance id is required: %w", core.ErrConfiguration)
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	return &Scheduler{
		locks:      NewLockManager(opts.Store, opts.LockMargin, opts.Logger),
		dead:       NewDeadLetterQueue(opts.Store, opts.Logger),
		audit:      opts.Audit,
		instanceID: opts.InstanceID,
		tick:       opts.TickInterval,
		logger:     opts.Logger,
		now:        time.Now,
	}, nil
}

// DeadLetters exposes the queue for the operator surface
func (s *Scheduler) DeadLetters() *DeadLetterQueue {
	return s.dead
}

// Add registers a job. Jobs must be added before Start.
func (s *Scheduler) Add(def JobDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("job name and handler are required: %w", core.ErrConfiguration)
	}
	if (def.Cron == "") == (def.Interval <= 0) {
		return fmt.Errorf("job %s needs exactly one of cron or interval: %w", def.Name, core.ErrConfiguration)
	}
	if def.Timeout <= 0 {
		def.Timeout = DefaultJobTimeout
	}

	j := &job{
		def: def,
		breaker: resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
			Name:             "job-" + def.Name,
			FailureThreshold: 3,
			ResetTimeout:     5 * time.Minute,
			Logger:           s.logger,
		}),
	}
	if def.Cron != "" {
		schedule, err := cronParser.Parse(def.Cron)
		if err != nil {
			return fmt.Errorf("job %s cron %q: %w", def.Name, def.Cron, core.ErrConfiguration)
		}
		j.schedule = schedule
	}
	j.advance(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started: %w", core.ErrAlreadyStarted)
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start launches the tick loop and fires startup jobs. It returns
// immediately; Stop shuts the loop down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: %w", core.ErrAlreadyStarted)
	}
	s.started = true
	s.stop = make(chan struct{})
	var startup []*job
	for _, j := range s.jobs {
		if j.def.RunOnStartup {
			startup = append(startup, j)
		}
	}
	s.mu.Unlock()

	for _, j := range startup {
		j := j
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJob(ctx, j, "startup")
		}()
	}

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Scheduler started", map[string]interface{}{
		"instance": s.instanceID,
		"jobs":     len(s.jobs),
	})
	return nil
}

// Stop halts the loop and waits for in-flight runs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Scheduler stopped", map[string]interface{}{"instance": s.instanceID})
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunPending(ctx)
		}
	}
}

// RunPending executes every due job once. Exposed so operators can force
// a pass outside the tick cadence.
func (s *Scheduler) RunPending(ctx context.Context) {
	now := s.now()

	type dueJob struct {
		j          *job
		occurrence string
	}

	s.mu.Lock()
	var due []dueJob
	for _, j := range s.jobs {
		if !j.running && !j.next.After(now) {
			j.running = true
			due = append(due, dueJob{j: j, occurrence: occurrenceID(j, now)})
			j.advance(now)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range due {
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runJob(ctx, d.j, d.occurrence)
			s.mu.Lock()
			d.j.running = false
			s.mu.Unlock()
		}()
	}
	wg.Wait()
}

// occurrenceID names one due slot of a job so every instance that sees
// the same slot derives the same id. Cron slots are aligned by the
// schedule itself; interval slots are aligned by truncating the clock.
func occurrenceID(j *job, now time.Time) string {
	if j.schedule != nil {
		return fmt.Sprintf("%d", j.next.Unix())
	}
	return fmt.Sprintf("%d", now.Truncate(j.def.Interval).UnixMilli())
}

// markerOccurrence strips the fence suffix from a stored run marker
func markerOccurrence(marker string) string {
	if i := strings.Index(marker, " "); i >= 0 {
		return marker[:i]
	}
	return marker
}

// runJob executes one job run end to end: breaker check, lock, one-run
// marker, per-attempt watchdog, retries, and dead-lettering on final
// failure. Panicking handlers are contained and converted to errors.
func (s *Scheduler) runJob(ctx context.Context, j *job, occurrence string) {
	// an open breaker skips the run without counting a failure
	if !j.breaker.CanExecute() {
		s.logger.Warn("Job skipped, circuit open", map[string]interface{}{
			"job": j.def.Name,
		})
		return
	}

	// the lock must outlive every attempt and the backoff sleeps between
	// them, not just one watchdog window
	lockBudget := j.def.Timeout
	if j.def.Retry != nil && j.def.Retry.MaxAttempts > 1 {
		lockBudget = time.Duration(j.def.Retry.MaxAttempts)*j.def.Timeout +
			time.Duration(j.def.Retry.MaxAttempts-1)*j.def.Retry.MaxDelay
	}
	lease, err := s.locks.Acquire(ctx, j.def.Name, s.instanceID, lockBudget)
	if err != nil {
		if errors.Is(err, core.ErrLockNotAcquired) {
			s.logger.Debug("Job lock held elsewhere", map[string]interface{}{
				"job": j.def.Name,
			})
		} else {
			s.logger.Error("Job lock failure", map[string]interface{}{
				"job":   j.def.Name,
				"error": err.Error(),
			})
		}
		return
	}
	defer s.locks.Release(context.WithoutCancel(ctx), lease)

	// the marker records which occurrence last ran, so an instance that
	// acquires the lock after a peer finished does not run the slot again
	markerKey := core.NamespaceScheduler + ":ran:" + j.def.Name
	if last, err := s.locks.store.Get(ctx, markerKey); err == nil && markerOccurrence(last) == occurrence {
		s.logger.Debug("Job occurrence already ran", map[string]interface{}{
			"job":        j.def.Name,
			"occurrence": occurrence,
		})
		return
	}
	marker := fmt.Sprintf("%s fence=%d", occurrence, lease.Fence)
	if err := s.locks.store.Set(ctx, markerKey, marker, 24*time.Hour); err != nil {
		s.logger.Error("Job marker write failed", map[string]interface{}{
			"job":   j.def.Name,
			"error": err.Error(),
		})
		return
	}

	start := s.now()
	attempts := 0
	runErr := resilience.Retry(ctx, j.def.Retry, func() (err error) {
		attempts++
		// each attempt gets its own watchdog, so a timed-out attempt is a
		// retryable failure rather than the end of the run
		attemptCtx, cancel := context.WithTimeout(ctx, j.def.Timeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job %s panicked: %v: %w", j.def.Name, r, core.ErrInternal)
			}
		}()
		return j.def.Handler(WithFence(attemptCtx, lease.Fence))
	})
	elapsed := time.Since(start)

	if runErr != nil {
		j.breaker.RecordFailure()
		s.dead.Push(context.WithoutCancel(ctx), DeadLetter{
			Job:      j.def.Name,
			Error:    runErr.Error(),
			Attempts: attempts,
			Fence:    lease.Fence,
		})
		s.recordAudit(ctx, j, "job_failed", audit.SeverityWarning, elapsed, runErr)
		return
	}

	j.breaker.RecordSuccess()
	s.logger.Info("Job completed", map[string]interface{}{
		"job":        j.def.Name,
		"fence":      lease.Fence,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	s.recordAudit(ctx, j, "job_completed", audit.SeverityInfo, elapsed, nil)
}

func (s *Scheduler) recordAudit(ctx context.Context, j *job, action, severity string, elapsed time.Duration, runErr error) {
	if s.audit == nil {
		return
	}
	details := map[string]interface{}{
		"job":        j.def.Name,
		"instance":   s.instanceID,
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if runErr != nil {
		details["error"] = runErr.Error()
	}
	s.audit.Record(context.WithoutCancel(ctx), audit.Event{
		Category: audit.CategoryScheduler,
		Severity: severity,
		Action:   action,
		Details:  details,
	})
}
