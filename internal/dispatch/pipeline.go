// internal/dispatch/pipeline.go
package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/common/metrics"
	"bloodlink/internal/models"
)

const (
	QueueUrgent       = "urgent"
	QueueMatching     = "matching"
	QueueNotification = "notification"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobInFlight     = errors.New("job is in flight")
	ErrJobNotInFlight  = errors.New("job is not in flight")
	ErrJobFinished     = errors.New("job already finished")
	ErrUnknownQueue    = errors.New("unknown queue")
	ErrPipelineStopped = errors.New("pipeline stopped")
)

// Message is what a channel receives for one attempt.
type Message struct {
	JobID      string
	Type       models.Channel
	Recipient  string
	TemplateID string
	Data       map[string]interface{}
	Attempt    int
}

// Channel delivers one notification. It is called once per attempt.
type Channel interface {
	Deliver(ctx context.Context, msg Message) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, msg Message) error

func (f ChannelFunc) Deliver(ctx context.Context, msg Message) error { return f(ctx, msg) }

// ExhaustionSink persists jobs that will never be delivered.
type ExhaustionSink interface {
	Record(ctx context.Context, job Job) error
}

type QueueConfig struct {
	Name        string
	Concurrency int
}

type Config struct {
	Queues       []QueueConfig
	DefaultQueue string
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	CallTimeout  time.Duration
	ArchiveSize  int
	Now          func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Queues: []QueueConfig{
			{Name: QueueUrgent, Concurrency: 4},
			{Name: QueueMatching, Concurrency: 2},
			{Name: QueueNotification, Concurrency: 4},
		},
		DefaultQueue: QueueNotification,
		MaxAttempts:  5,
		BaseBackoff:  time.Second,
		MaxBackoff:   5 * time.Minute,
		CallTimeout:  10 * time.Second,
		ArchiveSize:  1000,
	}
}

// QueueFor picks the queue a matching notification goes to.
func QueueFor(u models.Urgency) string {
	if u == models.UrgencyEmergency {
		return QueueUrgent
	}
	return QueueMatching
}

// Pipeline runs named priority queues, each with its own worker pool.
type Pipeline struct {
	config  Config
	channel Channel
	sink    ExhaustionSink
	logger  logger.Logger

	mu       sync.Mutex
	queues   map[string]*queue
	jobs     map[string]*Job
	archive  *archive
	seq      uint64
	escSeq   uint64
	started  bool
	stopped  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	runCtx   context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New builds a pipeline; sink may be nil. Workers start with Start.
func New(cfg Config, channel Channel, sink ExhaustionSink, log logger.Logger) (*Pipeline, error) {
	def := DefaultConfig()
	if len(cfg.Queues) == 0 {
		cfg.Queues = def.Queues
	}
	if cfg.DefaultQueue == "" {
		cfg.DefaultQueue = cfg.Queues[0].Name
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.ArchiveSize <= 0 {
		cfg.ArchiveSize = def.ArchiveSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	queues := make(map[string]*queue, len(cfg.Queues))
	for _, qc := range cfg.Queues {
		if qc.Name == "" || qc.Concurrency < 1 {
			return nil, fmt.Errorf("queue %q needs a name and concurrency >= 1", qc.Name)
		}
		if _, dup := queues[qc.Name]; dup {
			return nil, fmt.Errorf("duplicate queue %q", qc.Name)
		}
		queues[qc.Name] = newQueue(qc.Name, qc.Concurrency)
	}
	if _, ok := queues[cfg.DefaultQueue]; !ok {
		return nil, fmt.Errorf("default queue %q is not configured", cfg.DefaultQueue)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		config:  cfg,
		channel: channel,
		sink:    sink,
		logger:  logger.Component(log, "dispatch"),
		queues:  queues,
		jobs:    make(map[string]*Job),
		archive: newArchive(cfg.ArchiveSize),
		stopCh:  make(chan struct{}),
		runCtx:  runCtx,
		cancel:  cancel,
	}, nil
}

// Start launches the worker pools. Calling it more than once is a no-op.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for _, q := range p.queues {
		for i := 0; i < q.concurrency; i++ {
			p.wg.Add(1)
			go p.work(q, i)
		}
		q.signal()
	}
	p.logger.Info("Dispatch pipeline started", map[string]interface{}{
		"queues": len(p.queues),
	})
}

// Stop stops claiming jobs and waits for in-flight attempts. If ctx ends
// first, in-flight calls are cancelled and ctx.Err() is returned.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()
		close(p.stopCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("Dispatch pipeline stopped", nil)
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// Enqueue validates and queues a job. Missing fields take pipeline defaults:
// queue, maxAttempts, scheduledFor (now) and priority (low).
func (p *Pipeline) Enqueue(job Job) (Handle, error) {
	if job.Priority == 0 {
		job.Priority = int(models.UrgencyLow)
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = p.config.MaxAttempts
	}
	if job.Queue == "" {
		job.Queue = p.config.DefaultQueue
	}
	if err := validateJob(&job); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return "", ErrPipelineStopped
	}
	q, ok := p.queues[job.Queue]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownQueue, job.Queue)
	}

	now := p.config.Now()
	j := job.snapshot()
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if _, exists := p.jobs[j.ID]; exists {
		return "", apperrors.NewValidationError("id", fmt.Sprintf("job %s already queued", j.ID))
	}
	if j.ScheduledFor.IsZero() {
		j.ScheduledFor = now
	}
	j.Attempts = 0
	j.LastError = ""
	j.CreatedAt = now
	j.UpdatedAt = now
	p.seq++
	j.seq = p.seq
	j.escalated = 0

	p.jobs[j.ID] = &j
	q.push(&j, now)
	q.signal()

	metrics.DispatchJobsEnqueued.WithLabelValues(q.name).Inc()
	metrics.DispatchQueueDepth.WithLabelValues(q.name).Set(float64(q.depth()))

	p.logger.Debug("Job enqueued", map[string]interface{}{
		"jobId":      j.ID,
		"queue":      q.name,
		"priority":   j.Priority,
		"templateId": j.TemplateID,
		"requestId":  j.RequestID,
	})
	return Handle(j.ID), nil
}

// Cancel removes a job that has not been claimed by a worker.
func (p *Pipeline) Cancel(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	j, ok := p.jobs[string(h)]
	if !ok {
		if _, archived := p.archive.get(string(h)); archived {
			return ErrJobFinished
		}
		return ErrJobNotFound
	}
	if j.Status == StatusRunning {
		return ErrJobInFlight
	}

	q := p.queues[j.Queue]
	q.remove(j)
	j.Status = StatusCancelled
	j.UpdatedAt = p.config.Now()
	p.retire(j)

	metrics.DispatchJobsCancelled.WithLabelValues(q.name).Inc()
	metrics.DispatchQueueDepth.WithLabelValues(q.name).Set(float64(q.depth()))
	return nil
}

// ClearRetries lets an in-flight job finish its current attempt and never
// retry it afterwards.
func (p *Pipeline) ClearRetries(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	j, ok := p.jobs[string(h)]
	if !ok {
		if _, archived := p.archive.get(string(h)); archived {
			return ErrJobFinished
		}
		return ErrJobNotFound
	}
	if j.Status != StatusRunning {
		return ErrJobNotInFlight
	}
	j.MaxAttempts = j.Attempts
	return nil
}

// Escalate raises every unclaimed job tagged with requestID to priority and
// moves it ahead of jobs already waiting at that priority. A job keeps the
// place of its first escalation. Jobs above the target priority and jobs
// held by a worker are left alone.
func (p *Pipeline) Escalate(requestID string, priority int) (int, error) {
	if requestID == "" {
		return 0, apperrors.NewValidationError("requestId", "requestId is required")
	}
	if !models.Urgency(priority).Valid() {
		return 0, apperrors.NewValidationError("priority", fmt.Sprintf("priority %d out of range", priority))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.escSeq++
	promoted := 0
	for _, j := range p.jobs {
		if j.RequestID != requestID || j.Priority > priority {
			continue
		}
		if j.Status != StatusQueued && j.Status != StatusScheduled {
			continue
		}
		j.Priority = priority
		if j.escalated == 0 {
			j.escalated = p.escSeq
		}
		j.UpdatedAt = p.config.Now()
		if j.Status == StatusQueued {
			heap.Fix(&p.queues[j.Queue].ready, j.index)
		}
		promoted++
		metrics.DispatchJobsEscalated.WithLabelValues(j.Queue).Inc()
	}

	if promoted > 0 {
		p.logger.Info("Jobs escalated", map[string]interface{}{
			"requestId": requestID,
			"priority":  priority,
			"promoted":  promoted,
		})
	}
	return promoted, nil
}

// Lookup returns a copy of a live or archived job.
func (p *Pipeline) Lookup(h Handle) (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if j, ok := p.jobs[string(h)]; ok {
		return j.snapshot(), true
	}
	return p.archive.get(string(h))
}

// Depth returns the number of waiting jobs in a queue.
func (p *Pipeline) Depth(queueName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q, ok := p.queues[queueName]; ok {
		return q.depth()
	}
	return 0
}

func (p *Pipeline) work(q *queue, worker int) {
	defer p.wg.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, wait := p.claim(q)
		if j != nil {
			p.run(q, j, worker)
			continue
		}

		var timeout <-chan time.Time
		if wait > 0 {
			timer.Reset(wait)
			timeout = timer.C
		}
		select {
		case <-p.stopCh:
			return
		case <-q.wake:
		case <-timeout:
		}
		if timeout != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

func (p *Pipeline) claim(q *queue) (*Job, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, 0
	}
	now := p.config.Now()
	j, wait := q.next(now)
	if j == nil {
		return nil, wait
	}
	j.Status = StatusRunning
	j.Attempts++
	j.UpdatedAt = now

	metrics.DispatchJobsActive.WithLabelValues(q.name).Inc()
	metrics.DispatchQueueDepth.WithLabelValues(q.name).Set(float64(q.depth()))

	// more work may be waiting for an idle sibling
	if q.ready.Len() > 0 {
		q.signal()
	}
	return j, 0
}

func (p *Pipeline) run(q *queue, j *Job, worker int) {
	p.mu.Lock()
	msg := Message{
		JobID:      j.ID,
		Type:       j.Type,
		Recipient:  j.Recipient,
		TemplateID: j.TemplateID,
		Data:       j.snapshot().Data,
		Attempt:    j.Attempts,
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(p.runCtx, p.config.CallTimeout)
	start := time.Now()
	err := p.deliver(ctx, msg)
	cancel()
	metrics.DispatchJobDuration.WithLabelValues(q.name).Observe(time.Since(start).Seconds())
	metrics.DispatchJobsActive.WithLabelValues(q.name).Dec()

	if err == nil {
		p.complete(q, j)
		return
	}
	p.fail(q, j, worker, err)
}

// deliver makes one channel call bounded by the call timeout. A channel that
// ignores ctx is abandoned when the timeout fires.
func (p *Pipeline) deliver(ctx context.Context, msg Message) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- apperrors.NewInternalError(fmt.Errorf("channel panic: %v", r))
			}
		}()
		done <- p.channel.Deliver(ctx, msg)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return apperrors.NewTimeoutError("notification-channel", ctx.Err())
	}
}

func (p *Pipeline) complete(q *queue, j *Job) {
	p.mu.Lock()
	j.Status = StatusCompleted
	j.LastError = ""
	j.UpdatedAt = p.config.Now()
	attempt := j.Attempts
	p.retire(j)
	p.mu.Unlock()

	metrics.DispatchJobsCompleted.WithLabelValues(q.name).Inc()
	p.logger.Debug("Job delivered", map[string]interface{}{
		"jobId":   j.ID,
		"queue":   q.name,
		"attempt": attempt,
	})
}

func (p *Pipeline) fail(q *queue, j *Job, worker int, cause error) {
	code := "UNKNOWN"
	if stdErr, ok := apperrors.AsStandardError(cause); ok {
		code = string(stdErr.Code)
	}
	metrics.DispatchJobsFailed.WithLabelValues(q.name, code).Inc()

	p.mu.Lock()
	now := p.config.Now()
	j.LastError = cause.Error()
	j.UpdatedAt = now

	switch {
	case !apperrors.IsRetryable(cause):
		j.Status = StatusFailed
	case j.Attempts >= j.MaxAttempts:
		j.Status = StatusExhausted
	default:
		attempt := j.Attempts
		delay := p.backoff(attempt)
		j.ScheduledFor = now.Add(delay)
		q.push(j, now)
		q.signal()
		metrics.DispatchQueueDepth.WithLabelValues(q.name).Set(float64(q.depth()))
		p.mu.Unlock()

		metrics.DispatchJobsRetried.WithLabelValues(q.name).Inc()
		p.logger.Warn("Job attempt failed, retrying", map[string]interface{}{
			"jobId":   j.ID,
			"queue":   q.name,
			"worker":  worker,
			"attempt": attempt,
			"delayMs": delay.Milliseconds(),
			"error":   cause,
		})
		return
	}

	snap := j.snapshot()
	p.retire(j)
	p.mu.Unlock()

	p.surface(q, snap, cause)
}

// backoff returns base * 2^(attempt-1) capped at MaxBackoff; attempt is the
// 1-based number of the attempt that just failed.
func (p *Pipeline) backoff(attempt int) time.Duration {
	delay := p.config.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.config.MaxBackoff || delay <= 0 {
			return p.config.MaxBackoff
		}
	}
	if delay > p.config.MaxBackoff {
		return p.config.MaxBackoff
	}
	return delay
}

func (p *Pipeline) surface(q *queue, j Job, cause error) {
	fields := map[string]interface{}{
		"jobId":      j.ID,
		"queue":      q.name,
		"status":     string(j.Status),
		"attempts":   j.Attempts,
		"templateId": j.TemplateID,
		"requestId":  j.RequestID,
		"error":      cause,
	}
	metrics.DispatchJobsExhausted.WithLabelValues(q.name, strconv.FormatBool(j.BestEffort)).Inc()

	if j.BestEffort {
		p.logger.Warn("Best-effort job gave up", fields)
		return
	}

	exhausted := apperrors.NewJobExhaustedError(j.ID, j.Attempts, cause)
	fields["code"] = string(exhausted.Code)
	p.logger.Error("Job exhausted", fields)

	if p.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.config.CallTimeout)
	defer cancel()
	if err := p.sink.Record(ctx, j); err != nil {
		p.logger.Error("Failed to record exhausted job", map[string]interface{}{
			"jobId": j.ID,
			"error": err,
		})
	}
}

// retire moves a terminal job from the live set into the archive. Callers
// hold p.mu.
func (p *Pipeline) retire(j *Job) {
	delete(p.jobs, j.ID)
	p.archive.put(j.snapshot())
}
