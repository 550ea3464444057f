package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "bloodlink/internal/common/errors"
	"bloodlink/internal/common/logger"
	"bloodlink/internal/models"
)

// recorder is a channel that records delivery order and can be scripted.
type recorder struct {
	mu    sync.Mutex
	order []string
	calls map[string]int
	fn    func(ctx context.Context, msg Message) error
}

func newRecorder(fn func(ctx context.Context, msg Message) error) *recorder {
	return &recorder{calls: map[string]int{}, fn: fn}
}

func (r *recorder) Deliver(ctx context.Context, msg Message) error {
	r.mu.Lock()
	r.order = append(r.order, msg.TemplateID)
	r.calls[msg.JobID]++
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(ctx, msg)
	}
	return nil
}

func (r *recorder) Order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *recorder) Calls(id Handle) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[string(id)]
}

type memorySink struct {
	mu   sync.Mutex
	jobs []Job
}

func (s *memorySink) Record(_ context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
	return nil
}

func (s *memorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func singleQueueConfig() Config {
	return Config{
		Queues:       []QueueConfig{{Name: QueueNotification, Concurrency: 1}},
		DefaultQueue: QueueNotification,
		MaxAttempts:  3,
		BaseBackoff:  time.Millisecond,
		MaxBackoff:   5 * time.Millisecond,
		CallTimeout:  time.Second,
		ArchiveSize:  100,
	}
}

func newTestPipeline(t *testing.T, cfg Config, ch Channel, sink ExhaustionSink) *Pipeline {
	t.Helper()
	p, err := New(cfg, ch, sink, logger.NewNoOpLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func job(template string, priority int) Job {
	return Job{
		Type:       models.ChannelEmail,
		Recipient:  "user-1",
		TemplateID: template,
		Data:       map[string]interface{}{"k": "v"},
		Priority:   priority,
	}
}

func waitStatus(t *testing.T, p *Pipeline, h Handle, want Status) Job {
	t.Helper()
	var got Job
	require.Eventually(t, func() bool {
		j, ok := p.Lookup(h)
		got = j
		return ok && j.Status == want
	}, 2*time.Second, time.Millisecond, "job %s never reached %s (last %s)", h, want, got.Status)
	return got
}

func TestPipeline_PriorityThenFIFO(t *testing.T) {
	rec := newRecorder(nil)
	p := newTestPipeline(t, singleQueueConfig(), rec, nil)

	var last Handle
	for _, j := range []Job{
		job("low-1", 1),
		job("high-1", 3),
		job("emergency-1", 4),
		job("low-2", 1),
		job("high-2", 3),
	} {
		h, err := p.Enqueue(j)
		require.NoError(t, err)
		last = h
	}
	p.Start()
	waitStatus(t, p, last, StatusCompleted)

	require.Eventually(t, func() bool { return len(rec.Order()) == 5 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"emergency-1", "high-1", "high-2", "low-1", "low-2"}, rec.Order())
}

func TestPipeline_RetryThenSucceed(t *testing.T) {
	var fails int32 = 2
	rec := newRecorder(func(ctx context.Context, msg Message) error {
		if atomic.AddInt32(&fails, -1) >= 0 {
			return errors.New("smtp unavailable")
		}
		return nil
	})
	cfg := singleQueueConfig()
	cfg.MaxAttempts = 5
	p := newTestPipeline(t, cfg, rec, nil)
	p.Start()

	h, err := p.Enqueue(job("donor-match", 2))
	require.NoError(t, err)

	got := waitStatus(t, p, h, StatusCompleted)
	assert.Equal(t, 3, got.Attempts)
	assert.Empty(t, got.LastError)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, rec.Calls(h), "a delivered job is not retried")
}

func TestPipeline_ExhaustionIsTerminal(t *testing.T) {
	rec := newRecorder(func(ctx context.Context, msg Message) error {
		return apperrors.NewNotificationSendFailedError("email", errors.New("bounce"))
	})
	sink := &memorySink{}
	p := newTestPipeline(t, singleQueueConfig(), rec, sink)
	p.Start()

	j := job("donor-match", 4)
	j.RequestID = "req-1"
	h, err := p.Enqueue(j)
	require.NoError(t, err)

	got := waitStatus(t, p, h, StatusExhausted)
	assert.Equal(t, 3, got.Attempts)
	assert.Contains(t, got.LastError, "bounce")

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, rec.Calls(h), "exhausted jobs never run again")
	require.Equal(t, 1, sink.Len())
	assert.Equal(t, "req-1", sink.jobs[0].RequestID)
	assert.Equal(t, StatusExhausted, sink.jobs[0].Status)
}

func TestPipeline_BestEffortExhaustionNotSurfaced(t *testing.T) {
	rec := newRecorder(func(ctx context.Context, msg Message) error {
		return errors.New("down")
	})
	sink := &memorySink{}
	p := newTestPipeline(t, singleQueueConfig(), rec, sink)
	p.Start()

	j := job("offer-rejected", 1)
	j.BestEffort = true
	h, err := p.Enqueue(j)
	require.NoError(t, err)

	waitStatus(t, p, h, StatusExhausted)
	assert.Equal(t, 0, sink.Len())
}

func TestPipeline_NonRetryableFailsImmediately(t *testing.T) {
	rec := newRecorder(func(ctx context.Context, msg Message) error {
		return apperrors.NewRecipientNotFoundError(msg.Recipient)
	})
	sink := &memorySink{}
	p := newTestPipeline(t, singleQueueConfig(), rec, sink)
	p.Start()

	h, err := p.Enqueue(job("donor-match", 2))
	require.NoError(t, err)

	got := waitStatus(t, p, h, StatusFailed)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 1, rec.Calls(h))
	assert.Equal(t, 1, sink.Len())
}

func TestPipeline_CallTimeoutIsAFailure(t *testing.T) {
	rec := newRecorder(func(ctx context.Context, msg Message) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cfg := singleQueueConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	cfg.MaxAttempts = 2
	p := newTestPipeline(t, cfg, rec, nil)
	p.Start()

	h, err := p.Enqueue(job("donor-match", 2))
	require.NoError(t, err)

	got := waitStatus(t, p, h, StatusExhausted)
	assert.Equal(t, 2, got.Attempts)
	assert.Contains(t, got.LastError, "timeout")
}

func TestPipeline_EscalationJumpsEqualPriority(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	rec := newRecorder(func(ctx context.Context, msg Message) error {
		if msg.TemplateID == "blocker" {
			started <- struct{}{}
			<-release
		}
		return nil
	})
	p := newTestPipeline(t, singleQueueConfig(), rec, nil)
	p.Start()

	blocker := job("blocker", 1)
	blocker.RequestID = "req-7"
	hb, err := p.Enqueue(blocker)
	require.NoError(t, err)
	<-started

	emergency := job("emergency-other", 4)
	emergency.RequestID = "req-1"
	_, err = p.Enqueue(emergency)
	require.NoError(t, err)

	low := job("low-escalated", 1)
	low.RequestID = "req-7"
	hl, err := p.Enqueue(low)
	require.NoError(t, err)

	promoted, err := p.Escalate("req-7", 4)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted, "the claimed blocker is not promoted")

	inFlight, ok := p.Lookup(hb)
	require.True(t, ok)
	assert.Equal(t, 1, inFlight.Priority)

	close(release)
	waitStatus(t, p, hl, StatusCompleted)
	require.Eventually(t, func() bool { return len(rec.Order()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"blocker", "low-escalated", "emergency-other"}, rec.Order())
}

func TestPipeline_RepeatEscalationKeepsFirstPlace(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	rec := newRecorder(func(ctx context.Context, msg Message) error {
		if msg.TemplateID == "blocker" {
			started <- struct{}{}
			<-release
		}
		return nil
	})
	p := newTestPipeline(t, singleQueueConfig(), rec, nil)
	p.Start()

	_, err := p.Enqueue(job("blocker", 1))
	require.NoError(t, err)
	<-started

	first := job("first-escalated", 1)
	first.RequestID = "req-a"
	hf, err := p.Enqueue(first)
	require.NoError(t, err)
	second := job("second-escalated", 1)
	second.RequestID = "req-b"
	hs, err := p.Enqueue(second)
	require.NoError(t, err)

	for _, req := range []string{"req-a", "req-b", "req-a"} {
		promoted, err := p.Escalate(req, 4)
		require.NoError(t, err)
		assert.Equal(t, 1, promoted, req)
	}

	close(release)
	waitStatus(t, p, hf, StatusCompleted)
	waitStatus(t, p, hs, StatusCompleted)
	assert.Equal(t, []string{"blocker", "first-escalated", "second-escalated"}, rec.Order())
}

func TestPipeline_EscalateLeavesHigherPriorityAlone(t *testing.T) {
	p := newTestPipeline(t, singleQueueConfig(), newRecorder(nil), nil)

	j := job("a", 4)
	j.RequestID = "req-1"
	h, err := p.Enqueue(j)
	require.NoError(t, err)

	promoted, err := p.Escalate("req-1", 3)
	require.NoError(t, err)
	assert.Zero(t, promoted)
	got, _ := p.Lookup(h)
	assert.Equal(t, 4, got.Priority)

	_, err = p.Escalate("req-1", 9)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed))
	_, err = p.Escalate("", 4)
	assert.Error(t, err)
}

func TestPipeline_CancelQueuedAndInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	rec := newRecorder(func(ctx context.Context, msg Message) error {
		if msg.TemplateID == "slow" {
			started <- struct{}{}
			<-release
			return errors.New("failed after clear")
		}
		return nil
	})
	p := newTestPipeline(t, singleQueueConfig(), rec, nil)
	p.Start()

	slow, err := p.Enqueue(job("slow", 2))
	require.NoError(t, err)
	<-started

	queued, err := p.Enqueue(job("queued", 2))
	require.NoError(t, err)

	assert.ErrorIs(t, p.Cancel(slow), ErrJobInFlight)
	require.NoError(t, p.Cancel(queued))
	assert.ErrorIs(t, p.Cancel(queued), ErrJobFinished)
	assert.ErrorIs(t, p.Cancel("missing"), ErrJobNotFound)

	assert.ErrorIs(t, p.ClearRetries(queued), ErrJobFinished)
	require.NoError(t, p.ClearRetries(slow))
	close(release)

	got := waitStatus(t, p, slow, StatusExhausted)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 1, rec.Calls(slow))
	assert.Zero(t, rec.Calls(queued))

	cancelled, ok := p.Lookup(queued)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestPipeline_ScheduledForDelaysFirstAttempt(t *testing.T) {
	now := time.Now()
	rec := newRecorder(nil)
	p := newTestPipeline(t, singleQueueConfig(), rec, nil)

	j := job("later", 2)
	j.ScheduledFor = now.Add(30 * time.Millisecond)
	h, err := p.Enqueue(j)
	require.NoError(t, err)

	got, _ := p.Lookup(h)
	assert.Equal(t, StatusScheduled, got.Status)

	p.Start()
	waitStatus(t, p, h, StatusCompleted)
	assert.False(t, time.Now().Before(j.ScheduledFor))
}

func TestPipeline_EnqueueValidation(t *testing.T) {
	p := newTestPipeline(t, singleQueueConfig(), newRecorder(nil), nil)

	tests := []struct {
		name   string
		mutate func(j *Job)
	}{
		{name: "bad channel", mutate: func(j *Job) { j.Type = "pigeon" }},
		{name: "no recipient", mutate: func(j *Job) { j.Recipient = "" }},
		{name: "no template", mutate: func(j *Job) { j.TemplateID = "" }},
		{name: "priority out of range", mutate: func(j *Job) { j.Priority = 7 }},
		{name: "negative attempts", mutate: func(j *Job) { j.MaxAttempts = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := job("x", 1)
			tt.mutate(&j)
			_, err := p.Enqueue(j)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidationFailed), "got %v", err)
		})
	}

	j := job("x", 1)
	j.Queue = "nope"
	_, err := p.Enqueue(j)
	assert.ErrorIs(t, err, ErrUnknownQueue)
}

func TestPipeline_Defaults(t *testing.T) {
	p := newTestPipeline(t, singleQueueConfig(), newRecorder(nil), nil)

	h, err := p.Enqueue(Job{Type: models.ChannelSMS, Recipient: "u", TemplateID: "t"})
	require.NoError(t, err)

	got, ok := p.Lookup(h)
	require.True(t, ok)
	assert.Equal(t, QueueNotification, got.Queue)
	assert.Equal(t, 1, got.Priority)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.False(t, got.ScheduledFor.IsZero())
	assert.Equal(t, 1, p.Depth(QueueNotification))
}

func TestPipeline_StopRejectsEnqueue(t *testing.T) {
	p := newTestPipeline(t, singleQueueConfig(), newRecorder(nil), nil)
	p.Start()
	require.NoError(t, p.Stop(context.Background()))

	_, err := p.Enqueue(job("x", 1))
	assert.ErrorIs(t, err, ErrPipelineStopped)
}

func TestPipeline_StopDeadlineCancelsInFlight(t *testing.T) {
	rec := newRecorder(func(ctx context.Context, msg Message) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cfg := singleQueueConfig()
	cfg.CallTimeout = time.Minute
	p := newTestPipeline(t, cfg, rec, nil)
	p.Start()

	h, err := p.Enqueue(job("stuck", 1))
	require.NoError(t, err)
	waitStatus(t, p, h, StatusRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Stop(ctx), context.DeadlineExceeded)
}

func TestPipeline_ArchiveIsBounded(t *testing.T) {
	cfg := singleQueueConfig()
	cfg.ArchiveSize = 2
	p := newTestPipeline(t, cfg, newRecorder(nil), nil)
	p.Start()

	var handles []Handle
	for i := 0; i < 3; i++ {
		h, err := p.Enqueue(job("x", 1))
		require.NoError(t, err)
		waitStatus(t, p, h, StatusCompleted)
		handles = append(handles, h)
	}

	_, ok := p.Lookup(handles[0])
	assert.False(t, ok, "oldest archived job is evicted")
	_, ok = p.Lookup(handles[2])
	assert.True(t, ok)
}

func TestPipeline_Backoff(t *testing.T) {
	p := &Pipeline{config: Config{BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{64, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestNew_RejectsBadQueues(t *testing.T) {
	_, err := New(Config{Queues: []QueueConfig{{Name: "a", Concurrency: 0}}}, newRecorder(nil), nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Queues: []QueueConfig{{Name: "a", Concurrency: 1}, {Name: "a", Concurrency: 1}}}, newRecorder(nil), nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Queues: []QueueConfig{{Name: "a", Concurrency: 1}}, DefaultQueue: "b"}, newRecorder(nil), nil, nil)
	assert.Error(t, err)
}

func TestQueueFor(t *testing.T) {
	assert.Equal(t, QueueUrgent, QueueFor(models.UrgencyEmergency))
	assert.Equal(t, QueueMatching, QueueFor(models.UrgencyHigh))
	assert.Equal(t, QueueMatching, QueueFor(models.UrgencyLow))
}
