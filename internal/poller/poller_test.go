package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viralclips/internal/models"
)

const testInterval = 20 * time.Millisecond

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// script replays a fixed sequence of responses, repeating the last one.
type script struct {
	calls atomic.Int64
	steps []step
}

type step struct {
	status models.Status
	err    string
	fail   error
}

func (s *script) fetch(_ context.Context, jobID string) (*models.JobStatus, error) {
	n := int(s.calls.Add(1)) - 1
	if n >= len(s.steps) {
		n = len(s.steps) - 1
	}
	st := s.steps[n]
	if st.fail != nil {
		return nil, st.fail
	}
	return &models.JobStatus{JobID: jobID, Status: st.status, Error: st.err, Progress: models.NormalizeProgress(50)}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, e := range r.snapshot() {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newTestPoller(jobID string, fetch FetchFunc, rec *recorder, opts ...Option) *Poller {
	opts = append([]Option{WithInterval(testInterval), WithLogger(quietLogger)}, opts...)
	return New(jobID, fetch, rec.handle, opts...)
}

func waitDone(t *testing.T, p *Poller) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestStart_FetchesImmediately(t *testing.T) {
	s := &script{steps: []step{{status: models.StatusQueued}}}
	rec := &recorder{}
	p := newTestPoller("job-1", s.fetch, rec, WithInterval(time.Hour))
	defer p.Stop()

	p.Start(context.Background())

	require.Eventually(t, func() bool { return s.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), s.calls.Load())
	assert.Equal(t, 1, rec.count(EventProgress))
}

func TestNonTerminalStatuses_KeepPolling(t *testing.T) {
	s := &script{steps: []step{
		{status: models.StatusQueued},
		{status: models.StatusInProgress},
		{status: models.StatusDownloading},
		{status: models.StatusProcessingVideo},
		{status: models.StatusDownloading},
	}}
	rec := &recorder{}
	p := newTestPoller("job-1", s.fetch, rec)
	p.Start(context.Background())

	require.Eventually(t, func() bool { return s.calls.Load() >= 6 }, 2*time.Second, time.Millisecond)
	p.Stop()

	assert.False(t, p.Active())
	assert.Zero(t, rec.count(EventCompleted))
	assert.Zero(t, rec.count(EventFailed))
	assert.GreaterOrEqual(t, rec.count(EventProgress), 5)

	events := rec.snapshot()
	assert.Equal(t, models.StatusQueued, events[0].Status.Status)
	assert.Equal(t, models.StatusProcessingVideo, events[3].Status.Status)
}

func TestCompleted_EmitsOnceAndStops(t *testing.T) {
	s := &script{steps: []step{{status: models.StatusDownloading}, {status: models.StatusCompleted}}}
	rec := &recorder{}
	p := newTestPoller("job-1", s.fetch, rec)
	p.Start(context.Background())
	waitDone(t, p)

	time.Sleep(5 * testInterval)
	assert.Equal(t, int64(2), s.calls.Load())

	events := rec.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, EventProgress, events[0].Type)
	assert.Equal(t, EventProgress, events[1].Type)
	assert.Equal(t, EventCompleted, events[2].Type)
	assert.Equal(t, models.StatusCompleted, events[2].Status.Status)
	assert.Equal(t, models.StatusCompleted, p.Last().Status)
	assert.False(t, p.Active())
}

func TestFailed_WithServerMessage(t *testing.T) {
	s := &script{steps: []step{{status: models.StatusFailed, err: "disk full"}}}
	rec := &recorder{}
	p := newTestPoller("job-1", s.fetch, rec)
	p.Start(context.Background())
	waitDone(t, p)

	time.Sleep(3 * testInterval)
	assert.Equal(t, int64(1), s.calls.Load())
	require.Equal(t, 1, rec.count(EventFailed))

	events := rec.snapshot()
	last := events[len(events)-1]
	assert.Equal(t, "disk full", last.Message)
	assert.ErrorIs(t, last.Err, models.ErrJobFailed)
}

func TestFailed_DefaultMessage(t *testing.T) {
	s := &script{steps: []step{{status: models.StatusFailed}}}
	rec := &recorder{}
	p := newTestPoller("job-1", s.fetch, rec)
	p.Start(context.Background())
	waitDone(t, p)

	events := rec.snapshot()
	require.Equal(t, 1, rec.count(EventFailed))
	assert.NotEmpty(t, events[len(events)-1].Message)
	assert.Equal(t, models.MsgJobFailedDefault, events[len(events)-1].Message)
}

func TestStop_NoFetchesAfterwards(t *testing.T) {
	s := &script{steps: []step{{status: models.StatusDownloading}}}
	rec := &recorder{}
	p := newTestPoller("job-1", s.fetch, rec)
	p.Start(context.Background())

	require.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, time.Millisecond)
	p.Stop()
	calls := s.calls.Load()
	events := len(rec.snapshot())

	time.Sleep(5 * testInterval)
	assert.Equal(t, calls, s.calls.Load())
	assert.Len(t, rec.snapshot(), events)
	waitDone(t, p)

	// idempotent
	p.Stop()
	p.Stop()
}

func TestMissingJobID_FailsSynchronously(t *testing.T) {
	s := &script{steps: []step{{status: models.StatusQueued}}}
	rec := &recorder{}
	p := newTestPoller("", s.fetch, rec)

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, EventFailed, events[0].Type)
	assert.Equal(t, models.MsgMissingJobID, events[0].Message)
	assert.ErrorIs(t, events[0].Err, models.ErrMissingJobID)

	p.Start(context.Background())
	time.Sleep(3 * testInterval)
	assert.Zero(t, s.calls.Load())
	assert.False(t, p.Active())
	waitDone(t, p)
	p.Stop()
}

func TestFetchError_SingleFailedEvent(t *testing.T) {
	boom := errors.New("connection refused")
	s := &script{steps: []step{{fail: boom}}}
	rec := &recorder{}
	p := newTestPoller("job-1", s.fetch, rec)
	p.Start(context.Background())
	waitDone(t, p)

	time.Sleep(3 * testInterval)
	assert.Equal(t, int64(1), s.calls.Load())

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, EventFailed, events[0].Type)
	assert.Equal(t, models.MsgStatusUnavailable, events[0].Message)
	assert.ErrorIs(t, events[0].Err, boom)
}

func TestFetchError_NilStatusIsMalformed(t *testing.T) {
	rec := &recorder{}
	p := newTestPoller("job-1", func(context.Context, string) (*models.JobStatus, error) { return nil, nil }, rec)
	p.Start(context.Background())
	waitDone(t, p)

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.ErrorIs(t, events[0].Err, models.ErrMalformedPayload)
}

func TestMaxRetries(t *testing.T) {
	boom := errors.New("timeout")

	t.Run("recovers", func(t *testing.T) {
		s := &script{steps: []step{{fail: boom}, {fail: boom}, {status: models.StatusCompleted}}}
		rec := &recorder{}
		p := newTestPoller("job-1", s.fetch, rec, WithMaxRetries(2))
		p.Start(context.Background())
		waitDone(t, p)

		assert.Equal(t, int64(3), s.calls.Load())
		assert.Equal(t, 1, rec.count(EventCompleted))
		assert.Zero(t, rec.count(EventFailed))
	})

	t.Run("gives up", func(t *testing.T) {
		s := &script{steps: []step{{fail: boom}}}
		rec := &recorder{}
		p := newTestPoller("job-1", s.fetch, rec, WithMaxRetries(2))
		p.Start(context.Background())
		waitDone(t, p)

		assert.Equal(t, int64(3), s.calls.Load())
		assert.Equal(t, 1, rec.count(EventFailed))
	})
}

func TestUnknownStatus_ContinuesPolling(t *testing.T) {
	s := &script{steps: []step{{status: "uploading_to_cdn"}, {status: models.StatusCompleted}}}
	rec := &recorder{}
	p := newTestPoller("job-1", s.fetch, rec)
	p.Start(context.Background())
	waitDone(t, p)

	events := rec.snapshot()
	require.Len(t, events, 3)
	assert.True(t, events[0].Unknown)
	assert.Equal(t, EventProgress, events[0].Type)
	assert.False(t, events[1].Unknown)
	assert.Equal(t, EventCompleted, events[2].Type)
}

func TestLateResponseIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	fetch := func(ctx context.Context, jobID string) (*models.JobStatus, error) {
		close(entered)
		<-release
		return &models.JobStatus{JobID: jobID, Status: models.StatusCompleted}, nil
	}
	rec := &recorder{}
	p := newTestPoller("job-1", fetch, rec)
	p.Start(context.Background())

	<-entered
	p.Stop()
	close(release)
	waitDone(t, p)

	assert.Empty(t, rec.snapshot())
	assert.Nil(t, p.Last())
}

func TestRecord_KeepsNewestSequence(t *testing.T) {
	p := newTestPoller("job-1", (&script{}).fetch, &recorder{})
	newer := &models.JobStatus{JobID: "job-1", Status: models.StatusDownloading}
	older := &models.JobStatus{JobID: "job-1", Status: models.StatusQueued}

	assert.True(t, p.record(2, newer))
	assert.False(t, p.record(1, older))
	assert.False(t, p.record(2, older))
	assert.Same(t, newer, p.Last())

	assert.True(t, p.record(3, older))
	assert.Same(t, older, p.Last())
}

func TestStart_CancelledContextNeverFetches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 200; i++ {
		s := &script{steps: []step{{status: models.StatusQueued}}}
		rec := &recorder{}
		p := newTestPoller("job-1", s.fetch, rec)
		p.Start(ctx)
		waitDone(t, p)

		require.Zero(t, s.calls.Load(), "iteration %d", i)
		require.Empty(t, rec.snapshot())
	}
}

func TestStopFromHandler(t *testing.T) {
	s := &script{steps: []step{{status: models.StatusCompleted}}}
	rec := &recorder{}
	var p *Poller
	p = New("job-1", s.fetch, func(e Event) {
		rec.handle(e)
		p.Stop()
	}, WithInterval(testInterval), WithLogger(quietLogger))
	p.Start(context.Background())
	waitDone(t, p)

	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, EventProgress, events[0].Type)
}

func TestContextCancel_StopsPolling(t *testing.T) {
	s := &script{steps: []step{{status: models.StatusQueued}}}
	rec := &recorder{}
	p := newTestPoller("job-1", s.fetch, rec)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	require.Eventually(t, func() bool { return s.calls.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()
	waitDone(t, p)

	calls := s.calls.Load()
	time.Sleep(3 * testInterval)
	assert.Equal(t, calls, s.calls.Load())
	assert.Zero(t, rec.count(EventFailed))
}

func TestStopBeforeStart(t *testing.T) {
	s := &script{steps: []step{{status: models.StatusQueued}}}
	rec := &recorder{}
	p := newTestPoller("job-1", s.fetch, rec)
	p.Stop()
	p.Start(context.Background())

	waitDone(t, p)
	time.Sleep(2 * testInterval)
	assert.Zero(t, s.calls.Load())
	assert.Empty(t, rec.snapshot())
}

func TestEventView(t *testing.T) {
	st := &models.JobStatus{
		JobID:    "job-1",
		Status:   models.StatusCompleted,
		Progress: models.Progress{Percent: 100, Display: "100%"},
		FilePath: `downloads\job-1_clip.mp4`,
	}

	v := Event{Type: EventCompleted, JobID: "job-1", Status: st}.View("http://localhost:8000")
	assert.Equal(t, "completed", v.Event)
	assert.Equal(t, "job-1_clip.mp4", v.FileName)
	assert.Equal(t, "http://localhost:8000/downloads/job-1_clip.mp4", v.VideoURL)

	v = Event{Type: EventFailed, JobID: "job-1", Message: "Video unavailable"}.View("")
	assert.Equal(t, models.StatusFailed, v.Status)
	assert.Equal(t, "Video unavailable", v.Error)
	assert.Equal(t, "Download Failed", v.Message)
}
