// Package poller watches a download job by querying its status at a fixed
// interval until the job reaches a terminal state.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"viralclips/internal/models"
)

// DefaultInterval is the spacing between two status queries.
const DefaultInterval = 1500 * time.Millisecond

// EventType names the events a Poller emits.
type EventType string

const (
	EventProgress  EventType = "progress-update"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is delivered to the Handler. Status is set for progress-update and
// completed, Message for failed.
type Event struct {
	Type    EventType
	JobID   string
	Status  *models.JobStatus
	Message string
	Err     error
	// Unknown marks a progress-update carrying a status outside the known vocabulary.
	Unknown bool
}

// View projects the event onto a progress screen. filesBase is the origin
// serving /downloads/.
func (e Event) View(filesBase string) models.View {
	if e.Type == EventFailed || e.Status == nil {
		return models.FailureView(e.JobID, e.Message)
	}
	return models.NewView(string(e.Type), e.Status, filesBase)
}

// Handler receives poller events. It runs on the poller goroutine, except for
// the missing job event which is emitted from New.
type Handler func(Event)

// FetchFunc queries the current status of a job.
type FetchFunc func(ctx context.Context, jobID string) (*models.JobStatus, error)

type Option func(*Poller)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the logger used for poll diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMaxRetries lets a failed fetch be retried n times, one interval apart,
// before the poller gives up. The default is 0: the first failure is terminal.
func WithMaxRetries(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxRetries = n
		}
	}
}

// Poller owns one repeating status query for one job.
type Poller struct {
	jobID      string
	fetch      FetchFunc
	handler    Handler
	interval   time.Duration
	maxRetries int
	logger     *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	last    *models.JobStatus
	lastSeq uint64

	seq         atomic.Uint64
	stopped     atomic.Bool
	dispatching atomic.Bool
	emitMu      sync.Mutex

	done chan struct{}
}

// New creates a poller for jobID. With an empty jobID the poller emits a
// failed event synchronously, never calls fetch and is returned stopped.
func New(jobID string, fetch FetchFunc, handler Handler, opts ...Option) *Poller {
	p := &Poller{
		jobID:    jobID,
		fetch:    fetch,
		handler:  handler,
		interval: DefaultInterval,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if jobID == "" || fetch == nil {
		p.logger.Warn("poller not started", "error", models.ErrMissingJobID)
		p.emit(Event{Type: EventFailed, Message: models.MsgMissingJobID, Err: models.ErrMissingJobID})
		p.stopped.Store(true)
		close(p.done)
	}
	return p
}

// JobID returns the tracked job identifier.
func (p *Poller) JobID() string { return p.jobID }

// Active reports whether the poller may still emit events.
func (p *Poller) Active() bool { return !p.stopped.Load() }

// Done is closed once the polling loop has exited.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Last returns the most recent status received, or nil.
func (p *Poller) Last() *models.JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Start issues the first status query immediately and keeps polling until a
// terminal status, Stop, or cancellation of ctx. Calling Start more than once
// has no effect.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped.Load() {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop cancels polling. After Stop returns no fetch is issued and no event is
// emitted. It is idempotent and may be called from inside the Handler.
func (p *Poller) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	cancel := p.cancel
	neverStarted := !p.started
	p.started = true
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if neverStarted {
		close(p.done)
	}

	// Wait out an emission that passed its stopped check but has not reached
	// the handler yet. A dispatch already in progress started before Stop.
	if !p.dispatching.Load() {
		p.emitMu.Lock()
		p.emitMu.Unlock()
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer p.Stop()

	p.logger.Debug("polling started", "job_id", p.jobID, "interval", p.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("polling cancelled", "job_id", p.jobID)
			return
		case <-timer.C:
		}
		// select picks randomly when the timer and ctx are both ready.
		if ctx.Err() != nil || p.stopped.Load() {
			return
		}

		seq := p.seq.Add(1)
		st, err := p.fetch(ctx, p.jobID)
		if ctx.Err() != nil || p.stopped.Load() {
			return
		}

		if err == nil && st == nil {
			err = fmt.Errorf("%w: empty response", models.ErrMalformedPayload)
		}
		if err != nil {
			failures++
			if failures <= p.maxRetries {
				p.logger.Warn("job status fetch failed, retrying", "job_id", p.jobID, "attempt", failures, "error", err)
				timer.Reset(p.interval)
				continue
			}
			p.logger.Error("job status fetch failed", "job_id", p.jobID, "error", err)
			p.emit(Event{Type: EventFailed, JobID: p.jobID, Message: models.MsgStatusUnavailable, Err: err})
			return
		}
		failures = 0

		if !p.record(seq, st) {
			timer.Reset(p.interval)
			continue
		}
		if terminal := p.handle(st); terminal {
			return
		}
		timer.Reset(p.interval)
	}
}

// record stores st as the latest status unless a response with a higher
// sequence number already landed.
func (p *Poller) record(seq uint64, st *models.JobStatus) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq <= p.lastSeq {
		p.logger.Debug("discarding stale job status", "job_id", p.jobID, "seq", seq)
		return false
	}
	p.lastSeq = seq
	p.last = st
	return true
}

func (p *Poller) handle(st *models.JobStatus) bool {
	unknown := !st.Status.IsKnown()
	if unknown {
		p.logger.Warn("unknown job status", "job_id", p.jobID, "status", st.Status)
	}
	if !p.emit(Event{Type: EventProgress, JobID: p.jobID, Status: st, Unknown: unknown}) {
		return true
	}

	switch st.Status {
	case models.StatusCompleted:
		p.logger.Info("job completed", "job_id", p.jobID, "artifact", st.ArtifactPath())
		p.emit(Event{Type: EventCompleted, JobID: p.jobID, Status: st})
		return true
	case models.StatusFailed:
		msg := st.FailureMessage()
		p.logger.Info("job failed", "job_id", p.jobID, "error", msg)
		p.emit(Event{Type: EventFailed, JobID: p.jobID, Status: st, Message: msg, Err: fmt.Errorf("%w: %s", models.ErrJobFailed, msg)})
		return true
	}
	return false
}

// emit delivers e unless the poller has been stopped. It reports whether the
// event was delivered.
func (p *Poller) emit(e Event) bool {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	if p.stopped.Load() {
		return false
	}
	if p.handler == nil {
		return true
	}
	p.dispatching.Store(true)
	defer p.dispatching.Store(false)
	p.handler(e)
	return true
}
