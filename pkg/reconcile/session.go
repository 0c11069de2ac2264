// Package reconcile drives the live view of an upgrade job. A Session
// subscribes to the job's log, polls the job resource, and merges both into a
// snapshot that any number of readers can watch.
package reconcile

import (
	"context"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/jobstate"
	"github.com/kelda/wavectl/pkg/logtoken"
	"github.com/kelda/wavectl/pkg/progress"
	"github.com/kelda/wavectl/pkg/targetstatus"
	"github.com/kelda/wavectl/pkg/upgrade"
)

var (
	// ErrClosed is returned by actions on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrNotFinished is returned when clearing a job that is still live.
	ErrNotFinished = errors.NewFriendlyError("the job hasn't finished yet")
)

// Options configures a Session.
type Options struct {
	// PollInterval is how often the job resource is polled.
	PollInterval time.Duration

	// RetryInterval is how long to wait before retrying to open the log
	// stream after a failed attempt.
	RetryInterval time.Duration
}

const (
	defaultPollInterval  = 2 * time.Second
	defaultRetryInterval = 5 * time.Second
)

// Snapshot is a read-only view of a session. It shares no memory with the
// session.
type Snapshot struct {
	Job        string
	Generation uint64

	Targets targetstatus.Snapshot
	Status  upgrade.JobStatus
	Percent int

	// Log is the raw text received so far, verbatim.
	Log string

	// Streaming is true while the log subscription is open.
	Streaming bool

	// Resource is the result of the most recent successful poll, if any.
	Resource *upgrade.JobResource

	// LastError describes the most recent transport failure. It never
	// affects the job status.
	LastError string

	// JobMissing is set while polls report that the job doesn't exist.
	JobMissing bool

	CanStart    bool
	CanComplete bool
}

// Session is the single owner of a job's reconciled state. All mutation
// happens on one goroutine; the log reader and the poller only send it
// messages tagged with the generation they were started for.
type Session struct {
	source Source
	opts   Options

	msgs   chan interface{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the loop goroutine.
	gen          uint64
	job          string
	stopInputs   context.CancelFunc
	store        *targetstatus.Store
	machine      *jobstate.Machine
	progress     *progress.Calculator
	parser       *logtoken.Parser
	rawLog       strings.Builder
	streaming    bool
	lastResource *upgrade.JobResource
	lastError    string
	jobMissing   bool

	snapLock sync.RWMutex
	snap     Snapshot

	subsLock    sync.Mutex
	subscribers map[chan struct{}]struct{}
}

type chunkMsg struct {
	gen  uint64
	text string
}

type streamOpenedMsg struct {
	gen uint64
}

type streamEndedMsg struct {
	gen uint64
	err error
}

type pollMsg struct {
	gen uint64
	res upgrade.JobResource
	err error
}

type controlMsg struct {
	fn   func()
	done chan struct{}
}

// New creates a session and starts its loop. The session begins with an
// empty plan, and must be released with Close.
func New(source Source, opts Options) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		source:      source,
		opts:        opts,
		msgs:        make(chan interface{}, 64),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		store:       targetstatus.New(),
		machine:     jobstate.New(upgrade.Plan{}),
		progress:    progress.New(0),
		parser:      &logtoken.Parser{},
		subscribers: map[chan struct{}]struct{}{},
	}
	s.publish()

	go s.run()
	return s
}

// Load replaces the plan while no job is running. Any live subscription is
// torn down.
func (s *Session) Load(plan upgrade.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	return s.do(func() {
		s.teardown()
		s.job = ""
		s.reset(plan)
		s.machine.Load(plan)
	})
}

// Start begins tracking the given job, which executes the given plan. It
// returns as soon as the subscription and the poller are launched. Starting
// a new job while another is live stops the old one first, and nothing the
// old job's inputs deliver afterwards is applied.
//
// Start is also used to attach to a job that was submitted elsewhere. The
// first poll then seeds the actual job status.
func (s *Session) Start(job string, plan upgrade.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}

	return s.do(func() {
		s.teardown()
		s.job = job
		s.reset(plan)
		s.machine.Load(plan)
		s.machine.Start()

		log.WithFields(log.Fields{
			"job":        job,
			"generation": s.gen,
			"targets":    plan.TotalTargets(),
		}).Debug("Starting reconciliation")

		ctx, cancel := context.WithCancel(s.ctx)
		s.stopInputs = cancel
		s.streaming = false
		go s.streamLogs(ctx, s.gen, job)
		go s.poll(ctx, s.gen, job)
	})
}

// Stop closes the log subscription and stops polling. The last state is kept
// so that it can still be displayed. Once Stop returns, the stopped inputs
// can no longer change the session.
func (s *Session) Stop() error {
	return s.do(s.teardown)
}

// Clear is the "complete" action. It discards a finished job's state and
// loads the plan for the next run.
func (s *Session) Clear(next upgrade.Plan) error {
	if err := next.Validate(); err != nil {
		return err
	}

	var err error
	doErr := s.do(func() {
		if !s.machine.CanComplete() {
			err = ErrNotFinished
			return
		}

		s.teardown()
		s.job = ""
		s.reset(next)
		s.machine.Complete(next)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// Close stops the session and waits for its loop to exit.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// Snapshot returns the most recently published state.
func (s *Session) Snapshot() Snapshot {
	s.snapLock.RLock()
	defer s.snapLock.RUnlock()
	return s.snap
}

// Subscribe returns a channel that receives a notification whenever a new
// snapshot is published. Notifications are coalesced, so readers should
// always fetch the latest snapshot rather than count notifications. The
// channel is notified once immediately.
func (s *Session) Subscribe(ctx context.Context) <-chan struct{} {
	notifier := make(chan struct{}, 1)
	notifier <- struct{}{}

	s.subsLock.Lock()
	s.subscribers[notifier] = struct{}{}
	s.subsLock.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.subsLock.Lock()
		delete(s.subscribers, notifier)
		s.subsLock.Unlock()
	}()
	return notifier
}

// Done is closed once the session's loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// do runs fn on the loop goroutine and waits for it to finish.
func (s *Session) do(fn func()) error {
	msg := controlMsg{fn: fn, done: make(chan struct{})}
	select {
	case s.msgs <- msg:
	case <-s.done:
		return ErrClosed
	}

	select {
	case <-msg.done:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case msg := <-s.msgs:
			if s.handle(msg) {
				s.publish()
			}
		}
	}
}

// handle applies a message, and returns whether it may have changed the
// state.
func (s *Session) handle(msg interface{}) bool {
	switch msg := msg.(type) {
	case controlMsg:
		// Publish before acknowledging, so that callers see their change.
		msg.fn()
		s.publish()
		close(msg.done)
		return false

	case chunkMsg:
		if msg.gen != s.gen {
			return false
		}
		s.rawLog.WriteString(msg.text)
		s.apply(s.parser.Feed(msg.text))

	case streamOpenedMsg:
		if msg.gen != s.gen {
			return false
		}
		s.streaming = true

	case streamEndedMsg:
		if msg.gen != s.gen {
			return false
		}
		s.streaming = false
		s.apply(s.parser.Flush())
		if msg.err != nil && !errors.IsStreamClosed(msg.err) {
			s.lastError = errors.GetPrintableMessage(msg.err)
		}

	case pollMsg:
		if msg.gen != s.gen {
			return false
		}
		if msg.err != nil {
			s.lastError = errors.GetPrintableMessage(msg.err)
			s.jobMissing = errors.Is(msg.err, upgrade.ErrJobNotFound)
			return true
		}
		s.jobMissing = false
		res := msg.res
		s.lastResource = &res
		s.machine.Reconcile(res)

	default:
		log.WithField("msg", msg).Warn("Unexpected session message")
		return false
	}
	return true
}

// apply feeds the events parsed from one chunk into the store, the progress
// calculator, and the state machine. Only successes that the store accepted
// count towards the percentage.
func (s *Session) apply(events []logtoken.Event) {
	var successes int
	for _, event := range events {
		switch event.Kind {
		case logtoken.TargetStarted, logtoken.TargetSucceeded, logtoken.TargetFailed:
			if s.store.Apply(event) && event.Kind == logtoken.TargetSucceeded {
				successes++
			}
		default:
			s.machine.Observe(event, s.store.AllTerminal())
		}
	}
	s.progress.Observe(successes)
}

// teardown invalidates the current generation and cancels its inputs.
func (s *Session) teardown() {
	s.gen++
	if s.stopInputs != nil {
		s.stopInputs()
		s.stopInputs = nil
	}
	s.streaming = false
}

func (s *Session) reset(plan upgrade.Plan) {
	s.store.Reset(plan.Targets())
	s.progress = progress.New(plan.TotalTargets())
	s.parser = &logtoken.Parser{}
	s.rawLog.Reset()
	s.lastResource = nil
	s.lastError = ""
	s.jobMissing = false
}

func (s *Session) publish() {
	snap := Snapshot{
		Job:         s.job,
		Generation:  s.gen,
		Targets:     s.store.Snapshot(),
		Status:      s.machine.State(),
		Percent:     s.progress.Percent(),
		Log:         s.rawLog.String(),
		Streaming:   s.streaming,
		LastError:   s.lastError,
		JobMissing:  s.jobMissing,
		CanStart:    s.machine.CanStart(),
		CanComplete: s.machine.CanComplete(),
	}
	if s.lastResource != nil {
		res := *s.lastResource
		snap.Resource = &res
	}

	s.snapLock.Lock()
	s.snap = snap
	s.snapLock.Unlock()

	s.subsLock.Lock()
	for notifier := range s.subscribers {
		select {
		case notifier <- struct{}{}:
		default:
		}
	}
	s.subsLock.Unlock()
}

// send delivers a message to the loop unless the generation was cancelled.
func (s *Session) send(ctx context.Context, msg interface{}) bool {
	select {
	case s.msgs <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) streamLogs(ctx context.Context, gen uint64, job string) {
	var stream LogStream
	for {
		var err error
		stream, err = s.source.StreamLogs(ctx, job)
		if err == nil {
			break
		}

		log.WithError(err).WithField("job", job).Warn("Failed to open log stream. Will retry.")
		if !s.send(ctx, streamEndedMsg{gen: gen, err: errors.WithContext("open log stream", err)}) {
			return
		}

		select {
		case <-time.After(s.opts.RetryInterval):
		case <-ctx.Done():
			return
		}
	}

	// Recv blocks, so closing the stream is the only way to interrupt it.
	ended := make(chan struct{})
	defer close(ended)
	go func() {
		select {
		case <-ctx.Done():
		case <-ended:
		}
		stream.Close()
	}()

	log.WithField("job", job).Debug("Log stream opened")
	if !s.send(ctx, streamOpenedMsg{gen: gen}) {
		return
	}

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.IsStreamClosed(err) {
				log.WithField("job", job).Debug("Log stream ended")
			} else {
				log.WithError(err).WithField("job", job).Warn("Log stream failed")
			}
			s.send(ctx, streamEndedMsg{gen: gen, err: err})
			return
		}

		if !s.send(ctx, chunkMsg{gen: gen, text: chunk}) {
			return
		}
	}
}

func (s *Session) poll(ctx context.Context, gen uint64, job string) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		res, err := s.source.PollJob(ctx, job)
		if err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("job", job).Warn("Failed to poll job")
			err = errors.WithContext("poll job", err)
		}
		if !s.send(ctx, pollMsg{gen: gen, res: res, err: err}) {
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
