package reconcile

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelda/wavectl/pkg/errors"
	"github.com/kelda/wavectl/pkg/upgrade"
)

type fakeStream struct {
	chunks    chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		chunks: make(chan string),
		closed: make(chan struct{}),
	}
}

func (fs *fakeStream) Recv() (string, error) {
	select {
	case chunk, ok := <-fs.chunks:
		if !ok {
			return "", io.EOF
		}
		return chunk, nil
	case <-fs.closed:
		return "", errors.ErrStreamClosed
	}
}

func (fs *fakeStream) Close() error {
	fs.closeOnce.Do(func() { close(fs.closed) })
	return nil
}

type fakeSource struct {
	lock      sync.Mutex
	streams   map[string]*fakeStream
	resources map[string]upgrade.JobResource
	streamErr error
	pollErr   error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		streams:   map[string]*fakeStream{},
		resources: map[string]upgrade.JobResource{},
	}
}

func (src *fakeSource) stream(job string) *fakeStream {
	src.lock.Lock()
	defer src.lock.Unlock()

	stream, ok := src.streams[job]
	if !ok {
		stream = newFakeStream()
		src.streams[job] = stream
	}
	return stream
}

func (src *fakeSource) setResource(job string, res upgrade.JobResource) {
	src.lock.Lock()
	defer src.lock.Unlock()
	src.resources[job] = res
}

func (src *fakeSource) setStreamErr(err error) {
	src.lock.Lock()
	defer src.lock.Unlock()
	src.streamErr = err
}

func (src *fakeSource) setPollErr(err error) {
	src.lock.Lock()
	defer src.lock.Unlock()
	src.pollErr = err
}

func (src *fakeSource) PollJob(_ context.Context, job string) (upgrade.JobResource, error) {
	src.lock.Lock()
	defer src.lock.Unlock()

	if src.pollErr != nil {
		return upgrade.JobResource{}, src.pollErr
	}
	res, ok := src.resources[job]
	if !ok {
		return upgrade.JobResource{Active: 1, Status: upgrade.ServerRunning}, nil
	}
	return res, nil
}

func (src *fakeSource) StreamLogs(_ context.Context, job string) (LogStream, error) {
	src.lock.Lock()
	err := src.streamErr
	src.lock.Unlock()
	if err != nil {
		return nil, err
	}
	return src.stream(job), nil
}

var twoWaves = upgrade.Plan{
	Parallel: 2,
	Batches: [][]upgrade.PlannedPod{
		{{Name: "a"}, {Name: "b"}},
		{{Name: "c"}, {Name: "d"}},
	},
}

func newTestSession(t *testing.T, src Source) *Session {
	s := New(src, Options{
		PollInterval:  10 * time.Millisecond,
		RetryInterval: 10 * time.Millisecond,
	})
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, s *Session, cond func(Snapshot) bool) Snapshot {
	require.Eventually(t, func() bool {
		return cond(s.Snapshot())
	}, 5*time.Second, 5*time.Millisecond)
	return s.Snapshot()
}

func targetStatus(t *testing.T, snap Snapshot, name string) upgrade.Target {
	target, ok := snap.Targets.Get(name)
	require.True(t, ok, "missing target %s", name)
	return target
}

func TestNewSessionIsEmpty(t *testing.T) {
	s := newTestSession(t, newFakeSource())

	snap := s.Snapshot()
	assert.Equal(t, upgrade.JobNoDiff, snap.Status)
	assert.Equal(t, 100, snap.Percent)
	assert.Empty(t, snap.Targets.Targets)
}

func TestLoad(t *testing.T) {
	s := newTestSession(t, newFakeSource())

	require.NoError(t, s.Load(twoWaves))
	snap := s.Snapshot()
	assert.Equal(t, upgrade.JobDiff, snap.Status)
	assert.True(t, snap.CanStart)
	assert.Equal(t, 0, snap.Percent)
	assert.Len(t, snap.Targets.Targets, 4)

	require.NoError(t, s.Load(upgrade.Plan{}))
	snap = s.Snapshot()
	assert.Equal(t, upgrade.JobNoDiff, snap.Status)
	assert.Equal(t, 100, snap.Percent)

	invalid := upgrade.Plan{Batches: [][]upgrade.PlannedPod{{{Name: "a"}, {Name: "a"}}}}
	assert.Error(t, s.Load(invalid))
}

func TestFailedWave(t *testing.T) {
	src := newFakeSource()
	s := newTestSession(t, src)

	require.NoError(t, s.Start("job", twoWaves))
	stream := src.stream("job")

	chunks := []string{
		"POD-START [a]\nPOD-SUC",
		"CESS [a]\nPOD-START [b]\n",
		"POD-FAIL [b] disk full.\nBATCH-FAIL\n",
	}
	for _, chunk := range chunks {
		stream.chunks <- chunk
	}

	snap := waitFor(t, s, func(snap Snapshot) bool {
		return snap.Status == upgrade.JobBatchFail
	})
	assert.Equal(t, upgrade.TargetSuccess, targetStatus(t, snap, "a").Status)
	b := targetStatus(t, snap, "b")
	assert.Equal(t, upgrade.TargetFailed, b.Status)
	assert.Equal(t, "disk full", b.FailureReason)
	assert.Equal(t, upgrade.TargetPending, targetStatus(t, snap, "c").Status)
	assert.Equal(t, upgrade.TargetPending, targetStatus(t, snap, "d").Status)
	assert.Equal(t, 25, snap.Percent)
	assert.Equal(t, chunks[0]+chunks[1]+chunks[2], snap.Log)
	assert.True(t, snap.CanComplete)
	assert.False(t, snap.CanStart)

	// Later polls that still report the job as running don't revert it.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, upgrade.JobBatchFail, s.Snapshot().Status)
}

func TestSuccessfulJob(t *testing.T) {
	src := newFakeSource()
	s := newTestSession(t, src)

	require.NoError(t, s.Start("job", twoWaves))
	stream := src.stream("job")
	stream.chunks <- "POD-START [a]\nPOD-START [b]\nPOD-SUCCESS [a]\nPOD-SUCCESS [b]\nBATCH-SUCCESS\n"

	snap := waitFor(t, s, func(snap Snapshot) bool {
		return snap.Percent == 50
	})
	assert.Equal(t, upgrade.JobRunning, snap.Status)
	assert.Equal(t, 0, snap.Targets.CurrentWave())

	stream.chunks <- "POD-START [c]\nPOD-SUCCESS [c]\nPOD-START [d]\nPOD-SUCCESS [d]\nBATCH-SUCCESS\n"
	snap = waitFor(t, s, func(snap Snapshot) bool {
		return snap.Status == upgrade.JobSuccess
	})
	assert.Equal(t, 100, snap.Percent)
}

func TestJobDeletedWhileWatched(t *testing.T) {
	src := newFakeSource()
	s := newTestSession(t, src)

	require.NoError(t, s.Start("job", twoWaves))
	waitFor(t, s, func(snap Snapshot) bool {
		return snap.Resource != nil
	})

	src.setPollErr(errors.WithContext("get job", upgrade.ErrJobNotFound))
	snap := waitFor(t, s, func(snap Snapshot) bool {
		return snap.JobMissing
	})
	assert.Equal(t, upgrade.JobRunning, snap.Status)
	assert.Equal(t, "upgrade job not found", snap.LastError)

	// Other transport errors don't mean the job is gone.
	src.setPollErr(errors.New("connection refused"))
	waitFor(t, s, func(snap Snapshot) bool {
		return !snap.JobMissing && snap.LastError != ""
	})
}

func TestFailedCounterWhileRunning(t *testing.T) {
	src := newFakeSource()
	s := newTestSession(t, src)

	require.NoError(t, s.Start("job", twoWaves))
	waitFor(t, s, func(snap Snapshot) bool {
		return snap.Resource != nil
	})
	assert.Equal(t, upgrade.JobRunning, s.Snapshot().Status)

	src.setResource("job", upgrade.JobResource{Failed: 1})
	waitFor(t, s, func(snap Snapshot) bool {
		return snap.Status == upgrade.JobBatchFail
	})
}

func TestStreamClosureIsNotFailure(t *testing.T) {
	src := newFakeSource()
	s := newTestSession(t, src)

	require.NoError(t, s.Start("job", twoWaves))
	stream := src.stream("job")
	waitFor(t, s, func(snap Snapshot) bool {
		return snap.Streaming
	})

	// The trailing partial line is parsed once the stream ends.
	stream.chunks <- "POD-START [a]\nPOD-SUCCESS [a]"
	close(stream.chunks)

	snap := waitFor(t, s, func(snap Snapshot) bool {
		return !snap.Streaming && snap.Percent == 25
	})
	assert.Equal(t, upgrade.JobRunning, snap.Status)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, upgrade.TargetSuccess, targetStatus(t, snap, "a").Status)

	// The ended stream is released without waiting for Stop.
	select {
	case <-stream.closed:
	case <-time.After(time.Second):
		t.Fatal("stream wasn't closed after it ended")
	}

	// Polling goes on after the stream is gone, and resolves the job.
	src.setResource("job", upgrade.JobResource{Succeeded: 1, Status: upgrade.ServerSuccess})
	waitFor(t, s, func(snap Snapshot) bool {
		return snap.Status == upgrade.JobSuccess
	})
}

func TestStreamOpenFailure(t *testing.T) {
	src := newFakeSource()
	src.setStreamErr(errors.New("connection refused"))
	s := newTestSession(t, src)

	require.NoError(t, s.Start("job", twoWaves))
	snap := waitFor(t, s, func(snap Snapshot) bool {
		return snap.LastError != ""
	})
	assert.Contains(t, snap.LastError, "connection refused")
	assert.Equal(t, upgrade.JobRunning, snap.Status)
	for _, target := range snap.Targets.Targets {
		assert.Equal(t, upgrade.TargetPending, target.Status)
	}

	// The stream is retried.
	src.setStreamErr(nil)
	waitFor(t, s, func(snap Snapshot) bool {
		return snap.Streaming
	})
}

func TestStaleGenerationIgnored(t *testing.T) {
	src := newFakeSource()
	s := newTestSession(t, src)

	require.NoError(t, s.Start("job-1", twoWaves))
	staleGen := s.Snapshot().Generation

	require.NoError(t, s.Start("job-2", twoWaves))
	snap := s.Snapshot()
	assert.Equal(t, "job-2", snap.Job)
	assert.NotEqual(t, staleGen, snap.Generation)

	// Chunks that job 1's subscription was still draining.
	s.msgs <- chunkMsg{gen: staleGen, text: "POD-START [a]\nPOD-SUCCESS [a]\nBATCH-FAIL\n"}
	s.msgs <- pollMsg{gen: staleGen, res: upgrade.JobResource{Failed: 1}}
	s.msgs <- streamEndedMsg{gen: staleGen, err: errors.New("reset")}

	// Control messages are handled in order, so this waits for the ones above.
	require.NoError(t, s.do(func() {}))

	snap = s.Snapshot()
	assert.Equal(t, upgrade.TargetPending, targetStatus(t, snap, "a").Status)
	assert.Equal(t, 0, snap.Percent)
	assert.Empty(t, snap.Log)
	assert.Empty(t, snap.LastError)
	assert.NotEqual(t, upgrade.JobBatchFail, snap.Status)

	// Job 2's own stream still works.
	src.stream("job-2").chunks <- "POD-START [c]\n"
	snap = waitFor(t, s, func(snap Snapshot) bool {
		return targetStatus(t, snap, "c").Status == upgrade.TargetRunning
	})
	assert.Equal(t, "POD-START [c]\n", snap.Log)
}

func TestStopClosesStream(t *testing.T) {
	src := newFakeSource()
	s := newTestSession(t, src)

	require.NoError(t, s.Start("job", twoWaves))
	stream := src.stream("job")
	waitFor(t, s, func(snap Snapshot) bool {
		return snap.Streaming
	})

	require.NoError(t, s.Stop())
	assert.False(t, s.Snapshot().Streaming)

	select {
	case <-stream.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("stream wasn't closed")
	}
}

func TestClear(t *testing.T) {
	src := newFakeSource()
	s := newTestSession(t, src)

	require.NoError(t, s.Start("job", twoWaves))
	assert.Equal(t, ErrNotFinished, s.Clear(twoWaves))

	src.stream("job").chunks <- "POD-START [a]\nPOD-FAIL [a] timeout.\nBATCH-FAIL\n"
	waitFor(t, s, func(snap Snapshot) bool {
		return snap.CanComplete
	})

	require.NoError(t, s.Clear(twoWaves))
	snap := s.Snapshot()
	assert.Equal(t, upgrade.JobDiff, snap.Status)
	assert.Equal(t, "", snap.Job)
	assert.Empty(t, snap.Log)
	assert.Nil(t, snap.Resource)
	a := targetStatus(t, snap, "a")
	assert.Equal(t, upgrade.TargetPending, a.Status)
	assert.Empty(t, a.FailureReason)
}

func TestSubscribe(t *testing.T) {
	s := newTestSession(t, newFakeSource())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := s.Subscribe(ctx)

	// Subscribers are notified immediately.
	select {
	case <-updates:
	default:
		t.Fatal("expected an initial notification")
	}

	require.NoError(t, s.Load(twoWaves))
	select {
	case <-updates:
	case <-time.After(5 * time.Second):
		t.Fatal("expected a notification after Load")
	}
	assert.Equal(t, upgrade.JobDiff, s.Snapshot().Status)
}

func TestClosedSession(t *testing.T) {
	s := New(newFakeSource(), Options{})
	s.Close()

	assert.Equal(t, ErrClosed, s.Start("job", twoWaves))
	assert.Equal(t, ErrClosed, s.Stop())
}
