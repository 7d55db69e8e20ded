package debounce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	key     string
	payload int
}

type recorder struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
}

func (r *recorder) flush(_ context.Context, key string, payload int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{key: key, payload: payload})
	return r.fail[key]
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]call, len(r.calls))
	copy(out, r.calls)
	return out
}

func TestSchedule_CoalescesToLatest(t *testing.T) {
	rec := &recorder{}
	q := New[int](20*time.Millisecond, rec.flush, nil)
	defer q.Stop()

	q.Schedule("a", 1)
	q.Schedule("a", 2)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	// give a stale timer the chance to misfire
	time.Sleep(50 * time.Millisecond)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, call{key: "a", payload: 2}, calls[0])
	assert.Equal(t, 0, q.Len())
}

func TestSchedule_RestartsTimer(t *testing.T) {
	rec := &recorder{}
	q := New[int](60*time.Millisecond, rec.flush, nil)
	defer q.Stop()

	q.Schedule("a", 1)
	time.Sleep(30 * time.Millisecond)
	q.Schedule("a", 2)
	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, rec.snapshot(), "timer should have been restarted")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestFlush(t *testing.T) {
	rec := &recorder{}
	q := New[int](time.Hour, rec.flush, nil)
	defer q.Stop()

	q.Schedule("a", 7)
	require.NoError(t, q.Flush(context.Background(), "a"))
	assert.Equal(t, []call{{key: "a", payload: 7}}, rec.snapshot())

	// nothing queued
	require.NoError(t, q.Flush(context.Background(), "a"))
	assert.Len(t, rec.snapshot(), 1)
}

func TestFlushAll_JoinsErrors(t *testing.T) {
	errB := errors.New("boom")
	rec := &recorder{fail: map[string]error{"b": errB}}
	q := New[int](time.Hour, rec.flush, nil)
	defer q.Stop()

	q.Schedule("a", 1)
	q.Schedule("b", 2)
	q.Add("c", 3)

	err := q.FlushAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errB)
	assert.Contains(t, err.Error(), "b:")
	assert.Len(t, rec.snapshot(), 3)
	assert.Equal(t, 0, q.Len())
}

func TestFlushAll_RunsConcurrently(t *testing.T) {
	var inFlight, peak int32
	release := make(chan struct{})
	flush := func(_ context.Context, _ string, _ int) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return nil
	}
	q := New[int](time.Hour, flush, nil)
	defer q.Stop()

	for _, k := range []string{"a", "b", "c"} {
		q.Add(k, 0)
	}

	done := make(chan error, 1)
	go func() { done <- q.FlushAll(context.Background()) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&inFlight) == 3 }, time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(3), atomic.LoadInt32(&peak))
}

func TestAdd_KeepsRunningTimer(t *testing.T) {
	rec := &recorder{}
	q := New[int](20*time.Millisecond, rec.flush, nil)
	defer q.Stop()

	q.Schedule("a", 1)
	q.Add("a", 5)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5, rec.snapshot()[0].payload)
}

func TestCancelAndPending(t *testing.T) {
	rec := &recorder{}
	q := New[int](20*time.Millisecond, rec.flush, nil)
	defer q.Stop()

	q.Schedule("b", 1)
	q.Schedule("a", 1)
	assert.Equal(t, []string{"a", "b"}, q.Pending())

	assert.True(t, q.Cancel("a"))
	assert.False(t, q.Cancel("a"))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "b", rec.snapshot()[0].key)
}

func TestTimerErrorsGoToHandler(t *testing.T) {
	errA := errors.New("nope")
	rec := &recorder{fail: map[string]error{"a": errA}}

	var mu sync.Mutex
	var got []error
	q := New[int](10*time.Millisecond, rec.flush, func(key string, err error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, err)
	})
	defer q.Stop()

	q.Schedule("a", 1)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, got[0], errA)
}

func TestStop(t *testing.T) {
	rec := &recorder{}
	q := New[int](20*time.Millisecond, rec.flush, nil)

	q.Schedule("a", 1)
	q.Stop()
	q.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
	assert.False(t, q.Schedule("a", 2))
	assert.False(t, q.Add("a", 2))
}
