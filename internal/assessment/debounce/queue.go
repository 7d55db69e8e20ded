// Package debounce provides a keyed debounced task queue: each key holds at
// most one payload, and scheduling the same key again replaces the payload and
// restarts its timer.
package debounce

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type FlushFunc[T any] func(ctx context.Context, key string, payload T) error

type Queue[T any] struct {
	mu          sync.Mutex
	delay       time.Duration
	flush       FlushFunc[T]
	onError     func(key string, err error)
	maxParallel int

	entries map[string]*entry[T]
	gen     uint64
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type entry[T any] struct {
	payload T
	timer   *time.Timer
	gen     uint64
}

// New creates a queue. onError receives failures of timer-driven flushes and
// may be nil; explicit Flush and FlushAll return their errors instead.
func New[T any](delay time.Duration, flush FlushFunc[T], onError func(key string, err error)) *Queue[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue[T]{
		delay:       delay,
		flush:       flush,
		onError:     onError,
		maxParallel: 8,
		entries:     make(map[string]*entry[T]),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetMaxParallel bounds concurrent sends in FlushAll. Zero or less means unbounded.
func (q *Queue[T]) SetMaxParallel(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxParallel = n
}

// Schedule stores payload under key and (re)starts the key's timer.
func (q *Queue[T]) Schedule(key string, payload T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return false
	}
	if e, ok := q.entries[key]; ok && e.timer != nil {
		e.timer.Stop()
	}
	q.gen++
	g := q.gen
	e := &entry[T]{payload: payload, gen: g}
	e.timer = time.AfterFunc(q.delay, func() { q.fire(key, g) })
	q.entries[key] = e
	return true
}

// Add stores payload without arming a timer. An already running timer for
// the key keeps running and will send the new payload.
func (q *Queue[T]) Add(key string, payload T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return false
	}
	if e, ok := q.entries[key]; ok {
		e.payload = payload
		return true
	}
	q.gen++
	q.entries[key] = &entry[T]{payload: payload, gen: q.gen}
	return true
}

func (q *Queue[T]) fire(key string, g uint64) {
	q.mu.Lock()
	e, ok := q.entries[key]
	if !ok || e.gen != g || q.stopped {
		q.mu.Unlock()
		return
	}
	delete(q.entries, key)
	q.wg.Add(1)
	q.mu.Unlock()
	defer q.wg.Done()

	if err := q.flush(q.ctx, key, e.payload); err != nil && q.onError != nil {
		q.onError(key, err)
	}
}

// take removes the entry for key and stops its timer.
func (q *Queue[T]) take(key string) (*entry[T], bool) {
	e, ok := q.entries[key]
	if !ok {
		return nil, false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(q.entries, key)
	return e, true
}

// Flush sends the key's payload now. A key with nothing queued is a no-op.
func (q *Queue[T]) Flush(ctx context.Context, key string) error {
	q.mu.Lock()
	e, ok := q.take(key)
	q.mu.Unlock()
	if !ok {
		return nil
	}
	return q.flush(ctx, key, e.payload)
}

// FlushAll sends every queued payload concurrently and waits for all of them.
// The returned error joins every individual failure.
func (q *Queue[T]) FlushAll(ctx context.Context) error {
	q.mu.Lock()
	batch := make(map[string]T, len(q.entries))
	for key := range q.entries {
		e, _ := q.take(key)
		batch[key] = e.payload
	}
	limit := q.maxParallel
	q.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for key, payload := range batch {
		g.Go(func() error {
			if err := q.flush(ctx, key, payload); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Cancel drops the key's payload without sending it.
func (q *Queue[T]) Cancel(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.take(key)
	return ok
}

// Pending lists queued keys in order.
func (q *Queue[T]) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := make([]string, 0, len(q.entries))
	for k := range q.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Stop discards queued payloads, cancels in-flight timer sends and waits for
// them to return. The queue accepts nothing afterwards.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	for key := range q.entries {
		q.take(key)
	}
	q.cancel()
	q.mu.Unlock()

	q.wg.Wait()
}
