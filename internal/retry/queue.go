// Package retry re-sends chat requests that failed on the network.
//
// A single worker drains the queue strictly in arrival order. The head item
// is retried until it succeeds or reaches its own attempt ceiling; only then
// does the next item get a turn.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/sidekick/internal/llm"
)

const (
	defaultMaxAttempts = 3
	defaultDelay       = 5 * time.Second
)

var (
	// ErrDropped wraps the last error of an item that reached its
	// attempt ceiling.
	ErrDropped = errors.New("retry ceiling exceeded")

	// ErrClosed is returned for items still queued when the worker stops.
	ErrClosed = errors.New("retry queue closed")
)

// Sender performs a single attempt.
type Sender interface {
	Send(ctx context.Context, req llm.ChatRequest) (string, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req llm.ChatRequest) (string, error)

func (f SenderFunc) Send(ctx context.Context, req llm.ChatRequest) (string, error) {
	return f(ctx, req)
}

// Options configures a Queue. Zero values select defaults.
type Options struct {
	MaxAttempts int
	Delay       time.Duration
	// Retryable reports whether a failed attempt may be tried again.
	// Defaults to llm.IsNetwork.
	Retryable func(error) bool
}

type result struct {
	content string
	err     error
}

type item struct {
	id        string
	req       llm.ChatRequest
	attempts  int
	notBefore time.Time
	done      chan result
}

// Queue is a FIFO of pending chat requests with a single worker.
type Queue struct {
	sender      Sender
	maxAttempts int
	delay       time.Duration
	retryable   func(error) bool
	logger      *slog.Logger

	mu     sync.Mutex
	items  []*item
	closed bool
	signal chan struct{}
}

func NewQueue(sender Sender, opts Options) *Queue {
	q := &Queue{
		sender:      sender,
		maxAttempts: opts.MaxAttempts,
		delay:       opts.Delay,
		retryable:   opts.Retryable,
		logger:      slog.Default(),
		signal:      make(chan struct{}, 1),
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = defaultMaxAttempts
	}
	if q.delay <= 0 {
		q.delay = defaultDelay
	}
	if q.retryable == nil {
		q.retryable = llm.IsNetwork
	}
	return q
}

// Submit enqueues req and blocks until it succeeds, is dropped, or ctx
// ends. An abandoned item stays queued and is still drained in order.
func (q *Queue) Submit(ctx context.Context, req llm.ChatRequest) (string, error) {
	it := &item{
		id:        uuid.NewString(),
		req:       req,
		notBefore: time.Now().Add(q.delay),
		done:      make(chan result, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	q.items = append(q.items, it)
	n := len(q.items)
	q.mu.Unlock()

	q.logger.Info("request queued for retry", "item_id", it.id, "queue_len", n)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	select {
	case r := <-it.done:
		return r.content, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len returns the number of items waiting, including the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run drains the queue until ctx is cancelled. Items still queued at that
// point are rejected with ErrClosed.
func (q *Queue) Run(ctx context.Context) {
	defer q.close()

	for {
		if ctx.Err() != nil {
			return
		}

		wait, ok := q.headWait()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.signal:
			}
			continue
		}

		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		q.RunOnce(ctx)
	}
}

// RunOnce makes one attempt on the head item, ignoring its delay.
// Returns true if an attempt was made.
func (q *Queue) RunOnce(ctx context.Context) bool {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return false
	}
	it := q.items[0]
	it.attempts++
	attempt := it.attempts
	q.mu.Unlock()

	content, err := q.sender.Send(ctx, it.req)
	switch {
	case err == nil:
		q.logger.Info("retried request succeeded", "item_id", it.id, "attempt", attempt)
		q.finish(it, result{content: content})
	case ctx.Err() != nil:
		// Shutting down; close() rejects the item.
	case !q.retryable(err):
		q.logger.Warn("retried request rejected", "item_id", it.id, "attempt", attempt, "error", err)
		q.finish(it, result{err: err})
	case attempt >= q.maxAttempts:
		q.logger.Warn("retried request dropped", "item_id", it.id, "attempts", attempt, "error", err)
		q.finish(it, result{err: fmt.Errorf("%w after %d attempts: %w", ErrDropped, attempt, err)})
	default:
		q.logger.Info("retry attempt failed", "item_id", it.id, "attempt", attempt, "error", err)
		q.mu.Lock()
		it.notBefore = time.Now().Add(q.delay)
		q.mu.Unlock()
	}
	return true
}

func (q *Queue) headWait() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, false
	}
	return time.Until(q.items[0].notBefore), true
}

func (q *Queue) finish(it *item, r result) {
	q.mu.Lock()
	if len(q.items) > 0 && q.items[0] == it {
		q.items = q.items[1:]
	}
	q.mu.Unlock()
	it.done <- r
}

func (q *Queue) close() {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.closed = true
	q.mu.Unlock()

	for _, it := range pending {
		it.done <- result{err: ErrClosed}
	}
}
