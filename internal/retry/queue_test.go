package retry

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/sidekick/internal/llm"
)

var errNet = &llm.NetworkError{Err: &url.Error{Op: "Post", URL: "http://x", Err: errors.New("connection refused")}}

// scriptedSender replays a fixed list of outcomes per request model.
type scriptedSender struct {
	mu      sync.Mutex
	outcome map[string][]error
	calls   []string
}

func (s *scriptedSender) Send(ctx context.Context, req llm.ChatRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.Model)
	errs := s.outcome[req.Model]
	if len(errs) == 0 {
		return "ok:" + req.Model, nil
	}
	err := errs[0]
	s.outcome[req.Model] = errs[1:]
	if err == nil {
		return "ok:" + req.Model, nil
	}
	return "", err
}

func (s *scriptedSender) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type submitResult struct {
	content string
	err     error
}

// submitAsync enqueues req and waits until the queue holds want items.
func submitAsync(t *testing.T, q *Queue, req llm.ChatRequest, want int) <-chan submitResult {
	t.Helper()
	ch := make(chan submitResult, 1)
	go func() {
		content, err := q.Submit(context.Background(), req)
		ch <- submitResult{content, err}
	}()
	deadline := time.Now().Add(2 * time.Second)
	for q.Len() < want {
		if time.Now().After(deadline) {
			t.Fatalf("queue length never reached %d", want)
		}
		time.Sleep(time.Millisecond)
	}
	return ch
}

func recv(t *testing.T, ch <-chan submitResult) submitResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return submitResult{}
	}
}

func TestRunOnce_EmptyQueue(t *testing.T) {
	q := NewQueue(&scriptedSender{outcome: map[string][]error{}}, Options{})
	if q.RunOnce(context.Background()) {
		t.Error("RunOnce on empty queue returned true")
	}
}

func TestQueue_SucceedsAfterRetry(t *testing.T) {
	s := &scriptedSender{outcome: map[string][]error{"a": {errNet}}}
	q := NewQueue(s, Options{MaxAttempts: 3})

	ch := submitAsync(t, q, llm.ChatRequest{Model: "a"}, 1)
	q.RunOnce(context.Background())
	if q.Len() != 1 {
		t.Fatalf("Len after failed attempt = %d, want 1", q.Len())
	}
	q.RunOnce(context.Background())

	r := recv(t, ch)
	if r.err != nil || r.content != "ok:a" {
		t.Fatalf("result = %+v, want ok:a", r)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestQueue_HeadOfLineOrder(t *testing.T) {
	s := &scriptedSender{outcome: map[string][]error{
		"first":  {errNet, errNet},
		"second": {nil},
	}}
	q := NewQueue(s, Options{MaxAttempts: 5})

	first := submitAsync(t, q, llm.ChatRequest{Model: "first"}, 1)
	second := submitAsync(t, q, llm.ChatRequest{Model: "second"}, 2)

	for q.RunOnce(context.Background()) {
	}

	if r := recv(t, first); r.err != nil {
		t.Fatalf("first: %v", r.err)
	}
	if r := recv(t, second); r.err != nil {
		t.Fatalf("second: %v", r.err)
	}

	want := []string{"first", "first", "first", "second"}
	got := s.callLog()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestQueue_DropsAtCeiling(t *testing.T) {
	s := &scriptedSender{outcome: map[string][]error{"a": {errNet, errNet, errNet, errNet}}}
	q := NewQueue(s, Options{MaxAttempts: 2})

	ch := submitAsync(t, q, llm.ChatRequest{Model: "a"}, 1)
	q.RunOnce(context.Background())
	q.RunOnce(context.Background())

	r := recv(t, ch)
	if !errors.Is(r.err, ErrDropped) {
		t.Fatalf("err = %v, want ErrDropped", r.err)
	}
	if !llm.IsNetwork(r.err) {
		t.Errorf("dropped error should wrap the last network error, got %v", r.err)
	}
	if n := len(s.callLog()); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
}

func TestQueue_NonNetworkErrorRejectsImmediately(t *testing.T) {
	authErr := &llm.AuthError{Status: 401, Message: "bad key"}
	s := &scriptedSender{outcome: map[string][]error{"a": {authErr}}}
	q := NewQueue(s, Options{MaxAttempts: 5})

	ch := submitAsync(t, q, llm.ChatRequest{Model: "a"}, 1)
	q.RunOnce(context.Background())

	r := recv(t, ch)
	if !errors.Is(r.err, llm.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", r.err)
	}
	if errors.Is(r.err, ErrDropped) {
		t.Error("non-network error should not be reported as dropped")
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestSubmit_ContextCancelledLeavesItemQueued(t *testing.T) {
	q := NewQueue(&scriptedSender{outcome: map[string][]error{}}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Submit(ctx, llm.ChatRequest{Model: "a"})
		done <- err
	}()
	for q.Len() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
	q.RunOnce(context.Background())
	if q.Len() != 0 {
		t.Errorf("abandoned item not drained, Len = %d", q.Len())
	}
}

func TestRun_DrainsWithDelayAndRejectsOnShutdown(t *testing.T) {
	s := &scriptedSender{outcome: map[string][]error{"a": {errNet}}}
	q := NewQueue(s, Options{MaxAttempts: 3, Delay: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(stopped)
	}()

	content, err := q.Submit(context.Background(), llm.ChatRequest{Model: "a"})
	if err != nil || content != "ok:a" {
		t.Fatalf("Submit = %q, %v", content, err)
	}

	cancel()
	<-stopped

	if _, err := q.Submit(context.Background(), llm.ChatRequest{Model: "b"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after shutdown err = %v, want ErrClosed", err)
	}
}
