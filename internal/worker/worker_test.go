package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/opencourse/triagebot/internal/github"
	"github.com/opencourse/triagebot/internal/reconcile"
	"github.com/opencourse/triagebot/internal/retry"
)

type fakeFetcher struct{}

func (f *fakeFetcher) GetPullRequest(ctx context.Context, repo string, number int) (github.PullRequest, error) {
	return github.PullRequest{
		Number:      number,
		BaseRepo:    repo,
		Title:       "Fix a thing",
		State:       "open",
		AuthorLogin: "tusbar",
		AuthorType:  "User",
	}, nil
}

// fakeEngine scripts errors per call and can hold runs open on a gate
// channel to exercise coalescing and the concurrency limit.
type fakeEngine struct {
	mu         sync.Mutex
	calls      int
	concurrent int
	maxSeen    int
	errs       []error // consumed one per call; nil past the end
	gate       chan struct{}
}

func (e *fakeEngine) Reconcile(ctx context.Context, snap reconcile.Snapshot) (string, bool, error) {
	e.mu.Lock()
	call := e.calls
	e.calls++
	e.concurrent++
	if e.concurrent > e.maxSeen {
		e.maxSeen = e.concurrent
	}
	var err error
	if call < len(e.errs) {
		err = e.errs[call]
	}
	gate := e.gate
	e.mu.Unlock()

	if gate != nil {
		<-gate
	}

	e.mu.Lock()
	e.concurrent--
	e.mu.Unlock()

	if err != nil {
		return "", false, err
	}
	return "OSPR-1", true, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type eventLog struct {
	mu     sync.Mutex
	events []RunEvent
}

func (l *eventLog) record(e RunEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) states() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.State
	}
	return out
}

func newDispatcher(engine *fakeEngine, log *eventLog, maxWorkers int) *Dispatcher {
	return New(Config{
		MaxWorkers: maxWorkers,
		Fetcher:    &fakeFetcher{},
		Engine:     engine,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Backoff:    []time.Duration{time.Millisecond},
		OnRunEvent: log.record,
	})
}

func TestEnqueueRunsOnce(t *testing.T) {
	engine := &fakeEngine{}
	log := &eventLog{}
	d := newDispatcher(engine, log, 2)

	d.Enqueue(context.Background(), Task{Repo: "opencourse/platform", Number: 101})
	d.Wait()

	if got := engine.callCount(); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
	want := []string{"started", "finished"}
	if got := log.states(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
	if d.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d after Wait", d.ActiveCount())
	}
}

func TestDuplicateDeliveriesCoalesce(t *testing.T) {
	engine := &fakeEngine{gate: make(chan struct{})}
	log := &eventLog{}
	d := newDispatcher(engine, log, 2)
	task := Task{Repo: "opencourse/platform", Number: 101}

	d.Enqueue(context.Background(), task)
	waitFor(t, func() bool { return engine.callCount() == 1 })

	// Three more deliveries while the run is in flight: one follow-up.
	d.Enqueue(context.Background(), task)
	d.Enqueue(context.Background(), task)
	d.Enqueue(context.Background(), task)
	if !d.IsRunning(task) {
		t.Fatal("task not reported as running")
	}

	close(engine.gate)
	d.Wait()

	if got := engine.callCount(); got != 2 {
		t.Errorf("engine calls = %d, want original + one follow-up", got)
	}
}

func TestTransientFailureRetried(t *testing.T) {
	engine := &fakeEngine{errs: []error{errors.New("tracker 502")}}
	log := &eventLog{}
	d := newDispatcher(engine, log, 1)

	d.Enqueue(context.Background(), Task{Repo: "opencourse/platform", Number: 7})
	d.Wait()

	if got := engine.callCount(); got != 2 {
		t.Errorf("engine calls = %d, want 2 (one retry)", got)
	}
	states := log.states()
	if states[len(states)-1] != "finished" {
		t.Errorf("final event = %q, want finished", states[len(states)-1])
	}
}

func TestPermanentFailureNotRetried(t *testing.T) {
	engine := &fakeEngine{errs: []error{
		retry.Permanent(errors.New("unrenderable comment")),
		retry.Permanent(errors.New("unrenderable comment")),
	}}
	log := &eventLog{}
	d := newDispatcher(engine, log, 1)

	d.Enqueue(context.Background(), Task{Repo: "opencourse/platform", Number: 7})
	d.Wait()

	if got := engine.callCount(); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
	states := log.states()
	if states[len(states)-1] != "failed" {
		t.Errorf("final event = %q, want failed", states[len(states)-1])
	}
}

func TestConcurrencyBounded(t *testing.T) {
	engine := &fakeEngine{gate: make(chan struct{})}
	log := &eventLog{}
	d := newDispatcher(engine, log, 2)

	for i := 1; i <= 5; i++ {
		d.Enqueue(context.Background(), Task{Repo: "opencourse/platform", Number: i})
	}
	waitFor(t, func() bool { return engine.callCount() >= 2 })
	close(engine.gate)
	d.Wait()

	engine.mu.Lock()
	maxSeen := engine.maxSeen
	engine.mu.Unlock()
	if maxSeen > 2 {
		t.Errorf("max concurrent runs = %d, want at most 2", maxSeen)
	}
	if got := engine.callCount(); got != 5 {
		t.Errorf("engine calls = %d, want 5", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
