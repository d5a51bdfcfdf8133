// Package worker runs reconciliations in the background. A dispatcher
// bounds concurrency with a semaphore and serializes runs per pull
// request: a delivery arriving while that pull request is already being
// reconciled is coalesced into one follow-up run, so two webhook events
// for the same pull request can never interleave.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencourse/triagebot/internal/github"
	"github.com/opencourse/triagebot/internal/reconcile"
	"github.com/opencourse/triagebot/internal/retry"
)

// Task identifies one pull request to reconcile.
type Task struct {
	Repo   string
	Number int
}

func (t Task) key() string {
	return fmt.Sprintf("%s#%d", t.Repo, t.Number)
}

// Reconciler runs one reconciliation for a snapshot.
type Reconciler interface {
	Reconcile(ctx context.Context, snap reconcile.Snapshot) (ticketID string, changed bool, err error)
}

// PullFetcher fetches the live pull request for a task.
type PullFetcher interface {
	GetPullRequest(ctx context.Context, repo string, number int) (github.PullRequest, error)
}

// RunEvent describes the start or outcome of one reconciliation run, for
// real-time observers.
type RunEvent struct {
	RunID   string `json:"run_id"`
	Repo    string `json:"repo"`
	Number  int    `json:"number"`
	State   string `json:"state"` // "started", "finished", "failed"
	Ticket  string `json:"ticket,omitempty"`
	Changed bool   `json:"changed,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Config holds the dependencies for the dispatcher.
type Config struct {
	MaxWorkers int
	Fetcher    PullFetcher
	Engine     Reconciler
	Logger     *slog.Logger

	// Backoff between attempts of a failed run. Defaults to
	// retry.DefaultBackoff.
	Backoff []time.Duration

	// OnRunEvent is called for every run start and outcome. It lets the
	// caller broadcast activity (e.g. over WebSocket) without this
	// package importing the server.
	OnRunEvent func(RunEvent)
}

// Dispatcher manages reconciliation goroutines.
type Dispatcher struct {
	fetcher    PullFetcher
	engine     Reconciler
	logger     *slog.Logger
	backoff    []time.Duration
	onRunEvent func(RunEvent)

	mu     sync.Mutex
	active map[string]*slot
	sem    chan struct{}
	wg     sync.WaitGroup
}

// slot tracks one in-flight pull request. pending is set when another
// delivery arrived mid-run; the runner loops once more to pick it up.
type slot struct {
	pending bool
}

// New creates a Dispatcher with the given configuration.
func New(cfg Config) *Dispatcher {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = retry.DefaultBackoff
	}
	return &Dispatcher{
		fetcher:    cfg.Fetcher,
		engine:     cfg.Engine,
		logger:     logger,
		backoff:    backoff,
		onRunEvent: cfg.OnRunEvent,
		active:     make(map[string]*slot),
		sem:        make(chan struct{}, maxWorkers),
	}
}

// Enqueue schedules a reconciliation for the task. If one is already
// running for the same pull request, the delivery is coalesced into a
// single follow-up run.
func (d *Dispatcher) Enqueue(ctx context.Context, task Task) {
	d.mu.Lock()
	if s, ok := d.active[task.key()]; ok {
		s.pending = true
		d.mu.Unlock()
		d.logger.Debug("coalesced delivery for in-flight pull request", "repo", task.Repo, "pr", task.Number)
		return
	}
	d.active[task.key()] = &slot{}
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(ctx, task)
}

// Wait blocks until all in-flight runs have completed.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// IsRunning reports whether a run is in flight for the pull request.
func (d *Dispatcher) IsRunning(task Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[task.key()]
	return ok
}

// ActiveCount returns the number of pull requests currently in flight.
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

func (d *Dispatcher) run(ctx context.Context, task Task) {
	defer d.wg.Done()
	for {
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			d.finish(task)
			return
		}
		d.runOnce(ctx, task)
		<-d.sem

		d.mu.Lock()
		s := d.active[task.key()]
		if s != nil && s.pending {
			s.pending = false
			d.mu.Unlock()
			continue
		}
		delete(d.active, task.key())
		d.mu.Unlock()
		return
	}
}

func (d *Dispatcher) finish(task Task) {
	d.mu.Lock()
	delete(d.active, task.key())
	d.mu.Unlock()
}

func (d *Dispatcher) runOnce(ctx context.Context, task Task) {
	runID := uuid.NewString()
	log := d.logger.With("run_id", runID, "repo", task.Repo, "pr", task.Number)
	d.emit(RunEvent{RunID: runID, Repo: task.Repo, Number: task.Number, State: "started"})

	var ticketID string
	var changed bool
	err := retry.Do(ctx, func() error {
		pr, err := d.fetcher.GetPullRequest(ctx, task.Repo, task.Number)
		if err != nil {
			return err
		}
		ticketID, changed, err = d.engine.Reconcile(ctx, reconcile.SnapshotFromPR(pr))
		return err
	}, retry.WithBackoff(d.backoff...))

	switch {
	case err == nil:
		log.Info("run finished", "ticket", ticketID, "changed", changed)
		d.emit(RunEvent{RunID: runID, Repo: task.Repo, Number: task.Number, State: "finished", Ticket: ticketID, Changed: changed})
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		log.Info("run cancelled")
	default:
		log.Error("run failed", "error", err)
		d.emit(RunEvent{RunID: runID, Repo: task.Repo, Number: task.Number, State: "failed", Ticket: ticketID, Error: err.Error()})
	}
}

func (d *Dispatcher) emit(e RunEvent) {
	if d.onRunEvent != nil {
		d.onRunEvent(e)
	}
}
