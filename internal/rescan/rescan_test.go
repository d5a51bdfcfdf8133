package rescan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/opencourse/triagebot/internal/worker"
)

type fakeLister struct {
	numbers []int
	err     error
}

func (f *fakeLister) ListOpenPullRequests(ctx context.Context, repo string) ([]int, error) {
	return f.numbers, f.err
}

type fakeQueue struct {
	tasks []worker.Task
}

func (f *fakeQueue) Enqueue(ctx context.Context, task worker.Task) {
	f.tasks = append(f.tasks, task)
}

func TestRescanQueuesEveryOpenPull(t *testing.T) {
	queue := &fakeQueue{}
	s := New(&fakeLister{numbers: []int{3, 8, 21}}, queue, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := s.Rescan(context.Background(), "opencourse/platform")
	if err != nil {
		t.Fatalf("Rescan() error: %v", err)
	}
	if n != 3 {
		t.Errorf("queued = %d, want 3", n)
	}
	if len(queue.tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(queue.tasks))
	}
	if queue.tasks[1] != (worker.Task{Repo: "opencourse/platform", Number: 8}) {
		t.Errorf("task = %+v", queue.tasks[1])
	}
}

func TestRescanSurfacesListError(t *testing.T) {
	listErr := errors.New("api down")
	s := New(&fakeLister{err: listErr}, &fakeQueue{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := s.Rescan(context.Background(), "opencourse/platform"); !errors.Is(err, listErr) {
		t.Errorf("error = %v, want list error surfaced", err)
	}
}
