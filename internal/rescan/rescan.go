// Package rescan re-enqueues every open pull request of a repository.
// Idempotence makes this safe to run at any time: pull requests that are
// already in the right state produce no actions.
package rescan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opencourse/triagebot/internal/worker"
)

// OpenPullLister lists the numbers of a repository's open pull requests.
type OpenPullLister interface {
	ListOpenPullRequests(ctx context.Context, repo string) ([]int, error)
}

// Enqueuer schedules a reconciliation.
type Enqueuer interface {
	Enqueue(ctx context.Context, task worker.Task)
}

// Scanner walks a repository and queues one reconciliation per open pull
// request.
type Scanner struct {
	host   OpenPullLister
	queue  Enqueuer
	logger *slog.Logger
}

func New(host OpenPullLister, queue Enqueuer, logger *slog.Logger) *Scanner {
	return &Scanner{host: host, queue: queue, logger: logger}
}

// Rescan enqueues every open pull request of the repository and returns
// how many were queued.
func (s *Scanner) Rescan(ctx context.Context, repo string) (int, error) {
	numbers, err := s.host.ListOpenPullRequests(ctx, repo)
	if err != nil {
		return 0, fmt.Errorf("listing open pull requests for %s: %w", repo, err)
	}
	for _, n := range numbers {
		s.queue.Enqueue(ctx, worker.Task{Repo: repo, Number: n})
	}
	s.logger.Info("rescan queued", "repo", repo, "pull_requests", len(numbers))
	return len(numbers), nil
}
