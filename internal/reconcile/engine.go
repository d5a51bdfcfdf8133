package reconcile

import (
	"context"
	"log/slog"

	"github.com/opencourse/triagebot/internal/github"
)

// Engine runs one full reconciliation: desired state, current state,
// then the fixer.
type Engine struct {
	current *CurrentComputer
	desired *DesiredComputer
	actions Actions

	browseURL string
	logger    *slog.Logger
}

func NewEngine(current *CurrentComputer, desired *DesiredComputer, actions Actions, browseURL string, logger *slog.Logger) *Engine {
	return &Engine{
		current:   current,
		desired:   desired,
		actions:   actions,
		browseURL: browseURL,
		logger:    logger,
	}
}

// Reconcile brings the tracking state for one pull request in line with
// policy. It returns the canonical ticket key (empty when the pull
// request is not tracked) and whether any change was made.
func (e *Engine) Reconcile(ctx context.Context, snap Snapshot) (ticketID string, changed bool, err error) {
	desired, err := e.desired.Desired(ctx, snap)
	if err != nil {
		return "", false, err
	}
	if desired == nil {
		return "", false, nil
	}
	current, err := e.current.Current(ctx, snap)
	if err != nil {
		return "", false, err
	}

	fixer := NewFixer(snap, current, desired, e.actions, e.browseURL)
	ticketID, changed, err = fixer.Fix(ctx)
	if err != nil {
		return ticketID, changed, err
	}
	e.logger.Info("reconciled pull request",
		"repo", snap.Repo, "pr", snap.Number, "ticket", ticketID, "changed", changed)
	return ticketID, changed, nil
}

// SnapshotFromPR converts a fetched pull request into the immutable
// input of one reconciliation.
func SnapshotFromPR(pr github.PullRequest) Snapshot {
	return Snapshot{
		Repo:          pr.BaseRepo,
		Number:        pr.Number,
		HTMLURL:       pr.HTMLURL,
		Title:         pr.Title,
		Body:          pr.Body,
		State:         pr.State,
		Merged:        pr.Merged,
		Draft:         pr.Draft,
		Additions:     pr.Additions,
		Deletions:     pr.Deletions,
		HasLineCounts: true,
		Labels:        pr.Labels,
		AuthorLogin:   pr.AuthorLogin,
		AuthorType:    pr.AuthorType,
		BaseBranch:    pr.BaseBranch,
		HeadSHA:       pr.HeadSHA,
		CreatedAt:     pr.CreatedAt,
	}
}
