// Package cla decides whether a pull request is covered by a signed
// contributor agreement. The registry is the primary source; a commit
// status on the head commit is the fallback for contributors who signed
// through the web flow but aren't in the registry yet.
package cla

import (
	"context"
	"log/slog"
	"time"
)

// AgreementLookup answers whether a login has an agreement on record.
type AgreementLookup interface {
	HasAgreement(ctx context.Context, login string, at time.Time) (bool, error)
}

// StatusChecker reads a commit status context from the code host.
type StatusChecker interface {
	CommitStatus(ctx context.Context, repo, ref, statusContext string) (string, error)
}

// Checker evaluates the CLA predicate.
type Checker struct {
	registry      AgreementLookup
	statuses      StatusChecker
	statusContext string
	logger        *slog.Logger
}

// New creates a Checker. statusContext names the commit status that the
// external CLA service posts (e.g. "cla/opencourse").
func New(registry AgreementLookup, statuses StatusChecker, statusContext string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		registry:      registry,
		statuses:      statuses,
		statusContext: statusContext,
		logger:        logger,
	}
}

// HasSignedAgreement reports whether the author of a pull request has a
// signed agreement. Effectively tri-state: when either lookup fails the
// answer is false ("unknown" is treated as unsigned), never an error.
// An unreachable CLA service must not abort reconciliation.
func (c *Checker) HasSignedAgreement(ctx context.Context, login, repo, headSHA string, createdAt time.Time) bool {
	signed, err := c.registry.HasAgreement(ctx, login, createdAt)
	if err != nil {
		c.logger.Warn("registry agreement lookup failed", "login", login, "error", err)
	} else if signed {
		return true
	}

	if c.statuses == nil || headSHA == "" {
		return false
	}
	state, err := c.statuses.CommitStatus(ctx, repo, headSHA, c.statusContext)
	if err != nil {
		c.logger.Warn("CLA status lookup failed", "repo", repo, "sha", headSHA, "error", err)
		return false
	}
	return state == "success"
}
