package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opencourse/triagebot/internal/github"
	"github.com/opencourse/triagebot/internal/jira"
	"github.com/opencourse/triagebot/internal/labels"
)

// Actions is the side-effect surface of the fixer. Everything the fixer
// wants done to the outside world goes through here, so a dry run can
// swap in a recorder.
type Actions interface {
	SynchronizeLabels(ctx context.Context, repo string) error
	CreateTicket(ctx context.Context, input jira.CreateInput) (jira.Ticket, error)
	DeleteTicket(ctx context.Context, key string) error
	TransitionTicket(ctx context.Context, key, status string) error
	UpdateTicketFields(ctx context.Context, key string, input jira.UpdateInput) error
	AddComment(ctx context.Context, repo string, number int, body string) (int64, error)
	EditComment(ctx context.Context, repo string, commentID int64, body string) error
	ReplaceLabels(ctx context.Context, repo string, number int, names []string) error
}

// HostWriter is the writing slice of the code-host client.
type HostWriter interface {
	CreateMissingLabels(ctx context.Context, repo string, wanted []github.Label) error
	AddComment(ctx context.Context, repo string, number int, body string) (int64, error)
	EditComment(ctx context.Context, repo string, commentID int64, body string) error
	ReplaceLabels(ctx context.Context, repo string, number int, names []string) error
}

// TicketWriter is the writing slice of the tracker client.
type TicketWriter interface {
	CreateTicket(ctx context.Context, input jira.CreateInput) (jira.Ticket, error)
	DeleteTicket(ctx context.Context, key string) error
	Transition(ctx context.Context, key, status string) error
	UpdateFields(ctx context.Context, key string, input jira.UpdateInput) error
}

// LiveActions applies actions for real.
type LiveActions struct {
	Host    HostWriter
	Tracker TicketWriter
	Logger  *slog.Logger
}

func (a *LiveActions) SynchronizeLabels(ctx context.Context, repo string) error {
	defs := labels.RepoDefinitions()
	wanted := make([]github.Label, len(defs))
	for i, d := range defs {
		wanted[i] = github.Label{Name: d.Name, Color: d.Color}
	}
	return a.Host.CreateMissingLabels(ctx, repo, wanted)
}

func (a *LiveActions) CreateTicket(ctx context.Context, input jira.CreateInput) (jira.Ticket, error) {
	a.Logger.Info("creating ticket", "project", input.Project, "pr", input.PRURL)
	return a.Tracker.CreateTicket(ctx, input)
}

func (a *LiveActions) DeleteTicket(ctx context.Context, key string) error {
	a.Logger.Info("deleting ticket", "key", key)
	return a.Tracker.DeleteTicket(ctx, key)
}

func (a *LiveActions) TransitionTicket(ctx context.Context, key, status string) error {
	a.Logger.Info("transitioning ticket", "key", key, "status", status)
	return a.Tracker.Transition(ctx, key, status)
}

func (a *LiveActions) UpdateTicketFields(ctx context.Context, key string, input jira.UpdateInput) error {
	a.Logger.Info("updating ticket fields", "key", key)
	return a.Tracker.UpdateFields(ctx, key, input)
}

func (a *LiveActions) AddComment(ctx context.Context, repo string, number int, body string) (int64, error) {
	a.Logger.Info("adding comment", "repo", repo, "pr", number)
	return a.Host.AddComment(ctx, repo, number, body)
}

func (a *LiveActions) EditComment(ctx context.Context, repo string, commentID int64, body string) error {
	a.Logger.Info("editing comment", "repo", repo, "comment_id", commentID)
	return a.Host.EditComment(ctx, repo, commentID, body)
}

func (a *LiveActions) ReplaceLabels(ctx context.Context, repo string, number int, names []string) error {
	a.Logger.Info("replacing labels", "repo", repo, "pr", number, "labels", names)
	return a.Host.ReplaceLabels(ctx, repo, number, names)
}

// ActionRecord is one recorded call from a dry run.
type ActionRecord struct {
	Op   string
	Args map[string]any
}

// DryRunActions records every action instead of performing it, and
// synthesizes plausible results (ticket keys, comment ids) so the fixer
// can run to completion.
type DryRunActions struct {
	Records []ActionRecord

	nextTicket  int
	nextComment int64
}

func (a *DryRunActions) record(op string, args map[string]any) {
	a.Records = append(a.Records, ActionRecord{Op: op, Args: args})
}

func (a *DryRunActions) SynchronizeLabels(ctx context.Context, repo string) error {
	a.record("synchronize_labels", map[string]any{"repo": repo})
	return nil
}

func (a *DryRunActions) CreateTicket(ctx context.Context, input jira.CreateInput) (jira.Ticket, error) {
	key := fmt.Sprintf("%s-%d", input.Project, 9000+a.nextTicket)
	a.nextTicket++
	a.record("create_ticket", map[string]any{
		"project": input.Project,
		"summary": input.Summary,
		"labels":  input.Labels,
		"key":     key,
	})
	return jira.Ticket{
		Key:         key,
		Summary:     input.Summary,
		Description: input.Description,
		Status:      labels.StatusNeedsTriage,
		Labels:      input.Labels,
		EpicKey:     input.EpicKey,
	}, nil
}

func (a *DryRunActions) DeleteTicket(ctx context.Context, key string) error {
	a.record("delete_ticket", map[string]any{"key": key})
	return nil
}

func (a *DryRunActions) TransitionTicket(ctx context.Context, key, status string) error {
	a.record("transition_ticket", map[string]any{"key": key, "status": status})
	return nil
}

func (a *DryRunActions) UpdateTicketFields(ctx context.Context, key string, input jira.UpdateInput) error {
	a.record("update_ticket_fields", map[string]any{"key": key})
	return nil
}

func (a *DryRunActions) AddComment(ctx context.Context, repo string, number int, body string) (int64, error) {
	a.nextComment++
	a.record("add_comment", map[string]any{"repo": repo, "pr": number, "body": body})
	return a.nextComment, nil
}

func (a *DryRunActions) EditComment(ctx context.Context, repo string, commentID int64, body string) error {
	a.record("edit_comment", map[string]any{"repo": repo, "comment_id": commentID, "body": body})
	return nil
}

func (a *DryRunActions) ReplaceLabels(ctx context.Context, repo string, number int, names []string) error {
	a.record("replace_labels", map[string]any{"repo": repo, "pr": number, "labels": names})
	return nil
}
