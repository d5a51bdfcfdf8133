package reconcile

import (
	"context"
	"errors"
	"regexp"

	"github.com/opencourse/triagebot/internal/comments"
	"github.com/opencourse/triagebot/internal/github"
	"github.com/opencourse/triagebot/internal/jira"
)

// CommentLister is the slice of the code-host client the current-state
// computer needs.
type CommentLister interface {
	ListComments(ctx context.Context, repo string, number int) ([]github.IssueComment, error)
	BotLogin(ctx context.Context) (string, error)
}

// TicketReader fetches one ticket by key.
type TicketReader interface {
	GetTicket(ctx context.Context, key string) (jira.Ticket, error)
}

// CurrentComputer reconstructs what the bot has already done for a pull
// request by re-reading the code host and the tracker.
type CurrentComputer struct {
	host    CommentLister
	tracker TicketReader
}

func NewCurrentComputer(host CommentLister, tracker TicketReader) *CurrentComputer {
	return &CurrentComputer{host: host, tracker: tracker}
}

var ticketKeyPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]+-\d+)\b`)

// Current reads back the existing state for the pull request. A ticket
// that was deleted out from under the bot is reported as absent, but its
// key stays in MentionedTicketID so the replacement comment can refer to
// it.
func (c *CurrentComputer) Current(ctx context.Context, snap Snapshot) (*CurrentState, error) {
	cur := &CurrentState{
		BotComments:   make(map[comments.Kind]bool),
		LastSeenState: make(map[string]any),
		TicketLabels:  make(map[string]bool),
		TicketExtra:   make(map[string]string),
		HostLabels:    make(map[string]bool),
	}

	botLogin, err := c.host.BotLogin(ctx)
	if err != nil {
		return nil, err
	}
	all, err := c.host.ListComments(ctx, snap.Repo, snap.Number)
	if err != nil {
		return nil, err
	}
	for _, cm := range all {
		if cm.AuthorLogin != botLogin {
			continue
		}
		if cur.PrimaryCommentID == 0 {
			cur.PrimaryCommentID = cm.ID
			cur.PrimaryCommentText = cm.Body
		}
		for kind := range comments.KindsIn(cm.Body) {
			cur.BotComments[kind] = true
		}
	}
	if cur.PrimaryCommentText != "" {
		cur.LastSeenState = comments.ExtractData(cur.PrimaryCommentText)
		if m := ticketKeyPattern.FindStringSubmatch(cur.PrimaryCommentText); m != nil {
			cur.MentionedTicketID = m[1]
		}
	}

	if cur.MentionedTicketID != "" {
		ticket, err := c.tracker.GetTicket(ctx, cur.MentionedTicketID)
		switch {
		case errors.Is(err, jira.ErrNotFound):
			// Deleted behind our back. We'll make a new one.
		case err != nil:
			return nil, err
		default:
			cur.TicketID = ticket.Key
			cur.TicketSummary = ticket.Summary
			cur.TicketDescription = ticket.Description
			cur.TicketStatus = ticket.Status
			for _, l := range ticket.Labels {
				cur.TicketLabels[l] = true
			}
			cur.TicketEpicKey = ticket.EpicKey
			for k, v := range ticket.Extra {
				cur.TicketExtra[k] = v
			}
		}
	}

	for _, l := range snap.Labels {
		cur.HostLabels[l] = true
	}

	if wasDraft, _ := cur.LastSeenState["draft"].(bool); wasDraft && !snap.IsDraft() {
		cur.AuthorActed = true
	}

	return cur, nil
}
