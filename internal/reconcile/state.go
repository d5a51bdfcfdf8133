package reconcile

import (
	"maps"

	"github.com/opencourse/triagebot/internal/comments"
	"github.com/opencourse/triagebot/internal/jira"
)

// CurrentState is the bot's best reconstruction of reality for one pull
// request: what it said last time (recovered from its own comment), what
// the linked ticket looks like now, and what labels the pull request
// carries.
type CurrentState struct {
	// Bot comment kinds already present across all bot comments.
	BotComments map[comments.Kind]bool

	// The first bot comment, verbatim, and its id. The id is zero when
	// no bot comment exists.
	PrimaryCommentText string
	PrimaryCommentID   int64

	// Machine state recovered from the primary comment's embedded blob.
	LastSeenState map[string]any

	// The ticket id mentioned in bot comments, and the ticket's actual
	// id. They differ when the ticket was moved; TicketID is empty when
	// the ticket was deleted or never created.
	MentionedTicketID string
	TicketID          string

	TicketSummary     string
	TicketDescription string
	TicketStatus      string
	TicketLabels      map[string]bool
	TicketEpicKey     string
	TicketEpic        *jira.Ticket
	TicketExtra       map[string]string

	// Actual labels on the pull request.
	HostLabels map[string]bool

	// True when the snapshot shows the author acted since the last look
	// (it was remembered as draft, and is no longer).
	AuthorActed bool
}

// clone returns a deep-enough copy for the fixer to own: the fixer
// mutates its working state as actions apply, and must never alias the
// caller's maps.
func (c *CurrentState) clone() *CurrentState {
	out := *c
	out.BotComments = maps.Clone(c.BotComments)
	out.LastSeenState = maps.Clone(c.LastSeenState)
	out.TicketLabels = maps.Clone(c.TicketLabels)
	out.TicketExtra = maps.Clone(c.TicketExtra)
	out.HostLabels = maps.Clone(c.HostLabels)
	return &out
}

// DesiredState is the policy target for one pull request.
type DesiredState struct {
	BotComments map[comments.Kind]bool

	// Ticket project key; empty means no ticket should exist.
	TicketProject string

	TicketSummary     string
	TicketDescription string

	// Status for a newly created ticket.
	TicketInitialStatus string

	// Status to force on an existing ticket; empty leaves it alone.
	TicketStatus string

	TicketLabels map[string]bool
	TicketEpic   *jira.Ticket
	TicketExtra  map[string]string

	// Bot-managed pull-request labels. Ad-hoc labels are preserved
	// separately by the fixer.
	HostLabels map[string]bool

	// Contributor identity for ticket creation.
	ContributorName string
	Institution     string

	// Champions to ping when a committer pull request merges.
	Champions []string
}

func (d *DesiredState) clone() *DesiredState {
	out := *d
	out.BotComments = maps.Clone(d.BotComments)
	out.TicketLabels = maps.Clone(d.TicketLabels)
	out.TicketExtra = maps.Clone(d.TicketExtra)
	out.HostLabels = maps.Clone(d.HostLabels)
	return &out
}
