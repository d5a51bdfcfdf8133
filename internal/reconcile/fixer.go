package reconcile

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/opencourse/triagebot/internal/comments"
	"github.com/opencourse/triagebot/internal/jira"
	"github.com/opencourse/triagebot/internal/labels"
	"github.com/opencourse/triagebot/internal/retry"
)

// InvariantError reports a state the fixer must never reach: a wanted
// comment kind it cannot render, or ticket-identity bookkeeping that
// contradicts itself. It always aborts the run.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "reconcile invariant violated: " + e.Reason
}

// Fixer closes the gap between a current and a desired state by emitting
// an ordered sequence of actions. It owns private copies of both states
// and updates its copy of "current" as each action is applied, so later
// passes see the world as the earlier passes left it.
type Fixer struct {
	snap    Snapshot
	current *CurrentState
	desired *DesiredState
	actions Actions

	// Base URL for ticket links in rendered comments.
	browseURL string

	lastSeen        map[string]any
	deletedTicketID string
	happened        bool
}

func NewFixer(snap Snapshot, current *CurrentState, desired *DesiredState, actions Actions, browseURL string) *Fixer {
	return &Fixer{
		snap:      snap,
		current:   current.clone(),
		desired:   desired.clone(),
		actions:   actions,
		browseURL: browseURL,
		lastSeen:  maps.Clone(current.LastSeenState),
	}
}

// Fix runs the reconciliation passes in order. It returns the canonical
// ticket key (empty when none exists) and whether anything changed. On
// error, the work done so far stands; the next run picks up the rest.
func (f *Fixer) Fix(ctx context.Context) (ticketID string, changed bool, err error) {
	if f.lastSeen == nil {
		f.lastSeen = make(map[string]any)
	}

	if err := f.actions.SynchronizeLabels(ctx, f.snap.Repo); err != nil {
		return f.result(err)
	}

	makeTicket := false

	// The linked ticket may be in the wrong project, either because
	// policy changed or because a human moved it. When no ticket is
	// wanted at all (contractor pull request) an existing ticket is
	// left alone.
	if f.current.TicketID != "" && f.desired.TicketProject != "" {
		if f.current.MentionedTicketID == "" {
			return f.result(retry.Permanent(&InvariantError{
				Reason: fmt.Sprintf("ticket %s is linked but no ticket is mentioned in the bot comment", f.current.TicketID),
			}))
		}
		mentionedProject, _, _ := strings.Cut(f.current.MentionedTicketID, "-")
		actualProject, _, _ := strings.Cut(f.current.TicketID, "-")
		if mentionedProject != f.desired.TicketProject {
			if actualProject == f.desired.TicketProject {
				// Already moved to the right project; adopt it as-is.
			} else {
				if err := f.actions.DeleteTicket(ctx, f.current.TicketID); err != nil {
					return f.result(err)
				}
				makeTicket = true
				f.deletedTicketID = f.current.MentionedTicketID
				f.current.TicketID = ""
				f.current.TicketSummary = ""
				f.current.TicketDescription = ""
				f.current.TicketStatus = ""
				f.happened = true
			}
		}
	}

	if f.desired.TicketProject != "" && f.current.MentionedTicketID == "" {
		makeTicket = true
	}

	if makeTicket {
		if err := f.makeTicket(ctx); err != nil {
			return f.result(err)
		}
	} else if f.desired.TicketEpic != nil && f.current.TicketEpicKey == f.desired.TicketEpic.Key {
		// We sometimes hold just the epic key, sometimes the full
		// ticket. Adopt the full ticket when the keys agree so the
		// comment can render epic details without another lookup.
		f.current.TicketEpic = f.desired.TicketEpic
	}

	// Always remember the current draft flag for the next run.
	f.lastSeen["draft"] = f.snap.IsDraft()

	if f.current.TicketID != "" && f.desired.TicketProject != "" {
		// The author acted while we were waiting on them: resume the
		// usual initial status for this kind of pull request.
		if f.current.AuthorActed && f.current.TicketStatus == labels.StatusWaitingOnAuthor {
			f.desired.TicketStatus = f.desired.TicketInitialStatus
		}
		if f.desired.TicketStatus != "" && f.desired.TicketStatus != f.current.TicketStatus {
			if err := f.actions.TransitionTicket(ctx, f.current.TicketID, f.desired.TicketStatus); err != nil {
				return f.result(err)
			}
			f.current.TicketStatus = f.desired.TicketStatus
			f.happened = true
		}
		if err := f.fixTicketFields(ctx); err != nil {
			return f.result(err)
		}
	}

	if err := f.fixHostLabels(ctx); err != nil {
		return f.result(err)
	}

	// A closed pull request that already has bot comments keeps them
	// verbatim. Anything else gets the primary comment rebuilt.
	if f.snap.State != "closed" || len(f.current.BotComments) == 0 {
		if err := f.fixPrimaryComment(ctx); err != nil {
			return f.result(err)
		}
	}
	if err := f.addSecondaryComments(ctx); err != nil {
		return f.result(err)
	}

	return f.result(nil)
}

func (f *Fixer) result(err error) (string, bool, error) {
	return f.current.TicketID, f.happened, err
}

func (f *Fixer) makeTicket(ctx context.Context) error {
	epicKey := ""
	if f.desired.TicketEpic != nil {
		epicKey = f.desired.TicketEpic.Key
	}
	ticket, err := f.actions.CreateTicket(ctx, jira.CreateInput{
		Project:         f.desired.TicketProject,
		Summary:         f.desired.TicketSummary,
		Description:     f.desired.TicketDescription,
		Labels:          sortedNames(f.desired.TicketLabels),
		EpicKey:         epicKey,
		PRURL:           f.snap.HTMLURL,
		PRNumber:        f.snap.Number,
		Repo:            f.snap.Repo,
		ContributorName: f.desired.ContributorName,
		Institution:     f.desired.Institution,
		Extra:           maps.Clone(f.desired.TicketExtra),
	})
	if err != nil {
		return err
	}
	f.current.TicketID = ticket.Key
	f.current.TicketStatus = ticket.Status
	f.current.TicketSummary = f.desired.TicketSummary
	f.current.TicketDescription = f.desired.TicketDescription
	f.current.TicketLabels = maps.Clone(f.desired.TicketLabels)
	f.current.TicketExtra = maps.Clone(f.desired.TicketExtra)
	f.current.TicketEpic = f.desired.TicketEpic
	if f.current.TicketEpic != nil {
		f.current.TicketEpicKey = f.current.TicketEpic.Key
	}

	if f.desired.TicketInitialStatus != f.current.TicketStatus {
		if err := f.actions.TransitionTicket(ctx, f.current.TicketID, f.desired.TicketInitialStatus); err != nil {
			return err
		}
		f.current.TicketStatus = f.desired.TicketInitialStatus
	}

	f.happened = true
	return nil
}

func (f *Fixer) fixTicketFields(ctx context.Context) error {
	var input jira.UpdateInput

	if f.desired.TicketSummary != f.current.TicketSummary {
		input.Summary = &f.desired.TicketSummary
	}
	if f.desired.TicketDescription != f.current.TicketDescription {
		input.Description = &f.desired.TicketDescription
	}

	// Preserve labels humans added outside our category set.
	want := maps.Clone(f.desired.TicketLabels)
	if want == nil {
		want = make(map[string]bool)
	}
	for l := range f.current.TicketLabels {
		if !labels.TrackerCategoryLabels[l] {
			want[l] = true
		}
	}
	if !maps.Equal(want, f.current.TicketLabels) {
		input.Labels = sortedNames(want)
	}

	if f.desired.TicketEpic != nil && f.desired.TicketEpic.Key != f.current.TicketEpicKey {
		input.EpicKey = &f.desired.TicketEpic.Key
	}

	// Only the extra fields we manage are compared; fields we have never
	// heard of are left untouched.
	currentManaged := make(map[string]string)
	for k, v := range f.current.TicketExtra {
		if _, ok := f.desired.TicketExtra[k]; ok {
			currentManaged[k] = v
		}
	}
	if !maps.Equal(f.desired.TicketExtra, currentManaged) {
		input.Extra = maps.Clone(f.desired.TicketExtra)
	}

	if input.Empty() {
		return nil
	}
	if err := f.actions.UpdateTicketFields(ctx, f.current.TicketID, input); err != nil {
		return err
	}
	f.current.TicketSummary = f.desired.TicketSummary
	f.current.TicketDescription = f.desired.TicketDescription
	if input.Labels != nil {
		f.current.TicketLabels = want
	}
	f.current.TicketEpic = f.desired.TicketEpic
	if f.current.TicketEpic != nil {
		f.current.TicketEpicKey = f.current.TicketEpic.Key
	}
	if f.current.TicketExtra == nil {
		f.current.TicketExtra = make(map[string]string, len(f.desired.TicketExtra))
	}
	for k, v := range f.desired.TicketExtra {
		f.current.TicketExtra[k] = v
	}
	f.happened = true
	return nil
}

func (f *Fixer) fixHostLabels(ctx context.Context) error {
	want := maps.Clone(f.desired.HostLabels)
	if want == nil {
		want = make(map[string]bool)
	}
	if f.current.TicketStatus != "" {
		want[strings.ToLower(f.current.TicketStatus)] = true
	}
	// Ad-hoc labels outside our categories belong to humans; keep them.
	for l := range f.current.HostLabels {
		if !labels.GitHubCategoryLabels[l] && !labels.GitHubStatusLabels[l] {
			want[l] = true
		}
	}

	if maps.Equal(want, f.current.HostLabels) {
		return nil
	}
	if err := f.actions.ReplaceLabels(ctx, f.snap.Repo, f.snap.Number, sortedNames(want)); err != nil {
		return err
	}
	f.current.HostLabels = want
	f.happened = true
	return nil
}

// fixPrimaryComment rebuilds the first bot comment from scratch and
// writes it only when the text differs from what is already there.
func (f *Fixer) fixPrimaryComment(ctx context.Context) error {
	needed := make(map[comments.Kind]bool)
	for kind := range f.desired.BotComments {
		if comments.PrimaryKinds[kind] {
			needed[kind] = true
		}
	}

	// The ticket may be gone; keep talking about the id we mentioned.
	ticketID := f.current.TicketID
	if ticketID == "" {
		ticketID = f.current.MentionedTicketID
	}
	cctx := comments.Context{
		AuthorLogin:     f.snap.AuthorLogin,
		TicketID:        ticketID,
		TicketBrowseURL: f.browseURL,
		DeletedTicketID: f.deletedTicketID,
		NeedCLA:         needed[comments.NeedCLA],
		EndOfWIP:        needed[comments.EndOfWIP],
		Closed:          f.snap.State == "closed" && !f.snap.Merged,
		Merged:          f.snap.Merged,
	}
	if f.current.TicketEpic != nil {
		cctx.EpicKey = f.current.TicketEpic.Key
	}

	var body string
	if needed[comments.Welcome] {
		body += comments.WelcomeComment(cctx)
		delete(needed, comments.Welcome)
	}
	if needed[comments.Contractor] {
		body += comments.ContractorComment(cctx)
		delete(needed, comments.Contractor)
	}
	if needed[comments.CoreCommitter] {
		body += comments.CommitterComment(cctx)
		delete(needed, comments.CoreCommitter)
	}
	if needed[comments.Blended] {
		body += comments.BlendedComment(cctx)
		delete(needed, comments.Blended)
	}
	if needed[comments.OKToTest] {
		if body != "" {
			body += comments.OKToTestMarker
		}
		delete(needed, comments.OKToTest)
	}
	// Folded kinds ride inside the parent blocks rendered above.
	for kind := range comments.FoldedKinds {
		delete(needed, kind)
	}
	if len(needed) > 0 {
		return retry.Permanent(&InvariantError{
			Reason: fmt.Sprintf("no renderer for primary comment kinds %v", sortedKinds(needed)),
		})
	}

	body += comments.FormatData(f.lastSeen)

	if body == f.current.PrimaryCommentText {
		return nil
	}
	if f.current.PrimaryCommentID != 0 {
		if err := f.actions.EditComment(ctx, f.snap.Repo, f.current.PrimaryCommentID, body); err != nil {
			return err
		}
	} else {
		id, err := f.actions.AddComment(ctx, f.snap.Repo, f.snap.Number, body)
		if err != nil {
			return err
		}
		f.current.PrimaryCommentID = id
	}
	f.current.PrimaryCommentText = body
	f.happened = true
	return nil
}

// addSecondaryComments appends wanted comment kinds that live outside the
// primary comment and are not already present.
func (f *Fixer) addSecondaryComments(ctx context.Context) error {
	needed := make(map[comments.Kind]bool)
	for kind := range f.desired.BotComments {
		if !comments.PrimaryKinds[kind] && !f.current.BotComments[kind] {
			needed[kind] = true
		}
	}

	if needed[comments.ChampionMergePing] {
		body := comments.MergePingComment(comments.Context{AuthorLogin: f.snap.AuthorLogin}, f.desired.Champions)
		if _, err := f.actions.AddComment(ctx, f.snap.Repo, f.snap.Number, body); err != nil {
			return err
		}
		f.current.BotComments[comments.ChampionMergePing] = true
		f.happened = true
		delete(needed, comments.ChampionMergePing)
	}

	if len(needed) > 0 {
		return retry.Permanent(&InvariantError{
			Reason: fmt.Sprintf("no renderer for secondary comment kinds %v", sortedKinds(needed)),
		})
	}
	return nil
}

func sortedNames(set map[string]bool) []string {
	return slices.Sorted(maps.Keys(set))
}

func sortedKinds(set map[comments.Kind]bool) []comments.Kind {
	return slices.Sorted(maps.Keys(set))
}
