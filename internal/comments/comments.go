// Package comments defines the bot's comment vocabulary: the comment
// kinds, the indicator snippets that identify each kind inside a comment
// body, the renderers that produce comment text, and the machine-readable
// state blob the bot embeds in its primary comment.
package comments

import (
	"fmt"
	"strings"
)

// Kind identifies a variant of bot comment.
type Kind string

const (
	Welcome           Kind = "welcome"
	WelcomeClosed     Kind = "welcome-closed"
	NeedCLA           Kind = "need-cla"
	Contractor        Kind = "contractor"
	CoreCommitter     Kind = "core-committer"
	Blended           Kind = "blended"
	OKToTest          Kind = "ok-to-test"
	EndOfWIP          Kind = "end-of-wip"
	ChampionMergePing Kind = "champion-merge-ping"
)

// Indicators maps each kind to the snippets whose presence in a comment
// body marks that kind. Bodies are matched with substring search, so the
// snippets must be stable across template edits.
var Indicators = map[Kind][]string{
	Welcome:           {"<!-- comment:welcome -->"},
	WelcomeClosed:     {"<!-- comment:welcome-closed -->"},
	NeedCLA:           {"<!-- comment:need-cla -->"},
	Contractor:        {"<!-- comment:contractor -->"},
	CoreCommitter:     {"<!-- comment:core-committer -->"},
	Blended:           {"<!-- comment:blended -->"},
	OKToTest:          {"<!-- jenkins ok to test -->"},
	EndOfWIP:          {"<!-- comment:end-of-wip -->"},
	ChampionMergePing: {"<!-- comment:champion-merge-ping -->"},
}

// PrimaryKinds is the set of kinds that live in the first (primary) bot
// comment. Anything else is posted as a separate follow-up comment.
var PrimaryKinds = map[Kind]bool{
	Welcome:       true,
	WelcomeClosed: true,
	NeedCLA:       true,
	Contractor:    true,
	CoreCommitter: true,
	Blended:       true,
	OKToTest:      true,
	EndOfWIP:      true,
}

// FoldedKinds are kinds that never emit their own block: their text is
// carried inside a parent block (welcome, blended, or committer) and they
// count as rendered once the parent is included.
var FoldedKinds = map[Kind]bool{
	NeedCLA:       true,
	EndOfWIP:      true,
	WelcomeClosed: true,
}

// IsKind reports whether the body contains the indicator for the kind.
func IsKind(kind Kind, body string) bool {
	for _, snip := range Indicators[kind] {
		if strings.Contains(body, snip) {
			return true
		}
	}
	return false
}

// KindsIn returns the set of kinds whose indicators appear in the body.
func KindsIn(body string) map[Kind]bool {
	found := make(map[Kind]bool)
	for kind := range Indicators {
		if IsKind(kind, body) {
			found[kind] = true
		}
	}
	return found
}

// Context carries the data the renderers interpolate into comment text.
type Context struct {
	AuthorLogin     string
	TicketID        string
	TicketBrowseURL string // base URL; ticket id is appended
	DeletedTicketID string
	EpicKey         string

	// Folded-kind flags: when set, the parent block carries the folded
	// text and its indicator.
	NeedCLA  bool
	EndOfWIP bool

	// Closed/Merged pick the already-closed phrasing of the welcome
	// comment for pull requests first seen after they were closed.
	Closed bool
	Merged bool
}

func (c Context) ticketLink() string {
	if c.TicketID == "" {
		return ""
	}
	return fmt.Sprintf("[%s](%s%s)", c.TicketID, c.TicketBrowseURL, c.TicketID)
}

func (c Context) deletedNote() string {
	if c.DeletedTicketID == "" {
		return ""
	}
	return fmt.Sprintf(
		"\n\nNote: the ticket %s previously linked here belonged to the wrong project and has been replaced.",
		c.DeletedTicketID,
	)
}

func (c Context) claParagraph() string {
	if !c.NeedCLA {
		return ""
	}
	return "\n\n<!-- comment:need-cla -->" +
		"\nWe can't review this pull request until you submit a " +
		"[signed contributor agreement](https://opencourse.org/cla). " +
		"Please take a moment to do that, and comment here when it's done."
}

func (c Context) wipParagraph() string {
	if !c.EndOfWIP {
		return ""
	}
	return "\n\n<!-- comment:end-of-wip -->" +
		"\nThis pull request is marked as a draft. When it's ready for " +
		"review, take it out of draft mode and we'll get started."
}

// WelcomeComment renders the community-contribution greeting. Pull
// requests first seen after they were closed or merged get a past-tense
// variant carrying the welcome-closed indicator.
func WelcomeComment(ctx Context) string {
	var b strings.Builder
	b.WriteString("<!-- comment:welcome -->\n")
	fmt.Fprintf(&b, "Thanks for the pull request, @%s!\n\n", ctx.AuthorLogin)
	switch {
	case ctx.Merged:
		b.WriteString("<!-- comment:welcome-closed -->\n")
		fmt.Fprintf(&b,
			"Although this pull request is already merged, I've created %s "+
				"so the contribution is recorded.",
			ctx.ticketLink(),
		)
	case ctx.Closed:
		b.WriteString("<!-- comment:welcome-closed -->\n")
		fmt.Fprintf(&b,
			"Although this pull request is already closed, I've created %s "+
				"so the contribution is recorded.",
			ctx.ticketLink(),
		)
	default:
		fmt.Fprintf(&b,
			"This repository is currently maintained by the community. "+
				"I've created %s to track the review of your changes; "+
				"you can watch it for status updates.",
			ctx.ticketLink(),
		)
	}
	b.WriteString(ctx.deletedNote())
	b.WriteString(ctx.claParagraph())
	b.WriteString(ctx.wipParagraph())
	return b.String()
}

// ContractorComment renders the contractor-author notice. Contractor pull
// requests get no ticket; the author chooses whether to open one.
func ContractorComment(ctx Context) string {
	var b strings.Builder
	b.WriteString("<!-- comment:contractor -->\n")
	fmt.Fprintf(&b, "Thanks for the pull request, @%s!\n\n", ctx.AuthorLogin)
	b.WriteString(
		"It looks like you're a member of a company that does contract work " +
			"for this project. If this pull request is covered by that contract, " +
			"no further action is needed. If it's a community contribution, ask " +
			"a maintainer to create a review ticket for it.",
	)
	return b.String()
}

// CommitterComment renders the core-committer greeting.
func CommitterComment(ctx Context) string {
	var b strings.Builder
	b.WriteString("<!-- comment:core-committer -->\n")
	fmt.Fprintf(&b, "Thanks for the pull request, @%s!\n\n", ctx.AuthorLogin)
	fmt.Fprintf(&b,
		"As a core committer on this repository you can merge once your "+
			"checks pass and your champions approve. I've created %s to track "+
			"this work.",
		ctx.ticketLink(),
	)
	b.WriteString(ctx.deletedNote())
	b.WriteString(ctx.claParagraph())
	b.WriteString(ctx.wipParagraph())
	return b.String()
}

// BlendedComment renders the sponsored-project greeting.
func BlendedComment(ctx Context) string {
	var b strings.Builder
	b.WriteString("<!-- comment:blended -->\n")
	fmt.Fprintf(&b, "Thanks for the pull request, @%s!\n\n", ctx.AuthorLogin)
	fmt.Fprintf(&b,
		"This pull request is part of a blended project. I've created %s to "+
			"track the review of your changes.",
		ctx.ticketLink(),
	)
	if ctx.EpicKey != "" {
		fmt.Fprintf(&b, " It is linked to epic %s.", ctx.EpicKey)
	}
	b.WriteString(ctx.deletedNote())
	b.WriteString(ctx.claParagraph())
	b.WriteString(ctx.wipParagraph())
	return b.String()
}

// OKToTestMarker is appended to the primary comment when the author has a
// signed agreement, so CI knows the changes are safe to run.
const OKToTestMarker = "\n<!-- jenkins ok to test -->"

// MergePingComment renders the follow-up comment pinging the author's
// champions after a committer pull request is merged.
func MergePingComment(ctx Context, champions []string) string {
	var b strings.Builder
	b.WriteString("<!-- comment:champion-merge-ping -->\n")
	if len(champions) > 0 {
		mentions := make([]string, len(champions))
		for i, ch := range champions {
			mentions[i] = "@" + ch
		}
		fmt.Fprintf(&b, "%s: a core committer pull request you champion has been merged.\n", strings.Join(mentions, " "))
	} else {
		b.WriteString("A core committer pull request has been merged.\n")
	}
	fmt.Fprintf(&b, "Merged by @%s.", ctx.AuthorLogin)
	return b.String()
}
