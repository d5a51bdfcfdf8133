// Package labels holds the bot-managed label taxonomy for both the code
// host and the issue tracker. Labels outside these sets are "ad-hoc":
// humans own them and the bot must never remove them.
package labels

import "strings"

// Ticket status names used by the triage workflow.
const (
	StatusNeedsTriage     = "Needs Triage"
	StatusWaitingOnAuthor = "Waiting on Author"
	StatusCommunityReview = "Community Manager Review"
	StatusInEngReview     = "Engineering Review"
	StatusMerged          = "Merged"
	StatusRejected        = "Rejected"
)

// statusNames is every workflow status a ticket can be in. The lowercased
// forms double as pull-request labels mirroring ticket status.
var statusNames = []string{
	StatusNeedsTriage,
	StatusWaitingOnAuthor,
	StatusCommunityReview,
	StatusInEngReview,
	StatusMerged,
	StatusRejected,
}

// Bot-managed category labels on pull requests.
const (
	Contribution  = "open-source-contribution"
	Blended       = "blended"
	CoreCommitter = "core committer"
	NeedCLA       = "NEED-CLA"
)

// TrackerCoreCommitter is the ticket-side counterpart of CoreCommitter;
// tracker labels cannot contain spaces.
const TrackerCoreCommitter = "core-committer"

// GitHubCategoryLabels is the set of category labels the bot manages on
// pull requests.
var GitHubCategoryLabels = map[string]bool{
	Contribution:  true,
	Blended:       true,
	CoreCommitter: true,
	NeedCLA:       true,
}

// TrackerCategoryLabels is the set of labels the bot manages on tickets.
var TrackerCategoryLabels = map[string]bool{
	Blended:              true,
	TrackerCoreCommitter: true,
}

// GitHubStatusLabels is the set of pull-request labels that mirror ticket
// status (lowercased status names).
var GitHubStatusLabels = func() map[string]bool {
	m := make(map[string]bool, len(statusNames))
	for _, s := range statusNames {
		m[strings.ToLower(s)] = true
	}
	return m
}()

// Definition describes a label the bot expects to exist in a repository.
type Definition struct {
	Name  string
	Color string
}

// RepoDefinitions returns every label definition the bot wants registered
// on a repository: category labels plus one label per workflow status.
func RepoDefinitions() []Definition {
	defs := []Definition{
		{Name: Contribution, Color: "0e8a16"},
		{Name: Blended, Color: "5319e7"},
		{Name: CoreCommitter, Color: "1d76db"},
		{Name: NeedCLA, Color: "b60205"},
	}
	for _, s := range statusNames {
		defs = append(defs, Definition{Name: strings.ToLower(s), Color: "c5def5"})
	}
	return defs
}
