// Package reconcile is the core of the triage bot: it computes the state
// a pull request's tracking *should* be in, reads back the state that
// *does* exist, and applies the minimal ordered set of actions to close
// the gap. Every run is self-contained; all memory lives in the two
// external systems and is re-read on each invocation.
package reconcile

import (
	"regexp"
	"strconv"
	"time"
)

// Snapshot is the immutable pull-request input to one reconciliation.
type Snapshot struct {
	Repo          string // "owner/name"
	Number        int
	HTMLURL       string
	Title         string
	Body          string
	State         string // "open" or "closed"
	Merged        bool
	Draft         bool
	Additions     int
	Deletions     int
	HasLineCounts bool // list endpoints omit line counts; Get fills them
	Labels        []string
	AuthorLogin   string
	AuthorType    string // "User" or "Bot"
	BaseBranch    string
	HeadSHA       string
	CreatedAt     time.Time
}

var wipTitle = regexp.MustCompile(`\b(WIP|wip)\b`)

// IsDraft reports whether the pull request is work-in-progress: either
// explicitly marked draft or carrying WIP in its title.
func (s Snapshot) IsDraft() bool {
	return s.Draft || wipTitle.MatchString(s.Title)
}

var blendedTitle = regexp.MustCompile(`\[\s*BD\s*-\s*(\d+)\s*\]`)

// BlendedProjectID extracts a sponsored-project id from the title
// ("[BD-5] Add widgets" → 5). The bool is false when no id is present.
func (s Snapshot) BlendedProjectID() (int, bool) {
	m := blendedTitle.FindStringSubmatch(s.Title)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}
