package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opencourse/triagebot/internal/jira"
)

// TicketSearcher is the slice of the tracker client the epic finder
// needs.
type TicketSearcher interface {
	Search(ctx context.Context, jql string) ([]jira.Ticket, error)
}

// BlendedEpicFinder locates the epic for a sponsored-project id by
// searching the tracker. Project ids appear in epic fields with varied
// zero padding, so the query matches all three spellings.
type BlendedEpicFinder struct {
	Tracker TicketSearcher
	Project string
	Logger  *slog.Logger
}

func (f *BlendedEpicFinder) FindEpic(ctx context.Context, projectID int) (*jira.Ticket, error) {
	jql := fmt.Sprintf(
		`("Blended Project ID" ~ "BD-00%d" OR "Blended Project ID" ~ "BD-0%d" OR "Blended Project ID" ~ "BD-%d")`+
			` AND project = %s AND type = Epic`,
		projectID, projectID, projectID, f.Project,
	)
	found, err := f.Tracker.Search(ctx, jql)
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		f.Logger.Info("no epic found for blended project", "project_id", projectID)
		return nil, nil
	case 1:
		return &found[0], nil
	default:
		keys := make([]string, len(found))
		for i, t := range found {
			keys[i] = t.Key
		}
		f.Logger.Error("multiple epics found for blended project", "project_id", projectID, "keys", keys)
		return nil, nil
	}
}
