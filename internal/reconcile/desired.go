package reconcile

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/opencourse/triagebot/internal/comments"
	"github.com/opencourse/triagebot/internal/jira"
	"github.com/opencourse/triagebot/internal/labels"
	"github.com/opencourse/triagebot/internal/registry"
)

// Extra ticket fields managed by the policy. Other extra fields on a
// ticket are never touched.
const (
	FieldLinesAdded   = "Lines Added"
	FieldLinesDeleted = "Lines Deleted"
	FieldPlatformArea = "Platform Map Area (Levels 1 & 2)"
)

// ContributorDirectory answers identity questions about an author, as of
// the moment the pull request was opened.
type ContributorDirectory interface {
	Lookup(ctx context.Context, login string, at time.Time) (registry.Person, bool, error)
	Internal(ctx context.Context, login string, at time.Time) (bool, error)
	Contractor(ctx context.Context, login string, at time.Time) (bool, error)
	Committer(ctx context.Context, login, repo, branch string, at time.Time) (bool, error)
	Champions(ctx context.Context, login string, at time.Time) ([]string, error)
}

// AgreementChecker reports whether the author has a signed contributor
// agreement covering the pull request.
type AgreementChecker interface {
	HasSignedAgreement(ctx context.Context, login, repo, headSHA string, createdAt time.Time) bool
}

// EpicFinder locates the epic ticket for a sponsored-project id. A nil
// ticket with a nil error means no usable epic exists.
type EpicFinder interface {
	FindEpic(ctx context.Context, projectID int) (*jira.Ticket, error)
}

// DesiredComputer derives the policy target for a pull request. It never
// writes to anything.
type DesiredComputer struct {
	dir            ContributorDirectory
	cla            AgreementChecker
	epics          EpicFinder
	defaultProject string
	blendedProject string
	logger         *slog.Logger
}

func NewDesiredComputer(dir ContributorDirectory, cla AgreementChecker, epics EpicFinder, defaultProject, blendedProject string, logger *slog.Logger) *DesiredComputer {
	return &DesiredComputer{
		dir:            dir,
		cla:            cla,
		epics:          epics,
		defaultProject: defaultProject,
		blendedProject: blendedProject,
		logger:         logger,
	}
}

// Desired computes the target state for the pull request. A nil state
// means the pull request should not be tracked at all.
func (d *DesiredComputer) Desired(ctx context.Context, snap Snapshot) (*DesiredState, error) {
	log := d.logger.With("repo", snap.Repo, "pr", snap.Number, "author", snap.AuthorLogin)

	if snap.AuthorType == "Bot" {
		log.Info("author is a bot, ignored")
		return nil, nil
	}
	internal, err := d.dir.Internal(ctx, snap.AuthorLogin, snap.CreatedAt)
	if err != nil {
		return nil, err
	}
	if internal {
		log.Info("internal pull request, ignored")
		return nil, nil
	}

	desired := &DesiredState{
		BotComments:  make(map[comments.Kind]bool),
		TicketLabels: make(map[string]bool),
		TicketExtra:  make(map[string]string),
		HostLabels:   make(map[string]bool),
	}

	contractor, err := d.dir.Contractor(ctx, snap.AuthorLogin, snap.CreatedAt)
	if err != nil {
		return nil, err
	}
	if contractor {
		desired.BotComments[comments.Contractor] = true
		return desired, nil
	}

	desired.TicketInitialStatus = labels.StatusNeedsTriage
	desired.TicketSummary = snap.Title
	desired.TicketDescription = snap.Body

	hasAgreement := d.cla.HasSignedAgreement(ctx, snap.AuthorLogin, snap.Repo, snap.HeadSHA, snap.CreatedAt)

	primary := comments.Welcome
	if blendedID, ok := snap.BlendedProjectID(); ok {
		primary = comments.Blended
		desired.TicketProject = d.blendedProject
		desired.HostLabels[labels.Blended] = true
		desired.TicketLabels[labels.Blended] = true
		epic, err := d.epics.FindEpic(ctx, blendedID)
		if err != nil {
			return nil, err
		}
		if epic != nil {
			desired.TicketEpic = epic
			if area, ok := epic.Extra[FieldPlatformArea]; ok && area != "" {
				desired.TicketExtra[FieldPlatformArea] = area
			}
		}
	} else {
		desired.TicketProject = d.defaultProject
		desired.HostLabels[labels.Contribution] = true
		committer, err := d.dir.Committer(ctx, snap.AuthorLogin, snap.Repo, snap.BaseBranch, snap.CreatedAt)
		if err != nil {
			return nil, err
		}
		if committer {
			primary = comments.CoreCommitter
			desired.TicketLabels[labels.TrackerCoreCommitter] = true
			desired.TicketInitialStatus = labels.StatusWaitingOnAuthor
			desired.HostLabels[labels.CoreCommitter] = true
			if snap.Merged {
				desired.BotComments[comments.ChampionMergePing] = true
				champions, err := d.dir.Champions(ctx, snap.AuthorLogin, snap.CreatedAt)
				if err != nil {
					return nil, err
				}
				desired.Champions = champions
			}
		}
	}
	desired.BotComments[primary] = true
	if primary == comments.Welcome && snap.State == "closed" {
		desired.BotComments[comments.WelcomeClosed] = true
	}

	if snap.IsDraft() {
		desired.TicketInitialStatus = labels.StatusWaitingOnAuthor
		desired.BotComments[comments.EndOfWIP] = true
	}

	// A missing agreement takes precedence over the draft and committer
	// initial statuses.
	if !hasAgreement {
		desired.BotComments[comments.NeedCLA] = true
		desired.TicketInitialStatus = labels.StatusCommunityReview
		desired.HostLabels[labels.NeedCLA] = true
	} else {
		desired.BotComments[comments.OKToTest] = true
	}

	switch {
	case snap.Merged:
		desired.TicketStatus = labels.StatusMerged
	case snap.State == "closed":
		desired.TicketStatus = labels.StatusRejected
	}

	if snap.HasLineCounts {
		desired.TicketExtra[FieldLinesAdded] = strconv.Itoa(snap.Additions)
		desired.TicketExtra[FieldLinesDeleted] = strconv.Itoa(snap.Deletions)
	}

	person, _, err := d.dir.Lookup(ctx, snap.AuthorLogin, snap.CreatedAt)
	if err != nil {
		return nil, err
	}
	desired.ContributorName = person.Name
	if desired.ContributorName == "" {
		desired.ContributorName = snap.AuthorLogin
	}
	desired.Institution = person.Institution

	return desired, nil
}
