package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/opencourse/triagebot/internal/comments"
	"github.com/opencourse/triagebot/internal/github"
	"github.com/opencourse/triagebot/internal/jira"
	"github.com/opencourse/triagebot/internal/labels"
	"github.com/opencourse/triagebot/internal/registry"
	"github.com/opencourse/triagebot/internal/retry"
)

const botLogin = "triage-bot"

var testTime = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

// fakeWorld is an in-memory code host and tracker. The engine's actions
// mutate it, its read methods feed the next run, so idempotence can be
// checked by reconciling twice.
type fakeWorld struct {
	comments      []github.IssueComment
	nextCommentID int64

	tickets    map[string]*jira.Ticket
	aliases    map[string]string // old key -> current key, for moved tickets
	nextTicket int

	prLabels map[string]bool

	syncedLabels int
	deletedKeys  []string
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		tickets:  make(map[string]*jira.Ticket),
		aliases:  make(map[string]string),
		prLabels: make(map[string]bool),
	}
}

func (w *fakeWorld) BotLogin(ctx context.Context) (string, error) { return botLogin, nil }

func (w *fakeWorld) ListComments(ctx context.Context, repo string, number int) ([]github.IssueComment, error) {
	out := make([]github.IssueComment, len(w.comments))
	copy(out, w.comments)
	return out, nil
}

func (w *fakeWorld) resolve(key string) string {
	if to, ok := w.aliases[key]; ok {
		return to
	}
	return key
}

func (w *fakeWorld) GetTicket(ctx context.Context, key string) (jira.Ticket, error) {
	t, ok := w.tickets[w.resolve(key)]
	if !ok {
		return jira.Ticket{}, fmt.Errorf("ticket %s: %w", key, jira.ErrNotFound)
	}
	return *t, nil
}

func (w *fakeWorld) SynchronizeLabels(ctx context.Context, repo string) error {
	w.syncedLabels++
	return nil
}

func (w *fakeWorld) CreateTicket(ctx context.Context, input jira.CreateInput) (jira.Ticket, error) {
	key := fmt.Sprintf("%s-%d", input.Project, 100+w.nextTicket)
	w.nextTicket++
	t := &jira.Ticket{
		Key:         key,
		Summary:     input.Summary,
		Description: input.Description,
		Status:      labels.StatusNeedsTriage,
		Labels:      append([]string(nil), input.Labels...),
		EpicKey:     input.EpicKey,
		Extra:       make(map[string]string),
	}
	for k, v := range input.Extra {
		t.Extra[k] = v
	}
	w.tickets[key] = t
	return *t, nil
}

func (w *fakeWorld) DeleteTicket(ctx context.Context, key string) error {
	w.deletedKeys = append(w.deletedKeys, key)
	delete(w.tickets, w.resolve(key))
	return nil
}

func (w *fakeWorld) TransitionTicket(ctx context.Context, key, status string) error {
	w.tickets[w.resolve(key)].Status = status
	return nil
}

func (w *fakeWorld) UpdateTicketFields(ctx context.Context, key string, input jira.UpdateInput) error {
	t := w.tickets[w.resolve(key)]
	if input.Summary != nil {
		t.Summary = *input.Summary
	}
	if input.Description != nil {
		t.Description = *input.Description
	}
	if input.Labels != nil {
		t.Labels = append([]string(nil), input.Labels...)
	}
	if input.EpicKey != nil {
		t.EpicKey = *input.EpicKey
	}
	for k, v := range input.Extra {
		if t.Extra == nil {
			t.Extra = make(map[string]string)
		}
		t.Extra[k] = v
	}
	return nil
}

func (w *fakeWorld) AddComment(ctx context.Context, repo string, number int, body string) (int64, error) {
	w.nextCommentID++
	w.comments = append(w.comments, github.IssueComment{ID: w.nextCommentID, Body: body, AuthorLogin: botLogin})
	return w.nextCommentID, nil
}

func (w *fakeWorld) EditComment(ctx context.Context, repo string, commentID int64, body string) error {
	for i := range w.comments {
		if w.comments[i].ID == commentID {
			w.comments[i].Body = body
			return nil
		}
	}
	return fmt.Errorf("comment %d: %w", commentID, jira.ErrNotFound)
}

func (w *fakeWorld) ReplaceLabels(ctx context.Context, repo string, number int, names []string) error {
	w.prLabels = make(map[string]bool)
	for _, n := range names {
		w.prLabels[n] = true
	}
	return nil
}

func (w *fakeWorld) labelList() []string {
	return sortedNames(w.prLabels)
}

// fakeDirectory is a canned contributor directory.
type fakeDirectory struct {
	people      map[string]registry.Person
	internals   map[string]bool
	contractors map[string]bool
	committers  map[string]bool
	champions   map[string][]string
}

func (d *fakeDirectory) Lookup(ctx context.Context, login string, at time.Time) (registry.Person, bool, error) {
	p, ok := d.people[login]
	return p, ok, nil
}

func (d *fakeDirectory) Internal(ctx context.Context, login string, at time.Time) (bool, error) {
	return d.internals[login], nil
}

func (d *fakeDirectory) Contractor(ctx context.Context, login string, at time.Time) (bool, error) {
	return d.contractors[login], nil
}

func (d *fakeDirectory) Committer(ctx context.Context, login, repo, branch string, at time.Time) (bool, error) {
	return d.committers[login], nil
}

func (d *fakeDirectory) Champions(ctx context.Context, login string, at time.Time) ([]string, error) {
	return d.champions[login], nil
}

type fakeCLA struct {
	signed map[string]bool
}

func (c *fakeCLA) HasSignedAgreement(ctx context.Context, login, repo, headSHA string, createdAt time.Time) bool {
	return c.signed[login]
}

type fakeEpics struct {
	epic *jira.Ticket
}

func (e *fakeEpics) FindEpic(ctx context.Context, projectID int) (*jira.Ticket, error) {
	return e.epic, nil
}

type fixture struct {
	world *fakeWorld
	dir   *fakeDirectory
	cla   *fakeCLA
	epics *fakeEpics

	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		world: newFakeWorld(),
		dir: &fakeDirectory{
			people: map[string]registry.Person{
				"tusbar": {Name: "Bertrand Marron", Institution: "IONISx"},
				"nedbat": {Name: "Ned Batchelder", Institution: "Axim"},
			},
			internals:   map[string]bool{"insider": true},
			contractors: map[string]bool{"vendor-dev": true},
			committers:  map[string]bool{"nedbat": true},
			champions:   map[string][]string{"nedbat": {"felipemontoya", "sarina"}},
		},
		cla:   &fakeCLA{signed: map[string]bool{"tusbar": true, "nedbat": true, "vendor-dev": true}},
		epics: &fakeEpics{},
	}
	desired := NewDesiredComputer(f.dir, f.cla, f.epics, "OSPR", "BLENDED", logger)
	current := NewCurrentComputer(f.world, f.world)
	f.engine = NewEngine(current, desired, f.world, "https://tracker.opencourse.org/browse/", logger)
	return f
}

func basePR() Snapshot {
	return Snapshot{
		Repo:          "opencourse/platform",
		Number:        101,
		HTMLURL:       "https://github.com/opencourse/platform/pull/101",
		Title:         "Fix pagination in course list",
		Body:          "Fixes an off-by-one in the course list paginator.",
		State:         "open",
		HasLineCounts: true,
		Additions:     42,
		Deletions:     7,
		AuthorLogin:   "tusbar",
		AuthorType:    "User",
		BaseBranch:    "main",
		HeadSHA:       "abc123",
		CreatedAt:     testTime,
	}
}

// run reconciles with the pull request's labels refreshed from the fake
// world, the way a webhook delivery would see them.
func (f *fixture) run(t *testing.T, snap Snapshot) (string, bool) {
	t.Helper()
	snap.Labels = f.world.labelList()
	id, changed, err := f.engine.Reconcile(context.Background(), snap)
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	return id, changed
}

func (f *fixture) primaryComment(t *testing.T) string {
	t.Helper()
	if len(f.world.comments) == 0 {
		t.Fatal("no comments posted")
	}
	return f.world.comments[0].Body
}

func TestBotAuthorIgnored(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	snap.AuthorLogin = "dependabot[bot]"
	snap.AuthorType = "Bot"

	id, changed := f.run(t, snap)

	if id != "" || changed {
		t.Errorf("got (%q, %v), want no tracking", id, changed)
	}
	if len(f.world.tickets) != 0 || len(f.world.comments) != 0 {
		t.Error("bot pull request touched the world")
	}
}

func TestInternalAuthorIgnored(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	snap.AuthorLogin = "insider"

	id, changed := f.run(t, snap)

	if id != "" || changed {
		t.Errorf("got (%q, %v), want no tracking", id, changed)
	}
	if len(f.world.tickets) != 0 || len(f.world.comments) != 0 {
		t.Error("internal pull request touched the world")
	}
}

func TestContractorGetsCommentOnly(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	snap.AuthorLogin = "vendor-dev"

	id, changed := f.run(t, snap)

	if id != "" {
		t.Errorf("ticket id = %q, want none", id)
	}
	if !changed {
		t.Error("changed = false, want true")
	}
	if len(f.world.tickets) != 0 {
		t.Errorf("tickets created: %d, want 0", len(f.world.tickets))
	}
	if !comments.IsKind(comments.Contractor, f.primaryComment(t)) {
		t.Error("primary comment is not the contractor comment")
	}

	// A second delivery changes nothing.
	if _, changed := f.run(t, snap); changed {
		t.Error("second run reported changes")
	}
}

func TestContractorWithExistingTicketLeavesIt(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	f.run(t, snap) // creates OSPR-100

	// The author is reclassified as a contractor after the fact.
	f.dir.contractors[snap.AuthorLogin] = true
	id, _ := f.run(t, snap)

	if id != "OSPR-100" {
		t.Errorf("ticket id = %q, want OSPR-100", id)
	}
	if len(f.world.deletedKeys) != 0 {
		t.Errorf("deleted %v, want no deletions", f.world.deletedKeys)
	}
	ticket, ok := f.world.tickets["OSPR-100"]
	if !ok {
		t.Fatal("OSPR-100 is gone from the tracker")
	}
	if ticket.Summary != snap.Title {
		t.Errorf("ticket summary = %q, want untouched", ticket.Summary)
	}
	if !comments.IsKind(comments.Contractor, f.primaryComment(t)) {
		t.Error("primary comment is not the contractor comment")
	}
}

func TestCommunityPROpened(t *testing.T) {
	f := newFixture(t)
	snap := basePR()

	id, changed := f.run(t, snap)

	if id != "OSPR-100" {
		t.Fatalf("ticket id = %q, want OSPR-100", id)
	}
	if !changed {
		t.Error("changed = false, want true")
	}
	if f.world.syncedLabels == 0 {
		t.Error("label definitions were not synchronized")
	}

	ticket := f.world.tickets["OSPR-100"]
	if ticket.Summary != snap.Title {
		t.Errorf("summary = %q", ticket.Summary)
	}
	if ticket.Status != labels.StatusNeedsTriage {
		t.Errorf("status = %q, want Needs Triage", ticket.Status)
	}
	if got := ticket.Extra[FieldLinesAdded]; got != "42" {
		t.Errorf("lines added = %q, want 42", got)
	}

	body := f.primaryComment(t)
	if !comments.IsKind(comments.Welcome, body) {
		t.Error("primary comment is not the welcome comment")
	}
	if !comments.IsKind(comments.OKToTest, body) {
		t.Error("signed author did not get the ok-to-test marker")
	}
	if comments.IsKind(comments.NeedCLA, body) {
		t.Error("signed author got the agreement nag")
	}
	if !strings.Contains(body, "[OSPR-100](https://tracker.opencourse.org/browse/OSPR-100)") {
		t.Error("comment does not link the ticket")
	}

	wantLabels := []string{"needs triage", "open-source-contribution"}
	if got := f.world.labelList(); !equalStrings(got, wantLabels) {
		t.Errorf("labels = %v, want %v", got, wantLabels)
	}

	// Rescan: nothing else to do.
	id2, changed2 := f.run(t, snap)
	if id2 != id {
		t.Errorf("second run ticket = %q, want %q", id2, id)
	}
	if changed2 {
		t.Error("second run reported changes")
	}
	if len(f.world.comments) != 1 {
		t.Errorf("comments = %d, want 1", len(f.world.comments))
	}
	if len(f.world.tickets) != 1 {
		t.Errorf("tickets = %d, want 1", len(f.world.tickets))
	}
}

func TestMissingAgreement(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	snap.AuthorLogin = "stranger"

	id, _ := f.run(t, snap)

	if got := f.world.tickets[id].Status; got != labels.StatusCommunityReview {
		t.Errorf("status = %q, want Community Manager Review", got)
	}
	body := f.primaryComment(t)
	if !comments.IsKind(comments.NeedCLA, body) {
		t.Error("no agreement nag in the comment")
	}
	if comments.IsKind(comments.OKToTest, body) {
		t.Error("unsigned author got the ok-to-test marker")
	}
	if !f.world.prLabels[labels.NeedCLA] {
		t.Errorf("labels = %v, missing NEED-CLA", f.world.labelList())
	}
}

func TestDraftPrecedence(t *testing.T) {
	// Draft alone forces Waiting on Author; a missing agreement beats it.
	f := newFixture(t)
	snap := basePR()
	snap.Draft = true

	id, _ := f.run(t, snap)
	if got := f.world.tickets[id].Status; got != labels.StatusWaitingOnAuthor {
		t.Errorf("draft status = %q, want Waiting on Author", got)
	}
	if !comments.IsKind(comments.EndOfWIP, f.primaryComment(t)) {
		t.Error("draft comment lacks the end-of-draft note")
	}

	g := newFixture(t)
	snap2 := basePR()
	snap2.Draft = true
	snap2.AuthorLogin = "stranger"
	id2, _ := g.run(t, snap2)
	if got := g.world.tickets[id2].Status; got != labels.StatusCommunityReview {
		t.Errorf("draft+unsigned status = %q, want Community Manager Review", got)
	}
}

func TestWIPTitleCountsAsDraft(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	snap.Title = "WIP: rework the paginator"

	id, _ := f.run(t, snap)

	if got := f.world.tickets[id].Status; got != labels.StatusWaitingOnAuthor {
		t.Errorf("status = %q, want Waiting on Author", got)
	}
}

func TestDraftUnblockOnAuthorAction(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	snap.Draft = true
	id, _ := f.run(t, snap)

	// Out of draft: the recovered blob says draft, the snapshot says not.
	snap.Draft = false
	_, changed := f.run(t, snap)
	if !changed {
		t.Error("leaving draft reported no change")
	}
	if got := f.world.tickets[id].Status; got != labels.StatusNeedsTriage {
		t.Errorf("status after un-draft = %q, want Needs Triage", got)
	}

	// Back into draft: the ticket does not re-transition.
	snap.Draft = true
	f.run(t, snap)
	if got := f.world.tickets[id].Status; got != labels.StatusNeedsTriage {
		t.Errorf("status after re-draft = %q, want Needs Triage", got)
	}
}

func TestManualStatusRespected(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	id, _ := f.run(t, snap)

	// A human moves the ticket along.
	f.world.tickets[id].Status = labels.StatusInEngReview

	_, changed := f.run(t, snap)
	if got := f.world.tickets[id].Status; got != labels.StatusInEngReview {
		t.Errorf("status = %q, manual transition was overridden", got)
	}
	if !changed {
		t.Error("changed = false, want true (status label update)")
	}
	if !f.world.prLabels["engineering review"] {
		t.Errorf("labels = %v, missing mirrored status", f.world.labelList())
	}

	if _, changed := f.run(t, snap); changed {
		t.Error("third run reported changes")
	}
}

func TestCommitterPR(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	snap.AuthorLogin = "nedbat"

	id, _ := f.run(t, snap)

	ticket := f.world.tickets[id]
	if ticket.Status != labels.StatusWaitingOnAuthor {
		t.Errorf("status = %q, want Waiting on Author", ticket.Status)
	}
	if !containsString(ticket.Labels, labels.TrackerCoreCommitter) {
		t.Errorf("ticket labels = %v, missing core-committer", ticket.Labels)
	}
	if !comments.IsKind(comments.CoreCommitter, f.primaryComment(t)) {
		t.Error("primary comment is not the committer comment")
	}
	if !f.world.prLabels[labels.CoreCommitter] {
		t.Errorf("labels = %v, missing core committer", f.world.labelList())
	}
}

func TestCommitterMergePingsChampions(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	snap.AuthorLogin = "nedbat"
	snap.State = "closed"
	snap.Merged = true

	f.run(t, snap)

	if len(f.world.comments) != 2 {
		t.Fatalf("comments = %d, want primary + ping", len(f.world.comments))
	}
	ping := f.world.comments[1].Body
	if !comments.IsKind(comments.ChampionMergePing, ping) {
		t.Error("second comment is not the merge ping")
	}
	if !strings.Contains(ping, "@felipemontoya") || !strings.Contains(ping, "@sarina") {
		t.Errorf("ping does not mention the champions: %q", ping)
	}

	// Redelivery of the merge event adds nothing.
	f.run(t, snap)
	if len(f.world.comments) != 2 {
		t.Errorf("comments after rerun = %d, want 2", len(f.world.comments))
	}
}

func TestBlendedPR(t *testing.T) {
	f := newFixture(t)
	f.epics.epic = &jira.Ticket{
		Key:   "BLENDED-13",
		Extra: map[string]string{FieldPlatformArea: "Learner Experience"},
	}
	snap := basePR()
	snap.Title = "[BD-34] Add program dashboard"

	id, _ := f.run(t, snap)

	if !strings.HasPrefix(id, "BLENDED-") {
		t.Fatalf("ticket id = %q, want a BLENDED ticket", id)
	}
	ticket := f.world.tickets[id]
	if ticket.EpicKey != "BLENDED-13" {
		t.Errorf("epic key = %q, want BLENDED-13", ticket.EpicKey)
	}
	if got := ticket.Extra[FieldPlatformArea]; got != "Learner Experience" {
		t.Errorf("platform area = %q, not inherited from the epic", got)
	}
	if !containsString(ticket.Labels, labels.Blended) {
		t.Errorf("ticket labels = %v, missing blended", ticket.Labels)
	}
	if !comments.IsKind(comments.Blended, f.primaryComment(t)) {
		t.Error("primary comment is not the blended comment")
	}

	if _, changed := f.run(t, snap); changed {
		t.Error("second run reported changes")
	}
}

func TestTicketRelocationAdopted(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	f.run(t, snap) // creates OSPR-100

	// The title gains a blended id, and someone already moved the
	// ticket to the blended project by hand.
	moved := *f.world.tickets["OSPR-100"]
	moved.Key = "BLENDED-55"
	moved.Labels = append(moved.Labels, labels.Blended)
	delete(f.world.tickets, "OSPR-100")
	f.world.tickets["BLENDED-55"] = &moved
	f.world.aliases["OSPR-100"] = "BLENDED-55"

	snap.Title = "[BD-34] " + snap.Title
	id, _ := f.run(t, snap)

	if id != "BLENDED-55" {
		t.Errorf("ticket id = %q, want the moved ticket adopted", id)
	}
	if len(f.world.deletedKeys) != 0 {
		t.Errorf("deleted %v, want no deletions", f.world.deletedKeys)
	}
	if len(f.world.tickets) != 1 {
		t.Errorf("tickets = %d, want 1", len(f.world.tickets))
	}
}

func TestProjectChangeReplacesTicket(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	f.run(t, snap) // creates OSPR-100

	snap.Title = "[BD-34] " + snap.Title
	id, changed := f.run(t, snap)

	if !changed {
		t.Error("changed = false, want true")
	}
	if !strings.HasPrefix(id, "BLENDED-") {
		t.Fatalf("ticket id = %q, want a BLENDED ticket", id)
	}
	if !containsString(f.world.deletedKeys, "OSPR-100") {
		t.Errorf("deleted %v, want OSPR-100 deleted", f.world.deletedKeys)
	}
	if !strings.Contains(f.primaryComment(t), "OSPR-100") {
		t.Error("comment does not mention the replaced ticket")
	}
}

func TestDeletedTicketNotRecreated(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	f.run(t, snap)
	delete(f.world.tickets, "OSPR-100")

	id, _ := f.run(t, snap)

	if id != "" {
		t.Errorf("ticket id = %q, want none", id)
	}
	if len(f.world.tickets) != 0 {
		t.Error("a replacement ticket was created")
	}
	// The comment keeps referring to the gone ticket.
	if !strings.Contains(f.primaryComment(t), "OSPR-100") {
		t.Error("comment no longer mentions the ticket")
	}
}

func TestAdHocAdditionsPreserved(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	id, _ := f.run(t, snap)

	// Humans decorate both sides.
	f.world.prLabels["urgent"] = true
	ticket := f.world.tickets[id]
	ticket.Labels = append(ticket.Labels, "customer-x")

	// A title edit forces field updates.
	snap.Title = "Fix pagination in the course list"
	f.run(t, snap)

	if !f.world.prLabels["urgent"] {
		t.Errorf("labels = %v, ad-hoc label was dropped", f.world.labelList())
	}
	if !containsString(f.world.tickets[id].Labels, "customer-x") {
		t.Errorf("ticket labels = %v, ad-hoc label was dropped", f.world.tickets[id].Labels)
	}
	if f.world.tickets[id].Summary != snap.Title {
		t.Errorf("summary = %q, not updated", f.world.tickets[id].Summary)
	}
}

func TestClosedPROpened(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	snap.State = "closed"
	snap.Merged = true

	id, _ := f.run(t, snap)

	if got := f.world.tickets[id].Status; got != labels.StatusMerged {
		t.Errorf("status = %q, want Merged", got)
	}
	body := f.primaryComment(t)
	if !comments.IsKind(comments.Welcome, body) || !comments.IsKind(comments.WelcomeClosed, body) {
		t.Error("comment is not the already-closed welcome")
	}
	if !strings.Contains(body, "already merged") {
		t.Errorf("comment lacks the merged phrasing: %q", body)
	}
	if !f.world.prLabels["merged"] {
		t.Errorf("labels = %v, missing merged", f.world.labelList())
	}
}

func TestClosedPRCommentFrozen(t *testing.T) {
	f := newFixture(t)
	snap := basePR()
	snap.Draft = true
	id, _ := f.run(t, snap)
	frozen := f.primaryComment(t)

	// Closed while still a draft: the ticket moves to Rejected but the
	// comment is never rewritten, even though the closed phrasing would
	// otherwise replace it.
	snap.State = "closed"
	f.run(t, snap)

	if got := f.world.tickets[id].Status; got != labels.StatusRejected {
		t.Errorf("status = %q, want Rejected", got)
	}
	if got := f.primaryComment(t); got != frozen {
		t.Error("closed pull request's comment was rewritten")
	}
}

func TestDryRunRecordsWithoutTouching(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dry := &DryRunActions{}
	engine := NewEngine(
		NewCurrentComputer(f.world, f.world),
		NewDesiredComputer(f.dir, f.cla, f.epics, "OSPR", "BLENDED", logger),
		dry, "https://tracker.opencourse.org/browse/", logger,
	)

	id, changed, err := engine.Reconcile(context.Background(), basePR())
	if err != nil {
		t.Fatalf("Reconcile() error: %v", err)
	}
	if id != "OSPR-9000" {
		t.Errorf("ticket id = %q, want the synthesized OSPR-9000", id)
	}
	if !changed {
		t.Error("changed = false, want true")
	}
	if len(f.world.tickets) != 0 || len(f.world.comments) != 0 {
		t.Error("dry run touched the world")
	}

	var ops []string
	for _, r := range dry.Records {
		ops = append(ops, r.Op)
	}
	want := []string{"synchronize_labels", "create_ticket", "replace_labels", "add_comment"}
	if !equalStrings(ops, want) {
		t.Errorf("ops = %v, want %v", ops, want)
	}
}

func TestUnrenderableKindIsFatal(t *testing.T) {
	f := newFixture(t)
	cur, err := NewCurrentComputer(f.world, f.world).Current(context.Background(), basePR())
	if err != nil {
		t.Fatal(err)
	}
	desired := &DesiredState{
		BotComments: map[comments.Kind]bool{comments.Kind("mystery"): true},
	}

	fixer := NewFixer(basePR(), cur, desired, f.world, "https://tracker.opencourse.org/browse/")
	_, _, err = fixer.Fix(context.Background())

	var inv *InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("error = %v, want InvariantError", err)
	}
	if !retry.IsPermanent(err) {
		t.Error("invariant violation is not marked permanent")
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
