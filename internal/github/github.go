// Package github is a typed client for the code-host API, covering the
// operations the reconciler needs: pull-request reads, label management,
// issue comments, and commit statuses. Calls are not retried here; 4xx
// responses are marked permanent so the worker can retry the rest at the
// run level.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v68/github"

	"github.com/bradleyfalzon/ghinstallation/v2"
	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/opencourse/triagebot/internal/retry"
)

// PullRequest is the client's view of a pull request.
type PullRequest struct {
	Number      int
	HTMLURL     string
	Title       string
	Body        string
	State       string // "open" or "closed"
	Merged      bool
	Draft       bool
	Additions   int
	Deletions   int
	Labels      []string
	AuthorLogin string
	AuthorType  string // "User" or "Bot"
	BaseRepo    string // "owner/name"
	BaseBranch  string
	HeadSHA     string
	CreatedAt   time.Time
}

// IssueComment is a comment on a pull request's conversation thread.
type IssueComment struct {
	ID          int64
	Body        string
	AuthorLogin string
}

// Label pairs a label name with its display color.
type Label struct {
	Name  string
	Color string
}

// Client is a typed code-host API client wrapping go-github.
type Client struct {
	gh *gh.Client

	botOnce  sync.Once
	botLogin string
	botErr   error
}

// Option configures a Client.
type Option func(*clientConfig)

// AppCredentials holds GitHub App authentication parameters.
type AppCredentials struct {
	ClientID       string
	InstallationID int64
	PrivateKeyPath string
}

type clientConfig struct {
	baseURL string
	app     *AppCredentials
}

// readKeyFile is a variable for testing; defaults to os.ReadFile.
var readKeyFile = os.ReadFile

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithAppAuth configures GitHub App authentication using a Client ID,
// installation ID, and private key file. When set, token is ignored.
func WithAppAuth(app AppCredentials) Option {
	return func(c *clientConfig) { c.app = &app }
}

// New creates a code-host client. With WithAppAuth the client
// authenticates as an App installation; otherwise with the given
// personal access token.
func New(token string, opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}

	var client *gh.Client
	if cfg.app != nil {
		httpClient, err := newAppHTTPClient(cfg.app, cfg.baseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring App auth: %w", err)
		}
		client = gh.NewClient(httpClient)
	} else {
		client = gh.NewClient(nil).WithAuthToken(token)
	}
	if cfg.baseURL != "" {
		client, _ = client.WithEnterpriseURLs(cfg.baseURL, cfg.baseURL)
	}

	return &Client{gh: client}, nil
}

// newAppHTTPClient creates an http.Client with an App installation
// transport that uses the Client ID (string) as the JWT issuer.
func newAppHTTPClient(app *AppCredentials, baseURL string) (*http.Client, error) {
	keyPath := expandHome(app.PrivateKeyPath)
	keyData, err := readKeyFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key %s: %w", app.PrivateKeyPath, err)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	signer := &clientIDSigner{
		clientID: app.ClientID,
		method:   jwt.SigningMethodRS256,
		key:      key,
	}

	atr, err := ghinstallation.NewAppsTransportWithOptions(
		http.DefaultTransport, 0, // appID unused, the signer sets the issuer
		ghinstallation.WithSigner(signer),
	)
	if err != nil {
		return nil, fmt.Errorf("creating apps transport: %w", err)
	}
	if baseURL != "" {
		atr.BaseURL = baseURL
	}

	itr := ghinstallation.NewFromAppsTransport(atr, app.InstallationID)
	if baseURL != "" {
		itr.BaseURL = baseURL
	}

	return &http.Client{Transport: itr}, nil
}

// clientIDSigner implements ghinstallation.Signer using a string Client
// ID as the JWT issuer instead of a numeric App ID.
type clientIDSigner struct {
	clientID string
	method   jwt.SigningMethod
	key      any
}

func (s *clientIDSigner) Sign(claims jwt.Claims) (string, error) {
	if rc, ok := claims.(*jwt.RegisteredClaims); ok {
		rc.Issuer = s.clientID
	}
	return jwt.NewWithClaims(s.method, claims).SignedString(s.key)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// classifyErr marks client errors (4xx) as permanent; server errors and
// network failures stay retryable for the worker's run-level retry.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		if ghErr.Response.StatusCode >= 400 && ghErr.Response.StatusCode < 500 {
			return retry.Permanent(err)
		}
	}
	return err
}

// splitRepo splits "owner/name" into its parts.
func splitRepo(repo string) (owner, name string) {
	owner, name, _ = strings.Cut(repo, "/")
	return owner, name
}

// BotLogin returns the login of the authenticated identity, resolved once
// and cached. Comments by this login are the bot's own.
func (c *Client) BotLogin(ctx context.Context) (string, error) {
	c.botOnce.Do(func() {
		user, _, err := c.gh.Users.Get(ctx, "")
		if err != nil {
			c.botErr = classifyErr(fmt.Errorf("resolving bot identity: %w", err))
			return
		}
		c.botLogin = user.GetLogin()
	})
	return c.botLogin, c.botErr
}

// GetPullRequest fetches one pull request with full detail (including
// line counts, which list endpoints omit).
func (c *Client) GetPullRequest(ctx context.Context, repo string, number int) (PullRequest, error) {
	owner, name := splitRepo(repo)
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return PullRequest{}, classifyErr(fmt.Errorf("fetching pull request %s#%d: %w", repo, number, err))
	}
	return prFromGH(pr), nil
}

// ListOpenPullRequests returns the numbers of all open pull requests in
// the repository.
func (c *Client) ListOpenPullRequests(ctx context.Context, repo string) ([]int, error) {
	owner, name := splitRepo(repo)
	var numbers []int
	opts := &gh.PullRequestListOptions{
		State:       "open",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, classifyErr(fmt.Errorf("listing open pull requests in %s: %w", repo, err))
		}
		for _, pr := range prs {
			numbers = append(numbers, pr.GetNumber())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return numbers, nil
}

// ListComments returns all conversation comments on a pull request, in
// creation order.
func (c *Client) ListComments(ctx context.Context, repo string, number int) ([]IssueComment, error) {
	owner, name := splitRepo(repo)
	var all []IssueComment
	opts := &gh.IssueListCommentsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, classifyErr(fmt.Errorf("listing comments on %s#%d: %w", repo, number, err))
		}
		for _, cm := range comments {
			all = append(all, IssueComment{
				ID:          cm.GetID(),
				Body:        cm.GetBody(),
				AuthorLogin: cm.GetUser().GetLogin(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// AddComment posts a new conversation comment and returns its id.
func (c *Client) AddComment(ctx context.Context, repo string, number int, body string) (int64, error) {
	owner, name := splitRepo(repo)
	cm, _, err := c.gh.Issues.CreateComment(ctx, owner, name, number, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return 0, classifyErr(fmt.Errorf("adding comment to %s#%d: %w", repo, number, err))
	}
	return cm.GetID(), nil
}

// EditComment replaces the body of an existing comment.
func (c *Client) EditComment(ctx context.Context, repo string, commentID int64, body string) error {
	owner, name := splitRepo(repo)
	_, _, err := c.gh.Issues.EditComment(ctx, owner, name, commentID, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return classifyErr(fmt.Errorf("editing comment %d on %s: %w", commentID, repo, err))
	}
	return nil
}

// ReplaceLabels sets the full label set on a pull request.
func (c *Client) ReplaceLabels(ctx context.Context, repo string, number int, names []string) error {
	owner, name := splitRepo(repo)
	_, _, err := c.gh.Issues.ReplaceLabelsForIssue(ctx, owner, name, number, names)
	if err != nil {
		return classifyErr(fmt.Errorf("replacing labels on %s#%d: %w", repo, number, err))
	}
	return nil
}

// CreateMissingLabels registers any of the wanted labels the repository
// doesn't have yet. Existing labels are left alone, whatever their color.
func (c *Client) CreateMissingLabels(ctx context.Context, repo string, wanted []Label) error {
	owner, name := splitRepo(repo)

	existing := map[string]bool{}
	opts := &gh.ListOptions{PerPage: 100}
	for {
		lbls, resp, err := c.gh.Issues.ListLabels(ctx, owner, name, opts)
		if err != nil {
			return classifyErr(fmt.Errorf("listing labels in %s: %w", repo, err))
		}
		for _, l := range lbls {
			existing[l.GetName()] = true
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	for _, want := range wanted {
		if existing[want.Name] {
			continue
		}
		_, _, err := c.gh.Issues.CreateLabel(ctx, owner, name, &gh.Label{
			Name:  gh.Ptr(want.Name),
			Color: gh.Ptr(want.Color),
		})
		if err != nil {
			return classifyErr(fmt.Errorf("creating label %q in %s: %w", want.Name, repo, err))
		}
	}
	return nil
}

// CommitStatus returns the state of the named status context on a commit
// ("success", "pending", "failure"), or "" if the context is absent.
func (c *Client) CommitStatus(ctx context.Context, repo, ref, statusContext string) (string, error) {
	owner, name := splitRepo(repo)
	combined, _, err := c.gh.Repositories.GetCombinedStatus(ctx, owner, name, ref, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return "", classifyErr(fmt.Errorf("fetching statuses for %s@%s: %w", repo, ref, err))
	}
	for _, st := range combined.Statuses {
		if st.GetContext() == statusContext {
			return st.GetState(), nil
		}
	}
	return "", nil
}

func prFromGH(pr *gh.PullRequest) PullRequest {
	p := PullRequest{
		Number:      pr.GetNumber(),
		HTMLURL:     pr.GetHTMLURL(),
		Title:       pr.GetTitle(),
		Body:        pr.GetBody(),
		State:       pr.GetState(),
		Merged:      pr.GetMerged(),
		Draft:       pr.GetDraft(),
		Additions:   pr.GetAdditions(),
		Deletions:   pr.GetDeletions(),
		AuthorLogin: pr.GetUser().GetLogin(),
		AuthorType:  pr.GetUser().GetType(),
		CreatedAt:   pr.GetCreatedAt().Time,
	}
	for _, l := range pr.Labels {
		p.Labels = append(p.Labels, l.GetName())
	}
	if pr.Base != nil {
		p.BaseBranch = pr.Base.GetRef()
		if pr.Base.Repo != nil {
			p.BaseRepo = pr.Base.Repo.GetFullName()
		}
	}
	if pr.Head != nil {
		p.HeadSHA = pr.Head.GetSHA()
	}
	return p
}
