// Package jira is a typed client for the issue tracker's REST API.
// It covers exactly the operations the reconciler needs: JQL search,
// ticket CRUD, status transitions, and field updates. Custom fields are
// addressed by display name; the name→id mapping is resolved once per
// client and cached.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/opencourse/triagebot/internal/retry"
)

// ErrNotFound is returned when a ticket does not exist (deleted or moved
// out of reach). Callers recover from it locally; it is never transient.
var ErrNotFound = errors.New("ticket not found")

// Ticket is the reconciler's view of an issue-tracker ticket.
type Ticket struct {
	Key         string
	Summary     string
	Description string
	Status      string
	Labels      []string
	EpicKey     string

	// Extra holds custom-field values keyed by display name, for the
	// fields the client was configured to read.
	Extra map[string]string
}

// Project returns the project portion of the ticket key ("OSPR-12" →
// "OSPR").
func (t Ticket) Project() string {
	project, _, _ := strings.Cut(t.Key, "-")
	return project
}

// CreateInput holds the fields for a new ticket.
type CreateInput struct {
	Project         string
	Summary         string
	Description     string
	Labels          []string
	EpicKey         string
	PRURL           string
	PRNumber        int
	Repo            string
	ContributorName string
	Institution     string
	Extra           map[string]string
}

// UpdateInput holds a partial ticket update. Nil pointers leave the field
// untouched; a nil Labels slice leaves labels untouched.
type UpdateInput struct {
	Summary     *string
	Description *string
	Labels      []string
	EpicKey     *string
	Extra       map[string]string
}

// Empty reports whether the update would change nothing.
func (u UpdateInput) Empty() bool {
	return u.Summary == nil && u.Description == nil && u.Labels == nil &&
		u.EpicKey == nil && len(u.Extra) == 0
}

// Client talks to the tracker's REST API.
type Client struct {
	baseURL     string
	email       string
	token       string
	httpClient  *http.Client
	extraFields []string

	fieldsMu sync.Mutex
	fields   map[string]string // display name → internal field id
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithExtraFields sets the custom-field display names GetTicket reads
// into Ticket.Extra.
func WithExtraFields(names ...string) Option {
	return func(c *Client) { c.extraFields = names }
}

// New creates a tracker client for the given base URL, authenticating
// with basic auth (account email + API token).
func New(baseURL, email, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		email:      email,
		token:      token,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BrowseURL returns the base URL for human-facing ticket links.
func (c *Client) BrowseURL() string {
	return c.baseURL + "/browse/"
}

// do performs a JSON request. 5xx and network errors come back plain
// (transient); other non-2xx responses are wrapped permanent so callers
// never retry them.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("marshaling request: %w", err))
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return retry.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.SetBasicAuth(c.email, c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("tracker returned HTTP %d for %s %s: %s",
			resp.StatusCode, method, path, truncate(string(respBody), 200))
	case resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(fmt.Errorf("%s %s: %w", method, path, ErrNotFound))
	case resp.StatusCode >= 300:
		return retry.Permanent(fmt.Errorf("tracker returned HTTP %d for %s %s: %s",
			resp.StatusCode, method, path, truncate(string(respBody), 200)))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return retry.Permanent(fmt.Errorf("decoding response: %w", err))
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// issueNode is the wire shape of an issue; fields are kept raw so custom
// fields can be read by internal id.
type issueNode struct {
	Key    string          `json:"key"`
	Fields json.RawMessage `json:"fields"`
}

type issueFieldsNode struct {
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Status      struct {
		Name string `json:"name"`
	} `json:"status"`
}

// customFields resolves the custom-field display-name→id mapping. The
// catalog is fetched lazily and cached only on success, so a failed
// fetch is retried on the next run instead of sticking for the life of
// the process.
func (c *Client) customFields(ctx context.Context) (map[string]string, error) {
	c.fieldsMu.Lock()
	defer c.fieldsMu.Unlock()
	if c.fields != nil {
		return c.fields, nil
	}

	var nodes []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodGet, "/rest/api/2/field", nil, &nodes); err != nil {
		return nil, fmt.Errorf("fetching field catalog: %w", err)
	}
	fields := make(map[string]string, len(nodes))
	for _, n := range nodes {
		fields[n.Name] = n.ID
	}
	c.fields = fields
	return c.fields, nil
}

// FieldID resolves a custom-field display name to its internal id.
func (c *Client) FieldID(ctx context.Context, name string) (string, error) {
	fields, err := c.customFields(ctx)
	if err != nil {
		return "", err
	}
	id, ok := fields[name]
	if !ok {
		return "", retry.Permanent(fmt.Errorf("no tracker field named %q", name))
	}
	return id, nil
}

func (c *Client) ticketFromNode(ctx context.Context, node issueNode) (Ticket, error) {
	var fields issueFieldsNode
	if err := json.Unmarshal(node.Fields, &fields); err != nil {
		return Ticket{}, retry.Permanent(fmt.Errorf("decoding issue fields: %w", err))
	}

	ticket := Ticket{
		Key:         node.Key,
		Summary:     fields.Summary,
		Description: fields.Description,
		Status:      fields.Status.Name,
		Labels:      fields.Labels,
		Extra:       map[string]string{},
	}

	// Custom fields arrive keyed by internal id; pull out the epic link
	// and the configured extra fields by display name.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(node.Fields, &raw); err != nil {
		return Ticket{}, retry.Permanent(fmt.Errorf("decoding raw fields: %w", err))
	}
	readString := func(name string) (string, error) {
		id, err := c.FieldID(ctx, name)
		if err != nil {
			return "", err
		}
		val, ok := raw[id]
		if !ok || string(val) == "null" {
			return "", nil
		}
		var s string
		if err := json.Unmarshal(val, &s); err != nil {
			// Numeric custom fields come back as numbers.
			var n float64
			if err := json.Unmarshal(val, &n); err != nil {
				return "", nil
			}
			return fmt.Sprintf("%v", n), nil
		}
		return s, nil
	}

	epic, err := readString("Epic Link")
	if err != nil {
		return Ticket{}, err
	}
	ticket.EpicKey = epic

	for _, name := range c.extraFields {
		val, err := readString(name)
		if err != nil {
			return Ticket{}, err
		}
		if val != "" {
			ticket.Extra[name] = val
		}
	}
	return ticket, nil
}

// GetTicket fetches one ticket by key. Returns ErrNotFound (wrapped) if
// the ticket has been deleted.
func (c *Client) GetTicket(ctx context.Context, key string) (Ticket, error) {
	var node issueNode
	if err := c.do(ctx, http.MethodGet, "/rest/api/2/issue/"+key, nil, &node); err != nil {
		return Ticket{}, err
	}
	return c.ticketFromNode(ctx, node)
}

// Search runs a JQL query and returns the matching tickets.
func (c *Client) Search(ctx context.Context, jql string) ([]Ticket, error) {
	path := "/rest/api/2/search?jql=" + url.QueryEscape(jql)
	var result struct {
		Issues []issueNode `json:"issues"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("searching %q: %w", jql, err)
	}
	tickets := make([]Ticket, 0, len(result.Issues))
	for _, node := range result.Issues {
		ticket, err := c.ticketFromNode(ctx, node)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

// CreateTicket creates a new review ticket and returns it. The returned
// ticket carries the tracker's default creation status.
func (c *Client) CreateTicket(ctx context.Context, input CreateInput) (Ticket, error) {
	fields := map[string]any{
		"project":     map[string]string{"key": input.Project},
		"issuetype":   map[string]string{"name": "Pull Request Review"},
		"summary":     input.Summary,
		"description": input.Description,
		"labels":      input.Labels,
	}

	set := func(name string, value any) error {
		id, err := c.FieldID(ctx, name)
		if err != nil {
			return err
		}
		fields[id] = value
		return nil
	}
	if err := set("URL", input.PRURL); err != nil {
		return Ticket{}, err
	}
	if err := set("PR Number", input.PRNumber); err != nil {
		return Ticket{}, err
	}
	if err := set("Repo", input.Repo); err != nil {
		return Ticket{}, err
	}
	if err := set("Contributor Name", input.ContributorName); err != nil {
		return Ticket{}, err
	}
	if input.Institution != "" {
		if err := set("Customer", []string{input.Institution}); err != nil {
			return Ticket{}, err
		}
	}
	if input.EpicKey != "" {
		if err := set("Epic Link", input.EpicKey); err != nil {
			return Ticket{}, err
		}
	}
	for name, value := range input.Extra {
		if err := set(name, value); err != nil {
			return Ticket{}, err
		}
	}

	var created struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/2/issue", map[string]any{"fields": fields}, &created); err != nil {
		return Ticket{}, fmt.Errorf("creating ticket: %w", err)
	}

	return Ticket{
		Key:         created.Key,
		Summary:     input.Summary,
		Description: input.Description,
		Status:      "Needs Triage", // tracker's creation status for this issue type
		Labels:      input.Labels,
		EpicKey:     input.EpicKey,
		Extra:       input.Extra,
	}, nil
}

// DeleteTicket deletes a ticket.
func (c *Client) DeleteTicket(ctx context.Context, key string) error {
	if err := c.do(ctx, http.MethodDelete, "/rest/api/2/issue/"+key, nil, nil); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Transition moves a ticket to the named status. The tracker addresses
// transitions by id, so the available transitions are listed first and
// matched by target status name.
func (c *Client) Transition(ctx context.Context, key, status string) error {
	var list struct {
		Transitions []struct {
			ID string `json:"id"`
			To struct {
				Name string `json:"name"`
			} `json:"to"`
		} `json:"transitions"`
	}
	path := "/rest/api/2/issue/" + key + "/transitions"
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return fmt.Errorf("listing transitions for %s: %w", key, err)
	}

	for _, tr := range list.Transitions {
		if tr.To.Name == status {
			body := map[string]any{"transition": map[string]string{"id": tr.ID}}
			if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
				return fmt.Errorf("transitioning %s to %q: %w", key, status, err)
			}
			return nil
		}
	}
	return retry.Permanent(fmt.Errorf("no transition from %s to status %q", key, status))
}

// UpdateFields applies a partial update to a ticket.
func (c *Client) UpdateFields(ctx context.Context, key string, input UpdateInput) error {
	if input.Empty() {
		return nil
	}

	fields := map[string]any{}
	if input.Summary != nil {
		fields["summary"] = *input.Summary
	}
	if input.Description != nil {
		fields["description"] = *input.Description
	}
	if input.Labels != nil {
		fields["labels"] = input.Labels
	}
	if input.EpicKey != nil {
		id, err := c.FieldID(ctx, "Epic Link")
		if err != nil {
			return err
		}
		fields[id] = *input.EpicKey
	}
	for name, value := range input.Extra {
		id, err := c.FieldID(ctx, name)
		if err != nil {
			return err
		}
		fields[id] = value
	}

	if err := c.do(ctx, http.MethodPut, "/rest/api/2/issue/"+key, map[string]any{"fields": fields}, nil); err != nil {
		return fmt.Errorf("updating %s: %w", key, err)
	}
	return nil
}
