// Package registry reads the contributor registry: YAML files describing
// people (name, institution, agreement, committer rights) and
// organizations (internal / contractor flags). The files live in a data
// repository; loads are cached for a short TTL so a reconciliation burst
// doesn't hammer the code host.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Source fetches a registry data file by name (e.g. "people.yaml").
type Source interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
}

// CommitterRights describes where a person may commit directly.
type CommitterRights struct {
	Orgs      []string `yaml:"orgs"`
	Repos     []string `yaml:"repos"`
	Branches  []string `yaml:"branches"`
	Champions []string `yaml:"champions"`
}

// Person is one entry in people.yaml.
type Person struct {
	Name        string           `yaml:"name"`
	Institution string           `yaml:"institution"`
	Agreement   string           `yaml:"agreement"`
	Internal    bool             `yaml:"internal"`
	Contractor  bool             `yaml:"contractor"`
	Committer   *CommitterRights `yaml:"committer"`

	// Before holds dated overrides: the person's record as it stood
	// before each date (YYYY-MM-DD). Overrides layer newest-first until
	// one predates the reference time. Only keys present in a clause
	// override the base record.
	Before map[string]personOverride `yaml:"before"`
}

// personOverride is one dated "before" clause. It keeps the raw YAML
// nodes per key so an absent key can be told apart from a zero value.
type personOverride struct {
	fields map[string]yaml.Node
}

func (o *personOverride) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("before clause must be a mapping, got %s", node.Tag)
	}
	o.fields = make(map[string]yaml.Node, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		o.fields[node.Content[i].Value] = *node.Content[i+1]
	}
	return nil
}

// Org is one entry in orgs.yaml.
type Org struct {
	Internal   bool `yaml:"internal"`
	Contractor bool `yaml:"contractor"`
}

// Registry reads and caches the registry files.
type Registry struct {
	source Source
	ttl    time.Duration

	mu        sync.Mutex
	people    map[string]Person
	orgs      map[string]Org
	fetchedAt time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL overrides the default 15-minute cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// New creates a Registry backed by the given source.
func New(source Source, opts ...Option) *Registry {
	r := &Registry{source: source, ttl: 15 * time.Minute}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) load(ctx context.Context) (map[string]Person, map[string]Org, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.people != nil && time.Since(r.fetchedAt) < r.ttl {
		return r.people, r.orgs, nil
	}

	peopleRaw, err := r.source.ReadFile(ctx, "people.yaml")
	if err != nil {
		return nil, nil, fmt.Errorf("reading people.yaml: %w", err)
	}
	var people map[string]Person
	if err := yaml.Unmarshal(peopleRaw, &people); err != nil {
		return nil, nil, fmt.Errorf("parsing people.yaml: %w", err)
	}

	orgsRaw, err := r.source.ReadFile(ctx, "orgs.yaml")
	if err != nil {
		return nil, nil, fmt.Errorf("reading orgs.yaml: %w", err)
	}
	var orgs map[string]Org
	if err := yaml.Unmarshal(orgsRaw, &orgs); err != nil {
		return nil, nil, fmt.Errorf("parsing orgs.yaml: %w", err)
	}

	r.people = people
	r.orgs = orgs
	r.fetchedAt = time.Now()
	return people, orgs, nil
}

// Lookup returns the person's record as of the given time, layering any
// applicable "before" overrides. The bool is false for unknown logins.
func (r *Registry) Lookup(ctx context.Context, login string, at time.Time) (Person, bool, error) {
	people, _, err := r.load(ctx)
	if err != nil {
		return Person{}, false, err
	}
	person, ok := people[login]
	if !ok {
		return Person{}, false, nil
	}
	person, err = personAt(person, at)
	if err != nil {
		return Person{}, false, fmt.Errorf("record for %s: %w", login, err)
	}
	return person, true, nil
}

// personAt layers the "before" overrides that apply as of the reference
// time, newest first, stopping at the first clause the time has passed.
func personAt(person Person, at time.Time) (Person, error) {
	if len(person.Before) == 0 {
		return person, nil
	}
	dates := make([]string, 0, len(person.Before))
	for d := range person.Before {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))

	result := person
	day := at.Format("2006-01-02")
	for _, d := range dates {
		if day > d {
			break
		}
		var err error
		result, err = applyOverride(result, person.Before[d])
		if err != nil {
			return Person{}, fmt.Errorf("before %q: %w", d, err)
		}
	}
	result.Before = nil
	return result, nil
}

// applyOverride merges a dated clause over a base record. Keys absent
// from the clause keep the base value; an explicit "committer: null"
// strips committer rights.
func applyOverride(base Person, over personOverride) (Person, error) {
	out := base
	for key, node := range over.fields {
		var err error
		switch key {
		case "name":
			err = node.Decode(&out.Name)
		case "institution":
			err = node.Decode(&out.Institution)
		case "agreement":
			err = node.Decode(&out.Agreement)
		case "internal":
			err = node.Decode(&out.Internal)
		case "contractor":
			err = node.Decode(&out.Contractor)
		case "committer":
			out.Committer = nil
			if node.Tag != "!!null" {
				rights := &CommitterRights{}
				if err = node.Decode(rights); err == nil {
					out.Committer = rights
				}
			}
		}
		if err != nil {
			return Person{}, fmt.Errorf("key %q: %w", key, err)
		}
	}
	return out, nil
}

// Internal reports whether the author works for the project itself,
// either personally or through an internal institution.
func (r *Registry) Internal(ctx context.Context, login string, at time.Time) (bool, error) {
	return r.hasFlag(ctx, login, at, func(p Person, o Org) (bool, bool) {
		return p.Internal, o.Internal
	})
}

// Contractor reports whether the author belongs to an organization doing
// paid contract work for the project.
func (r *Registry) Contractor(ctx context.Context, login string, at time.Time) (bool, error) {
	return r.hasFlag(ctx, login, at, func(p Person, o Org) (bool, bool) {
		return p.Contractor, o.Contractor
	})
}

func (r *Registry) hasFlag(ctx context.Context, login string, at time.Time, flag func(Person, Org) (personFlag, orgFlag bool)) (bool, error) {
	person, ok, err := r.Lookup(ctx, login, at)
	if err != nil || !ok {
		return false, err
	}
	personFlag, _ := flag(person, Org{})
	if personFlag {
		return true, nil
	}
	if person.Institution == "" {
		return false, nil
	}
	_, orgs, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	org, ok := orgs[person.Institution]
	if !ok {
		return false, nil
	}
	_, orgFlag := flag(Person{}, org)
	return orgFlag, nil
}

// Committer reports whether the author has committer rights for the given
// repository and base branch. Branch patterns support glob syntax.
func (r *Registry) Committer(ctx context.Context, login, repo, branch string, at time.Time) (bool, error) {
	person, ok, err := r.Lookup(ctx, login, at)
	if err != nil || !ok {
		return false, err
	}
	rights := person.Committer
	if rights == nil {
		return false, nil
	}

	org := strings.SplitN(repo, "/", 2)[0]
	for _, o := range rights.Orgs {
		if o == org {
			return true, nil
		}
	}
	for _, rp := range rights.Repos {
		if rp == repo {
			return true, nil
		}
	}
	for _, pattern := range rights.Branches {
		matched, err := doublestar.Match(pattern, branch)
		if err != nil {
			return false, fmt.Errorf("bad branch pattern %q for %s: %w", pattern, login, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// HasAgreement reports whether the author has a signed contributor
// agreement on record. Unknown logins have none.
func (r *Registry) HasAgreement(ctx context.Context, login string, at time.Time) (bool, error) {
	person, ok, err := r.Lookup(ctx, login, at)
	if err != nil || !ok {
		return false, err
	}
	return person.Agreement != "" && person.Agreement != "none", nil
}

// Champions returns the champion logins for a committer, or nil.
func (r *Registry) Champions(ctx context.Context, login string, at time.Time) ([]string, error) {
	person, ok, err := r.Lookup(ctx, login, at)
	if err != nil || !ok {
		return nil, err
	}
	if person.Committer == nil {
		return nil, nil
	}
	return person.Committer.Champions, nil
}
