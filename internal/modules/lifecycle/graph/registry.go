// Package graph holds the declared parent/child dependency graph between
// collections. It is loaded once at startup and is read-only afterwards.
package graph

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const registryEnv = "LIFECYCLE_REGISTRY_YAML"

//go:embed registry.yaml
var registryFS embed.FS

type Strategy string

const (
	StrategyHard Strategy = "hard"
	StrategySoft Strategy = "soft"
)

// Edge points from a parent collection to a child collection. Field is the
// child's column holding the parent id.
type Edge struct {
	Parent string
	Child  string
	Field  string
}

type Collection struct {
	Name     string
	Strategy Strategy
	// Bookkeeping collections record work about other records. They are
	// deleted with their parents but not counted as content dependents.
	Bookkeeping bool
	Children    []Edge
}

type Registry struct {
	root        string
	order       []string
	collections map[string]*Collection
	parents     map[string][]Edge
}

type yamlRegistry struct {
	Registry    string           `yaml:"registry"`
	Version     int              `yaml:"version"`
	Root        string           `yaml:"root"`
	Collections []yamlCollection `yaml:"collections"`
}

type yamlCollection struct {
	Name        string      `yaml:"name"`
	Strategy    string      `yaml:"strategy"`
	Bookkeeping bool        `yaml:"bookkeeping"`
	Children    []yamlChild `yaml:"children"`
}

type yamlChild struct {
	Collection string `yaml:"collection"`
	Field      string `yaml:"field"`
}

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Load reads the registry from LIFECYCLE_REGISTRY_YAML when set, otherwise from
// the embedded declaration.
func Load() (*Registry, error) {
	var (
		data []byte
		err  error
	)
	if path := strings.TrimSpace(os.Getenv(registryEnv)); path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = registryFS.ReadFile("registry.yaml")
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// MustLoad is Load for callers that cannot continue without a registry.
func MustLoad() *Registry {
	r, err := Load()
	if err != nil {
		panic(err)
	}
	return r
}

func Parse(data []byte) (*Registry, error) {
	var spec yamlRegistry
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return build(&spec)
}

func build(spec *yamlRegistry) (*Registry, error) {
	if spec == nil || len(spec.Collections) == 0 {
		return nil, errors.New("registry: no collections defined")
	}
	r := &Registry{
		root:        strings.TrimSpace(spec.Root),
		collections: map[string]*Collection{},
		parents:     map[string][]Edge{},
	}
	if r.root == "" {
		return nil, errors.New("registry: root is required")
	}

	for _, c := range spec.Collections {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, errors.New("registry: collection name is required")
		}
		if _, exists := r.collections[name]; exists {
			return nil, fmt.Errorf("registry: duplicate collection %s", name)
		}
		strategy := Strategy(strings.ToLower(strings.TrimSpace(c.Strategy)))
		if strategy == "" {
			strategy = StrategyHard
		}
		if strategy != StrategyHard && strategy != StrategySoft {
			return nil, fmt.Errorf("registry: collection %s: unknown strategy %q", name, c.Strategy)
		}
		r.collections[name] = &Collection{Name: name, Strategy: strategy, Bookkeeping: c.Bookkeeping}
		r.order = append(r.order, name)
	}

	for _, c := range spec.Collections {
		parent := strings.TrimSpace(c.Name)
		seen := map[string]bool{}
		for _, ch := range c.Children {
			child := strings.TrimSpace(ch.Collection)
			field := strings.TrimSpace(ch.Field)
			if _, ok := r.collections[child]; !ok {
				return nil, fmt.Errorf("registry: %s: unknown child collection %q", parent, child)
			}
			if !fieldPattern.MatchString(field) {
				return nil, fmt.Errorf("registry: %s -> %s: invalid reference field %q", parent, child, field)
			}
			if seen[child] {
				return nil, fmt.Errorf("registry: %s: duplicate child %s", parent, child)
			}
			seen[child] = true
			e := Edge{Parent: parent, Child: child, Field: field}
			r.collections[parent].Children = append(r.collections[parent].Children, e)
			r.parents[child] = append(r.parents[child], e)
		}
	}

	if _, ok := r.collections[r.root]; !ok {
		return nil, fmt.Errorf("registry: root %s is not a declared collection", r.root)
	}
	if len(r.parents[r.root]) > 0 {
		return nil, fmt.Errorf("registry: root %s must not have parents", r.root)
	}
	if err := r.checkAcyclic(); err != nil {
		return nil, err
	}
	reach := r.Reachable(r.root)
	for _, name := range r.order {
		if !reach[name] {
			return nil, fmt.Errorf("registry: collection %s is not reachable from root %s", name, r.root)
		}
	}
	return r, nil
}

func (r *Registry) checkAcyclic() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case grey:
			return fmt.Errorf("registry: cycle detected: %s -> %s", strings.Join(path, " -> "), name)
		case black:
			return nil
		}
		color[name] = grey
		for _, e := range r.collections[name].Children {
			if err := visit(e.Child, append(path, name)); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}
	for _, name := range r.order {
		if color[name] == white {
			if err := visit(name, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) Root() string { return r.root }

// Collections lists every collection in declaration order.
func (r *Registry) Collections() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Has(name string) bool {
	_, ok := r.collections[name]
	return ok
}

// ChildrenOf returns the child edges of a collection in declaration order.
func (r *Registry) ChildrenOf(name string) []Edge {
	c, ok := r.collections[name]
	if !ok {
		return nil
	}
	out := make([]Edge, len(c.Children))
	copy(out, c.Children)
	return out
}

func (r *Registry) ParentsOf(name string) []Edge {
	in := r.parents[name]
	out := make([]Edge, len(in))
	copy(out, in)
	return out
}

func (r *Registry) Strategy(name string) Strategy {
	if c, ok := r.collections[name]; ok {
		return c.Strategy
	}
	return StrategyHard
}

func (r *Registry) Bookkeeping(name string) bool {
	c, ok := r.collections[name]
	return ok && c.Bookkeeping
}

// Reachable returns the set of collections reachable from start, start included.
func (r *Registry) Reachable(start string) map[string]bool {
	out := map[string]bool{}
	if !r.Has(start) {
		return out
	}
	queue := []string{start}
	out[start] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range r.collections[cur].Children {
			if !out[e.Child] {
				out[e.Child] = true
				queue = append(queue, e.Child)
			}
		}
	}
	return out
}
