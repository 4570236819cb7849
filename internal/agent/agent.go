// Package agent defines the runtime contract for schedulable agents: named
// units of work that return a flat mapping of metric name to scalar, plus
// the registry that resolves agent names at fire time.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Agent is a named unit of recurring work.
type Agent interface {
	Name() string
	Run(ctx context.Context) (map[string]any, error)
}

// Constructor builds a fresh agent instance for one execution.
type Constructor func() (Agent, error)

// Registry maps short agent names to constructors. It is seeded once at
// startup and passed explicitly to the scheduler.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: map[string]Constructor{}}
}

// Register adds a constructor under name, replacing any previous entry.
func (r *Registry) Register(name string, c Constructor) {
	r.constructors[name] = c
}

// Names returns the registered agent names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the agent registered under name. An unknown name is a
// fatal, non-retryable error listing the registered names.
func (r *Registry) Resolve(name string) (Agent, error) {
	c, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q (registered: %s)", name, strings.Join(r.Names(), ", "))
	}
	a, err := c()
	if err != nil {
		return nil, fmt.Errorf("construct agent %q: %w", name, err)
	}
	if strings.TrimSpace(a.Name()) == "" {
		return nil, fmt.Errorf("agent registered under %q has an empty name", name)
	}
	return a, nil
}
