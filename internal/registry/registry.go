// Package registry holds the static catalog of automation agents. The
// catalog is parsed once from the embedded YAML at process start and never
// mutated; introspection commands enumerate it in declaration order.
package registry

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed agents.yaml
var agentsYAML []byte

// Agent is one automation entry point.
type Agent struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Description  string `yaml:"description" json:"description"`
	EntryCommand string `yaml:"entry_command" json:"entry_command"`
}

// Registry is the immutable agent catalog.
type Registry struct {
	agents []Agent
}

// Load parses the embedded default catalog. Panics on a malformed embed are
// not possible; errors only surface for caller-supplied catalogs via Parse.
func Load() (*Registry, error) {
	return Parse(agentsYAML)
}

// MustLoad is Load for process startup, where a malformed embedded catalog
// is a build defect.
func MustLoad() *Registry {
	r, err := Load()
	if err != nil {
		panic(err)
	}
	return r
}

// Parse builds a registry from YAML. Every agent must carry an id, name, and
// entry command; duplicate ids are rejected.
func Parse(data []byte) (*Registry, error) {
	var doc struct {
		Agents []Agent `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing agent catalog: %w", err)
	}

	seen := make(map[string]bool, len(doc.Agents))
	for _, a := range doc.Agents {
		if a.ID == "" || a.Name == "" || a.EntryCommand == "" {
			return nil, fmt.Errorf("agent %+v missing id, name, or entry_command", a)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return &Registry{agents: doc.Agents}, nil
}

// List returns the agents in declaration order. The returned slice is a copy.
func (r *Registry) List() []Agent {
	return append([]Agent(nil), r.agents...)
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	return len(r.agents)
}
