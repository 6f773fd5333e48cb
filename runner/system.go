// Package runner is the top-level entry point: given a System graph and a
// Store, it constructs one ProcessHost per (process, pipeline), wires their
// upstream/downstream relations, and drives Init/Call/Stop across all of
// them (spec §2, §4.1).
package runner

import (
	"github.com/relabs-tech/kurbisio-runner/runner/process"
	"github.com/relabs-tech/kurbisio-runner/runner/store"
)

// ProcessFactory constructs a fresh process.Application for one pipeline.
// Called once per (process name, pipeline id) the Runner is built for.
type ProcessFactory func(pipeline int, st store.Store) process.Application

// ProcessDef is one node of the System graph: a named process application
// and the upstream names it follows (spec §2's "b follows a" relation).
type ProcessDef struct {
	Name     string
	Factory  ProcessFactory
	Upstream []string
}

// System is the static directed graph `G = (P, E)` of spec §2: processes
// and their "follows" edges. It's pure configuration — no goroutines or
// stores are involved until a Runner is built from it.
type System struct {
	Processes []ProcessDef
}

// validate checks that every named upstream actually exists in the graph
// and that process names are unique, returning a *runnererrors.ProgrammingError
// describing the first problem found.
func (s System) validate() error {
	seen := make(map[string]bool, len(s.Processes))
	for _, p := range s.Processes {
		if seen[p.Name] {
			return newConfigError("duplicate process name %q", p.Name)
		}
		seen[p.Name] = true
	}
	for _, p := range s.Processes {
		for _, up := range p.Upstream {
			if !seen[up] {
				return newConfigError("process %q follows unknown upstream %q", p.Name, up)
			}
		}
	}
	return nil
}

// downstreamOf returns the names of every process that follows name.
func (s System) downstreamOf(name string) []string {
	var downstream []string
	for _, p := range s.Processes {
		for _, up := range p.Upstream {
			if up == name {
				downstream = append(downstream, p.Name)
				break
			}
		}
	}
	return downstream
}
