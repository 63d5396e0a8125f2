// Package orchestration resolves a set of agent specs into a dependency DAG
// and drives them to completion via the Runtime and an Engine execution
// substrate (SPEC_FULL.md §4.6). Dependency resolution and scheduling match
// spec.md §4.6 exactly: Kahn's algorithm for topological ordering, ties
// broken by (priority desc, name asc), a bounded number of agents running
// concurrently.
package orchestration

import (
	"fmt"
	"sort"

	"github.com/toka-systems/toka/ids"
)

// Priority is an ordinal agent priority: critical > high > medium > low.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 3,
	PriorityHigh:     2,
	PriorityMedium:   1,
	PriorityLow:      0,
}

// Spec is the orchestration-level view of an agent: just enough to build
// the dependency graph and drive scheduling. The richer executor-level
// AgentSpec (objectives, tools, resource limits) lives in package executor;
// orchestration only needs the fields relevant to ordering.
type Spec struct {
	Name       string
	Requires   []string
	Provides   []string
	Priority   Priority
	SpecDigest ids.CausalDigest
}

// CycleError reports a dependency cycle, including the path that closes it.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("orchestration: dependency cycle: %v", e.Path)
}

// graph is the resolved dependency structure: for each agent name, the set
// of agent names it depends on (by Requires matching another spec's
// Provides, or directly naming another agent).
type graph struct {
	specs   map[string]Spec
	depends map[string][]string
}

// buildGraph resolves Requires against Provides/Name and returns the
// dependency edges. A Requires entry matches either another spec's exact
// Name or any capability in its Provides set.
func buildGraph(specs []Spec) (*graph, error) {
	byName := make(map[string]Spec, len(specs))
	providers := make(map[string][]string) // capability -> provider names
	for _, s := range specs {
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("orchestration: duplicate agent name %q", s.Name)
		}
		byName[s.Name] = s
		for _, cap := range s.Provides {
			providers[cap] = append(providers[cap], s.Name)
		}
	}

	depends := make(map[string][]string, len(specs))
	for _, s := range specs {
		seen := make(map[string]struct{})
		for _, req := range s.Requires {
			var matches []string
			if _, ok := byName[req]; ok {
				matches = []string{req}
			} else {
				matches = providers[req]
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("orchestration: %q requires unresolvable %q", s.Name, req)
			}
			for _, m := range matches {
				if m == s.Name {
					continue
				}
				if _, dup := seen[m]; dup {
					continue
				}
				seen[m] = struct{}{}
				depends[s.Name] = append(depends[s.Name], m)
			}
		}
	}

	return &graph{specs: byName, depends: depends}, nil
}

// topoOrder returns specs in a valid topological order, ties between
// concurrently-eligible nodes broken by (priority desc, name asc), per
// spec.md §4.6. Returns a *CycleError if the graph is not a DAG.
func topoOrder(g *graph) ([]string, error) {
	indegree := make(map[string]int, len(g.specs))
	dependents := make(map[string][]string, len(g.specs))
	for name := range g.specs {
		indegree[name] = 0
	}
	for name, deps := range g.depends {
		indegree[name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	var order []string
	for len(ready) > 0 {
		sortByPriorityThenName(g, ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(g.specs) {
		return nil, &CycleError{Path: cyclePath(g, indegree)}
	}
	return order, nil
}

func sortByPriorityThenName(g *graph, names []string) {
	sort.Slice(names, func(i, j int) bool {
		pi, pj := priorityRank[g.specs[names[i]].Priority], priorityRank[g.specs[names[j]].Priority]
		if pi != pj {
			return pi > pj
		}
		return names[i] < names[j]
	})
}

// cyclePath returns one dependency cycle among the names still blocked
// (indegree > 0) after Kahn's algorithm stalls, first and last entry being
// the same agent. Every blocked agent has a blocked dependency, so following
// those edges from the alphabetically first blocked agent reaches a cycle.
func cyclePath(g *graph, indegree map[string]int) []string {
	var stuck []string
	for name, deg := range indegree {
		if deg > 0 {
			stuck = append(stuck, name)
		}
	}
	sort.Strings(stuck)

	pos := make(map[string]int)
	var path []string
	for cur := stuck[0]; ; {
		if i, seen := pos[cur]; seen {
			return append(path[i:], cur)
		}
		pos[cur] = len(path)
		path = append(path, cur)
		for _, dep := range g.depends[cur] {
			if indegree[dep] > 0 {
				cur = dep
				break
			}
		}
	}
}
