package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

// CycleError reports a dependency cycle among plan steps.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}

// TopologicalOrder returns step ids in dependency order using Kahn's algorithm. Among steps
// that are ready at the same time, lower Order runs first, then lower id. Dependencies that
// do not name a step in the slice are ignored here; ValidatePlan reports them.
func TopologicalOrder(steps []models.RemediationStep) ([]string, error) {
	if len(steps) == 0 {
		return nil, nil
	}

	byID := make(map[string]models.RemediationStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}

	inDegree := make(map[string]int, len(byID))
	forward := make(map[string][]string)
	for id := range byID {
		inDegree[id] = 0
	}
	for id, s := range byID {
		for _, dep := range uniqueDeps(s.DependsOn) {
			if _, ok := byID[dep]; !ok {
				continue
			}
			inDegree[id]++
			forward[dep] = append(forward[dep], id)
		}
	}

	less := func(a, b string) bool {
		if byID[a].Order != byID[b].Order {
			return byID[a].Order < byID[b].Order
		}
		return a < b
	}

	var ready []string
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	sorted := make([]string, 0, len(byID))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		id := ready[0]
		ready = ready[1:]
		sorted = append(sorted, id)

		for _, dependent := range forward[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(sorted) == len(byID) {
		return sorted, nil
	}
	return nil, &CycleError{Path: findCyclePath(byID, inDegree)}
}

// findCyclePath walks the steps left with non-zero in-degree and returns one cycle.
func findCyclePath(byID map[string]models.RemediationStep, inDegree map[string]int) []string {
	const (
		white = iota
		gray
		black
	)

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	color := make(map[string]int, len(ids))
	parent := make(map[string]string)
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		color[id] = gray
		for _, dep := range uniqueDeps(byID[id].DependsOn) {
			if _, ok := byID[dep]; !ok {
				continue
			}
			switch color[dep] {
			case gray:
				cycle = []string{dep}
				for cur := id; cur != dep; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, dep)
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return true
			case white:
				parent[dep] = id
				if dfs(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, id := range ids {
		if inDegree[id] > 0 && color[id] == white && dfs(id) {
			return cycle
		}
	}
	return []string{"(cycle detected)"}
}

func uniqueDeps(deps []string) []string {
	if len(deps) < 2 {
		return deps
	}
	seen := make(map[string]struct{}, len(deps))
	out := make([]string, 0, len(deps))
	for _, d := range deps {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
