package pipeline

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Plan orders stages so every stage runs after the producers of its
// required and optional inputs. Among stages that are ready at the same
// time, registration order wins. Two stages producing one relation, or a
// dependency cycle, are errors.
func Plan(stages []Stage) ([]Stage, error) {
	producer := make(map[string]int)
	for i, s := range stages {
		for _, rel := range s.Produces() {
			if j, dup := producer[rel]; dup {
				return nil, eris.Errorf("pipeline: relation %q produced by both %s and %s",
					rel, stages[j].Name(), s.Name())
			}
			producer[rel] = i
		}
	}

	deps := make([]map[int]bool, len(stages))
	indegree := make([]int, len(stages))
	dependents := make([][]int, len(stages))
	for i, s := range stages {
		deps[i] = make(map[int]bool)
		for _, rel := range append(append([]string(nil), s.Requires()...), s.Optional()...) {
			j, ok := producer[rel]
			if !ok || deps[i][j] {
				continue
			}
			if j == i {
				return nil, eris.Errorf("pipeline: stage %s consumes its own output %q", s.Name(), rel)
			}
			deps[i][j] = true
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	done := make([]bool, len(stages))
	out := make([]Stage, 0, len(stages))
	for len(out) < len(stages) {
		next := -1
		for i := range stages {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, s := range stages {
				if !done[i] {
					stuck = append(stuck, s.Name())
				}
			}
			return nil, eris.Errorf("pipeline: dependency cycle among %s", strings.Join(stuck, ", "))
		}
		done[next] = true
		out = append(out, stages[next])
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return out, nil
}
