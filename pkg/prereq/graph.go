// Package prereq implements the static Prerequisite Graph: a DAG over
// stage IDs with predecessor lookup, transitive-dependent computation
// (used for cascade-block), and topological ordering. Construction
// rejects cyclic edge sets outright.
package prereq

import (
	"fmt"
	"sort"

	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
)

// Graph is an immutable DAG of stage dependencies.
type Graph struct {
	predecessors map[contracts.StageID]map[contracts.StageID]bool
	order        []contracts.StageID
}

// New builds a Graph from a predecessor map: stage -> set of direct
// predecessors. It rejects the graph if the declared edges form a
// cycle.
func New(predecessors map[contracts.StageID][]contracts.StageID) (*Graph, error) {
	g := &Graph{predecessors: make(map[contracts.StageID]map[contracts.StageID]bool)}

	stages := make(map[contracts.StageID]bool)
	for stage, preds := range predecessors {
		stages[stage] = true
		set := make(map[contracts.StageID]bool, len(preds))
		for _, p := range preds {
			set[p] = true
			stages[p] = true
		}
		g.predecessors[stage] = set
	}
	for stage := range stages {
		if _, ok := g.predecessors[stage]; !ok {
			g.predecessors[stage] = map[contracts.StageID]bool{}
		}
	}

	order, err := topoSort(g.predecessors)
	if err != nil {
		return nil, err
	}
	g.order = order

	return g, nil
}

// Default returns the Graph implied by spec.md's fixed stage order: a
// strictly linear chain, s0_intake through s7_release, each stage
// depending directly on the one before it.
func Default() (*Graph, error) {
	predecessors := make(map[contracts.StageID][]contracts.StageID)
	for i, stage := range contracts.StageOrder {
		if i == 0 {
			predecessors[stage] = nil
			continue
		}
		predecessors[stage] = []contracts.StageID{contracts.StageOrder[i-1]}
	}
	return New(predecessors)
}

// Predecessors returns the direct predecessors of stage, in no
// particular order.
func (g *Graph) Predecessors(stage contracts.StageID) []contracts.StageID {
	set := g.predecessors[stage]
	out := make([]contracts.StageID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// TransitiveDependents returns every stage whose predecessor chain
// contains stage — used to compute the cascade-block set when stage
// fails.
func (g *Graph) TransitiveDependents(stage contracts.StageID) []contracts.StageID {
	dependents := make(map[contracts.StageID]bool)
	var visit func(contracts.StageID)
	visit = func(s contracts.StageID) {
		for candidate, preds := range g.predecessors {
			if preds[s] && !dependents[candidate] {
				dependents[candidate] = true
				visit(candidate)
			}
		}
	}
	visit(stage)

	out := make([]contracts.StageID, 0, len(dependents))
	for _, s := range g.order {
		if dependents[s] {
			out = append(out, s)
		}
	}
	return out
}

// TopologicalOrder returns all stages in an order consistent with
// their predecessor relationships.
func (g *Graph) TopologicalOrder() []contracts.StageID {
	out := make([]contracts.StageID, len(g.order))
	copy(out, g.order)
	return out
}

// Has reports whether stage is known to the graph.
func (g *Graph) Has(stage contracts.StageID) bool {
	_, ok := g.predecessors[stage]
	return ok
}

func topoSort(predecessors map[contracts.StageID]map[contracts.StageID]bool) ([]contracts.StageID, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[contracts.StageID]int, len(predecessors))
	var order []contracts.StageID

	// Deterministic base iteration order: sorted by string value, so
	// output order doesn't depend on Go's randomized map iteration.
	stages := make([]contracts.StageID, 0, len(predecessors))
	for s := range predecessors {
		stages = append(stages, s)
	}
	sortStageIDs(stages)

	var visit func(contracts.StageID) error
	visit = func(s contracts.StageID) error {
		switch state[s] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("prereq: cycle detected at stage %s", s)
		}
		state[s] = visiting
		preds := make([]contracts.StageID, 0, len(predecessors[s]))
		for p := range predecessors[s] {
			preds = append(preds, p)
		}
		sortStageIDs(preds)
		for _, p := range preds {
			if err := visit(p); err != nil {
				return err
			}
		}
		state[s] = done
		order = append(order, s)
		return nil
	}

	for _, s := range stages {
		if err := visit(s); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func sortStageIDs(ids []contracts.StageID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
