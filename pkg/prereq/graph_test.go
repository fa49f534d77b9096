package prereq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
)

func TestDefaultGraphIsLinearChain(t *testing.T) {
	g, err := Default()
	require.NoError(t, err)

	preds := g.Predecessors(contracts.StageImplementation)
	require.Len(t, preds, 1)
	assert.Equal(t, contracts.StageCodePlan, preds[0])

	assert.Empty(t, g.Predecessors(contracts.StageIntake))
}

func TestTransitiveDependentsOfImplementation(t *testing.T) {
	g, err := Default()
	require.NoError(t, err)

	deps := g.TransitiveDependents(contracts.StageImplementation)
	assert.Contains(t, deps, contracts.StageAccessibility)
	assert.Contains(t, deps, contracts.StageSecurity)
	assert.Contains(t, deps, contracts.StageVerification)
	assert.Contains(t, deps, contracts.StageRelease)
	assert.NotContains(t, deps, contracts.StageIntake)
	assert.NotContains(t, deps, contracts.StageImplementation)
}

func TestTopologicalOrderRespectsPredecessors(t *testing.T) {
	g, err := Default()
	require.NoError(t, err)

	order := g.TopologicalOrder()
	index := make(map[contracts.StageID]int, len(order))
	for i, s := range order {
		index[s] = i
	}

	for stage, preds := range map[contracts.StageID][]contracts.StageID{
		contracts.StageRelease:      {contracts.StageVerification},
		contracts.StageVerification: {contracts.StageSecurity},
	} {
		for _, p := range preds {
			assert.Less(t, index[p], index[stage])
		}
	}
}

func TestConstructionRejectsCycle(t *testing.T) {
	_, err := New(map[contracts.StageID][]contracts.StageID{
		"a": {"b"},
		"b": {"a"},
	})
	require.Error(t, err)
}

func TestDiamondDependencyGraph(t *testing.T) {
	// a -> b, a -> c, b -> d, c -> d
	g, err := New(map[contracts.StageID][]contracts.StageID{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	})
	require.NoError(t, err)

	deps := g.TransitiveDependents("a")
	assert.ElementsMatch(t, []contracts.StageID{"b", "c", "d"}, deps)
}
