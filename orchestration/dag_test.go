package orchestration

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopoOrderRespectsDependencies(t *testing.T) {
	specs := []Spec{
		{Name: "a", Priority: PriorityLow},
		{Name: "b", Requires: []string{"a"}, Priority: PriorityLow},
		{Name: "c", Requires: []string{"b"}, Priority: PriorityLow},
	}
	g, err := buildGraph(specs)
	require.NoError(t, err)
	order, err := topoOrder(g)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopoOrderBreaksTiesByPriorityThenName(t *testing.T) {
	specs := []Spec{
		{Name: "zeta", Priority: PriorityLow},
		{Name: "alpha", Priority: PriorityCritical},
		{Name: "beta", Priority: PriorityLow},
	}
	g, err := buildGraph(specs)
	require.NoError(t, err)
	order, err := topoOrder(g)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta", "zeta"}, order)
}

func TestTopoOrderDetectsCycle(t *testing.T) {
	specs := []Spec{
		{Name: "a", Requires: []string{"b"}},
		{Name: "b", Requires: []string{"a"}},
	}
	g, err := buildGraph(specs)
	require.NoError(t, err)
	_, err = topoOrder(g)
	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
}

func TestBuildGraphResolvesRequiresAgainstProvides(t *testing.T) {
	specs := []Spec{
		{Name: "storage", Provides: []string{"db"}},
		{Name: "api", Requires: []string{"db"}},
	}
	g, err := buildGraph(specs)
	require.NoError(t, err)
	require.Equal(t, []string{"storage"}, g.depends["api"])
}

func TestBuildGraphRejectsUnresolvableRequires(t *testing.T) {
	specs := []Spec{{Name: "api", Requires: []string{"missing"}}}
	_, err := buildGraph(specs)
	require.Error(t, err)
}
