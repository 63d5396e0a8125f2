package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	responses []string
	calls     int
}

func (g *stubGateway) Complete(ctx context.Context, prompt string) (string, error) {
	resp := g.responses[g.calls]
	g.calls++
	return resp, nil
}

func mustParseSpec(t *testing.T, doc string) *AgentSpec {
	t.Helper()
	spec, err := ParseAgentSpec([]byte(doc))
	require.NoError(t, err)
	return spec
}

const planTestSpecJSON = `{
  "name": "researcher",
  "version": "1.0.0",
  "capabilities": ["web.search"],
  "tools": ["search", "fetch"],
  "objectives": [
    {
      "name": "gather-sources",
      "steps": [
        {"tool": "search", "permissions": ["web.search"], "args": {"q": "toka"}}
      ]
    }
  ]
}`

func TestBuildPlanUsesStaticSteps(t *testing.T) {
	spec := mustParseSpec(t, planTestSpecJSON)
	plan, err := buildPlan(context.Background(), nil, spec, spec.Objectives[0], nil)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	require.Equal(t, "search", plan.Steps[0].Tool)
}

func TestBuildPlanRequestsFromGatewayWhenNoStaticSteps(t *testing.T) {
	spec := mustParseSpec(t, `{"name":"a","version":"1","tools":["search"],"objectives":[{"name":"o","description":"find stuff"}]}`)
	gw := &stubGateway{responses: []string{`{"steps":[{"tool":"search","permissions":[],"args":{}}]}`}}
	plan, err := buildPlan(context.Background(), gw, spec, spec.Objectives[0], nil)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	require.Equal(t, 1, gw.calls)
}

func TestBuildPlanReasksOnNonConformingResponseThenFails(t *testing.T) {
	spec := mustParseSpec(t, `{"name":"a","version":"1","tools":["search"],"objectives":[{"name":"o"}]}`)
	gw := &stubGateway{responses: []string{"not json", "still not json"}}
	_, err := buildPlan(context.Background(), gw, spec, spec.Objectives[0], nil)
	require.Error(t, err)
	var invalidPlan *InvalidPlanError
	require.ErrorAs(t, err, &invalidPlan)
	require.Equal(t, 2, gw.calls)
}

func TestBuildPlanRecoversOnReask(t *testing.T) {
	spec := mustParseSpec(t, `{"name":"a","version":"1","tools":["search"],"objectives":[{"name":"o"}]}`)
	gw := &stubGateway{responses: []string{"not json", `{"steps":[{"tool":"search"}]}`}}
	plan, err := buildPlan(context.Background(), gw, spec, spec.Objectives[0], nil)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	require.Equal(t, 2, gw.calls)
}

func TestBuildPlanRejectsUndeclaredTool(t *testing.T) {
	spec := mustParseSpec(t, `{"name":"a","version":"1","tools":["search"],"objectives":[{"name":"o","steps":[{"tool":"delete-everything"}]}]}`)
	_, err := buildPlan(context.Background(), nil, spec, spec.Objectives[0], nil)
	require.Error(t, err)
}
