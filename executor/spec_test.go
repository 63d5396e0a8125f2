package executor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/executor"
)

const validSpecJSON = `{
  "name": "researcher",
  "version": "1.0.0",
  "domain": "research",
  "priority": "high",
  "capabilities": ["web.search", "web.fetch"],
  "tools": ["search", "fetch"],
  "objectives": [
    {
      "name": "gather-sources",
      "description": "find three sources",
      "steps": [
        {"tool": "search", "permissions": ["web.search"], "args": {"q": "toka"}}
      ]
    }
  ],
  "resource_limits": {"memory_bytes": 1048576, "max_task_retries": 5},
  "reporting": {"progress_interval_seconds": 2}
}`

func TestParseAgentSpecAcceptsValidDocument(t *testing.T) {
	spec, err := executor.ParseAgentSpec([]byte(validSpecJSON))
	require.NoError(t, err)
	require.Equal(t, "researcher", spec.Name)
	require.True(t, spec.HasCapability("web.search"))
	require.True(t, spec.HasTool("search"))
	require.Len(t, spec.Objectives, 1)
	require.Equal(t, 5, spec.ResourceLimits.MaxTaskRetries)
	require.Equal(t, 2*1e9, float64(spec.Reporting.ProgressInterval))
}

func TestParseAgentSpecRejectsUnknownTopLevelKey(t *testing.T) {
	_, err := executor.ParseAgentSpec([]byte(`{"name":"a","version":"1","objectives":[{"name":"o"}],"bogus":true}`))
	require.Error(t, err)
}

func TestParseAgentSpecRejectsUnknownPriority(t *testing.T) {
	_, err := executor.ParseAgentSpec([]byte(`{"name":"a","version":"1","priority":"urgent","objectives":[{"name":"o"}]}`))
	require.Error(t, err)
}

func TestParseAgentSpecRejectsMissingRequiredField(t *testing.T) {
	_, err := executor.ParseAgentSpec([]byte(`{"version":"1","objectives":[{"name":"o"}]}`))
	require.Error(t, err)
}

func TestParseAgentSpecAppliesDefaults(t *testing.T) {
	spec, err := executor.ParseAgentSpec([]byte(`{"name":"a","version":"1","objectives":[{"name":"o"}]}`))
	require.NoError(t, err)
	require.Equal(t, 3, spec.ResourceLimits.MaxTaskRetries)
	require.Equal(t, float64(5e9), float64(spec.Reporting.ProgressInterval))
}
