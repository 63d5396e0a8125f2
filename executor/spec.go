// Package executor interprets an AgentSpec and drives an agent's objectives
// to terminal success or structured failure (spec.md §4.7). AgentSpec is the
// enumerated configuration record called for in §9's Design Notes ("dynamic
// configuration objects with optional fields... represent as a
// configuration record whose recognized options are enumerated... reject
// unknown keys"): parsing goes through a jsonschema/v6 schema before
// decoding with DisallowUnknownFields, the same two-stage validation the
// teacher uses for tool payloads in registry/service.go.
package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ResourceLimits bounds an agent's advisory memory/CPU footprint and hard
// wall-clock deadline (spec.md §4.7 Resource enforcement).
type ResourceLimits struct {
	MemoryBytes    uint64
	CPURatio       float64
	Deadline       time.Duration
	MaxTaskRetries int
}

// ReportingConfig controls how often the executor emits progress
// observations.
type ReportingConfig struct {
	ProgressInterval time.Duration
}

// Step is one unit of a task plan: a single tool invocation.
type Step struct {
	Tool         string
	Permissions  []string
	Args         json.RawMessage
	MemoryBytes  uint64
	CPURatio     float64
	Timeout      time.Duration
}

// Objective is one ordered unit of work an agent carries out. Steps is the
// directly-encoded plan; when empty, the executor asks the LLM Gateway to
// decompose it (spec.md §4.7 "Language-model assistance").
type Objective struct {
	Name        string
	Description string
	Steps       []Step
}

// AgentSpec is the enumerated document spec.md §4.7 defines: name, version,
// domain, priority, capabilities, objectives, tools, resource_limits,
// reporting. No other fields are recognized.
type AgentSpec struct {
	Name           string
	Version        string
	Domain         string
	Priority       string
	Capabilities   map[string]struct{}
	Objectives     []Objective
	Tools          map[string]struct{}
	ResourceLimits ResourceLimits
	Reporting      ReportingConfig
}

// HasCapability reports whether permission is granted by the spec.
func (s *AgentSpec) HasCapability(permission string) bool {
	_, ok := s.Capabilities[permission]
	return ok
}

// HasTool reports whether name is in the agent's declared tool set.
func (s *AgentSpec) HasTool(name string) bool {
	_, ok := s.Tools[name]
	return ok
}

const defaultProgressInterval = 5 * time.Second
const defaultMaxTaskRetries = 3

// agentSpecSchema enforces the structural shape from spec.md §4.7: required
// top-level fields, a closed set of allowed keys at every level, and an
// enumerated priority. It does not duplicate type/range checks the Go
// decoder already performs (DisallowUnknownFields after schema validation).
const agentSpecSchema = `{
  "type": "object",
  "required": ["name", "version", "objectives"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "version": {"type": "string"},
    "domain": {"type": "string"},
    "priority": {"type": "string", "enum": ["critical", "high", "medium", "low"]},
    "capabilities": {"type": "array", "items": {"type": "string"}},
    "tools": {"type": "array", "items": {"type": "string"}},
    "objectives": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "steps": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["tool"],
              "additionalProperties": false,
              "properties": {
                "tool": {"type": "string", "minLength": 1},
                "permissions": {"type": "array", "items": {"type": "string"}},
                "args": {},
                "memory_bytes": {"type": "integer", "minimum": 0},
                "cpu_ratio": {"type": "number", "minimum": 0},
                "timeout_seconds": {"type": "number", "minimum": 0}
              }
            }
          }
        }
      }
    },
    "resource_limits": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "memory_bytes": {"type": "integer", "minimum": 0},
        "cpu_ratio": {"type": "number", "minimum": 0},
        "deadline_seconds": {"type": "number", "minimum": 0},
        "max_task_retries": {"type": "integer", "minimum": 0}
      }
    },
    "reporting": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "progress_interval_seconds": {"type": "number", "minimum": 0}
      }
    }
  }
}`

var compiledAgentSpecSchema = mustCompileAgentSpecSchema()

func mustCompileAgentSpecSchema() *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(agentSpecSchema), &doc); err != nil {
		panic(fmt.Errorf("executor: unmarshal embedded schema: %w", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("agent-spec.json", doc); err != nil {
		panic(fmt.Errorf("executor: add schema resource: %w", err))
	}
	schema, err := c.Compile("agent-spec.json")
	if err != nil {
		panic(fmt.Errorf("executor: compile schema: %w", err))
	}
	return schema
}

// wire types mirror the JSON document; arrays become Go maps/slices in
// AgentSpec once validation passes.
type wireStep struct {
	Tool           string          `json:"tool"`
	Permissions    []string        `json:"permissions"`
	Args           json.RawMessage `json:"args"`
	MemoryBytes    uint64          `json:"memory_bytes"`
	CPURatio       float64         `json:"cpu_ratio"`
	TimeoutSeconds float64         `json:"timeout_seconds"`
}

type wireObjective struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Steps       []wireStep `json:"steps"`
}

type wireResourceLimits struct {
	MemoryBytes     uint64  `json:"memory_bytes"`
	CPURatio        float64 `json:"cpu_ratio"`
	DeadlineSeconds float64 `json:"deadline_seconds"`
	MaxTaskRetries  *int    `json:"max_task_retries"`
}

type wireReporting struct {
	ProgressIntervalSeconds float64 `json:"progress_interval_seconds"`
}

type wireAgentSpec struct {
	Name           string             `json:"name"`
	Version        string             `json:"version"`
	Domain         string             `json:"domain"`
	Priority       string             `json:"priority"`
	Capabilities   []string           `json:"capabilities"`
	Objectives     []wireObjective    `json:"objectives"`
	Tools          []string           `json:"tools"`
	ResourceLimits wireResourceLimits `json:"resource_limits"`
	Reporting      wireReporting      `json:"reporting"`
}

// ParseAgentSpec validates data against the embedded jsonschema document,
// then strictly decodes it (unknown keys already rejected by the schema,
// and again here as a second line of defense). Defaults are applied for
// max_task_retries and progress_interval per spec.md §4.7.
func ParseAgentSpec(data []byte) (*AgentSpec, error) {
	var generic any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("executor: decode agent spec: %w", err)
	}
	if err := compiledAgentSpecSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("executor: agent spec failed validation: %w", err)
	}

	var wire wireAgentSpec
	strict := json.NewDecoder(bytes.NewReader(data))
	strict.DisallowUnknownFields()
	if err := strict.Decode(&wire); err != nil {
		return nil, fmt.Errorf("executor: strict decode agent spec: %w", err)
	}

	spec := &AgentSpec{
		Name:         wire.Name,
		Version:      wire.Version,
		Domain:       wire.Domain,
		Priority:     wire.Priority,
		Capabilities: toSet(wire.Capabilities),
		Tools:        toSet(wire.Tools),
		ResourceLimits: ResourceLimits{
			MemoryBytes:    wire.ResourceLimits.MemoryBytes,
			CPURatio:       wire.ResourceLimits.CPURatio,
			Deadline:       secondsToDuration(wire.ResourceLimits.DeadlineSeconds),
			MaxTaskRetries: defaultMaxTaskRetries,
		},
		Reporting: ReportingConfig{ProgressInterval: defaultProgressInterval},
	}
	if wire.ResourceLimits.MaxTaskRetries != nil {
		spec.ResourceLimits.MaxTaskRetries = *wire.ResourceLimits.MaxTaskRetries
	}
	if wire.Reporting.ProgressIntervalSeconds > 0 {
		spec.Reporting.ProgressInterval = secondsToDuration(wire.Reporting.ProgressIntervalSeconds)
	}

	for _, wo := range wire.Objectives {
		obj := Objective{Name: wo.Name, Description: wo.Description}
		for _, ws := range wo.Steps {
			obj.Steps = append(obj.Steps, Step{
				Tool:        ws.Tool,
				Permissions: ws.Permissions,
				Args:        ws.Args,
				MemoryBytes: ws.MemoryBytes,
				CPURatio:    ws.CPURatio,
				Timeout:     secondsToDuration(ws.TimeoutSeconds),
			})
		}
		spec.Objectives = append(spec.Objectives, obj)
	}

	return spec, nil
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
