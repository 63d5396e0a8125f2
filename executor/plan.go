package executor

import (
	"context"
	"encoding/json"
	"fmt"
)

// Plan is the finite list of steps an objective resolves to, whether
// directly encoded in the AgentSpec or produced by the LLM Gateway
// (spec.md §4.7 step 2).
type Plan struct {
	Steps []Step
}

// Gateway is the narrow slice of the LLM Gateway client (package gateway)
// the executor depends on for plan decomposition: a single prompt in, a
// single completion out. The executor never depends on gateway.Client
// directly, mirroring how orchestration narrows runtime/core.Runtime down
// to just Submit.
type Gateway interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// gatewayPlanStep/gatewayPlan mirror the JSON shape the executor asks the
// gateway to return: a bare list of steps, each naming an allowed tool.
type gatewayPlanStep struct {
	Tool        string          `json:"tool"`
	Permissions []string        `json:"permissions"`
	Args        json.RawMessage `json:"args"`
}

type gatewayPlan struct {
	Steps []gatewayPlanStep `json:"steps"`
}

// buildPlan resolves objective into a Plan: the directly-encoded steps if
// present, otherwise one LLM-assisted decomposition attempt followed by one
// stricter re-ask on a non-conforming response (spec.md §4.7
// "Language-model assistance"). The gateway prompt reports only how many
// priorResults there are, not their contents.
func buildPlan(ctx context.Context, gw Gateway, spec *AgentSpec, objective Objective, priorResults []StepResult) (Plan, error) {
	if len(objective.Steps) > 0 {
		for _, step := range objective.Steps {
			if !spec.HasTool(step.Tool) {
				return Plan{}, fmt.Errorf("executor: objective %q step names undeclared tool %q", objective.Name, step.Tool)
			}
		}
		return Plan{Steps: objective.Steps}, nil
	}

	if gw == nil {
		return Plan{}, fmt.Errorf("executor: objective %q has no static plan and no gateway configured", objective.Name)
	}

	prompt := planPrompt(spec, objective, priorResults, false)
	plan, err := requestPlan(ctx, gw, spec, prompt)
	if err == nil {
		return plan, nil
	}

	rePrompt := planPrompt(spec, objective, priorResults, true)
	plan, err = requestPlan(ctx, gw, spec, rePrompt)
	if err != nil {
		return Plan{}, &InvalidPlanError{Objective: objective.Name, Cause: err}
	}
	return plan, nil
}

// InvalidPlanError reports that neither the initial nor the re-asked
// gateway response decoded into a conforming plan.
type InvalidPlanError struct {
	Objective string
	Cause     error
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("executor: objective %q: gateway returned no conforming plan: %v", e.Objective, e.Cause)
}

func (e *InvalidPlanError) Unwrap() error { return e.Cause }

func requestPlan(ctx context.Context, gw Gateway, spec *AgentSpec, prompt string) (Plan, error) {
	completion, err := gw.Complete(ctx, prompt)
	if err != nil {
		return Plan{}, fmt.Errorf("gateway completion: %w", err)
	}
	var raw gatewayPlan
	if err := json.Unmarshal([]byte(completion), &raw); err != nil {
		return Plan{}, fmt.Errorf("decode gateway plan: %w", err)
	}
	if len(raw.Steps) == 0 {
		return Plan{}, fmt.Errorf("gateway plan has no steps")
	}
	steps := make([]Step, 0, len(raw.Steps))
	for _, s := range raw.Steps {
		if !spec.HasTool(s.Tool) {
			return Plan{}, fmt.Errorf("gateway plan names undeclared tool %q", s.Tool)
		}
		steps = append(steps, Step{Tool: s.Tool, Permissions: s.Permissions, Args: s.Args})
	}
	return Plan{Steps: steps}, nil
}

func planPrompt(spec *AgentSpec, objective Objective, priorResults []StepResult, strict bool) string {
	allowed := make([]string, 0, len(spec.Tools))
	for name := range spec.Tools {
		allowed = append(allowed, name)
	}
	prompt := fmt.Sprintf(
		"agent %q objective %q: %s\nallowed tools: %v\nprior results: %d\nRespond with JSON {\"steps\":[{\"tool\":...,\"permissions\":[...],\"args\":...}]} naming only allowed tools.",
		spec.Name, objective.Name, objective.Description, allowed, len(priorResults),
	)
	if strict {
		prompt += "\nYour previous response did not conform. Respond with ONLY the JSON object, no prose, using only the listed tool names."
	}
	return prompt
}
