// Package kernel implements the deterministic reducer at the heart of Toka:
// it validates capability tokens, dispatches a fixed set of opcodes,
// mutates an in-memory WorldState, and emits KernelEvents. Reduce is pure
// with respect to (WorldState, Message, clock reading) — see Invariant I5.
package kernel

import (
	"time"

	"github.com/toka-systems/toka/ids"
)

// OperationKind identifies which variant an Operation holds. The set is
// closed: adding a new opcode requires updating the permission table,
// structural validators, and the WorldState transition function together.
type OperationKind string

const (
	OpScheduleAgentTask OperationKind = "schedule_agent_task"
	OpSpawnSubAgent      OperationKind = "spawn_sub_agent"
	OpEmitObservation    OperationKind = "emit_observation"
	OpAgentTerminated    OperationKind = "agent_terminated"
	OpAgentSuspended     OperationKind = "agent_suspended"
	OpAgentResumed       OperationKind = "agent_resumed"
	OpTaskCompleted      OperationKind = "task_completed"
	OpTaskFailed         OperationKind = "task_failed"
	OpTaskTimeout        OperationKind = "task_timeout"
	OpReportError        OperationKind = "report_error"
	OpReportResource     OperationKind = "report_resource"
)

// TerminationReason enumerates the exit-code-like completion reasons
// attached to AgentTerminated.
type TerminationReason string

const (
	ReasonCompleted    TerminationReason = "completed"
	ReasonKilled       TerminationReason = "killed"
	ReasonCrashed      TerminationReason = "crashed"
	ReasonResourceLimit TerminationReason = "resource_limit"
	ReasonTimeout      TerminationReason = "timeout"
	ReasonCancelled    TerminationReason = "cancelled"
)

// ErrorSeverity classifies a ReportError operation.
type ErrorSeverity string

const (
	SeverityInfo     ErrorSeverity = "info"
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// ResourceKind enumerates the advisory resource counters tracked per agent.
type ResourceKind string

const (
	ResourceMemoryBytes ResourceKind = "memory_bytes"
	ResourceCPUNanos    ResourceKind = "cpu_ns"
	ResourceIOBytes     ResourceKind = "io_bytes"
)

type (
	// Operation is the closed sum of state-mutating intents a Message can
	// carry. Exactly one field is populated per Kind; callers construct an
	// Operation with one of the New* constructors rather than populating the
	// struct directly, to keep Kind and the active field in sync.
	Operation struct {
		Kind OperationKind

		ScheduleAgentTask *ScheduleAgentTask
		SpawnSubAgent     *SpawnSubAgent
		EmitObservation   *EmitObservation
		AgentTerminated   *AgentTerminated
		AgentSuspended    *AgentSuspended
		AgentResumed      *AgentResumed
		TaskCompleted     *TaskCompleted
		TaskFailed        *TaskFailed
		TaskTimeout       *TaskTimeout
		ReportError       *ReportError
		ReportResource    *ReportResource
	}

	// ScheduleAgentTask requests that a task be scheduled for agent.
	ScheduleAgentTask struct {
		Agent ids.EntityId
		Task  TaskSpec
	}

	// TaskSpec is the minimal description of work submitted with
	// ScheduleAgentTask. Description is bounded to TaskDescriptionMaxBytes (§3/§4.4).
	TaskSpec struct {
		Description string
		Payload     []byte
	}

	// SpawnSubAgent requests a new agent be created as a child of parent.
	// The child's effective capability set must be a subset of the issuing
	// claims' permissions (Invariant I6); the kernel does not compute that
	// subset itself — it is enforced by the capability validator handing the
	// runtime pre-scoped claims for the child.
	SpawnSubAgent struct {
		Parent ids.EntityId
		Spec   AgentSpecDigest
	}

	// AgentSpecDigest carries only what the kernel needs to know about a
	// spawned agent's specification: a content digest for causal linkage and
	// deduplication. The full AgentSpec document lives in the executor/
	// orchestration layers, never in WorldState.
	AgentSpecDigest struct {
		Digest ids.CausalDigest
	}

	// EmitObservation carries a structured progress payload from an agent.
	// Data is bounded to ObservationMaxBytes (1 MiB).
	EmitObservation struct {
		Agent ids.EntityId
		Data  []byte
	}

	// AgentTerminated marks an agent's lifecycle as complete.
	AgentTerminated struct {
		Agent    ids.EntityId
		Reason   TerminationReason
		ExitCode *int32
	}

	// AgentSuspended pauses an agent, optionally capturing a resumable
	// snapshot bounded to SnapshotMaxBytes (10 MiB).
	AgentSuspended struct {
		Agent    ids.EntityId
		Reason   string
		Snapshot []byte
	}

	// AgentResumed resumes a previously suspended agent.
	AgentResumed struct {
		Agent    ids.EntityId
		Snapshot []byte
	}

	// TaskCompleted marks a task as successfully finished.
	TaskCompleted struct {
		Agent  ids.EntityId
		TaskID ids.TaskId
		Result []byte
	}

	// TaskFailed marks a task as permanently failed.
	TaskFailed struct {
		Agent     ids.EntityId
		TaskID    ids.TaskId
		ErrorKind string
		Message   string
	}

	// TaskTimeout marks a task as having exceeded its deadline.
	TaskTimeout struct {
		Agent  ids.EntityId
		TaskID ids.TaskId
	}

	// ReportError records a structured error from any component. Context
	// entries are bounded to ErrorContextMaxEntries entries of at most
	// ErrorContextEntryMaxBytes each.
	ReportError struct {
		Component string
		Severity  ErrorSeverity
		Context   map[string]string
	}

	// ReportResource records advisory resource consumption for an agent.
	// Amount overflows saturate rather than fail (§4.4 numeric semantics).
	ReportResource struct {
		Agent    ids.EntityId
		Kind     ResourceKind
		Amount   uint64
		Duration time.Duration
	}
)

// NewScheduleAgentTask constructs the corresponding Operation.
func NewScheduleAgentTask(agent ids.EntityId, task TaskSpec) Operation {
	return Operation{Kind: OpScheduleAgentTask, ScheduleAgentTask: &ScheduleAgentTask{Agent: agent, Task: task}}
}

// NewSpawnSubAgent constructs the corresponding Operation.
func NewSpawnSubAgent(parent ids.EntityId, spec AgentSpecDigest) Operation {
	return Operation{Kind: OpSpawnSubAgent, SpawnSubAgent: &SpawnSubAgent{Parent: parent, Spec: spec}}
}

// NewEmitObservation constructs the corresponding Operation.
func NewEmitObservation(agent ids.EntityId, data []byte) Operation {
	return Operation{Kind: OpEmitObservation, EmitObservation: &EmitObservation{Agent: agent, Data: data}}
}

// NewAgentTerminated constructs the corresponding Operation.
func NewAgentTerminated(agent ids.EntityId, reason TerminationReason, exitCode *int32) Operation {
	return Operation{Kind: OpAgentTerminated, AgentTerminated: &AgentTerminated{Agent: agent, Reason: reason, ExitCode: exitCode}}
}

// NewAgentSuspended constructs the corresponding Operation.
func NewAgentSuspended(agent ids.EntityId, reason string, snapshot []byte) Operation {
	return Operation{Kind: OpAgentSuspended, AgentSuspended: &AgentSuspended{Agent: agent, Reason: reason, Snapshot: snapshot}}
}

// NewAgentResumed constructs the corresponding Operation.
func NewAgentResumed(agent ids.EntityId, snapshot []byte) Operation {
	return Operation{Kind: OpAgentResumed, AgentResumed: &AgentResumed{Agent: agent, Snapshot: snapshot}}
}

// NewTaskCompleted constructs the corresponding Operation.
func NewTaskCompleted(agent ids.EntityId, taskID ids.TaskId, result []byte) Operation {
	return Operation{Kind: OpTaskCompleted, TaskCompleted: &TaskCompleted{Agent: agent, TaskID: taskID, Result: result}}
}

// NewTaskFailed constructs the corresponding Operation.
func NewTaskFailed(agent ids.EntityId, taskID ids.TaskId, errorKind, message string) Operation {
	return Operation{Kind: OpTaskFailed, TaskFailed: &TaskFailed{Agent: agent, TaskID: taskID, ErrorKind: errorKind, Message: message}}
}

// NewTaskTimeout constructs the corresponding Operation.
func NewTaskTimeout(agent ids.EntityId, taskID ids.TaskId) Operation {
	return Operation{Kind: OpTaskTimeout, TaskTimeout: &TaskTimeout{Agent: agent, TaskID: taskID}}
}

// NewReportError constructs the corresponding Operation.
func NewReportError(component string, severity ErrorSeverity, context map[string]string) Operation {
	return Operation{Kind: OpReportError, ReportError: &ReportError{Component: component, Severity: severity, Context: context}}
}

// NewReportResource constructs the corresponding Operation.
func NewReportResource(agent ids.EntityId, kind ResourceKind, amount uint64, dur time.Duration) Operation {
	return Operation{Kind: OpReportResource, ReportResource: &ReportResource{Agent: agent, Kind: kind, Amount: amount, Duration: dur}}
}
