package kernel

import (
	"time"

	"github.com/toka-systems/toka/ids"
)

// apply performs the WorldState transition for op against state, which the
// caller has already cloned (§4.5 step 4). It is the only place WorldState
// is mutated. apply never returns a KernelError for conditions already
// rejected by checkOrigin/checkBounds; it enforces the per-opcode lifecycle
// legality described in §3's Invariants I2/I3 and the edge cases in §4.4.
func apply(state *WorldState, origin ids.EntityId, op Operation, now time.Time) (bool, *KernelError) {
	switch op.Kind {
	case OpScheduleAgentTask:
		return false, applyScheduleAgentTask(state, origin, op.ScheduleAgentTask, now)
	case OpSpawnSubAgent:
		return false, applySpawnSubAgent(state, origin, op.SpawnSubAgent, now)
	case OpEmitObservation:
		return false, applyEmitObservation(state, op.EmitObservation)
	case OpAgentTerminated:
		return false, applyAgentTerminated(state, op.AgentTerminated, now)
	case OpAgentSuspended:
		return false, applyAgentSuspended(state, op.AgentSuspended, now)
	case OpAgentResumed:
		return false, applyAgentResumed(state, op.AgentResumed, now)
	case OpTaskCompleted:
		return false, applyTaskCompleted(state, op.TaskCompleted, now)
	case OpTaskFailed:
		return false, applyTaskFailed(state, op.TaskFailed, now)
	case OpTaskTimeout:
		return false, applyTaskTimeout(state, op.TaskTimeout, now)
	case OpReportError:
		// ReportError carries no WorldState-resident subject; the kernel
		// accepts and emits it for the event log without mutating state.
		return false, nil
	case OpReportResource:
		return applyReportResource(state, op.ReportResource)
	default:
		return false, malformed("unhandled operation kind")
	}
}

func applyScheduleAgentTask(state *WorldState, origin ids.EntityId, op *ScheduleAgentTask, now time.Time) *KernelError {
	rec, ok := state.Agents[op.Agent]
	if !ok {
		return illegalTransition("unknown agent")
	}
	if origin != op.Agent && (rec.Parent == nil || *rec.Parent != origin) {
		return unauthorized("origin is neither the agent nor its parent")
	}
	if rec.State == AgentTerminatedState {
		return illegalTransition("cannot schedule task on terminated agent")
	}
	taskID := state.nextTaskID(op.Agent)
	state.Tasks[taskID] = &TaskRecord{
		Owner: op.Agent,
		State: TaskScheduled,
	}
	rec.TaskIDs = append(rec.TaskIDs, taskID)
	rec.UpdatedAt = now
	return nil
}

func applySpawnSubAgent(state *WorldState, origin ids.EntityId, op *SpawnSubAgent, now time.Time) *KernelError {
	if origin != op.Parent {
		return unauthorized("only the parent may spawn its own sub-agent")
	}
	if !op.Parent.IsRoot() {
		if _, ok := state.Agents[op.Parent]; !ok {
			return illegalTransition("unknown parent agent")
		}
	}
	child := ids.NewChildEntityId(op.Parent, op.Spec.Digest)
	if _, exists := state.Agents[child]; exists {
		return illegalTransition("duplicate spawn")
	}
	parent := op.Parent
	state.Agents[child] = &AgentRecord{
		Parent:     &parent,
		SpecDigest: op.Spec.Digest,
		State:      AgentSpawning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return nil
}

func applyEmitObservation(state *WorldState, op *EmitObservation) *KernelError {
	rec, ok := state.Agents[op.Agent]
	if !ok {
		return illegalTransition("unknown agent")
	}
	if rec.State == AgentTerminatedState {
		return illegalTransition("terminated agent cannot observe")
	}
	return nil
}

func applyAgentTerminated(state *WorldState, op *AgentTerminated, now time.Time) *KernelError {
	rec, ok := state.Agents[op.Agent]
	if !ok {
		return illegalTransition("unknown agent")
	}
	if rec.State == AgentTerminatedState {
		// Idempotent: a second termination of an already-terminated agent
		// is a no-op rather than an error (§4.4 edge cases).
		return nil
	}
	rec.State = AgentTerminatedState
	rec.UpdatedAt = now
	return nil
}

func applyAgentSuspended(state *WorldState, op *AgentSuspended, now time.Time) *KernelError {
	rec, ok := state.Agents[op.Agent]
	if !ok {
		return illegalTransition("unknown agent")
	}
	switch rec.State {
	case AgentTerminatedState:
		return illegalTransition("cannot suspend a terminated agent")
	case AgentSuspendedState:
		// Suspending an already-suspended agent is idempotent (§4.4 edge
		// cases); only UpdatedAt changes. WorldState keeps no snapshot, so
		// op.Snapshot is not stored here.
		rec.UpdatedAt = now
		return nil
	default:
		rec.State = AgentSuspendedState
		rec.UpdatedAt = now
		return nil
	}
}

func applyAgentResumed(state *WorldState, op *AgentResumed, now time.Time) *KernelError {
	rec, ok := state.Agents[op.Agent]
	if !ok {
		return illegalTransition("unknown agent")
	}
	switch rec.State {
	case AgentSuspendedState:
		rec.State = AgentRunning
		rec.UpdatedAt = now
		return nil
	case AgentRunning:
		// Resuming an already-running agent is idempotent.
		return nil
	default:
		return illegalTransition("agent is not suspended")
	}
}

func applyTaskCompleted(state *WorldState, op *TaskCompleted, now time.Time) *KernelError {
	return finishTask(state, op.Agent, op.TaskID, TaskCompletedState, "", now)
}

func applyTaskFailed(state *WorldState, op *TaskFailed, now time.Time) *KernelError {
	return finishTask(state, op.Agent, op.TaskID, TaskFailedState, op.Message, now)
}

func applyTaskTimeout(state *WorldState, op *TaskTimeout, now time.Time) *KernelError {
	return finishTask(state, op.Agent, op.TaskID, TaskTimedout, "", now)
}

// finishTask transitions a task into one of its terminal states (I3).
// Re-reporting the same terminal state for an already-terminal task is
// idempotent; reporting a different terminal state for an already-terminal
// task is rejected as an illegal transition.
func finishTask(state *WorldState, agent ids.EntityId, taskID ids.TaskId, final TaskState, lastErr string, now time.Time) *KernelError {
	task, ok := state.Tasks[taskID]
	if !ok || task.Owner != agent {
		return illegalTransition("unknown task for agent")
	}
	if task.State.terminal() {
		if task.State == final {
			return nil
		}
		return illegalTransition("task already in a different terminal state")
	}
	task.State = final
	task.Attempts++
	task.LastError = lastErr
	_ = now
	return nil
}

func applyReportResource(state *WorldState, op *ReportResource) (bool, *KernelError) {
	usage, ok := state.ResourceUsage[op.Agent]
	if !ok {
		usage = &ResourceUsage{}
		state.ResourceUsage[op.Agent] = usage
	}
	var overflow bool
	switch op.Kind {
	case ResourceMemoryBytes:
		usage.MemoryBytes, overflow = saturatingAdd(usage.MemoryBytes, op.Amount)
	case ResourceCPUNanos:
		usage.CPUNanos, overflow = saturatingAdd(usage.CPUNanos, op.Amount)
	case ResourceIOBytes:
		usage.IOBytes, overflow = saturatingAdd(usage.IOBytes, op.Amount)
	default:
		return false, malformed("unknown resource kind")
	}
	return overflow, nil
}
