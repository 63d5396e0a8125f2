package kernel

import (
	"time"

	"github.com/toka-systems/toka/ids"
)

// AgentState enumerates the legal states of an agent's lifecycle (I2):
// Spawning -> Running -> (Suspended <-> Running)* -> Terminated.
type AgentState string

const (
	AgentSpawning  AgentState = "spawning"
	AgentRunning   AgentState = "running"
	AgentSuspendedState AgentState = "suspended"
	AgentTerminatedState AgentState = "terminated"
)

// TaskState enumerates the legal states of a task's lifecycle (I3):
// Scheduled -> Running -> {Completed, Failed, Timedout}.
type TaskState string

const (
	TaskScheduled TaskState = "scheduled"
	TaskRunning   TaskState = "running"
	TaskCompletedState TaskState = "completed"
	TaskFailedState    TaskState = "failed"
	TaskTimedout       TaskState = "timedout"
)

// terminal reports whether s is a sink state for a task (I3).
func (s TaskState) terminal() bool {
	switch s {
	case TaskCompletedState, TaskFailedState, TaskTimedout:
		return true
	default:
		return false
	}
}

type (
	// AgentRecord is the kernel's authoritative view of a single agent (§3).
	AgentRecord struct {
		Parent    *ids.EntityId
		SpecDigest ids.CausalDigest
		State     AgentState
		CreatedAt time.Time
		UpdatedAt time.Time
		TaskIDs   []ids.TaskId
	}

	// TaskRecord is the kernel's authoritative view of a single task (§3).
	TaskRecord struct {
		Owner      ids.EntityId
		SpecDigest ids.CausalDigest
		State      TaskState
		Attempts   int
		LastError  string
	}

	// ResourceUsage is advisory per-agent accounting; saturates rather than
	// overflows (§4.4 numeric semantics).
	ResourceUsage struct {
		MemoryBytes uint64
		CPUNanos    uint64
		IOBytes     uint64
	}

	// WorldState is the kernel's authoritative in-memory view. It is owned
	// exclusively by the kernel; no component outside the runtime touches it
	// (§5 shared resources). WorldState is never shared across goroutines
	// directly — the runtime serializes all mutation through a single
	// writer, so WorldState itself needs no internal locking.
	WorldState struct {
		Agents        map[ids.EntityId]*AgentRecord
		Tasks         map[ids.TaskId]*TaskRecord
		ResourceUsage map[ids.EntityId]*ResourceUsage

		// nextTaskSeq tracks the next per-owner task sequence number used to
		// derive deterministic TaskIds (§3 TaskId = H(owner, seq)).
		nextTaskSeq map[ids.EntityId]uint64
	}
)

// NewWorldState returns an empty WorldState ready for the kernel-root.
func NewWorldState() *WorldState {
	return &WorldState{
		Agents:        make(map[ids.EntityId]*AgentRecord),
		Tasks:         make(map[ids.TaskId]*TaskRecord),
		ResourceUsage: make(map[ids.EntityId]*ResourceUsage),
		nextTaskSeq:   make(map[ids.EntityId]uint64),
	}
}

// Clone returns a deep copy of the WorldState. Reduce applies every
// operation to a Clone, so a failed store commit can discard the mutated
// copy and keep the pre-mutation state authoritative (§4.5 step 4
// rollback-by-journaling); Runtime.Snapshot also hands out a Clone.
func (w *WorldState) Clone() *WorldState {
	out := NewWorldState()
	for id, rec := range w.Agents {
		cp := *rec
		cp.TaskIDs = append([]ids.TaskId(nil), rec.TaskIDs...)
		out.Agents[id] = &cp
	}
	for id, rec := range w.Tasks {
		cp := *rec
		out.Tasks[id] = &cp
	}
	for id, usage := range w.ResourceUsage {
		cp := *usage
		out.ResourceUsage[id] = &cp
	}
	for id, seq := range w.nextTaskSeq {
		out.nextTaskSeq[id] = seq
	}
	return out
}

// nextTaskID allocates the next deterministic TaskId for owner and advances
// its per-owner sequence counter.
func (w *WorldState) nextTaskID(owner ids.EntityId) ids.TaskId {
	seq := w.nextTaskSeq[owner]
	w.nextTaskSeq[owner] = seq + 1
	return ids.NewTaskId(owner, seq)
}

// saturatingAdd adds delta to base, clamping at math.MaxUint64 instead of
// wrapping (§4.4 numeric semantics: overflow saturates and raises a warning
// rather than failing the operation).
func saturatingAdd(base, delta uint64) (sum uint64, overflowed bool) {
	sum = base + delta
	if sum < base {
		return ^uint64(0), true
	}
	return sum, false
}
