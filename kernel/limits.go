package kernel

import "time"

// Structural bounds enforced during validation (§3, §4.4). These are named
// constants rather than magic numbers so property tests can probe exactly at
// and one byte beyond each boundary.
const (
	// TaskDescriptionMaxBytes bounds ScheduleAgentTask.Task.Description.
	TaskDescriptionMaxBytes = 4 * 1024

	// ObservationMaxBytes bounds EmitObservation.Data.
	ObservationMaxBytes = 1 * 1024 * 1024

	// SnapshotMaxBytes bounds AgentSuspended.Snapshot.
	SnapshotMaxBytes = 10 * 1024 * 1024

	// ErrorContextMaxEntries bounds the number of entries in ReportError.Context.
	ErrorContextMaxEntries = 50

	// ErrorContextEntryMaxBytes bounds the size of any single context entry,
	// counting its key and value together.
	ErrorContextEntryMaxBytes = 8 * 1024

	// ClockSkewPast bounds how far in the past a message timestamp may be.
	ClockSkewPast = 24 * time.Hour

	// ClockSkewFuture bounds how far in the future a message timestamp may be.
	ClockSkewFuture = 5 * time.Minute
)

// permissionFor is the static table mapping each opcode to the capability
// permission required to submit it (§4.4 step 1).
var permissionFor = map[OperationKind]string{
	OpScheduleAgentTask: "scheduler.submit",
	OpSpawnSubAgent:      "agents.spawn",
	OpEmitObservation:    "agents.observe",
	OpAgentTerminated:    "agents.terminate",
	OpAgentSuspended:     "agents.suspend",
	OpAgentResumed:       "agents.resume",
	OpTaskCompleted:      "scheduler.report",
	OpTaskFailed:         "scheduler.report",
	OpTaskTimeout:        "scheduler.report",
	OpReportError:        "telemetry.report",
	OpReportResource:     "telemetry.report",
}

// RequiredPermission returns the static permission string required to
// submit an operation of the given kind. The second return value is false
// for an unrecognized kind.
func RequiredPermission(kind OperationKind) (string, bool) {
	p, ok := permissionFor[kind]
	return p, ok
}
