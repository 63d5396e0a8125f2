package kernel

import "time"

// checkTimestamp enforces the [now-ClockSkewPast, now+ClockSkewFuture] bound
// on msg.Timestamp (§3/§4.4 step 3).
func checkTimestamp(ts, now time.Time) *KernelError {
	earliest := now.Add(-ClockSkewPast)
	latest := now.Add(ClockSkewFuture)
	if ts.Before(earliest) || ts.After(latest) {
		return clockSkew("timestamp outside accepted skew window")
	}
	return nil
}

// checkOrigin enforces that the submitting origin matches the agent the
// operation reports about (§4.4 step 2). ScheduleAgentTask additionally
// allows the agent's parent to act on its behalf, and SpawnSubAgent requires
// the origin to be the spawning parent; both checks are performed in apply.
func checkOrigin(msg Message) *KernelError {
	origin := msg.Origin
	op := msg.Op

	switch op.Kind {
	case OpScheduleAgentTask, OpSpawnSubAgent:
		// Parent-or-self check requires WorldState; deferred to apply.
		return nil
	case OpEmitObservation:
		if origin != op.EmitObservation.Agent {
			return unauthorized("origin does not match observing agent")
		}
	case OpAgentTerminated:
		if origin != op.AgentTerminated.Agent {
			return unauthorized("origin does not match terminated agent")
		}
	case OpAgentSuspended:
		if origin != op.AgentSuspended.Agent {
			return unauthorized("origin does not match suspended agent")
		}
	case OpAgentResumed:
		if origin != op.AgentResumed.Agent {
			return unauthorized("origin does not match resumed agent")
		}
	case OpTaskCompleted:
		if origin != op.TaskCompleted.Agent {
			return unauthorized("origin does not match task owner")
		}
	case OpTaskFailed:
		if origin != op.TaskFailed.Agent {
			return unauthorized("origin does not match task owner")
		}
	case OpTaskTimeout:
		if origin != op.TaskTimeout.Agent {
			return unauthorized("origin does not match task owner")
		}
	case OpReportResource:
		if origin != op.ReportResource.Agent {
			return unauthorized("origin does not match reporting agent")
		}
	case OpReportError:
		// ReportError carries no agent subject; any authorized origin may
		// report on behalf of a component.
	}
	return nil
}

// checkBounds enforces the structural size limits from limits.go (§4.4
// step 3) before any WorldState mutation is attempted.
func checkBounds(op Operation) *KernelError {
	switch op.Kind {
	case OpScheduleAgentTask:
		if len(op.ScheduleAgentTask.Task.Description) > TaskDescriptionMaxBytes {
			return inputTooLarge("task description exceeds limit")
		}
	case OpEmitObservation:
		if len(op.EmitObservation.Data) > ObservationMaxBytes {
			return inputTooLarge("observation payload exceeds limit")
		}
	case OpAgentSuspended:
		if len(op.AgentSuspended.Snapshot) > SnapshotMaxBytes {
			return inputTooLarge("suspend snapshot exceeds limit")
		}
	case OpAgentResumed:
		if len(op.AgentResumed.Snapshot) > SnapshotMaxBytes {
			return inputTooLarge("resume snapshot exceeds limit")
		}
	case OpReportError:
		ctx := op.ReportError.Context
		if len(ctx) > ErrorContextMaxEntries {
			return inputTooLarge("error context has too many entries")
		}
		for k, v := range ctx {
			if len(k)+len(v) > ErrorContextEntryMaxBytes {
				return inputTooLarge("error context entry exceeds limit")
			}
		}
	}
	return nil
}
