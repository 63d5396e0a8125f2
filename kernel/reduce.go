package kernel

// Reduce applies msg to state and returns the resulting state together with
// the KernelEvent it produced, or a KernelError if the operation is invalid.
// Reduce never mutates state in place: on success it returns a new
// *WorldState built from a clone of state; on error it returns state
// unchanged together with the error (§4.4, §7, I5).
//
// Reduce never suspends (§5): it performs no I/O and calls clock.Now()
// exactly once.
func Reduce(state *WorldState, msg Message, clock Clock, seq uint64) (*WorldState, *KernelEvent, *KernelError) {
	now := clock.Now()

	if err := checkTimestamp(msg.Timestamp, now); err != nil {
		return state, nil, err
	}

	perm, known := RequiredPermission(msg.Op.Kind)
	if !known {
		return state, nil, malformed("unknown operation kind")
	}
	if !msg.Claims.Has(perm) {
		return state, nil, unauthorized("missing permission " + perm)
	}

	if err := checkOrigin(msg); err != nil {
		return state, nil, err
	}
	if err := checkBounds(msg.Op); err != nil {
		return state, nil, err
	}

	next := state.Clone()
	overflow, err := apply(next, msg.Origin, msg.Op, now)
	if err != nil {
		return state, nil, err
	}

	event := &KernelEvent{
		Kind:            msg.Op.Kind,
		Sequence:        seq,
		Timestamp:       now,
		Operation:       msg.Op,
		OverflowWarning: overflow,
	}
	return next, event, nil
}
