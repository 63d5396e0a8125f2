// Package ids defines the opaque identifier types shared across the kernel,
// event store, and runtime: EntityId, EventId, and CausalDigest. All three
// are deliberately opaque — callers must not assume internal structure (byte
// layout, version bits, timestamp embedding) beyond what this package
// exposes.
package ids

import (
	"crypto/hmac"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// EntityId is an opaque 128-bit identifier for an agent. The zero value
// (Root) is reserved for the kernel-root and is never assigned to a spawned
// agent.
type EntityId [16]byte

// Root is the reserved EntityId referring to the kernel itself. It is the
// only legal origin for operations that have no owning agent.
var Root = EntityId{}

// NewEntityId draws a fresh, non-reused EntityId from a random namespace.
func NewEntityId() EntityId {
	return EntityId(uuid.New())
}

// IsRoot reports whether id is the reserved kernel-root identifier.
func (id EntityId) IsRoot() bool { return id == Root }

// String renders the identifier as a hyphenated hex string for logs and
// diagnostics. MarshalText emits the same form.
func (id EntityId) String() string { return uuid.UUID(id).String() }

// MarshalText implements encoding.TextMarshaler so EntityId can appear
// directly in JSON-tagged structs.
func (id EntityId) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *EntityId) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("ids: invalid EntityId %q: %w", b, err)
	}
	*id = EntityId(u)
	return nil
}

// NewChildEntityId derives the deterministic id of an agent spawned by
// parent with the given spec digest: EntityId = H(parent || specDigest)[:16].
// Unlike NewEntityId, this is used inside the kernel reducer, which must
// remain a pure function of its inputs (I5) — it cannot draw from a random
// source, so child ids are derived rather than generated.
func NewChildEntityId(parent EntityId, specDigest CausalDigest) EntityId {
	h, _ := blake2b.New256(nil) // nolint:errcheck // New256 with a nil key never errors
	h.Write(parent[:])
	h.Write(specDigest[:])
	var out EntityId
	copy(out[:], h.Sum(nil))
	return out
}

// EventId is an opaque 128-bit identifier for a committed kernel event,
// drawn fresh for every event — unlike EntityId it carries no lifecycle
// semantics of its own.
type EventId [16]byte

// NewEventId returns a fresh random EventId.
func NewEventId() EventId { return EventId(uuid.New()) }

// String renders the identifier as a hyphenated hex string.
func (id EventId) String() string { return uuid.UUID(id).String() }

// MarshalText implements encoding.TextMarshaler.
func (id EventId) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *EventId) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("ids: invalid EventId %q: %w", b, err)
	}
	*id = EventId(u)
	return nil
}

// CausalDigest is a 256-bit hash binding a payload to its declared parent
// events. The spec calls for "a BLAKE3-style" 256-bit hash; this
// implementation uses BLAKE2b-256, which offers the same speed/collision
// profile and is available directly from golang.org/x/crypto without
// introducing a hash not otherwise present in the example corpus.
type CausalDigest [32]byte

// ErrEmptyPayload is returned by Digest when called with a nil or
// zero-length payload; the
// spec requires every committed event to carry real bytes.
var ErrEmptyPayload = errors.New("ids: payload must not be empty")

// Digest computes the causal digest of payload concatenated with the given
// parent event ids, in declared order. Identical (payload, parents) always
// yields the identical digest (I4); any change to either input changes the
// digest.
func Digest(payload []byte, parents []EventId) (CausalDigest, error) {
	if len(payload) == 0 {
		return CausalDigest{}, ErrEmptyPayload
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return CausalDigest{}, fmt.Errorf("ids: init digest: %w", err)
	}
	h.Write(payload)
	for _, p := range parents {
		h.Write(p[:])
	}
	var out CausalDigest
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Equal reports whether two digests are identical, using a constant-time
// comparison so digest checks cannot leak timing information about where a
// mismatch occurs.
func (d CausalDigest) Equal(other CausalDigest) bool {
	return hmac.Equal(d[:], other[:])
}

// String renders the digest as a lowercase hex string.
func (d CausalDigest) String() string { return hex.EncodeToString(d[:]) }

// MarshalText implements encoding.TextMarshaler.
func (d CausalDigest) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *CausalDigest) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil || len(raw) != len(d) {
		return fmt.Errorf("ids: invalid CausalDigest %q", b)
	}
	copy(d[:], raw)
	return nil
}

// TaskId is derived deterministically from an owning EntityId and a
// per-owner monotonic sequence number: TaskId = H(owner || seq). Two tasks
// scheduled by the same owner at different sequence numbers never collide;
// the same (owner, seq) pair always yields the same TaskId.
type TaskId [32]byte

// NewTaskId derives the deterministic task identifier for (owner, seq).
func NewTaskId(owner EntityId, seq uint64) TaskId {
	h, _ := blake2b.New256(nil) // nolint:errcheck // New256 with a nil key never errors
	h.Write(owner[:])
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	h.Write(seqBuf[:])
	var out TaskId
	copy(out[:], h.Sum(nil))
	return out
}

// String renders the task id as a lowercase hex string.
func (t TaskId) String() string { return hex.EncodeToString(t[:]) }

// MarshalText implements encoding.TextMarshaler.
func (t TaskId) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TaskId) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil || len(raw) != len(t) {
		return fmt.Errorf("ids: invalid TaskId %q", b)
	}
	copy(t[:], raw)
	return nil
}
