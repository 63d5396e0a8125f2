package kernel_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/toka-systems/toka/ids"
	"github.com/toka-systems/toka/kernel"
)

// TestReduceResourceSaturationProperty verifies Property P4: reporting
// resource usage never produces a counter below its previous value, and
// only ever saturates at the uint64 maximum instead of wrapping.
func TestReduceResourceSaturationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("memory usage is monotonically non-decreasing and never wraps", prop.ForAll(
		func(amounts []uint64) bool {
			now := time.Now().UTC()
			clock := fixedClock{now}
			state := kernel.NewWorldState()
			agent := spawnRootForProperty(state, clock, now)

			var prevUsage uint64
			seq := uint64(2)
			for _, a := range amounts {
				op := kernel.NewReportResource(agent, kernel.ResourceMemoryBytes, a, time.Millisecond)
				msg := kernel.Message{Origin: agent, Claims: allClaims(now), Op: op, Timestamp: now}
				next, _, kerr := kernel.Reduce(state, msg, clock, seq)
				if kerr != nil {
					return false
				}
				usage := next.ResourceUsage[agent].MemoryBytes
				if usage < prevUsage {
					return false
				}
				prevUsage = usage
				state = next
				seq++
			}
			return true
		},
		gen.SliceOf(gen.UInt64()),
	))

	properties.TestingRun(t)
}

// TestReduceSequenceMonotonicProperty verifies Property P1: event sequence
// numbers assigned by Reduce strictly increase across successive accepted
// operations on the same agent.
func TestReduceSequenceMonotonicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("sequence numbers on committed events strictly increase", prop.ForAll(
		func(n uint8) bool {
			now := time.Now().UTC()
			clock := fixedClock{now}
			state := kernel.NewWorldState()
			agent := spawnRootForProperty(state, clock, now)

			var lastSeq uint64
			for i := 0; i < int(n); i++ {
				op := kernel.NewEmitObservation(agent, []byte("tick"))
				msg := kernel.Message{Origin: agent, Claims: allClaims(now), Op: op, Timestamp: now}
				next, event, kerr := kernel.Reduce(state, msg, clock, uint64(i)+2)
				if kerr != nil {
					return false
				}
				if event.Sequence <= lastSeq {
					return false
				}
				lastSeq = event.Sequence
				state = next
			}
			return true
		},
		gen.UInt8Range(0, 20),
	))

	properties.TestingRun(t)
}

func spawnRootForProperty(state *kernel.WorldState, clock kernel.Clock, now time.Time) ids.EntityId {
	digest, err := ids.Digest([]byte("property-agent-spec"), nil)
	if err != nil {
		panic(err)
	}
	op := kernel.NewSpawnSubAgent(ids.Root, kernel.AgentSpecDigest{Digest: digest})
	msg := kernel.Message{Origin: ids.Root, Claims: allClaims(now), Op: op, Timestamp: now}
	next, _, kerr := kernel.Reduce(state, msg, clock, 1)
	if kerr != nil {
		panic(kerr)
	}
	*state = *next
	return ids.NewChildEntityId(ids.Root, digest)
}
