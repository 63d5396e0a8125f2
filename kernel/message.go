package kernel

import (
	"time"

	"github.com/toka-systems/toka/ids"
)

// Claims is the structured result of a successful capability validation
// (§4.1). The kernel depends only on this shape, not on how a token was
// signed or parsed — that is the capability package's concern.
type Claims struct {
	Subject     ids.EntityId
	Permissions map[string]struct{}
	Expiry      time.Time
	IssuedAt    time.Time
	Nonce       string
}

// Has reports whether the claims grant the given permission.
func (c Claims) Has(permission string) bool {
	_, ok := c.Permissions[permission]
	return ok
}

// Message is the unit of submission to the runtime: an origin, a validated
// capability, and the operation to apply (§3).
type Message struct {
	Origin     ids.EntityId
	Claims     Claims
	Op         Operation
	Timestamp  time.Time
}
