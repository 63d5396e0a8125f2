// Package capability issues and validates the bearer capability tokens that
// authorize every Message submitted to the kernel (SPEC_FULL.md §4.1). It
// wraps kernel.Claims: the kernel trusts capability.Validator to have already
// checked the token's signature, expiry, and replay status before handing it
// a Claims value.
package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/toka-systems/toka/ids"
	"github.com/toka-systems/toka/kernel"
)

// No JWT or equivalent signed-token library is present anywhere in the
// retrieved example corpus (confirmed by grepping every go.mod under
// _examples/). Rather than introduce a dependency no teacher or pack repo
// uses, tokens are a compact two-part base64url string, body.signature: the
// JSON payload followed by its HMAC-SHA256 tag from the standard library.
// There is no separate header part.

// ErrMalformedToken is returned when a token string cannot be parsed.
var ErrMalformedToken = errors.New("capability: malformed token")

// ErrBadSignature is returned when a token's signature does not match.
var ErrBadSignature = errors.New("capability: signature mismatch")

// ErrExpired is returned when a token's Expiry has passed.
var ErrExpired = errors.New("capability: token expired")

// ErrReplayed is returned when a token's nonce has already been consumed.
var ErrReplayed = errors.New("capability: nonce already used")

// payload is the signed body of a capability token.
type payload struct {
	Subject     ids.EntityId `json:"sub"`
	Permissions []string     `json:"perms"`
	IssuedAt    time.Time    `json:"iat"`
	Expiry      time.Time    `json:"exp"`
	Nonce       string       `json:"nonce"`
}

// Issuer signs capability tokens. Production deployments hold exactly one
// Issuer per signing key; rotating keys requires a new Issuer and a grace
// period during which Validator accepts both.
type Issuer struct {
	secret []byte
}

// NewIssuer constructs an Issuer using secret as the HMAC-SHA256 key.
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: append([]byte(nil), secret...)}
}

// Issue signs a token granting subject the given permissions, valid from now
// until ttl has elapsed. The nonce is taken from the caller so tests can
// supply deterministic values; production callers should pass a fresh
// ids.EventId.String() per token.
func (i *Issuer) Issue(subject ids.EntityId, permissions []string, ttl time.Duration, nonce string) (string, error) {
	now := time.Now().UTC()
	p := payload{
		Subject:     subject,
		Permissions: append([]string(nil), permissions...),
		IssuedAt:    now,
		Expiry:      now.Add(ttl),
		Nonce:       nonce,
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("capability: marshal payload: %w", err)
	}
	encBody := base64.RawURLEncoding.EncodeToString(body)
	sig := sign(i.secret, encBody)
	return encBody + "." + sig, nil
}

// parse splits and verifies a token's signature without checking expiry or
// replay, both of which depend on caller-supplied state (Validator does
// both).
func parse(secret []byte, token string) (payload, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return payload{}, ErrMalformedToken
	}
	encBody, sig := parts[0], parts[1]
	if !hmac.Equal([]byte(sign(secret, encBody)), []byte(sig)) {
		return payload{}, ErrBadSignature
	}
	body, err := base64.RawURLEncoding.DecodeString(encBody)
	if err != nil {
		return payload{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return payload{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return p, nil
}

func sign(secret []byte, encBody string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encBody))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (p payload) toClaims() kernel.Claims {
	perms := make(map[string]struct{}, len(p.Permissions))
	for _, perm := range p.Permissions {
		perms[perm] = struct{}{}
	}
	return kernel.Claims{
		Subject:     p.Subject,
		Permissions: perms,
		IssuedAt:    p.IssuedAt,
		Expiry:      p.Expiry,
		Nonce:       p.Nonce,
	}
}
