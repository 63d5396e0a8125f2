package capability

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/toka-systems/toka/kernel"
)

// Validator checks bearer capability tokens and produces the kernel.Claims
// the runtime attaches to a Message before submitting it to Reduce
// (SPEC_FULL.md §4.1). Validation order is: rate limit (when configured
// with WithRateLimit), then signature, expiry, issued-at skew, and replay.
// Every request, garbage tokens included, passes through the limiter; a
// token that fails the signature or time checks is rejected before the
// NonceCache sees it, so it never consumes a nonce.
type Validator struct {
	secret  []byte
	replay  NonceCache
	limiter *rate.Limiter
}

// Option configures a Validator.
type Option func(*Validator)

// WithRateLimit bounds the number of validations per second, with burst b.
// Exceeding the limit blocks the caller until capacity frees up or ctx is
// cancelled, rather than rejecting outright, matching the teacher's adaptive
// limiter (features/model/middleware.AdaptiveRateLimiter) in spirit: callers
// are throttled, not dropped.
func WithRateLimit(perSecond float64, b int) Option {
	return func(v *Validator) {
		v.limiter = rate.NewLimiter(rate.Limit(perSecond), b)
	}
}

// NewValidator constructs a Validator. secret is the HMAC-SHA256 key shared
// with the Issuer(s) that signed the tokens it will see; replay tracks
// consumed nonces and must be shared across every validator instance that
// must agree on replay state (use ReplicatedNonceCache in a cluster).
func NewValidator(secret []byte, replay NonceCache, opts ...Option) *Validator {
	v := &Validator{secret: append([]byte(nil), secret...), replay: replay}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate parses and verifies token, returning the kernel.Claims it grants.
// Validate returns an error — never partial claims — for any failure: bad
// signature, expired token, a token issued more than a minute in the
// future, replayed nonce, or a cancelled/limited context.
func (v *Validator) Validate(ctx context.Context, token string) (kernel.Claims, error) {
	if v.limiter != nil {
		if err := v.limiter.Wait(ctx); err != nil {
			return kernel.Claims{}, fmt.Errorf("capability: rate limit: %w", err)
		}
	}

	p, err := parse(v.secret, token)
	if err != nil {
		return kernel.Claims{}, err
	}

	now := time.Now().UTC()
	if now.After(p.Expiry) {
		return kernel.Claims{}, ErrExpired
	}
	if p.IssuedAt.After(now.Add(time.Minute)) {
		return kernel.Claims{}, fmt.Errorf("capability: token not yet valid (issued at %s)", p.IssuedAt.Format(time.RFC3339))
	}

	if p.Nonce != "" && v.replay != nil {
		fresh, err := v.replay.Claim(ctx, p.Nonce, p.Expiry)
		if err != nil {
			return kernel.Claims{}, fmt.Errorf("capability: replay check: %w", err)
		}
		if !fresh {
			return kernel.Claims{}, ErrReplayed
		}
	}

	return p.toClaims(), nil
}
