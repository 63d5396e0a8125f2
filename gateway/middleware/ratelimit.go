// Package middleware provides reusable gateway.Server middleware such as
// adaptive rate limiting.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/toka-systems/toka/gateway"
	"goa.design/pulse/rmap"
)

// ErrRateLimited marks a provider's rate-limit rejection. A handler error
// that wraps it makes the limiter halve its budget; the limiter itself never
// retries the request.
var ErrRateLimited = errors.New("gateway: rate limited")

type (
	// AdaptiveRateLimiter applies an AIMD-style adaptive token bucket in
	// front of a gateway.Client. It estimates the token cost of each request,
	// blocks callers until capacity is available, and adjusts its effective
	// tokens-per-minute budget in response to rate-limit signals from the
	// provider.
	//
	// A single limiter guards one process's calls to a given provider; when
	// given a Pulse replicated map, it starts from the budget stored under
	// its key and follows later changes to that entry. Its own AIMD
	// adjustments stay local: they are not written back to the map.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM float64
		minTPM     float64
		maxTPM     float64

		recoveryRate float64
	}

	clusterMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}

	rmapClusterMap struct{ m *rmap.Map }
)

// NewAdaptiveRateLimiter constructs an AdaptiveRateLimiter with a
// tokens-per-minute budget. When m and key are non-empty, the limiter reads
// its starting budget from the Pulse replicated map (seeding the key with
// initialTPM when absent) and follows later changes to that key; otherwise
// it is process-local.
func NewAdaptiveRateLimiter(ctx context.Context, m *rmap.Map, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	var cm clusterMap
	if m != nil {
		cm = &rmapClusterMap{m: m}
	}
	return newClusterAdaptiveRateLimiter(ctx, cm, key, initialTPM, maxTPM)
}

func newAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &AdaptiveRateLimiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

func newClusterAdaptiveRateLimiter(ctx context.Context, m clusterMap, key string, initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if key == "" || m == nil {
		return newAdaptiveRateLimiter(initialTPM, maxTPM)
	}
	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(initialTPM))); err != nil {
			return newAdaptiveRateLimiter(initialTPM, maxTPM)
		}
	}
	sharedTPM := initialTPM
	if cur, ok := m.Get(key); ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			sharedTPM = v
		}
	}
	l := newAdaptiveRateLimiter(sharedTPM, maxTPM)

	ch := m.Subscribe()
	go func() {
		for range ch {
			cur, ok := m.Get(key)
			if !ok {
				continue
			}
			if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
				l.replaceTPM(v)
			}
		}
	}()
	return l
}

func (m *rmapClusterMap) Get(key string) (string, bool) { return m.m.Get(key) }

func (m *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return m.m.SetIfNotExists(ctx, key, value)
}

func (m *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return m.m.TestAndSet(ctx, key, test, value)
}

func (m *rmapClusterMap) Subscribe() <-chan rmap.EventKind { return m.m.Subscribe() }

// UnaryMiddleware returns a gateway.UnaryMiddleware that enforces the
// adaptive tokens-per-minute limit around a unary completion.
func (l *AdaptiveRateLimiter) UnaryMiddleware() gateway.UnaryMiddleware {
	return func(next gateway.UnaryHandler) gateway.UnaryHandler {
		return func(ctx context.Context, req *gateway.Request) (*gateway.Response, error) {
			if err := l.wait(ctx, req); err != nil {
				return nil, err
			}
			resp, err := next(ctx, req)
			l.observe(err)
			return resp, err
		}
	}
}

// StreamMiddleware returns a gateway.StreamMiddleware that enforces the same
// budget around a streaming completion.
func (l *AdaptiveRateLimiter) StreamMiddleware() gateway.StreamMiddleware {
	return func(next gateway.StreamHandler) gateway.StreamHandler {
		return func(ctx context.Context, req *gateway.Request, send func(gateway.Chunk) error) error {
			if err := l.wait(ctx, req); err != nil {
				return err
			}
			err := next(ctx, req, send)
			l.observe(err)
			return err
		}
	}
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req *gateway.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, ErrRateLimited) {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setLocked(newTPM)
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setLocked(newTPM)
}

func (l *AdaptiveRateLimiter) replaceTPM(tpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tpm < l.minTPM {
		tpm = l.minTPM
	}
	if tpm > l.maxTPM {
		tpm = l.maxTPM
	}
	l.setLocked(tpm)
}

// setLocked updates the limiter's effective budget. Callers must hold mu.
func (l *AdaptiveRateLimiter) setLocked(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// estimateTokens computes a cheap heuristic for the number of tokens in the
// request transcript: characters over a fixed ratio, plus a fixed buffer for
// system prompts and provider framing.
func estimateTokens(req *gateway.Request) int {
	charCount := 0
	for _, m := range req.Messages {
		charCount += len(m.Content)
	}
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
