package modelclient

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter applies an AIMD-style adaptive token bucket in front of a
// Client: it estimates the token cost of each request, blocks the caller
// until capacity is available, then halves its effective budget on a
// rate-limited response and grows it back gradually on success. It is
// process-local; each entry in a Pool gets its own instance so concurrent
// agents sharing one pooled client share its budget too.
type RateLimiter struct {
	next Client

	mu           sync.Mutex
	limiter      *rate.Limiter
	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewRateLimiter wraps next with an adaptive tokens-per-minute budget.
// maxTPM is clamped to initialTPM when it is zero or smaller.
func NewRateLimiter(next Client, initialTPM, maxTPM float64) *RateLimiter {
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
	recovery := initialTPM * 0.05
	if recovery < 1 {
		recovery = 1
	}
	return &RateLimiter{
		next:         next,
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recovery,
	}
}

func (l *RateLimiter) Complete(ctx context.Context, req Request) (Response, error) {
	if err := l.wait(ctx, req); err != nil {
		return Response{}, err
	}
	resp, err := l.next.Complete(ctx, req)
	l.observe(err)
	return resp, err
}

func (l *RateLimiter) Stream(ctx context.Context, req Request) (Streamer, error) {
	if err := l.wait(ctx, req); err != nil {
		return nil, err
	}
	s, err := l.next.Stream(ctx, req)
	l.observe(err)
	return s, err
}

func (l *RateLimiter) CountTokens(ctx context.Context, text string) (int, error) {
	return l.next.CountTokens(ctx, text)
}

func (l *RateLimiter) wait(ctx context.Context, req Request) error {
	return l.limiter.WaitN(ctx, estimateRequestTokens(req))
}

func (l *RateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) && provErr.Kind == ProviderErrorRateLimited {
		l.backoff()
	}
}

func (l *RateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM * 0.5
	if next < l.minTPM {
		next = l.minTPM
	}
	l.setLocked(next)
}

func (l *RateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.currentTPM + l.recoveryRate
	if next > l.maxTPM {
		next = l.maxTPM
	}
	l.setLocked(next)
}

func (l *RateLimiter) setLocked(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// estimateRequestTokens is a cheap chars/3 heuristic plus a fixed 500-token
// overhead buffer, more conservative than the chars/4 estimate the provider
// adapters' CountTokens implementations use.
func estimateRequestTokens(req Request) int {
	chars := 0
	for _, m := range req.Messages {
		chars += len(m.Text)
	}
	tokens := chars/3 + 500
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
