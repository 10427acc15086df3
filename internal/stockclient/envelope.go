package stockclient

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/metrics"
	"github.com/ariefcatur/go-order-saga/internal/resilience"
	"github.com/ariefcatur/go-order-saga/internal/stock"
	"github.com/rs/zerolog"
	"time"
)

// Pesan fallback per operasi.
var fallbackMessages = map[string]string{
	OpGetVariant: "Product Service unavailable. Could not get variant.",
	OpReserve:    "Product Service unavailable. Could not reduce stock.",
	OpRelease:    "Product Service unavailable. Could not increase stock.",
}

// isInfraFailure: hanya kegagalan infrastruktur yang dihitung breaker.
func isInfraFailure(err error) bool {
	return err != nil && !apperr.IsDomain(err)
}

// Retryable is the classifier used by WithRetry: transient failures only,
// never domain rejections and never an open circuit.
func Retryable(err error) bool {
	return isInfraFailure(err) && !errors.Is(err, resilience.ErrOpen)
}

// fallback converts any non-domain failure into a ServiceUnavailable error.
// Domain rejections pass through untouched.
func fallback(log zerolog.Logger, op string, err error) error {
	if err == nil || apperr.IsDomain(err) {
		return err
	}
	reason := "exhausted"
	switch {
	case errors.Is(err, resilience.ErrOpen):
		reason = "circuit_open"
	case errors.Is(err, context.Canceled):
		reason = "canceled"
	}
	metrics.Fallbacks.WithLabelValues(op, reason).Inc()
	log.Warn().Err(err).Str("operation", op).Str("reason", reason).Msg("stock call fallback")
	return apperr.Wrap(apperr.KindUnavailable, err, "%s", fallbackMessages[op])
}

type breakerClient struct {
	next     Client
	breakers *resilience.BreakerSet
}

// WithCircuitBreaker guards every operation of next with its own breaker
// from breakers. An open breaker answers with resilience.ErrOpen
// (wrapped as ServiceUnavailable) without calling next.
func WithCircuitBreaker(next Client, breakers *resilience.BreakerSet) Client {
	return &breakerClient{next: next, breakers: breakers}
}

// guard: timeout per-call milik HTTPClient tetap dihitung gagal karena ctx
// induk masih hidup; cancel dari pemanggil tidak dihitung.
func (c *breakerClient) guard(ctx context.Context, op string, fn func() (stock.Variant, error)) (stock.Variant, error) {
	v, err := resilience.Execute(ctx, c.breakers.For(op), fn, isInfraFailure)
	if errors.Is(err, resilience.ErrOpen) {
		return v, apperr.Wrap(apperr.KindUnavailable, err, "stock %s", op)
	}
	return v, err
}

func (c *breakerClient) GetVariant(ctx context.Context, id int64) (stock.Variant, error) {
	return c.guard(ctx, OpGetVariant, func() (stock.Variant, error) { return c.next.GetVariant(ctx, id) })
}

func (c *breakerClient) Reserve(ctx context.Context, id int64, qty int) (stock.Variant, error) {
	return c.guard(ctx, OpReserve, func() (stock.Variant, error) { return c.next.Reserve(ctx, id, qty) })
}

func (c *breakerClient) Release(ctx context.Context, id int64, qty int) (stock.Variant, error) {
	return c.guard(ctx, OpRelease, func() (stock.Variant, error) { return c.next.Release(ctx, id, qty) })
}

type retryClient struct {
	next   Client
	policy resilience.RetryPolicy
	log    zerolog.Logger
}

// WithRetry retries transient failures of next according to policy and
// applies the fallback once retries are exhausted. policy.Retryable is
// replaced with Retryable.
func WithRetry(next Client, policy resilience.RetryPolicy, log zerolog.Logger) Client {
	policy.Retryable = Retryable
	return &retryClient{next: next, policy: policy, log: log}
}

func (c *retryClient) run(ctx context.Context, op string, fn func(ctx context.Context) (stock.Variant, error)) (stock.Variant, error) {
	p := c.policy
	p.Notify = func(err error, wait time.Duration) {
		metrics.RemoteRetries.WithLabelValues(op).Inc()
		c.log.Debug().Err(err).Str("operation", op).Dur("wait", wait).Msg("retrying stock call")
	}
	v, err := resilience.Retry(ctx, p, fn)
	if err != nil {
		return stock.Variant{}, fallback(c.log, op, err)
	}
	return v, nil
}

func (c *retryClient) GetVariant(ctx context.Context, id int64) (stock.Variant, error) {
	return c.run(ctx, OpGetVariant, func(ctx context.Context) (stock.Variant, error) { return c.next.GetVariant(ctx, id) })
}

func (c *retryClient) Reserve(ctx context.Context, id int64, qty int) (stock.Variant, error) {
	return c.run(ctx, OpReserve, func(ctx context.Context) (stock.Variant, error) { return c.next.Reserve(ctx, id, qty) })
}

func (c *retryClient) Release(ctx context.Context, id int64, qty int) (stock.Variant, error) {
	return c.run(ctx, OpRelease, func(ctx context.Context) (stock.Variant, error) { return c.next.Release(ctx, id, qty) })
}

// New builds the full envelope around raw: retry outside, breaker inside.
func New(raw Client, breakers *resilience.BreakerSet, policy resilience.RetryPolicy, log zerolog.Logger) Client {
	return WithRetry(WithCircuitBreaker(raw, breakers), policy, log)
}

// BreakerMetrics returns an OnStateChange hook that mirrors breaker state
// into the stock_client_breaker_state gauge.
func BreakerMetrics(log zerolog.Logger) func(name string, from, to resilience.State) {
	return func(name string, from, to resilience.State) {
		metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		log.Warn().Str("operation", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
	}
}
