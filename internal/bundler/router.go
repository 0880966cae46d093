package bundler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/clock"
	"github.com/klawleybot/fleetd/internal/domain"
	"github.com/klawleybot/fleetd/internal/observability"
)

// RouterConfig bounds the router's timing behavior.
type RouterConfig struct {
	SendTimeout         time.Duration
	HedgeDelay          time.Duration
	ReceiptPoll         time.Duration
	ReceiptTimeout      time.Duration
	SponsorshipPolicyID string
}

// Router submits user operations to the primary provider and fails
// over to the secondary when the primary's error is transient. Every
// send returns the full attempt trail so callers can persist it.
type Router struct {
	primary   Adapter
	secondary Adapter
	cfg       RouterConfig
	clk       clock.Clock
	metrics   *observability.Metrics
	log       zerolog.Logger
}

// NewRouter wires a router over the two providers. secondary may be
// nil, in which case failover and hedging degrade to primary-only.
// metrics may be nil.
func NewRouter(primary, secondary Adapter, cfg RouterConfig, clk clock.Clock, metrics *observability.Metrics, log zerolog.Logger) *Router {
	return &Router{
		primary:   primary,
		secondary: secondary,
		cfg:       cfg,
		clk:       clk,
		metrics:   metrics,
		log:       log.With().Str("component", "bundler_router").Logger(),
	}
}

func (r *Router) sendOne(ctx context.Context, adapter Adapter, op UserOp) (*SendResult, Attempt) {
	sendCtx := ctx
	if r.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, r.cfg.SendTimeout)
		defer cancel()
	}

	start := r.clk.Now()
	result, err := adapter.SendUserOperation(sendCtx, op)
	attempt := Attempt{
		Provider: adapter.Name(),
		Elapsed:  r.clk.Now().Sub(start),
	}
	if err != nil {
		attempt.Error = err.Error()
		attempt.Category = Classify(err)
		r.metrics.RecordUserOpAttempt(attempt.Provider, false)
		return nil, attempt
	}
	attempt.OK = true
	r.metrics.RecordUserOpAttempt(attempt.Provider, true)
	return result, attempt
}

// Send submits through the primary provider, trying the secondary only
// when the primary's failure classifies as transient. Validation and
// fatal errors are not retried; they would fail identically on the
// other provider.
func (r *Router) Send(ctx context.Context, op UserOp) (*SendResult, []Attempt, error) {
	op = r.withSponsorship(op)

	result, attempt := r.sendOne(ctx, r.primary, op)
	attempts := []Attempt{attempt}
	if result != nil {
		return result, attempts, nil
	}

	r.log.Warn().
		Str("provider", attempt.Provider).
		Str("category", string(attempt.Category)).
		Str("error", attempt.Error).
		Msg("Primary bundler send failed")

	if r.secondary == nil || !FailoverWorthy(attempt.Category) {
		return nil, attempts, domain.NewError(domain.KindBundlerSend,
			"send failed on %s (%s): %s", attempt.Provider, attempt.Category, attempt.Error)
	}

	result, attempt = r.sendOne(ctx, r.secondary, op)
	attempts = append(attempts, attempt)
	if result != nil {
		return result, attempts, nil
	}

	return nil, attempts, domain.NewError(domain.KindBundlerSend,
		"send failed on both providers, last %s (%s): %s", attempt.Provider, attempt.Category, attempt.Error)
}

// SendHedged races both providers: the primary goes out immediately and
// the secondary after HedgeDelay, with the first acceptance winning.
// Used for time-sensitive exits where a slow primary costs money.
func (r *Router) SendHedged(ctx context.Context, op UserOp) (*SendResult, []Attempt, error) {
	if r.secondary == nil {
		return r.Send(ctx, op)
	}
	op = r.withSponsorship(op)

	hedgeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result  *SendResult
		attempt Attempt
	}
	results := make(chan outcome, 2)

	go func() {
		res, att := r.sendOne(hedgeCtx, r.primary, op)
		results <- outcome{res, att}
	}()
	go func() {
		if err := r.clk.Sleep(hedgeCtx, r.cfg.HedgeDelay); err != nil {
			results <- outcome{nil, Attempt{Provider: r.secondary.Name(), Error: err.Error(), Category: CategoryRetryable}}
			return
		}
		res, att := r.sendOne(hedgeCtx, r.secondary, op)
		results <- outcome{res, att}
	}()

	var attempts []Attempt
	for i := 0; i < 2; i++ {
		out := <-results
		attempts = append(attempts, out.attempt)
		if out.result != nil {
			cancel()
			return out.result, attempts, nil
		}
	}

	last := attempts[len(attempts)-1]
	return nil, attempts, domain.NewError(domain.KindBundlerSend,
		"hedged send failed on both providers, last %s (%s): %s", last.Provider, last.Category, last.Error)
}

// WaitForReceipt polls both providers for inclusion until the receipt
// timeout elapses. Provider poll errors are tolerated; either provider
// reporting inclusion settles the wait.
func (r *Router) WaitForReceipt(ctx context.Context, userOpHash string) (*Receipt, error) {
	deadline := r.clk.Now().Add(r.cfg.ReceiptTimeout)

	adapters := []Adapter{r.primary}
	if r.secondary != nil {
		adapters = append(adapters, r.secondary)
	}

	for {
		for _, adapter := range adapters {
			receipt, err := adapter.GetReceipt(ctx, userOpHash)
			if err != nil {
				r.log.Debug().
					Str("provider", adapter.Name()).
					Err(err).
					Msg("Receipt poll failed, will retry")
				continue
			}
			if receipt.Included {
				return receipt, nil
			}
		}

		if !r.clk.Now().Add(r.cfg.ReceiptPoll).Before(deadline) {
			return nil, domain.NewError(domain.KindReceiptTimeout,
				"no receipt for %s after %s", userOpHash, r.cfg.ReceiptTimeout)
		}
		if err := r.clk.Sleep(ctx, r.cfg.ReceiptPoll); err != nil {
			return nil, err
		}
	}
}

// EstimateGas quotes gas through the primary, falling back to the
// secondary on any primary failure. Estimation is read-only so a
// blanket fallback is safe.
func (r *Router) EstimateGas(ctx context.Context, op UserOp) (*GasEstimate, error) {
	op = r.withSponsorship(op)
	est, err := r.primary.EstimateGas(ctx, op)
	if err == nil {
		return est, nil
	}
	if r.secondary == nil {
		return nil, err
	}
	return r.secondary.EstimateGas(ctx, op)
}

func (r *Router) withSponsorship(op UserOp) UserOp {
	if op.SponsorshipPolicyID == "" && r.cfg.SponsorshipPolicyID != "" {
		op.SponsorshipPolicyID = r.cfg.SponsorshipPolicyID
	}
	return op
}
