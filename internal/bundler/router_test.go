package bundler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klawleybot/fleetd/internal/clock"
	"github.com/klawleybot/fleetd/internal/domain"
	"github.com/klawleybot/fleetd/internal/observability"
)

// fakeAdapter scripts one provider's behavior per call.
type fakeAdapter struct {
	name     string
	sendErr  error
	sends    int
	receipts []*Receipt // returned in order; last repeats
	polls    int
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) EstimateGas(ctx context.Context, op UserOp) (*GasEstimate, error) {
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	return &GasEstimate{PreVerification: "1", Verification: "2", Call: "3"}, nil
}

func (a *fakeAdapter) SendUserOperation(ctx context.Context, op UserOp) (*SendResult, error) {
	a.sends++
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	return &SendResult{UserOpHash: "0xhash-" + a.name, Provider: a.name}, nil
}

func (a *fakeAdapter) GetReceipt(ctx context.Context, userOpHash string) (*Receipt, error) {
	i := a.polls
	a.polls++
	if len(a.receipts) == 0 {
		return &Receipt{Included: false}, nil
	}
	if i >= len(a.receipts) {
		i = len(a.receipts) - 1
	}
	return a.receipts[i], nil
}

func newTestRouter(primary, secondary Adapter) *Router {
	return NewRouter(primary, secondary, RouterConfig{
		ReceiptPoll:    time.Second,
		ReceiptTimeout: 10 * time.Second,
	}, clock.NewFake(time.Unix(1700000000, 0)), nil, zerolog.Nop())
}

func TestSendPrimarySucceeds(t *testing.T) {
	primary := &fakeAdapter{name: "alpha"}
	secondary := &fakeAdapter{name: "beta"}
	r := newTestRouter(primary, secondary)

	result, attempts, err := r.Send(context.Background(), UserOp{Sender: "0x1"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", result.Provider)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].OK)
	assert.Zero(t, secondary.sends)
}

func TestSendFailsOverOnRateLimit(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", sendErr: errors.New("429 too many requests")}
	secondary := &fakeAdapter{name: "beta"}
	r := newTestRouter(primary, secondary)

	result, attempts, err := r.Send(context.Background(), UserOp{Sender: "0x1"})
	require.NoError(t, err)
	assert.Equal(t, "beta", result.Provider)
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].OK)
	assert.Equal(t, CategoryRateLimit, attempts[0].Category)
	assert.True(t, attempts[1].OK)
}

func TestSendDoesNotFailOverOnValidation(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", sendErr: errors.New("AA21 didn't pay prefund")}
	secondary := &fakeAdapter{name: "beta"}
	r := newTestRouter(primary, secondary)

	_, attempts, err := r.Send(context.Background(), UserOp{Sender: "0x1"})
	require.Error(t, err)
	assert.Equal(t, domain.KindBundlerSend, domain.KindOf(err))
	require.Len(t, attempts, 1)
	assert.Zero(t, secondary.sends)
}

func TestSendWithoutSecondary(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", sendErr: errors.New("timeout")}
	r := newTestRouter(primary, nil)

	_, attempts, err := r.Send(context.Background(), UserOp{Sender: "0x1"})
	require.Error(t, err)
	assert.Equal(t, domain.KindBundlerSend, domain.KindOf(err))
	require.Len(t, attempts, 1)
}

func TestSendBothProvidersFail(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", sendErr: errors.New("timeout")}
	secondary := &fakeAdapter{name: "beta", sendErr: errors.New("network unreachable")}
	r := newTestRouter(primary, secondary)

	_, attempts, err := r.Send(context.Background(), UserOp{Sender: "0x1"})
	require.Error(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, primary.sends)
	assert.Equal(t, 1, secondary.sends)
}

func TestWaitForReceiptSettlesOnInclusion(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", receipts: []*Receipt{
		{Included: false},
		{Included: true, Success: true, TxHash: "0xtx"},
	}}
	r := newTestRouter(primary, nil)

	receipt, err := r.WaitForReceipt(context.Background(), "0xhash")
	require.NoError(t, err)
	assert.True(t, receipt.Included)
	assert.Equal(t, "0xtx", receipt.TxHash)
}

func TestWaitForReceiptTimesOut(t *testing.T) {
	primary := &fakeAdapter{name: "alpha"} // never included
	r := newTestRouter(primary, nil)

	_, err := r.WaitForReceipt(context.Background(), "0xhash")
	require.Error(t, err)
	assert.Equal(t, domain.KindReceiptTimeout, domain.KindOf(err))
	// With a 10s budget and 1s poll the fake clock bounds the attempts
	assert.LessOrEqual(t, primary.polls, 11)
	assert.GreaterOrEqual(t, primary.polls, 9)
}

func TestWaitForReceiptPrefersEitherProvider(t *testing.T) {
	primary := &fakeAdapter{name: "alpha"} // never included
	secondary := &fakeAdapter{name: "beta", receipts: []*Receipt{
		{Included: true, Success: true, TxHash: "0xtx-beta"},
	}}
	r := newTestRouter(primary, secondary)

	receipt, err := r.WaitForReceipt(context.Background(), "0xhash")
	require.NoError(t, err)
	assert.Equal(t, "0xtx-beta", receipt.TxHash)
}

func TestSponsorshipPolicyApplied(t *testing.T) {
	primary := &fakeAdapter{name: "alpha"}
	r := NewRouter(primary, nil, RouterConfig{SponsorshipPolicyID: "sp-default"},
		clock.NewFake(time.Unix(1700000000, 0)), nil, zerolog.Nop())

	op := r.withSponsorship(UserOp{Sender: "0x1"})
	assert.Equal(t, "sp-default", op.SponsorshipPolicyID)

	op = r.withSponsorship(UserOp{Sender: "0x1", SponsorshipPolicyID: "sp-own"})
	assert.Equal(t, "sp-own", op.SponsorshipPolicyID)
}

func TestSendCountsAttemptsPerProvider(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", sendErr: errors.New("429 too many requests")}
	secondary := &fakeAdapter{name: "beta"}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := NewRouter(primary, secondary, RouterConfig{},
		clock.NewFake(time.Unix(1700000000, 0)), metrics, zerolog.Nop())

	_, _, err := r.Send(context.Background(), UserOp{Sender: "0x1"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UserOpsTotal.WithLabelValues("alpha", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.UserOpsTotal.WithLabelValues("beta", "ok")))
}

func TestEstimateGasFallsBack(t *testing.T) {
	primary := &fakeAdapter{name: "alpha", sendErr: errors.New("boom")}
	secondary := &fakeAdapter{name: "beta"}
	r := newTestRouter(primary, secondary)

	est, err := r.EstimateGas(context.Background(), UserOp{Sender: "0x1"})
	require.NoError(t, err)
	assert.Equal(t, "3", est.Call)
}
