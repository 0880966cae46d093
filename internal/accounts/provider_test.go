package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klawleybot/fleetd/internal/bundler"
	"github.com/klawleybot/fleetd/internal/clock"
	"github.com/klawleybot/fleetd/internal/domain"
)

type acceptAdapter struct {
	lastOp bundler.UserOp
}

func (a *acceptAdapter) Name() string { return "fake" }

func (a *acceptAdapter) EstimateGas(ctx context.Context, op bundler.UserOp) (*bundler.GasEstimate, error) {
	return &bundler.GasEstimate{}, nil
}

func (a *acceptAdapter) SendUserOperation(ctx context.Context, op bundler.UserOp) (*bundler.SendResult, error) {
	a.lastOp = op
	return &bundler.SendResult{UserOpHash: "0xhash", Provider: "fake"}, nil
}

func (a *acceptAdapter) GetReceipt(ctx context.Context, userOpHash string) (*bundler.Receipt, error) {
	return &bundler.Receipt{Included: true, Success: true, TxHash: "0xtx"}, nil
}

func newProvider(adapter bundler.Adapter, balance BalanceFunc) *Provider {
	router := bundler.NewRouter(adapter, nil, bundler.RouterConfig{
		ReceiptPoll:    time.Second,
		ReceiptTimeout: 10 * time.Second,
	}, clock.NewFake(time.Unix(1700000000, 0)), nil, zerolog.Nop())
	return NewProvider(router, balance, zerolog.Nop())
}

func TestGetSessionUnregistered(t *testing.T) {
	p := newProvider(&acceptAdapter{}, nil)

	_, err := p.GetSession(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestSessionRoutesThroughRouter(t *testing.T) {
	adapter := &acceptAdapter{}
	p := newProvider(adapter, nil)
	p.Register("acct-1", "0x00000000000000000000000000000000000000AB")

	session, err := p.GetSession(context.Background(), "acct-1")
	require.NoError(t, err)
	// Registered addresses are normalized
	assert.Equal(t, "0x00000000000000000000000000000000000000ab", session.Address())

	calls := []bundler.Call{{To: "0x1", Data: "0x", Value: "100"}}
	result, attempts, err := session.SendUserOp(context.Background(), calls)
	require.NoError(t, err)
	assert.Equal(t, "0xhash", result.UserOpHash)
	require.Len(t, attempts, 1)
	assert.Equal(t, session.Address(), adapter.lastOp.Sender)
	assert.Equal(t, calls, adapter.lastOp.Calls)

	receipt, err := session.WaitReceipt(context.Background(), result.UserOpHash)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
}

func TestSessionBalance(t *testing.T) {
	p := newProvider(&acceptAdapter{}, func(ctx context.Context, address string) (*uint256.Int, error) {
		return uint256.NewInt(42), nil
	})
	p.Register("acct-1", "0x0000000000000000000000000000000000000001")

	session, err := p.GetSession(context.Background(), "acct-1")
	require.NoError(t, err)
	balance, err := session.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", balance.Dec())

	// Without a balance func sessions report zero
	p2 := newProvider(&acceptAdapter{}, nil)
	p2.Register("acct-1", "0x0000000000000000000000000000000000000001")
	session, err = p2.GetSession(context.Background(), "acct-1")
	require.NoError(t, err)
	balance, err = session.Balance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestLocalSignerAddress(t *testing.T) {
	// Well-known test vector: this key derives a fixed address
	const key = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

	signer, err := NewLocalSignerFromHex(key)
	require.NoError(t, err)
	assert.Equal(t, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", signer.Address())

	// 0x prefix and surrounding whitespace are tolerated
	signer2, err := NewLocalSignerFromHex(" 0x" + key + " ")
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), signer2.Address())

	_, err = NewLocalSignerFromHex("zzzz")
	require.Error(t, err)
	assert.Equal(t, domain.KindConfigInvalid, domain.KindOf(err))
}
