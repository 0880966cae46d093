// Package engine executes approved operations against a wallet
// cluster. On-chain specifics live behind the SwapEncoder and
// AccountProvider capabilities; the engine only sequences units,
// records outcomes, and keeps the position ledger honest.
package engine

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/klawleybot/fleetd/internal/bundler"
)

// SwapParams describes one swap for the encoder. MinAmountOut is set
// when the engine could quote the leg itself (sells); otherwise the
// encoder derives the floor from SlippageBps against its own quote.
type SwapParams struct {
	FromToken    string
	ToToken      string
	AmountIn     *uint256.Int
	MinAmountOut *uint256.Int
	SlippageBps  int64
	Recipient    string
}

// SwapEncoder hides the DEX calldata details. The engine never learns
// what a router or quoter is.
type SwapEncoder interface {
	EncodeBuy(ctx context.Context, p SwapParams) (bundler.Call, error)
	EncodeSell(ctx context.Context, p SwapParams) (bundler.Call, error)
	// ParseAmountOut extracts the received token amount from a
	// successful swap receipt.
	ParseAmountOut(receipt *bundler.Receipt) (*uint256.Int, error)
	// QuoteCoinToEth values a token amount in wei.
	QuoteCoinToEth(ctx context.Context, coinAddress string, amount *uint256.Int) (*uint256.Int, error)
}

// AccountSession is a live handle on one smart account, already routed
// through the bundler router.
type AccountSession interface {
	Address() string
	Balance(ctx context.Context) (*uint256.Int, error)
	SendUserOp(ctx context.Context, calls []bundler.Call) (*bundler.SendResult, []bundler.Attempt, error)
	WaitReceipt(ctx context.Context, userOpHash string) (*bundler.Receipt, error)
}

// AccountProvider yields sessions by the wallet's stable
// provider-account-name handle.
type AccountProvider interface {
	GetSession(ctx context.Context, providerAccountName string) (AccountSession, error)
}
