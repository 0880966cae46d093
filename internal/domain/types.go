// Package domain holds the core entities of the fleet controller.
// The domain layer is pure: no database handles, no network clients,
// no logging. Repositories and services hold these values by copy.
package domain

import "time"

// WalletType identifies the account implementation backing a wallet.
// Only smart-contract accounts are supported today.
type WalletType string

const (
	WalletTypeSmart WalletType = "smart"
)

// Wallet is a smart-contract account managed by this process.
type Wallet struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	Address             string     `json:"address"`
	OwnerAddress        string     `json:"ownerAddress"`
	ProviderAccountName string     `json:"providerAccountName"`
	Type                WalletType `json:"type"`
	IsMaster            bool       `json:"isMaster"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// StrategyMode controls how a trade total is split across a cluster.
type StrategyMode string

const (
	StrategySync      StrategyMode = "sync"
	StrategyStaggered StrategyMode = "staggered"
	StrategyMomentum  StrategyMode = "momentum"
)

// ValidStrategyMode reports whether mode is one of the known strategies.
func ValidStrategyMode(mode StrategyMode) bool {
	switch mode {
	case StrategySync, StrategyStaggered, StrategyMomentum:
		return true
	}
	return false
}

// Cluster is a named, ordered group of non-master wallets sharing a
// strategy mode.
type Cluster struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	StrategyMode StrategyMode `json:"strategyMode"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// OperationType is the tag on an operation's intent payload.
type OperationType string

const (
	OpFundingRequest OperationType = "FUNDING_REQUEST"
	OpSupportCoin    OperationType = "SUPPORT_COIN"
	OpExitCoin       OperationType = "EXIT_COIN"
)

// ValidOperationType reports whether t is a known operation type.
func ValidOperationType(t OperationType) bool {
	switch t {
	case OpFundingRequest, OpSupportCoin, OpExitCoin:
		return true
	}
	return false
}

// OperationStatus is the durable state of an operation. Transitions are
// monotone; see AllowedTransition.
type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusApproved  OperationStatus = "approved"
	StatusExecuting OperationStatus = "executing"
	StatusComplete  OperationStatus = "complete"
	StatusPartial   OperationStatus = "partial"
	StatusFailed    OperationStatus = "failed"
	StatusCancelled OperationStatus = "cancelled"
)

// TerminalStatus reports whether s ends the operation lifecycle.
func TerminalStatus(s OperationStatus) bool {
	switch s {
	case StatusComplete, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// AllowedTransition encodes the operation status lattice:
//
//	pending   -> approved | cancelled
//	approved  -> executing | failed
//	executing -> complete | partial | failed
//
// approved -> failed covers the last-moment policy re-check at the
// execution boundary. Everything else is refused with STATE_CONFLICT.
func AllowedTransition(from, to OperationStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusCancelled
	case StatusApproved:
		return to == StatusExecuting || to == StatusFailed
	case StatusExecuting:
		return to == StatusComplete || to == StatusPartial || to == StatusFailed
	}
	return false
}

// Operation is the unit of durable intent. The payload is an opaque
// JSON document typed by Type; use ParsePayload before trusting it.
type Operation struct {
	ID           int64           `json:"id"`
	Type         OperationType   `json:"type"`
	ClusterID    int64           `json:"clusterId"`
	Status       OperationStatus `json:"status"`
	RequestedBy  string          `json:"requestedBy"`
	ApprovedBy   string          `json:"approvedBy,omitempty"`
	PayloadJSON  string          `json:"payloadJson"`
	ResultJSON   string          `json:"resultJson,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// UnitStatus is the terminal state of a single per-wallet unit.
type UnitStatus string

const (
	UnitComplete UnitStatus = "complete"
	UnitFailed   UnitStatus = "failed"
)

// Trade records one wallet's single swap. Amounts are wei-scale
// base-10 strings; AmountOut is empty until the receipt is parsed.
type Trade struct {
	ID           int64      `json:"id"`
	WalletID     int64      `json:"walletId"`
	FromToken    string     `json:"fromToken"`
	ToToken      string     `json:"toToken"`
	AmountIn     string     `json:"amountIn"`
	AmountOut    string     `json:"amountOut,omitempty"`
	UserOpHash   string     `json:"userOpHash,omitempty"`
	TxHash       string     `json:"txHash,omitempty"`
	Status       UnitStatus `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// FundingTx records one value transfer from the master wallet to a
// fleet wallet.
type FundingTx struct {
	ID           int64      `json:"id"`
	WalletID     int64      `json:"walletId"`
	AmountWei    string     `json:"amountWei"`
	UserOpHash   string     `json:"userOpHash,omitempty"`
	TxHash       string     `json:"txHash,omitempty"`
	Status       UnitStatus `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Position is the running per-(wallet, coin) cost-basis ledger.
// HoldingsRaw never goes below zero; the store clamps and logs.
type Position struct {
	WalletID         int64     `json:"walletId"`
	CoinAddress      string    `json:"coinAddress"`
	TotalCostWei     string    `json:"totalCostWei"`
	TotalReceivedWei string    `json:"totalReceivedWei"`
	HoldingsRaw      string    `json:"holdingsRaw"`
	BuyCount         int       `json:"buyCount"`
	SellCount        int       `json:"sellCount"`
	FirstActionAt    time.Time `json:"firstActionAt"`
	LastActionAt     time.Time `json:"lastActionAt"`
}

// SwingConfig holds per-(fleet, coin) auto-exit rules. StopLossBps is
// stored positive and applied negatively.
type SwingConfig struct {
	ID              int64      `json:"id"`
	FleetName       string     `json:"fleetName"`
	CoinAddress     string     `json:"coinAddress"`
	TakeProfitBps   int64      `json:"takeProfitBps"`
	StopLossBps     int64      `json:"stopLossBps"`
	TrailingStopBps *int64     `json:"trailingStopBps,omitempty"`
	CooldownSec     int64      `json:"cooldownSec"`
	SlippageBps     int64      `json:"slippageBps"`
	Enabled         bool       `json:"enabled"`
	PeakPnlBps      *int64     `json:"peakPnlBps,omitempty"`
	LastActionAt    *time.Time `json:"lastActionAt,omitempty"`
}
