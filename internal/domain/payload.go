package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Operation payloads are stored as opaque JSON typed by the operation's
// Type column. They are never trusted: every consumer re-parses through
// ParsePayload, which validates shape and field ranges.

// FundingRequestPayload funds each wallet of a cluster by an absolute
// per-wallet amount. The amount is NOT split across the cluster; this
// asymmetry with trade payloads is deliberate and preserved.
type FundingRequestPayload struct {
	ClusterID int64  `json:"clusterId"`
	AmountWei string `json:"amountWei"`
}

// TradePayload is the shared shape of SUPPORT_COIN and EXIT_COIN:
// a total amount split across the cluster per the strategy mode.
type TradePayload struct {
	ClusterID      int64        `json:"clusterId"`
	CoinAddress    string       `json:"coinAddress"`
	TotalAmountWei string       `json:"totalAmountWei"`
	SlippageBps    int64        `json:"slippageBps"`
	StrategyMode   StrategyMode `json:"strategyMode"`
}

// Payload is the tagged variant decoded from an operation row. Exactly
// one branch is non-nil, matching the operation type.
type Payload struct {
	Funding *FundingRequestPayload
	Trade   *TradePayload
}

// ValidAddress reports whether s is a well-formed 0x-prefixed EVM
// address.
func ValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// NormalizeAddress lowercases a hex address for use as a stable map and
// database key.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParsePayload decodes and validates raw payload JSON against the
// operation type. Unknown fields are rejected so stale producers fail
// loudly instead of silently dropping intent.
func ParsePayload(opType OperationType, raw string) (Payload, error) {
	dec := func(v interface{}) error {
		d := json.NewDecoder(strings.NewReader(raw))
		d.DisallowUnknownFields()
		return d.Decode(v)
	}

	switch opType {
	case OpFundingRequest:
		var p FundingRequestPayload
		if err := dec(&p); err != nil {
			return Payload{}, fmt.Errorf("invalid FUNDING_REQUEST payload: %w", err)
		}
		if p.ClusterID <= 0 {
			return Payload{}, fmt.Errorf("invalid FUNDING_REQUEST payload: clusterId must be positive")
		}
		amount, err := ParseWei(p.AmountWei)
		if err != nil {
			return Payload{}, fmt.Errorf("invalid FUNDING_REQUEST payload: %w", err)
		}
		if amount.IsZero() {
			return Payload{}, fmt.Errorf("invalid FUNDING_REQUEST payload: amountWei must be positive")
		}
		return Payload{Funding: &p}, nil

	case OpSupportCoin, OpExitCoin:
		var p TradePayload
		if err := dec(&p); err != nil {
			return Payload{}, fmt.Errorf("invalid %s payload: %w", opType, err)
		}
		if p.ClusterID <= 0 {
			return Payload{}, fmt.Errorf("invalid %s payload: clusterId must be positive", opType)
		}
		if !ValidAddress(p.CoinAddress) {
			return Payload{}, fmt.Errorf("invalid %s payload: bad coin address %q", opType, p.CoinAddress)
		}
		total, err := ParseWei(p.TotalAmountWei)
		if err != nil {
			return Payload{}, fmt.Errorf("invalid %s payload: %w", opType, err)
		}
		if total.IsZero() {
			return Payload{}, fmt.Errorf("invalid %s payload: totalAmountWei must be positive", opType)
		}
		if p.SlippageBps < 1 || p.SlippageBps > 10000 {
			return Payload{}, fmt.Errorf("invalid %s payload: slippageBps %d out of range", opType, p.SlippageBps)
		}
		if !ValidStrategyMode(p.StrategyMode) {
			return Payload{}, fmt.Errorf("invalid %s payload: unknown strategy mode %q", opType, p.StrategyMode)
		}
		p.CoinAddress = NormalizeAddress(p.CoinAddress)
		return Payload{Trade: &p}, nil
	}

	return Payload{}, fmt.Errorf("unknown operation type %q", opType)
}

// EncodePayload renders a payload variant to its canonical JSON form.
func EncodePayload(p interface{}) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(b), nil
}

// SendAttempt summarizes one bundler submission attempt. A unit that
// failed over carries one entry per provider tried, in order.
type SendAttempt struct {
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
	Category string `json:"category,omitempty"`
	Error    string `json:"error,omitempty"`
}

// UnitResult is one per-wallet outcome inside an operation's terminal
// resultJson.
type UnitResult struct {
	WalletID   int64         `json:"walletId"`
	Status     UnitStatus    `json:"status"`
	UserOpHash string        `json:"userOpHash,omitempty"`
	TxHash     string        `json:"txHash,omitempty"`
	AmountIn   string        `json:"amountIn,omitempty"`
	AmountOut  string        `json:"amountOut,omitempty"`
	Attempts   []SendAttempt `json:"attempts,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// OperationResult is the terminal resultJson document. Trades carries
// swap units; Transfers carries funding units. Exactly one is set.
type OperationResult struct {
	Trades    []UnitResult `json:"trades,omitempty"`
	Transfers []UnitResult `json:"transfers,omitempty"`
}

// Items returns whichever unit list is populated.
func (r OperationResult) Items() []UnitResult {
	if len(r.Trades) > 0 {
		return r.Trades
	}
	return r.Transfers
}
