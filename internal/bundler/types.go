// Package bundler routes ERC-4337 user operations to one of two
// bundler providers with classification-driven failover.
package bundler

import (
	"context"
	"time"
)

// Call is one target invocation inside a user operation.
type Call struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"` // wei, base-10 string
}

// UserOp is the provider-agnostic user operation the router submits.
// The account session has already resolved sender, nonce, and
// signature concerns; the router only carries the calls and an
// optional sponsorship context.
type UserOp struct {
	Sender              string `json:"sender"`
	Calls               []Call `json:"calls"`
	SponsorshipPolicyID string `json:"sponsorshipPolicyId,omitempty"`
}

// GasEstimate is the provider's three-part gas quote.
type GasEstimate struct {
	PreVerification string `json:"preVerificationGas"`
	Verification    string `json:"verificationGasLimit"`
	Call            string `json:"callGasLimit"`
}

// SendResult identifies an accepted user operation and the provider
// that accepted it.
type SendResult struct {
	UserOpHash string `json:"userOpHash"`
	Provider   string `json:"provider"`
}

// Receipt is the polled inclusion status of a user operation.
type Receipt struct {
	Included bool   `json:"included"`
	TxHash   string `json:"txHash,omitempty"`
	Success  bool   `json:"success,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Attempt is one entry of the router's per-send audit trail.
type Attempt struct {
	Provider string        `json:"provider"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Category Category      `json:"category,omitempty"`
	Elapsed  time.Duration `json:"elapsedMs"`
}

// Adapter is one concrete bundler provider.
type Adapter interface {
	Name() string
	EstimateGas(ctx context.Context, op UserOp) (*GasEstimate, error)
	SendUserOperation(ctx context.Context, op UserOp) (*SendResult, error)
	GetReceipt(ctx context.Context, userOpHash string) (*Receipt, error)
}
