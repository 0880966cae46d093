package policy

import (
	"os"
	"strings"

	"github.com/holiman/uint256"

	"github.com/klawleybot/fleetd/internal/domain"
)

// AutoApprover decides whether a pending operation may be approved
// without human input. It never writes; callers apply the decision
// through the operation repository.
type AutoApprover struct {
	Enabled        bool
	Requesters     map[string]bool // empty = any requester
	OperationTypes map[domain.OperationType]bool
	MaxFundingWei  *uint256.Int
	MaxTradeWei    *uint256.Int
}

// Decision is the auto-approval outcome. Reason explains denials and
// is logged alongside the held operation.
type Decision struct {
	Allow  bool
	Reason string
}

// AutoApproverFromEnv reads the auto-approval policy from the process
// environment.
func AutoApproverFromEnv() *AutoApprover {
	a := &AutoApprover{
		Enabled:       envBool("AUTO_APPROVE_ENABLED"),
		MaxFundingWei: envWei("AUTO_APPROVE_MAX_FUNDING_WEI"),
		MaxTradeWei:   envWei("AUTO_APPROVE_MAX_TRADE_WEI"),
	}

	if raw := os.Getenv("AUTO_APPROVE_REQUESTERS"); raw != "" {
		a.Requesters = make(map[string]bool)
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				a.Requesters[part] = true
			}
		}
	}

	if raw := os.Getenv("AUTO_APPROVE_OPERATION_TYPES"); raw != "" {
		a.OperationTypes = make(map[domain.OperationType]bool)
		for _, part := range strings.Split(raw, ",") {
			t := domain.OperationType(strings.TrimSpace(part))
			if domain.ValidOperationType(t) {
				a.OperationTypes[t] = true
			}
		}
	}

	return a
}

// Evaluate decides on a pending operation. The payload is re-parsed so
// stale or tampered rows never ride through on an earlier validation.
func (a *AutoApprover) Evaluate(op *domain.Operation) Decision {
	if !a.Enabled {
		return Decision{Reason: "auto-approval disabled"}
	}
	if op.Status != domain.StatusPending {
		return Decision{Reason: "operation is not pending"}
	}
	if a.Requesters != nil && !a.Requesters[op.RequestedBy] {
		return Decision{Reason: "requester " + op.RequestedBy + " not in allowed set"}
	}
	if a.OperationTypes != nil && !a.OperationTypes[op.Type] {
		return Decision{Reason: "operation type " + string(op.Type) + " not auto-approvable"}
	}

	payload, err := domain.ParsePayload(op.Type, op.PayloadJSON)
	if err != nil {
		return Decision{Reason: "payload failed validation: " + err.Error()}
	}

	switch op.Type {
	case domain.OpFundingRequest:
		amount := domain.MustParseWei(payload.Funding.AmountWei)
		if a.MaxFundingWei != nil && amount.Gt(a.MaxFundingWei) {
			return Decision{Reason: "funding amount exceeds auto-approve ceiling"}
		}
	case domain.OpSupportCoin, domain.OpExitCoin:
		amount := domain.MustParseWei(payload.Trade.TotalAmountWei)
		if a.MaxTradeWei != nil && amount.Gt(a.MaxTradeWei) {
			return Decision{Reason: "trade total exceeds auto-approve ceiling"}
		}
	}

	return Decision{Allow: true, Reason: "within auto-approval policy"}
}
