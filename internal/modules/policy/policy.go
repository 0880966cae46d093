// Package policy is the layered admission control for operations.
// Decisions are pure functions of the intent, the configuration
// snapshot, and the store's cluster-age view; there is no hidden state.
package policy

import (
	"os"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/klawleybot/fleetd/internal/domain"
)

// Snapshot is the environment-derived policy configuration, read once
// per request or loop tick. Changes to the environment are observed at
// the next snapshot, never mid-decision.
type Snapshot struct {
	KillSwitch          bool
	MaxFundingWei       *uint256.Int // nil = unbounded
	MaxTradeWei         *uint256.Int
	MaxPerWalletWei     *uint256.Int
	MaxSlippageBps      int64
	ClusterCooldownSec  int64
	RequireWatchlist    bool
	RequireWatchlistNam string
	AllowedCoins        map[string]bool // nil = no allowlist
}

// FromEnv builds a snapshot from the process environment.
func FromEnv() Snapshot {
	snap := Snapshot{
		KillSwitch:          envBool("FLEET_KILL_SWITCH"),
		MaxFundingWei:       envWei("MAX_FUNDING_WEI"),
		MaxTradeWei:         envWei("MAX_TRADE_WEI"),
		MaxPerWalletWei:     envWei("MAX_PER_WALLET_WEI"),
		MaxSlippageBps:      envInt64("MAX_SLIPPAGE_BPS", 1000),
		ClusterCooldownSec:  envInt64("CLUSTER_COOLDOWN_SEC", 0),
		RequireWatchlist:    envBool("REQUIRE_WATCHLIST_COIN"),
		RequireWatchlistNam: envString("REQUIRE_WATCHLIST_NAME", "default"),
	}

	if raw := os.Getenv("ALLOWED_COIN_ADDRESSES"); raw != "" {
		snap.AllowedCoins = make(map[string]bool)
		for _, part := range strings.Split(raw, ",") {
			part = domain.NormalizeAddress(part)
			if part != "" {
				snap.AllowedCoins[part] = true
			}
		}
	}

	return snap
}

// Intent is the policy-relevant shape of an operation request.
type Intent struct {
	ClusterID   int64
	WalletCount int
	AmountWei   *uint256.Int // funding: per-wallet; trades: total
	CoinAddress string
	SlippageBps int64
}

// ClusterAgeView reports the seconds since the cluster's most recent
// terminal operation, excluding excludeID. nil means no history.
type ClusterAgeView func(clusterID, excludeID int64) (*int64, error)

// WatchlistView reports enabled membership of a coin in a named list.
type WatchlistView func(coinAddress, listName string) (bool, error)

// Engine evaluates intents against a snapshot.
type Engine struct {
	clusterAge ClusterAgeView
	watchlist  WatchlistView
}

// NewEngine creates a policy engine over the given store views.
func NewEngine(clusterAge ClusterAgeView, watchlist WatchlistView) *Engine {
	return &Engine{clusterAge: clusterAge, watchlist: watchlist}
}

// CheckIntent admits or rejects an intent at creation time. A
// rejection is a POLICY_REJECT error naming the rule that fired.
func (e *Engine) CheckIntent(snap Snapshot, opType domain.OperationType, intent Intent) error {
	return e.check(snap, opType, intent, 0)
}

// AssertExecutionAllowed re-evaluates policy at the execution boundary
// so the kill switch and cooldown hold at the last possible moment. The
// operation being executed is excluded from its own cooldown window.
func (e *Engine) AssertExecutionAllowed(snap Snapshot, op *domain.Operation, intent Intent) error {
	return e.check(snap, op.Type, intent, op.ID)
}

func (e *Engine) check(snap Snapshot, opType domain.OperationType, intent Intent, excludeOpID int64) error {
	if snap.KillSwitch {
		return domain.NewError(domain.KindPolicyReject, "kill switch engaged")
	}

	if snap.ClusterCooldownSec > 0 && e.clusterAge != nil {
		age, err := e.clusterAge(intent.ClusterID, excludeOpID)
		if err != nil {
			return domain.WrapError(domain.KindPolicyReject, err, "cooldown check failed")
		}
		// Cooldown admits at exactly the configured interval
		if age != nil && *age < snap.ClusterCooldownSec {
			return domain.NewError(domain.KindPolicyReject,
				"cluster cooldown active (%ds elapsed, requires %ds)", *age, snap.ClusterCooldownSec)
		}
	}

	if intent.AmountWei == nil || intent.AmountWei.IsZero() {
		return domain.NewError(domain.KindPolicyReject, "amount must be positive")
	}

	switch opType {
	case domain.OpFundingRequest:
		if snap.MaxFundingWei != nil && intent.AmountWei.Gt(snap.MaxFundingWei) {
			return domain.NewError(domain.KindPolicyReject,
				"funding amount %s exceeds MAX_FUNDING_WEI %s",
				intent.AmountWei.Dec(), snap.MaxFundingWei.Dec())
		}
		// Funding amounts are per-wallet by contract
		if snap.MaxPerWalletWei != nil && intent.AmountWei.Gt(snap.MaxPerWalletWei) {
			return domain.NewError(domain.KindPolicyReject,
				"per-wallet funding %s exceeds MAX_PER_WALLET_WEI %s",
				intent.AmountWei.Dec(), snap.MaxPerWalletWei.Dec())
		}

	case domain.OpSupportCoin, domain.OpExitCoin:
		if snap.MaxTradeWei != nil && intent.AmountWei.Gt(snap.MaxTradeWei) {
			return domain.NewError(domain.KindPolicyReject,
				"trade total %s exceeds MAX_TRADE_WEI %s",
				intent.AmountWei.Dec(), snap.MaxTradeWei.Dec())
		}
		if snap.MaxPerWalletWei != nil && intent.WalletCount > 0 {
			perWallet := new(uint256.Int).Div(intent.AmountWei, uint256.NewInt(uint64(intent.WalletCount)))
			if perWallet.Gt(snap.MaxPerWalletWei) {
				return domain.NewError(domain.KindPolicyReject,
					"per-wallet share %s exceeds MAX_PER_WALLET_WEI %s",
					perWallet.Dec(), snap.MaxPerWalletWei.Dec())
			}
		}
		if intent.SlippageBps < 1 || intent.SlippageBps > snap.MaxSlippageBps {
			return domain.NewError(domain.KindPolicyReject,
				"slippage %d bps outside [1, %d]", intent.SlippageBps, snap.MaxSlippageBps)
		}
		if snap.AllowedCoins != nil && !snap.AllowedCoins[domain.NormalizeAddress(intent.CoinAddress)] {
			return domain.NewError(domain.KindPolicyReject,
				"coin %s is not on the allowlist", intent.CoinAddress)
		}
		if snap.RequireWatchlist && e.watchlist != nil {
			ok, err := e.watchlist(intent.CoinAddress, snap.RequireWatchlistNam)
			if err != nil {
				return domain.WrapError(domain.KindPolicyReject, err, "watchlist check failed")
			}
			if !ok {
				return domain.NewError(domain.KindPolicyReject,
					"coin %s is not in watchlist %q", intent.CoinAddress, snap.RequireWatchlistNam)
			}
		}
	}

	return nil
}

// IntentFromPayload derives the policy intent from a validated payload.
func IntentFromPayload(p domain.Payload, walletCount int) (Intent, error) {
	if p.Funding != nil {
		amount, err := domain.ParseWei(p.Funding.AmountWei)
		if err != nil {
			return Intent{}, err
		}
		return Intent{
			ClusterID:   p.Funding.ClusterID,
			WalletCount: walletCount,
			AmountWei:   amount,
		}, nil
	}
	if p.Trade != nil {
		amount, err := domain.ParseWei(p.Trade.TotalAmountWei)
		if err != nil {
			return Intent{}, err
		}
		return Intent{
			ClusterID:   p.Trade.ClusterID,
			WalletCount: walletCount,
			AmountWei:   amount,
			CoinAddress: p.Trade.CoinAddress,
			SlippageBps: p.Trade.SlippageBps,
		}, nil
	}
	return Intent{}, domain.NewError(domain.KindConfigInvalid, "empty payload")
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func envInt64(key string, fallback int64) int64 {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v
		}
	}
	return fallback
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envWei(key string) *uint256.Int {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := domain.ParseWei(raw)
	if err != nil {
		return nil
	}
	return v
}
