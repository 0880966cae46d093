// Package autonomy turns signal-store candidates into SUPPORT_COIN
// operations on a timer, always through the policy funnel.
package autonomy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/clock"
	"github.com/klawleybot/fleetd/internal/config"
	"github.com/klawleybot/fleetd/internal/domain"
	"github.com/klawleybot/fleetd/internal/engine"
	"github.com/klawleybot/fleetd/internal/modules/fleet"
	"github.com/klawleybot/fleetd/internal/modules/ops"
	"github.com/klawleybot/fleetd/internal/modules/policy"
	"github.com/klawleybot/fleetd/internal/modules/signals"
	"github.com/klawleybot/fleetd/internal/observability"
)

const requestedBy = "autonomy-worker"

// LastTick is the most recent tick outcome, surfaced to the health
// endpoint.
type LastTick struct {
	At           time.Time `json:"at"`
	Errors       []string  `json:"errors,omitempty"`
	OperationIDs []int64   `json:"operationIds,omitempty"`
}

// Loop drives one cluster set from signals to executed operations.
type Loop struct {
	cfg        config.AutonomyConfig
	signals    *signals.Adapter
	clusters   *fleet.ClusterRepository
	operations *ops.OperationRepository
	policy     *policy.Engine
	snapshot   engine.SnapshotFunc
	approver   *policy.AutoApprover
	exec       *engine.Engine
	clk        clock.Clock
	metrics    *observability.Metrics
	log        zerolog.Logger

	mu       sync.Mutex
	lastTick LastTick
	stop     chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// NewLoop wires the autonomy loop.
func NewLoop(
	cfg config.AutonomyConfig,
	signalAdapter *signals.Adapter,
	clusters *fleet.ClusterRepository,
	operations *ops.OperationRepository,
	policyEngine *policy.Engine,
	snapshot engine.SnapshotFunc,
	approver *policy.AutoApprover,
	exec *engine.Engine,
	clk clock.Clock,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Loop {
	return &Loop{
		cfg:        cfg,
		signals:    signalAdapter,
		clusters:   clusters,
		operations: operations,
		policy:     policyEngine,
		snapshot:   snapshot,
		approver:   approver,
		exec:       exec,
		clk:        clk,
		metrics:    metrics,
		log:        log.With().Str("component", "autonomy_loop").Logger(),
	}
}

// Start launches the loop goroutine. One goroutine owns every tick, so
// ticks cannot overlap.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stop = make(chan struct{})

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cfg.Interval)
		defer ticker.Stop()
		l.log.Info().
			Dur("interval", l.cfg.Interval).
			Str("mode", l.cfg.Mode).
			Ints64("clusters", l.cfg.ClusterIDs).
			Msg("Autonomy loop started")
		for {
			select {
			case <-l.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.runTick(ctx)
			}
		}
	}()
}

// Stop requests shutdown and waits for the in-flight tick to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stop)
	l.mu.Unlock()
	l.wg.Wait()
	l.log.Info().Msg("Autonomy loop stopped")
}

// LastTickInfo returns a copy of the most recent tick record.
func (l *Loop) LastTickInfo() LastTick {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastTick
}

// Running reports whether the loop goroutine is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// runTick processes every configured cluster. Errors never escape the
// timer; they are captured into the tick record.
func (l *Loop) runTick(ctx context.Context) {
	tick := LastTick{At: l.clk.Now()}

	for _, clusterID := range l.cfg.ClusterIDs {
		opID, err := l.tickCluster(ctx, clusterID)
		if err != nil {
			// NO_SIGNAL is routine: the store simply had no candidate.
			if domain.IsKind(err, domain.KindNoSignal) {
				continue
			}
			tick.Errors = append(tick.Errors, fmt.Sprintf("cluster %d: %v", clusterID, err))
			continue
		}
		if opID != 0 {
			tick.OperationIDs = append(tick.OperationIDs, opID)
		}
	}

	l.metrics.RecordLoopTick("autonomy", len(tick.Errors) == 0)

	l.mu.Lock()
	l.lastTick = tick
	l.mu.Unlock()
}

// tickCluster runs signal selection, policy, creation, and optional
// auto-approval plus execution for one cluster. Returns the operation
// id when one was created.
func (l *Loop) tickCluster(ctx context.Context, clusterID int64) (int64, error) {
	cluster, err := l.clusters.GetByID(clusterID)
	if err != nil {
		return 0, err
	}
	members, err := l.clusters.ListWalletDetails(clusterID)
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, fmt.Errorf("cluster %q has no member wallets", cluster.Name)
	}

	signal, err := l.signals.SelectSignalCoin(l.cfg.Mode, l.cfg.Watchlist, l.cfg.MinMomentum)
	if err != nil {
		return 0, err
	}

	amount := domain.MustParseWei(l.cfg.AmountWei)
	payload := domain.TradePayload{
		ClusterID:      clusterID,
		CoinAddress:    signal.CoinAddress,
		TotalAmountWei: amount.Dec(),
		SlippageBps:    l.cfg.SlippageBps,
		StrategyMode:   cluster.StrategyMode,
	}
	payloadJSON, err := domain.EncodePayload(payload)
	if err != nil {
		return 0, err
	}

	intent := policy.Intent{
		ClusterID:   clusterID,
		WalletCount: len(members),
		AmountWei:   amount,
		CoinAddress: signal.CoinAddress,
		SlippageBps: l.cfg.SlippageBps,
	}
	if err := l.policy.CheckIntent(l.snapshot(), domain.OpSupportCoin, intent); err != nil {
		return 0, err
	}

	op, err := l.operations.Create(domain.OpSupportCoin, clusterID, requestedBy, payloadJSON)
	if err != nil {
		return 0, err
	}

	l.log.Info().
		Int64("operation_id", op.ID).
		Str("coin", signal.CoinAddress).
		Float64("momentum", signal.MomentumScore).
		Msg("Autonomy operation created")

	if l.approver == nil {
		return op.ID, nil
	}
	decision := l.approver.Evaluate(op)
	if !decision.Allow {
		l.log.Info().
			Int64("operation_id", op.ID).
			Str("reason", decision.Reason).
			Msg("Operation held for manual approval")
		return op.ID, nil
	}

	if err := l.operations.SetApproved(op.ID, requestedBy); err != nil {
		return op.ID, err
	}
	if _, err := l.exec.ExecuteOperation(ctx, op.ID); err != nil {
		return op.ID, err
	}
	return op.ID, nil
}
