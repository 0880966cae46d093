package swing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/clock"
	"github.com/klawleybot/fleetd/internal/domain"
	"github.com/klawleybot/fleetd/internal/engine"
	"github.com/klawleybot/fleetd/internal/modules/fleet"
	"github.com/klawleybot/fleetd/internal/modules/ops"
	"github.com/klawleybot/fleetd/internal/modules/policy"
	"github.com/klawleybot/fleetd/internal/modules/positions"
	"github.com/klawleybot/fleetd/internal/observability"
)

// LastTick is the most recent tick outcome, surfaced to the health
// endpoint.
type LastTick struct {
	At           time.Time `json:"at"`
	Errors       []string  `json:"errors,omitempty"`
	OperationIDs []int64   `json:"operationIds,omitempty"`
}

// Service evaluates enabled swing configs against live P&L and exits
// positions through the normal operation funnel when a rule fires.
type Service struct {
	configs    *Repository
	clusters   *fleet.ClusterRepository
	positions  *positions.PositionRepository
	operations *ops.OperationRepository
	policy     *policy.Engine
	snapshot   engine.SnapshotFunc
	exec       *engine.Engine
	encoder    engine.SwapEncoder
	clk        clock.Clock
	interval   time.Duration
	metrics    *observability.Metrics
	log        zerolog.Logger

	mu       sync.Mutex
	lastTick LastTick
	stop     chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// NewService wires the swing loop.
func NewService(
	configs *Repository,
	clusters *fleet.ClusterRepository,
	posRepo *positions.PositionRepository,
	operations *ops.OperationRepository,
	policyEngine *policy.Engine,
	snapshot engine.SnapshotFunc,
	exec *engine.Engine,
	encoder engine.SwapEncoder,
	clk clock.Clock,
	interval time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Service {
	return &Service{
		configs:    configs,
		clusters:   clusters,
		positions:  posRepo,
		operations: operations,
		policy:     policyEngine,
		snapshot:   snapshot,
		exec:       exec,
		encoder:    encoder,
		clk:        clk,
		interval:   interval,
		metrics:    metrics,
		log:        log.With().Str("component", "swing_loop").Logger(),
	}
}

// Start launches the loop goroutine. Re-entrancy is impossible by
// construction: one goroutine owns all ticks.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.log.Info().Dur("interval", s.interval).Msg("Swing loop started")
		for {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runTick(ctx)
			}
		}
	}()
}

// Stop requests shutdown and waits for the in-flight tick to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info().Msg("Swing loop stopped")
}

// LastTickInfo returns a copy of the most recent tick record.
func (s *Service) LastTickInfo() LastTick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// Running reports whether the loop goroutine is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// runTick evaluates every enabled config. Errors never escape the
// timer; they are captured into the tick record.
func (s *Service) runTick(ctx context.Context) {
	tick := LastTick{At: s.clk.Now()}

	configs, err := s.configs.List(true)
	if err != nil {
		tick.Errors = append(tick.Errors, err.Error())
		s.storeTick(tick)
		return
	}

	for _, cfg := range configs {
		opID, err := s.evaluateConfig(ctx, cfg)
		if err != nil {
			tick.Errors = append(tick.Errors, fmt.Sprintf("%s/%s: %v", cfg.FleetName, cfg.CoinAddress, err))
			continue
		}
		if opID != 0 {
			tick.OperationIDs = append(tick.OperationIDs, opID)
		}
	}

	s.storeTick(tick)
}

func (s *Service) storeTick(tick LastTick) {
	s.metrics.RecordLoopTick("swing", len(tick.Errors) == 0)
	s.mu.Lock()
	s.lastTick = tick
	s.mu.Unlock()
}

// evaluateConfig checks one config's triggers. Returns the executed
// operation id, or 0 when nothing fired.
func (s *Service) evaluateConfig(ctx context.Context, cfg domain.SwingConfig) (int64, error) {
	if s.inCooldown(cfg) {
		return 0, nil
	}

	cluster, err := s.clusters.GetByName(cfg.FleetName)
	if err != nil {
		return 0, err
	}

	cost, holdings, err := s.aggregatePosition(cluster.ID, cfg.CoinAddress)
	if err != nil {
		return 0, err
	}
	if holdings.IsZero() || cost.IsZero() {
		return 0, nil
	}

	value, err := s.encoder.QuoteCoinToEth(ctx, cfg.CoinAddress, holdings)
	if err != nil {
		return 0, domain.WrapError(domain.KindQuoteFailed, err, "quote for %s", cfg.CoinAddress)
	}

	pnlBps := pnlBasisPoints(value, cost)

	if cfg.PeakPnlBps == nil || pnlBps > *cfg.PeakPnlBps {
		if err := s.configs.SetPeak(cfg.ID, pnlBps); err != nil {
			return 0, err
		}
		cfg.PeakPnlBps = &pnlBps
	}

	trigger := triggerFor(cfg, pnlBps)
	if trigger == "" {
		return 0, nil
	}

	s.log.Info().
		Str("fleet", cfg.FleetName).
		Str("coin", cfg.CoinAddress).
		Int64("pnl_bps", pnlBps).
		Str("trigger", trigger).
		Msg("Swing trigger fired")

	return s.exitPosition(ctx, cfg, cluster, value)
}

func (s *Service) inCooldown(cfg domain.SwingConfig) bool {
	if cfg.LastActionAt == nil || cfg.CooldownSec <= 0 {
		return false
	}
	return s.clk.Now().Before(cfg.LastActionAt.Add(time.Duration(cfg.CooldownSec) * time.Second))
}

// aggregatePosition sums cost and holdings for the cluster's wallets
// in one coin.
func (s *Service) aggregatePosition(clusterID int64, coinAddress string) (*uint256.Int, *uint256.Int, error) {
	rows, err := s.positions.ListByCluster(clusterID)
	if err != nil {
		return nil, nil, err
	}
	coin := domain.NormalizeAddress(coinAddress)
	cost := new(uint256.Int)
	holdings := new(uint256.Int)
	for _, p := range rows {
		if p.CoinAddress != coin {
			continue
		}
		cost.Add(cost, domain.MustParseWei(p.TotalCostWei))
		holdings.Add(holdings, domain.MustParseWei(p.HoldingsRaw))
	}
	return cost, holdings, nil
}

// pnlBasisPoints computes ((value - cost) * 10000) / cost, signed.
func pnlBasisPoints(value, cost *uint256.Int) int64 {
	tenThousand := uint256.NewInt(10000)
	if value.Lt(cost) {
		loss := new(uint256.Int).Sub(cost, value)
		loss.Mul(loss, tenThousand)
		loss.Div(loss, cost)
		return -int64(loss.Uint64())
	}
	gain := new(uint256.Int).Sub(value, cost)
	gain.Mul(gain, tenThousand)
	gain.Div(gain, cost)
	return int64(gain.Uint64())
}

// triggerFor applies the rule precedence: take profit, then stop loss,
// then trailing stop. First match wins.
func triggerFor(cfg domain.SwingConfig, pnlBps int64) string {
	if pnlBps >= cfg.TakeProfitBps {
		return "take_profit"
	}
	if pnlBps <= -cfg.StopLossBps {
		return "stop_loss"
	}
	if cfg.TrailingStopBps != nil && cfg.PeakPnlBps != nil &&
		pnlBps < *cfg.PeakPnlBps && *cfg.PeakPnlBps-pnlBps >= *cfg.TrailingStopBps {
		return "trailing_stop"
	}
	return ""
}

// exitPosition pushes an EXIT_COIN through the normal funnel: policy,
// create, approve, execute. On completion the config's peak resets and
// the cooldown window opens.
func (s *Service) exitPosition(ctx context.Context, cfg domain.SwingConfig, cluster *domain.Cluster, valueWei *uint256.Int) (int64, error) {
	members, err := s.clusters.ListWalletDetails(cluster.ID)
	if err != nil {
		return 0, err
	}

	payload := domain.TradePayload{
		ClusterID:      cluster.ID,
		CoinAddress:    cfg.CoinAddress,
		TotalAmountWei: valueWei.Dec(),
		SlippageBps:    cfg.SlippageBps,
		StrategyMode:   cluster.StrategyMode,
	}
	payloadJSON, err := domain.EncodePayload(payload)
	if err != nil {
		return 0, err
	}

	intent := policy.Intent{
		ClusterID:   cluster.ID,
		WalletCount: len(members),
		AmountWei:   valueWei,
		CoinAddress: cfg.CoinAddress,
		SlippageBps: cfg.SlippageBps,
	}
	if err := s.policy.CheckIntent(s.snapshot(), domain.OpExitCoin, intent); err != nil {
		return 0, err
	}

	op, err := s.operations.Create(domain.OpExitCoin, cluster.ID, "swing-worker", payloadJSON)
	if err != nil {
		return 0, err
	}
	if err := s.operations.SetApproved(op.ID, "swing-worker"); err != nil {
		return 0, err
	}

	final, err := s.exec.ExecuteOperation(ctx, op.ID)
	if err != nil {
		return op.ID, err
	}

	if final.Status == domain.StatusComplete || final.Status == domain.StatusPartial {
		if err := s.configs.MarkAction(cfg.ID, s.clk.Now()); err != nil {
			return op.ID, err
		}
	}
	return op.ID, nil
}
