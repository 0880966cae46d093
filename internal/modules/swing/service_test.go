package swing

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klawleybot/fleetd/internal/bundler"
	"github.com/klawleybot/fleetd/internal/clock"
	"github.com/klawleybot/fleetd/internal/database"
	"github.com/klawleybot/fleetd/internal/domain"
	"github.com/klawleybot/fleetd/internal/engine"
	"github.com/klawleybot/fleetd/internal/modules/fleet"
	"github.com/klawleybot/fleetd/internal/modules/ops"
	"github.com/klawleybot/fleetd/internal/modules/policy"
	"github.com/klawleybot/fleetd/internal/modules/positions"
	"github.com/klawleybot/fleetd/internal/observability"
)

const testCoin = "0x00000000000000000000000000000000000000aa"

// quoteEncoder values coins at a settable rate in basis points of the
// token amount: value = amount * rateBps / 10000.
type quoteEncoder struct {
	rateBps uint64
	lastOut *uint256.Int
}

func (e *quoteEncoder) quote(amount *uint256.Int) *uint256.Int {
	v := new(uint256.Int).Mul(amount, uint256.NewInt(e.rateBps))
	return v.Div(v, uint256.NewInt(10000))
}

func (e *quoteEncoder) QuoteCoinToEth(ctx context.Context, coinAddress string, amount *uint256.Int) (*uint256.Int, error) {
	return e.quote(amount), nil
}

func (e *quoteEncoder) EncodeBuy(ctx context.Context, p engine.SwapParams) (bundler.Call, error) {
	return bundler.Call{To: "0xrouter", Data: "0xbuy"}, nil
}

func (e *quoteEncoder) EncodeSell(ctx context.Context, p engine.SwapParams) (bundler.Call, error) {
	e.lastOut = e.quote(p.AmountIn)
	return bundler.Call{To: "0xrouter", Data: "0xsell"}, nil
}

func (e *quoteEncoder) ParseAmountOut(receipt *bundler.Receipt) (*uint256.Int, error) {
	if e.lastOut == nil {
		return nil, fmt.Errorf("no swap encoded")
	}
	return new(uint256.Int).Set(e.lastOut), nil
}

type okSession struct {
	address string
	seq     int
}

func (s *okSession) Address() string { return s.address }
func (s *okSession) Balance(ctx context.Context) (*uint256.Int, error) {
	return uint256.NewInt(0), nil
}
func (s *okSession) SendUserOp(ctx context.Context, calls []bundler.Call) (*bundler.SendResult, []bundler.Attempt, error) {
	s.seq++
	return &bundler.SendResult{UserOpHash: fmt.Sprintf("0x%s-%d", s.address, s.seq), Provider: "fake"}, nil, nil
}
func (s *okSession) WaitReceipt(ctx context.Context, userOpHash string) (*bundler.Receipt, error) {
	return &bundler.Receipt{Included: true, Success: true, TxHash: "0xtx-" + userOpHash}, nil
}

type okProvider struct{}

func (okProvider) GetSession(ctx context.Context, name string) (engine.AccountSession, error) {
	return &okSession{address: name}, nil
}

type swingEnv struct {
	db         *database.DB
	configs    *Repository
	positions  *positions.PositionRepository
	operations *ops.OperationRepository
	service    *Service
	encoder    *quoteEncoder
	metrics    *observability.Metrics
	clk        *clock.Fake
	walletIDs  []int64
}

func setupSwing(t *testing.T) *swingEnv {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:    filepath.Join(t.TempDir(), "fleet.db"),
		Profile: database.ProfileLedger,
		Name:    "fleet",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := zerolog.Nop()
	wallets := fleet.NewWalletRepository(db.Conn(), log)
	clusters := fleet.NewClusterRepository(db.Conn(), log)
	operations := ops.NewOperationRepository(db.Conn(), log)
	trades := ops.NewTradeRepository(db.Conn(), log)
	funding := ops.NewFundingRepository(db.Conn(), log)
	posRepo := positions.NewPositionRepository(db.Conn(), log)
	configs := NewRepository(db.Conn(), log)

	w1, err := wallets.Create("w1", "0x0000000000000000000000000000000000000001", "0x00000000000000000000000000000000000000f0", "acct-1", false)
	require.NoError(t, err)
	w2, err := wallets.Create("w2", "0x0000000000000000000000000000000000000002", "0x00000000000000000000000000000000000000f0", "acct-2", false)
	require.NoError(t, err)
	c, err := clusters.Create("alpha", domain.StrategySync)
	require.NoError(t, err)
	require.NoError(t, clusters.SetWallets(c.ID, []int64{w1.ID, w2.ID}))

	enc := &quoteEncoder{rateBps: 10000}
	clk := clock.NewFake(time.Unix(1700000000, 0))
	snapshot := func() policy.Snapshot { return policy.Snapshot{MaxSlippageBps: 1000} }
	policyEngine := policy.NewEngine(operations.LatestClusterOperationAgeSec, nil)
	exec := engine.New(operations, trades, funding, wallets, clusters, posRepo,
		policyEngine, snapshot, okProvider{}, enc, clk, engine.Config{Concurrency: 1}, nil, log)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	service := NewService(configs, clusters, posRepo, operations, policyEngine,
		snapshot, exec, enc, clk, time.Minute, metrics, log)

	return &swingEnv{
		db:         db,
		configs:    configs,
		positions:  posRepo,
		operations: operations,
		service:    service,
		encoder:    enc,
		metrics:    metrics,
		clk:        clk,
		walletIDs:  []int64{w1.ID, w2.ID},
	}
}

// seedPosition gives each wallet cost 1000000 wei and 2000000 token
// units, so a rateBps of 5000 values the book exactly at cost.
func (env *swingEnv) seedPosition(t *testing.T) {
	t.Helper()
	for _, id := range env.walletIDs {
		_, err := env.positions.Upsert(id, testCoin, positions.Delta{
			CostWei:     uint256.NewInt(1000000),
			HoldingsAdd: uint256.NewInt(2000000),
			IsBuy:       true,
		})
		require.NoError(t, err)
	}
}

func (env *swingEnv) createConfig(t *testing.T, cfg domain.SwingConfig) *domain.SwingConfig {
	t.Helper()
	if cfg.FleetName == "" {
		cfg.FleetName = "alpha"
	}
	if cfg.CoinAddress == "" {
		cfg.CoinAddress = testCoin
	}
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = 100
	}
	cfg.Enabled = true
	created, err := env.configs.Create(cfg)
	require.NoError(t, err)
	return created
}

func TestTakeProfitTriggersExit(t *testing.T) {
	env := setupSwing(t)
	env.seedPosition(t)
	cfg := env.createConfig(t, domain.SwingConfig{
		TakeProfitBps: 1500,
		StopLossBps:   1000,
		CooldownSec:   3600,
	})

	// Book is up exactly 15%: 5750 bps of the token amount values the
	// aggregate holdings at 1.15x the aggregate cost.
	env.encoder.rateBps = 5750

	env.service.runTick(context.Background())
	tick := env.service.LastTickInfo()
	require.Empty(t, tick.Errors)
	require.Len(t, tick.OperationIDs, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.LoopTicksTotal.WithLabelValues("swing", "ok")))

	op, err := env.operations.GetByID(tick.OperationIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.OpExitCoin, op.Type)
	assert.Equal(t, domain.StatusComplete, op.Status)
	assert.Equal(t, "swing-worker", op.RequestedBy)
	assert.Equal(t, "swing-worker", op.ApprovedBy)

	// Holdings fully exited
	for _, id := range env.walletIDs {
		pos, err := env.positions.Get(id, testCoin)
		require.NoError(t, err)
		require.NotNil(t, pos)
		assert.Equal(t, "0", pos.HoldingsRaw)
	}

	// Peak reset, cooldown window opened
	after, err := env.configs.GetByID(cfg.ID)
	require.NoError(t, err)
	assert.Nil(t, after.PeakPnlBps)
	require.NotNil(t, after.LastActionAt)
	assert.Equal(t, env.clk.Now().Unix(), after.LastActionAt.Unix())
}

func TestNoTriggerBelowTakeProfit(t *testing.T) {
	env := setupSwing(t)
	env.seedPosition(t)
	cfg := env.createConfig(t, domain.SwingConfig{
		TakeProfitBps: 1500,
		StopLossBps:   1000,
	})

	// Up 5%: no rule fires, but the peak is recorded
	env.encoder.rateBps = 5250

	env.service.runTick(context.Background())
	tick := env.service.LastTickInfo()
	assert.Empty(t, tick.Errors)
	assert.Empty(t, tick.OperationIDs)

	after, err := env.configs.GetByID(cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, after.PeakPnlBps)
	assert.Equal(t, int64(500), *after.PeakPnlBps)
}

func TestStopLossTriggersExit(t *testing.T) {
	env := setupSwing(t)
	env.seedPosition(t)
	env.createConfig(t, domain.SwingConfig{
		TakeProfitBps: 1500,
		StopLossBps:   1000,
	})

	// Down 12%
	env.encoder.rateBps = 4400

	env.service.runTick(context.Background())
	tick := env.service.LastTickInfo()
	require.Empty(t, tick.Errors)
	require.Len(t, tick.OperationIDs, 1)
}

func TestTrailingStopTriggersAfterPeakDrawdown(t *testing.T) {
	env := setupSwing(t)
	env.seedPosition(t)
	trailing := int64(300)
	env.createConfig(t, domain.SwingConfig{
		TakeProfitBps:   5000,
		StopLossBps:     2000,
		TrailingStopBps: &trailing,
	})

	// First tick peaks at +10%
	env.encoder.rateBps = 5500
	env.service.runTick(context.Background())
	require.Empty(t, env.service.LastTickInfo().OperationIDs)

	// Drawdown to +6%: 400 bps off the peak exceeds the 300 bps trail
	env.encoder.rateBps = 5300
	env.service.runTick(context.Background())
	tick := env.service.LastTickInfo()
	require.Empty(t, tick.Errors)
	require.Len(t, tick.OperationIDs, 1)
}

func TestCooldownSuppressesEvaluation(t *testing.T) {
	env := setupSwing(t)
	env.seedPosition(t)
	cfg := env.createConfig(t, domain.SwingConfig{
		TakeProfitBps: 1500,
		StopLossBps:   1000,
		CooldownSec:   3600,
	})
	require.NoError(t, env.configs.MarkAction(cfg.ID, env.clk.Now()))

	// Way past take profit, but inside the cooldown window
	env.encoder.rateBps = 9000
	env.clk.Advance(10 * time.Minute)

	env.service.runTick(context.Background())
	tick := env.service.LastTickInfo()
	assert.Empty(t, tick.Errors)
	assert.Empty(t, tick.OperationIDs)

	// Once the window passes the trigger fires
	env.clk.Advance(time.Hour)
	env.service.runTick(context.Background())
	assert.Len(t, env.service.LastTickInfo().OperationIDs, 1)
}

func TestEmptyPositionSkipped(t *testing.T) {
	env := setupSwing(t)
	env.createConfig(t, domain.SwingConfig{
		TakeProfitBps: 1500,
		StopLossBps:   1000,
	})

	env.service.runTick(context.Background())
	tick := env.service.LastTickInfo()
	assert.Empty(t, tick.Errors)
	assert.Empty(t, tick.OperationIDs)
}

func TestPnlBasisPoints(t *testing.T) {
	assert.Equal(t, int64(1500), pnlBasisPoints(uint256.NewInt(1150), uint256.NewInt(1000)))
	assert.Equal(t, int64(-1200), pnlBasisPoints(uint256.NewInt(880), uint256.NewInt(1000)))
	assert.Equal(t, int64(0), pnlBasisPoints(uint256.NewInt(1000), uint256.NewInt(1000)))
}

func TestTriggerPrecedence(t *testing.T) {
	trailing := int64(100)
	peak := int64(2000)
	cfg := domain.SwingConfig{
		TakeProfitBps:   1500,
		StopLossBps:     1000,
		TrailingStopBps: &trailing,
		PeakPnlBps:      &peak,
	}

	// Take profit wins even when the trailing stop also matches
	assert.Equal(t, "take_profit", triggerFor(cfg, 1600))
	assert.Equal(t, "stop_loss", triggerFor(cfg, -1000))
	assert.Equal(t, "trailing_stop", triggerFor(cfg, 1400))
	assert.Equal(t, "", triggerFor(cfg, 1950))
}

func TestRepositoryValidation(t *testing.T) {
	env := setupSwing(t)

	_, err := env.configs.Create(domain.SwingConfig{FleetName: "alpha", CoinAddress: "nope", TakeProfitBps: 1, StopLossBps: 1})
	assert.Error(t, err)
	_, err = env.configs.Create(domain.SwingConfig{FleetName: "alpha", CoinAddress: testCoin, TakeProfitBps: 0, StopLossBps: 1})
	assert.Error(t, err)

	created := env.createConfig(t, domain.SwingConfig{TakeProfitBps: 1500, StopLossBps: 1000})
	_, err = env.configs.Create(domain.SwingConfig{FleetName: "alpha", CoinAddress: testCoin, TakeProfitBps: 1, StopLossBps: 1})
	assert.Error(t, err) // unique (fleet, coin)

	// Partial update leaves untouched fields alone
	newTP := int64(2500)
	updated, err := env.configs.Update(created.ID, Update{TakeProfitBps: &newTP})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), updated.TakeProfitBps)
	assert.Equal(t, int64(1000), updated.StopLossBps)
}
