// Package di wires the process: databases, repositories, services,
// and loops, constructed in dependency order with no globals.
package di

import (
	"context"
	"path/filepath"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/accounts"
	"github.com/klawleybot/fleetd/internal/autonomy"
	"github.com/klawleybot/fleetd/internal/boot"
	"github.com/klawleybot/fleetd/internal/bundler"
	"github.com/klawleybot/fleetd/internal/clock"
	"github.com/klawleybot/fleetd/internal/config"
	"github.com/klawleybot/fleetd/internal/database"
	"github.com/klawleybot/fleetd/internal/domain"
	"github.com/klawleybot/fleetd/internal/engine"
	"github.com/klawleybot/fleetd/internal/modules/fleet"
	"github.com/klawleybot/fleetd/internal/modules/ops"
	"github.com/klawleybot/fleetd/internal/modules/policy"
	"github.com/klawleybot/fleetd/internal/modules/positions"
	"github.com/klawleybot/fleetd/internal/modules/signals"
	"github.com/klawleybot/fleetd/internal/modules/swing"
	"github.com/klawleybot/fleetd/internal/observability"
	"github.com/klawleybot/fleetd/internal/reliability"
)

// Capabilities are the injected on-chain collaborators. Encoder may be
// nil in deployments that only fund wallets; trade units then fail
// with a configuration error instead of panicking.
type Capabilities struct {
	Encoder engine.SwapEncoder
	Balance accounts.BalanceFunc
}

// Container holds every constructed component. Handlers and loops
// receive what they need from here; nothing reaches for globals.
type Container struct {
	Config *config.Config

	FleetDB  *database.DB
	SignalDB *database.DB

	Wallets      *fleet.WalletRepository
	Clusters     *fleet.ClusterRepository
	Operations   *ops.OperationRepository
	Trades       *ops.TradeRepository
	Funding      *ops.FundingRepository
	Positions    *positions.PositionRepository
	SwingConfigs *swing.Repository
	Signals      *signals.Adapter

	Policy       *policy.Engine
	Snapshot     engine.SnapshotFunc
	AutoApprover *policy.AutoApprover

	Router   *bundler.Router
	Provider *accounts.Provider
	Engine   *engine.Engine

	Autonomy *autonomy.Loop
	Swing    *swing.Service

	Readiness   *boot.Readiness
	Metrics     *observability.Metrics
	Registry    *prometheus.Registry
	Clock       clock.Clock
	Backup      *reliability.BackupService
	Maintenance *reliability.MaintenanceService
}

// Wire constructs the full dependency graph. Loops are constructed but
// not started; main decides when they run.
func Wire(ctx context.Context, cfg *config.Config, caps Capabilities, log zerolog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Clock: clock.Real{}}

	fleetDB, err := database.Open(database.Config{
		Path:    filepath.Join(cfg.DataDir, "fleet.db"),
		Profile: database.ProfileLedger,
		Name:    "fleet",
	})
	if err != nil {
		return nil, err
	}
	c.FleetDB = fleetDB

	signalDB, err := database.Open(database.Config{
		Path:    cfg.SignalDBPath,
		Profile: database.ProfileStandard,
		Name:    "signals",
	})
	if err != nil {
		fleetDB.Close()
		return nil, err
	}
	c.SignalDB = signalDB

	c.Wallets = fleet.NewWalletRepository(fleetDB.Conn(), log)
	c.Clusters = fleet.NewClusterRepository(fleetDB.Conn(), log)
	c.Operations = ops.NewOperationRepository(fleetDB.Conn(), log)
	c.Trades = ops.NewTradeRepository(fleetDB.Conn(), log)
	c.Funding = ops.NewFundingRepository(fleetDB.Conn(), log)
	c.Positions = positions.NewPositionRepository(fleetDB.Conn(), log)
	c.SwingConfigs = swing.NewRepository(fleetDB.Conn(), log)
	c.Signals = signals.NewAdapter(signalDB.Conn(), log)

	c.Policy = policy.NewEngine(
		c.Operations.LatestClusterOperationAgeSec,
		c.Signals.IsCoinInWatchlist,
	)
	c.Snapshot = policy.FromEnv
	c.AutoApprover = policy.AutoApproverFromEnv()

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector())
	c.Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = observability.NewMetrics(c.Registry)

	primary := bundler.NewRPCAdapter("primary", cfg.Bundler.PrimaryURL, 10, log)
	var secondary bundler.Adapter
	if cfg.Bundler.SecondaryURL != "" {
		secondary = bundler.NewRPCAdapter("secondary", cfg.Bundler.SecondaryURL, 10, log)
	}
	c.Router = bundler.NewRouter(primary, secondary, bundler.RouterConfig{
		SendTimeout:         cfg.Bundler.SendTimeout,
		HedgeDelay:          cfg.Bundler.HedgeDelay,
		ReceiptPoll:         cfg.Bundler.ReceiptPoll,
		ReceiptTimeout:      cfg.Bundler.ReceiptTimeout,
		SponsorshipPolicyID: cfg.Bundler.SponsorshipPolicyID,
	}, c.Clock, c.Metrics, log)

	c.Provider = accounts.NewProvider(c.Router, caps.Balance, log)

	encoder := caps.Encoder
	if encoder == nil {
		encoder = unconfiguredEncoder{}
	}

	c.Engine = engine.New(
		c.Operations, c.Trades, c.Funding, c.Wallets, c.Clusters, c.Positions,
		c.Policy, c.Snapshot, c.Provider, encoder, c.Clock,
		engine.Config{
			Concurrency:         cfg.Engine.Concurrency,
			StaggerDelay:        cfg.Engine.StaggerDelay,
			WalletMinBalanceWei: domain.MustParseWei(cfg.Engine.WalletMinBalanceWei),
		},
		c.Metrics,
		log,
	)

	loops := make(map[string]boot.LoopStatus)
	if cfg.Autonomy.Enabled {
		c.Autonomy = autonomy.NewLoop(
			cfg.Autonomy, c.Signals, c.Clusters, c.Operations,
			c.Policy, c.Snapshot, c.AutoApprover, c.Engine, c.Clock, c.Metrics, log,
		)
		loops["autonomy_loop"] = c.Autonomy
	}
	if cfg.Swing.Enabled {
		c.Swing = swing.NewService(
			c.SwingConfigs, c.Clusters, c.Positions, c.Operations,
			c.Policy, c.Snapshot, c.Engine, encoder, c.Clock, cfg.Swing.Interval, c.Metrics, log,
		)
		loops["swing_loop"] = c.Swing
	}

	c.Readiness = boot.NewReadiness(fleetDB, signalDB, loops)

	if cfg.Backup.Enabled {
		r2, err := reliability.NewR2Client(ctx, cfg.Backup, log)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Backup = reliability.NewBackupService(
			fleetDB, signalDB, cfg.DataDir, r2, cfg.Backup.RetentionDays, c.Metrics, log,
		)
	}
	c.Maintenance = reliability.NewMaintenanceService(
		[]*database.DB{fleetDB, signalDB}, c.Backup, log,
	)

	return c, nil
}

// Close releases the container's database handles.
func (c *Container) Close() {
	if c.SignalDB != nil {
		c.SignalDB.Close()
	}
	if c.FleetDB != nil {
		c.FleetDB.Close()
	}
}

// unconfiguredEncoder fails every trade leg with a configuration
// error. It stands in when no DEX integration has been injected.
type unconfiguredEncoder struct{}

func (unconfiguredEncoder) EncodeBuy(context.Context, engine.SwapParams) (bundler.Call, error) {
	return bundler.Call{}, domain.NewError(domain.KindConfigInvalid, "no swap encoder configured")
}

func (unconfiguredEncoder) EncodeSell(context.Context, engine.SwapParams) (bundler.Call, error) {
	return bundler.Call{}, domain.NewError(domain.KindConfigInvalid, "no swap encoder configured")
}

func (unconfiguredEncoder) ParseAmountOut(*bundler.Receipt) (*uint256.Int, error) {
	return nil, domain.NewError(domain.KindConfigInvalid, "no swap encoder configured")
}

func (unconfiguredEncoder) QuoteCoinToEth(context.Context, string, *uint256.Int) (*uint256.Int, error) {
	return nil, domain.NewError(domain.KindQuoteFailed, "no swap encoder configured")
}
