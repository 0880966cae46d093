// Package main is the entry point for the fleetd wallet-fleet trading
// controller. The process manages a master wallet plus clusters of
// smart-contract wallets, turns trading intents into durable
// operations, and drives them through policy, approval, and bundler
// execution with minimal human intervention.
//
// The application follows the same layering throughout:
// - Domain layer is pure (no infrastructure dependencies)
// - Dependency injection via DI container
// - Repository pattern for data access
// - Capability interfaces for on-chain specifics
// - HTTP handlers are thin translators over the operation funnel
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klawleybot/fleetd/internal/accounts"
	"github.com/klawleybot/fleetd/internal/boot"
	"github.com/klawleybot/fleetd/internal/config"
	"github.com/klawleybot/fleetd/internal/di"
	"github.com/klawleybot/fleetd/internal/server"
	"github.com/klawleybot/fleetd/pkg/logger"
)

// main orchestrates the startup sequence:
//  1. Load configuration from environment variables
//  2. Initialize logging
//  3. Wire all dependencies via the DI container
//  4. Run boot checks (master wallet identity, account registration)
//  5. Start the HTTP server
//  6. Start background loops (autonomy, swing, maintenance)
//  7. Wait for shutdown signal and stop everything in reverse order
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet; stderr is all we have.
		os.Stderr.WriteString("fatal: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)
	log.Info().Str("config", cfg.String()).Msg("Starting fleetd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, di.Capabilities{}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Boot check: the persisted master wallet must match the key this
	// process actually holds. A mismatch means we must not trade.
	derived, err := deriveMasterAddress(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to derive master address")
	}
	master, err := boot.EnsureMasterWallet(container.Wallets, boot.MasterSpec{
		DerivedAddress: derived,
		OwnerAddress:   cfg.MasterOwner,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Master wallet check failed")
	}

	// Register every persisted wallet with the account provider so
	// sessions resolve by provider-account-name.
	wallets, err := container.Wallets.List()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list wallets")
	}
	for _, w := range wallets {
		container.Provider.Register(w.ProviderAccountName, w.Address)
	}
	log.Info().
		Int64("master_wallet_id", master.ID).
		Int("wallets", len(wallets)).
		Msg("Accounts registered")

	srv := server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Container: container,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	if container.Autonomy != nil {
		container.Autonomy.Start(ctx)
	}
	if container.Swing != nil {
		container.Swing.Start(ctx)
	}
	if err := container.Maintenance.Start(cfg.Backup.Schedule); err != nil {
		log.Fatal().Err(err).Msg("Failed to start maintenance scheduler")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	// Stop intake first, then loops, then the scheduler; in-flight
	// ticks run to completion.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if container.Autonomy != nil {
		container.Autonomy.Stop()
	}
	if container.Swing != nil {
		container.Swing.Stop()
	}
	container.Maintenance.Stop()
	cancel()

	log.Info().Msg("Shutdown complete")
}

// deriveMasterAddress resolves the master smart-account address from
// the signer backend. The local backend derives it from the private
// key; hosted backends state it outright.
func deriveMasterAddress(cfg *config.Config) (string, error) {
	if cfg.SignerBackend == "local" {
		signer, err := accounts.NewLocalSignerFromHex(os.Getenv("MASTER_PRIVATE_KEY"))
		if err != nil {
			return "", err
		}
		return signer.Address(), nil
	}
	return os.Getenv("MASTER_WALLET_ADDRESS"), nil
}
