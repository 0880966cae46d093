// Package boot runs the startup checks that must pass before the
// process serves traffic, and aggregates the readiness view the health
// handlers report.
package boot

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/database"
	"github.com/klawleybot/fleetd/internal/domain"
	"github.com/klawleybot/fleetd/internal/modules/fleet"
)

// MasterSpec is the master wallet identity expected at boot. The
// derived address comes from the signer backend; a persisted master
// whose address disagrees is a fatal misconfiguration.
type MasterSpec struct {
	Name                string
	DerivedAddress      string
	OwnerAddress        string
	ProviderAccountName string
}

// EnsureMasterWallet creates the master wallet on first boot and
// verifies its persisted address against the derived one afterwards.
// A mismatch means the process holds the wrong key and must not trade.
func EnsureMasterWallet(wallets *fleet.WalletRepository, spec MasterSpec, log zerolog.Logger) (*domain.Wallet, error) {
	if spec.Name == "" {
		spec.Name = "master"
	}
	if !domain.ValidAddress(spec.DerivedAddress) {
		return nil, domain.NewError(domain.KindConfigInvalid, "derived master address %q is invalid", spec.DerivedAddress)
	}

	existing, err := wallets.GetMaster()
	if err != nil {
		return nil, err
	}

	if existing == nil {
		accountName := spec.ProviderAccountName
		if accountName == "" {
			accountName = "master-" + uuid.NewString()
		}
		owner := spec.OwnerAddress
		if owner == "" {
			owner = spec.DerivedAddress
		}
		created, err := wallets.Create(spec.Name, spec.DerivedAddress, owner, accountName, true)
		if err != nil {
			return nil, err
		}
		log.Info().
			Int64("wallet_id", created.ID).
			Str("address", created.Address).
			Msg("Master wallet created")
		return created, nil
	}

	if existing.Address != domain.NormalizeAddress(spec.DerivedAddress) {
		return nil, domain.NewError(domain.KindKeyMismatch,
			"persisted master address %s does not match derived address %s",
			existing.Address, domain.NormalizeAddress(spec.DerivedAddress))
	}

	log.Info().
		Int64("wallet_id", existing.ID).
		Str("address", existing.Address).
		Msg("Master wallet verified")
	return existing, nil
}

// LoopStatus is the slice of a background loop the readiness view
// needs.
type LoopStatus interface {
	Running() bool
}

// Readiness aggregates store health and loop liveness for /ready.
type Readiness struct {
	fleetDB  *database.DB
	signalDB *database.DB
	loops    map[string]LoopStatus
}

// NewReadiness builds the readiness prober. Loops may be nil when the
// corresponding feature is disabled.
func NewReadiness(fleetDB, signalDB *database.DB, loops map[string]LoopStatus) *Readiness {
	return &Readiness{fleetDB: fleetDB, signalDB: signalDB, loops: loops}
}

// Check returns per-component states and an overall verdict. Loops are
// reported but only store health gates readiness: a disabled loop is
// not a failure.
func (r *Readiness) Check(ctx context.Context) (bool, map[string]string) {
	checks := make(map[string]string)
	ready := true

	probe := func(name string, db *database.DB) {
		if db == nil {
			checks[name] = "absent"
			ready = false
			return
		}
		if err := db.HealthCheck(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}
	probe("fleet_db", r.fleetDB)
	probe("signal_db", r.signalDB)

	for name, loop := range r.loops {
		if loop == nil {
			checks[name] = "disabled"
			continue
		}
		if loop.Running() {
			checks[name] = "running"
		} else {
			checks[name] = "stopped"
		}
	}

	return ready, checks
}
