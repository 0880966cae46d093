package boot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klawleybot/fleetd/internal/database"
	"github.com/klawleybot/fleetd/internal/domain"
	"github.com/klawleybot/fleetd/internal/modules/fleet"
)

const masterAddr = "0x00000000000000000000000000000000000000f0"

func setupWallets(t *testing.T) (*database.DB, *fleet.WalletRepository) {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:    filepath.Join(t.TempDir(), "fleet.db"),
		Profile: database.ProfileLedger,
		Name:    "fleet",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, fleet.NewWalletRepository(db.Conn(), zerolog.Nop())
}

func TestEnsureMasterWalletCreatesOnFirstBoot(t *testing.T) {
	_, wallets := setupWallets(t)

	master, err := EnsureMasterWallet(wallets, MasterSpec{DerivedAddress: masterAddr}, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, master.IsMaster)
	assert.Equal(t, "master", master.Name)
	assert.Equal(t, masterAddr, master.Address)
	// Owner defaults to the derived address, account name is generated
	assert.Equal(t, masterAddr, master.OwnerAddress)
	assert.NotEmpty(t, master.ProviderAccountName)
}

func TestEnsureMasterWalletVerifiesOnRestart(t *testing.T) {
	_, wallets := setupWallets(t)

	first, err := EnsureMasterWallet(wallets, MasterSpec{DerivedAddress: masterAddr}, zerolog.Nop())
	require.NoError(t, err)

	// Case differences do not count as a mismatch
	second, err := EnsureMasterWallet(wallets, MasterSpec{
		DerivedAddress: "0x00000000000000000000000000000000000000F0",
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestEnsureMasterWalletRejectsKeyMismatch(t *testing.T) {
	_, wallets := setupWallets(t)

	_, err := EnsureMasterWallet(wallets, MasterSpec{DerivedAddress: masterAddr}, zerolog.Nop())
	require.NoError(t, err)

	_, err = EnsureMasterWallet(wallets, MasterSpec{
		DerivedAddress: "0x00000000000000000000000000000000000000f1",
	}, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, domain.KindKeyMismatch, domain.KindOf(err))
}

func TestEnsureMasterWalletRejectsInvalidAddress(t *testing.T) {
	_, wallets := setupWallets(t)

	_, err := EnsureMasterWallet(wallets, MasterSpec{DerivedAddress: "not-an-address"}, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, domain.KindConfigInvalid, domain.KindOf(err))
}

type stubLoop bool

func (s stubLoop) Running() bool { return bool(s) }

func TestReadinessCheck(t *testing.T) {
	db, _ := setupWallets(t)

	signalDB, err := database.Open(database.Config{
		Path:    filepath.Join(t.TempDir(), "signals.db"),
		Profile: database.ProfileStandard,
		Name:    "signals",
	})
	require.NoError(t, err)
	t.Cleanup(func() { signalDB.Close() })

	r := NewReadiness(db, signalDB, map[string]LoopStatus{
		"autonomy_loop": stubLoop(true),
		"swing_loop":    nil,
	})

	ready, checks := r.Check(context.Background())
	assert.True(t, ready)
	assert.Equal(t, "ok", checks["fleet_db"])
	assert.Equal(t, "ok", checks["signal_db"])
	assert.Equal(t, "running", checks["autonomy_loop"])
	// Disabled loops are reported but never gate readiness
	assert.Equal(t, "disabled", checks["swing_loop"])
}

func TestReadinessFailsOnMissingStore(t *testing.T) {
	db, _ := setupWallets(t)

	r := NewReadiness(db, nil, nil)
	ready, checks := r.Check(context.Background())
	assert.False(t, ready)
	assert.Equal(t, "absent", checks["signal_db"])
}
