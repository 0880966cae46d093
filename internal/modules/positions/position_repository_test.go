package positions

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klawleybot/fleetd/internal/database"
	"github.com/klawleybot/fleetd/internal/domain"
)

const coin = "0x00000000000000000000000000000000000000aa"

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:    filepath.Join(t.TempDir(), "fleet.db"),
		Profile: database.ProfileLedger,
		Name:    "fleet",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		INSERT INTO wallets (id, name, address, owner_address, provider_account_name, type, is_master, created_at)
		VALUES (1, 'w1', '0x0000000000000000000000000000000000000001', '0x0000000000000000000000000000000000000009', 'acct-1', 'smart', 0, 0)`)
	require.NoError(t, err)

	return db
}

func TestUpsertBuyThenSell(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPositionRepository(db.Conn(), zerolog.Nop())

	pos, err := repo.Upsert(1, coin, Delta{
		CostWei:     domain.MustParseWei("50000000000000"),
		HoldingsAdd: domain.MustParseWei("1000000"),
		IsBuy:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, "50000000000000", pos.TotalCostWei)
	assert.Equal(t, "1000000", pos.HoldingsRaw)
	assert.Equal(t, 1, pos.BuyCount)
	assert.Equal(t, 0, pos.SellCount)

	pos, err = repo.Upsert(1, coin, Delta{
		CostWei:     domain.MustParseWei("50000000000000"),
		HoldingsAdd: domain.MustParseWei("900000"),
		IsBuy:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, "100000000000000", pos.TotalCostWei)
	assert.Equal(t, "1900000", pos.HoldingsRaw)
	assert.Equal(t, 2, pos.BuyCount)

	// Full exit: holdings return to zero, received is tracked
	pos, err = repo.Upsert(1, coin, Delta{
		ReceivedWei: domain.MustParseWei("110000000000000"),
		HoldingsSub: domain.MustParseWei("1900000"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0", pos.HoldingsRaw)
	assert.Equal(t, "110000000000000", pos.TotalReceivedWei)
	assert.Equal(t, 1, pos.SellCount)
}

func TestUpsertClampsHoldingsAtZero(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPositionRepository(db.Conn(), zerolog.Nop())

	_, err := repo.Upsert(1, coin, Delta{
		HoldingsAdd: domain.MustParseWei("100"),
		IsBuy:       true,
	})
	require.NoError(t, err)

	pos, err := repo.Upsert(1, coin, Delta{
		HoldingsSub: domain.MustParseWei("500"),
	})
	require.NoError(t, err)
	assert.Equal(t, "0", pos.HoldingsRaw)
}

func TestGetNilWhenNeverTraded(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPositionRepository(db.Conn(), zerolog.Nop())

	pos, err := repo.Get(1, coin)
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestGetNormalizesCoinAddress(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPositionRepository(db.Conn(), zerolog.Nop())

	_, err := repo.Upsert(1, "0x00000000000000000000000000000000000000AA", Delta{
		HoldingsAdd: domain.MustParseWei("1"),
		IsBuy:       true,
	})
	require.NoError(t, err)

	pos, err := repo.Get(1, coin)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, coin, pos.CoinAddress)
}

func TestListByWallet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPositionRepository(db.Conn(), zerolog.Nop())

	other := "0x00000000000000000000000000000000000000bb"
	_, err := repo.Upsert(1, coin, Delta{HoldingsAdd: domain.MustParseWei("1"), IsBuy: true})
	require.NoError(t, err)
	_, err = repo.Upsert(1, other, Delta{HoldingsAdd: domain.MustParseWei("2"), IsBuy: true})
	require.NoError(t, err)

	list, err := repo.ListByWallet(1)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
