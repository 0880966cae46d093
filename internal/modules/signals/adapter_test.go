package signals

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klawleybot/fleetd/internal/database"
	"github.com/klawleybot/fleetd/internal/domain"
)

const (
	coinHot  = "0x00000000000000000000000000000000000000aa"
	coinWarm = "0x00000000000000000000000000000000000000bb"
	coinCold = "0x00000000000000000000000000000000000000cc"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:    filepath.Join(t.TempDir(), "signals.db"),
		Profile: database.ProfileStandard,
		Name:    "signals",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	seed := []struct {
		address  string
		symbol   string
		momentum float64
	}{
		{coinHot, "HOT", 92.5},
		{coinWarm, "WARM", 55.0},
		{coinCold, "COLD", 3.1},
	}
	for _, s := range seed {
		_, err = db.Exec(`INSERT INTO coins (address, symbol, name, chain_id, volume_24h) VALUES (?, ?, ?, 8453, 1000)`,
			s.address, s.symbol, s.symbol)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO coin_analytics (coin_address, momentum_score, swap_count_24h, net_flow_usdc_24h, updated_at) VALUES (?, ?, 10, 500, 0)`,
			s.address, s.momentum)
		require.NoError(t, err)
	}

	return db
}

func TestTopMovers(t *testing.T) {
	db := setupTestDB(t)
	a := NewAdapter(db.Conn(), zerolog.Nop())

	movers, err := a.TopMovers(10, 0)
	require.NoError(t, err)
	require.Len(t, movers, 3)
	assert.Equal(t, coinHot, movers[0].CoinAddress)
	assert.Equal(t, "HOT", movers[0].Symbol)

	// Momentum floor filters out the tail
	movers, err = a.TopMovers(10, 50)
	require.NoError(t, err)
	assert.Len(t, movers, 2)
}

func TestSelectSignalCoinTopMomentum(t *testing.T) {
	db := setupTestDB(t)
	a := NewAdapter(db.Conn(), zerolog.Nop())

	s, err := a.SelectSignalCoin(ModeTopMomentum, "", 0)
	require.NoError(t, err)
	assert.Equal(t, coinHot, s.CoinAddress)

	// Empty mode defaults to top momentum
	s, err = a.SelectSignalCoin("", "", 0)
	require.NoError(t, err)
	assert.Equal(t, coinHot, s.CoinAddress)

	// Nothing above the floor
	_, err = a.SelectSignalCoin(ModeTopMomentum, "", 99.9)
	require.Error(t, err)
	assert.Equal(t, domain.KindNoSignal, domain.KindOf(err))

	_, err = a.SelectSignalCoin("sideways", "", 0)
	assert.Error(t, err)
}

func TestSelectSignalCoinWatchlist(t *testing.T) {
	db := setupTestDB(t)
	a := NewAdapter(db.Conn(), zerolog.Nop())

	// Empty watchlist yields no signal
	_, err := a.SelectSignalCoin(ModeWatchlistTop, "default", 0)
	require.Error(t, err)
	assert.Equal(t, domain.KindNoSignal, domain.KindOf(err))

	require.NoError(t, a.AddToWatchlist("default", coinWarm))

	s, err := a.SelectSignalCoin(ModeWatchlistTop, "default", 0)
	require.NoError(t, err)
	assert.Equal(t, coinWarm, s.CoinAddress)

	// The momentum floor still applies in watchlist mode
	_, err = a.SelectSignalCoin(ModeWatchlistTop, "default", 60)
	require.Error(t, err)
	assert.Equal(t, domain.KindNoSignal, domain.KindOf(err))
}

func TestWatchlistMembership(t *testing.T) {
	db := setupTestDB(t)
	a := NewAdapter(db.Conn(), zerolog.Nop())

	ok, err := a.IsCoinInWatchlist(coinHot, "default")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.AddToWatchlist("default", coinHot))
	ok, err = a.IsCoinInWatchlist(coinHot, "default")
	require.NoError(t, err)
	assert.True(t, ok)

	// Membership check normalizes case and defaults the list name
	ok, err = a.IsCoinInWatchlist("0x00000000000000000000000000000000000000AA", "")
	require.NoError(t, err)
	assert.True(t, ok)

	// Removal disables without deleting the row
	require.NoError(t, a.RemoveFromWatchlist("default", coinHot))
	ok, err = a.IsCoinInWatchlist(coinHot, "default")
	require.NoError(t, err)
	assert.False(t, ok)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM coin_watchlist`).Scan(&count))
	assert.Equal(t, 1, count)

	// Re-adding flips enabled back on via upsert
	require.NoError(t, a.AddToWatchlist("default", coinHot))
	ok, err = a.IsCoinInWatchlist(coinHot, "default")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM coin_watchlist`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestAddToWatchlistValidatesAddress(t *testing.T) {
	db := setupTestDB(t)
	a := NewAdapter(db.Conn(), zerolog.Nop())

	assert.Error(t, a.AddToWatchlist("default", "not-an-address"))
}
