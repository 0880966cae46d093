// Package signals is a read-only view over the coin-intelligence store
// maintained by the external ingester. The adapter depends only on the
// signal database file; it never touches the fleet store, and its only
// writes are watchlist enabled-flag upserts in its own store.
package signals

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/domain"
)

// Signal is one ranked coin row.
type Signal struct {
	CoinAddress   string  `json:"coinAddress"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	MomentumScore float64 `json:"momentumScore"`
	Swaps24h      int64   `json:"swaps24h"`
	NetFlowUsd24h float64 `json:"netFlowUsd24h"`
	Volume24h     float64 `json:"volume24h"`
	CoinURL       string  `json:"coinUrl"`
}

// Mode selects how a signal coin is chosen.
const (
	ModeTopMomentum  = "top_momentum"
	ModeWatchlistTop = "watchlist_top"
)

// Adapter exposes the selector functions over the signal store.
type Adapter struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAdapter creates a signal adapter over an open signal store handle.
func NewAdapter(db *sql.DB, log zerolog.Logger) *Adapter {
	return &Adapter{
		db:  db,
		log: log.With().Str("component", "signals").Logger(),
	}
}

const signalSelect = `
	SELECT c.address, COALESCE(c.symbol, ''), COALESCE(c.name, ''),
	       a.momentum_score, a.swap_count_24h, a.net_flow_usdc_24h,
	       COALESCE(c.volume_24h, 0), COALESCE(c.coin_url, '')
	FROM coin_analytics a
	JOIN coins c ON c.address = a.coin_address`

// TopMovers returns up to limit coins ordered by momentum score
// descending, filtered to scores of at least minMomentum.
func (a *Adapter) TopMovers(limit int, minMomentum float64) ([]Signal, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := a.db.Query(signalSelect+`
		WHERE a.momentum_score >= ?
		ORDER BY a.momentum_score DESC
		LIMIT ?`, minMomentum, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top movers: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// WatchlistSignals returns the top signals restricted to enabled rows
// of the named watchlist.
func (a *Adapter) WatchlistSignals(listName string, limit int) ([]Signal, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := a.db.Query(signalSelect+`
		JOIN coin_watchlist w ON w.coin_address = c.address
		WHERE w.list_name = ? AND w.enabled = 1
		ORDER BY a.momentum_score DESC
		LIMIT ?`, listName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchlist signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// SelectSignalCoin picks the single best candidate for the given mode.
// Fails with NO_SIGNAL when nothing meets the constraints.
func (a *Adapter) SelectSignalCoin(mode, listName string, minMomentum float64) (*Signal, error) {
	var (
		candidates []Signal
		err        error
	)
	switch mode {
	case ModeWatchlistTop:
		candidates, err = a.WatchlistSignals(listName, 1)
	case ModeTopMomentum, "":
		candidates, err = a.TopMovers(1, minMomentum)
	default:
		return nil, fmt.Errorf("unknown signal mode %q", mode)
	}
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, domain.NewError(domain.KindNoSignal, "no signal coin for mode %s", mode)
	}
	// Watchlist mode still honors the momentum floor
	if mode == ModeWatchlistTop && candidates[0].MomentumScore < minMomentum {
		return nil, domain.NewError(domain.KindNoSignal,
			"watchlist top momentum %.2f below floor %.2f", candidates[0].MomentumScore, minMomentum)
	}
	return &candidates[0], nil
}

// IsCoinInWatchlist reports whether the coin is an enabled member of
// the named watchlist (default list when listName is empty).
func (a *Adapter) IsCoinInWatchlist(coinAddress, listName string) (bool, error) {
	if listName == "" {
		listName = "default"
	}
	var enabled int
	err := a.db.QueryRow(
		"SELECT enabled FROM coin_watchlist WHERE list_name = ? AND coin_address = ?",
		listName, domain.NormalizeAddress(coinAddress),
	).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check watchlist membership: %w", err)
	}
	return enabled == 1, nil
}

// AddToWatchlist upserts the coin into the list with enabled=1.
func (a *Adapter) AddToWatchlist(listName, coinAddress string) error {
	if !domain.ValidAddress(coinAddress) {
		return fmt.Errorf("invalid coin address %q", coinAddress)
	}
	_, err := a.db.Exec(`
		INSERT INTO coin_watchlist (list_name, coin_address, enabled, added_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (list_name, coin_address) DO UPDATE SET enabled = 1`,
		listName, domain.NormalizeAddress(coinAddress), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to add to watchlist: %w", err)
	}
	a.log.Info().Str("list", listName).Str("coin", coinAddress).Msg("Coin added to watchlist")
	return nil
}

// RemoveFromWatchlist disables the coin in the list. The row is kept so
// re-adding preserves added_at.
func (a *Adapter) RemoveFromWatchlist(listName, coinAddress string) error {
	_, err := a.db.Exec(
		"UPDATE coin_watchlist SET enabled = 0 WHERE list_name = ? AND coin_address = ?",
		listName, domain.NormalizeAddress(coinAddress),
	)
	if err != nil {
		return fmt.Errorf("failed to remove from watchlist: %w", err)
	}
	a.log.Info().Str("list", listName).Str("coin", coinAddress).Msg("Coin removed from watchlist")
	return nil
}

func scanSignals(rows *sql.Rows) ([]Signal, error) {
	var out []Signal
	for rows.Next() {
		var s Signal
		if err := rows.Scan(&s.CoinAddress, &s.Symbol, &s.Name, &s.MomentumScore,
			&s.Swaps24h, &s.NetFlowUsd24h, &s.Volume24h, &s.CoinURL); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}
	return out, nil
}
