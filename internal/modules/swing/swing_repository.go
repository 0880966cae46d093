// Package swing owns the per-(fleet, coin) auto-exit rules and the
// loop that evaluates them against live P&L.
package swing

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/domain"
)

const swingColumns = `id, fleet_name, coin_address, take_profit_bps, stop_loss_bps, trailing_stop_bps, cooldown_sec, slippage_bps, enabled, peak_pnl_bps, last_action_at`

// Repository handles swing config database operations.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new swing config repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "swing").Logger(),
	}
}

// Create inserts a new swing config. Unique on (fleetName, coin).
func (r *Repository) Create(cfg domain.SwingConfig) (*domain.SwingConfig, error) {
	if strings.TrimSpace(cfg.FleetName) == "" {
		return nil, fmt.Errorf("swing config requires a fleet name")
	}
	if !domain.ValidAddress(cfg.CoinAddress) {
		return nil, fmt.Errorf("invalid coin address %q", cfg.CoinAddress)
	}
	if cfg.TakeProfitBps <= 0 {
		return nil, fmt.Errorf("takeProfitBps must be positive")
	}
	if cfg.StopLossBps <= 0 {
		return nil, fmt.Errorf("stopLossBps must be positive (applied negatively)")
	}
	if cfg.TrailingStopBps != nil && *cfg.TrailingStopBps <= 0 {
		return nil, fmt.Errorf("trailingStopBps must be positive when set")
	}

	res, err := r.db.Exec(`
		INSERT INTO swing_configs (fleet_name, coin_address, take_profit_bps, stop_loss_bps, trailing_stop_bps, cooldown_sec, slippage_bps, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.FleetName,
		domain.NormalizeAddress(cfg.CoinAddress),
		cfg.TakeProfitBps,
		cfg.StopLossBps,
		nullInt64Ptr(cfg.TrailingStopBps),
		cfg.CooldownSec,
		cfg.SlippageBps,
		boolToInt(cfg.Enabled),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("swing config for %s/%s already exists: %w", cfg.FleetName, cfg.CoinAddress, err)
		}
		return nil, fmt.Errorf("failed to create swing config: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read swing config id: %w", err)
	}

	r.log.Info().Int64("swing_id", id).Str("fleet", cfg.FleetName).Str("coin", cfg.CoinAddress).Msg("Swing config created")
	return r.GetByID(id)
}

// Update applies a partial update. Nil pointers leave fields untouched.
type Update struct {
	TakeProfitBps   *int64
	StopLossBps     *int64
	TrailingStopBps *int64
	ClearTrailing   bool
	CooldownSec     *int64
	SlippageBps     *int64
	Enabled         *bool
}

// Update mutates an existing swing config in place.
func (r *Repository) Update(id int64, upd Update) (*domain.SwingConfig, error) {
	existing, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}

	if upd.TakeProfitBps != nil {
		existing.TakeProfitBps = *upd.TakeProfitBps
	}
	if upd.StopLossBps != nil {
		existing.StopLossBps = *upd.StopLossBps
	}
	if upd.ClearTrailing {
		existing.TrailingStopBps = nil
	} else if upd.TrailingStopBps != nil {
		existing.TrailingStopBps = upd.TrailingStopBps
	}
	if upd.CooldownSec != nil {
		existing.CooldownSec = *upd.CooldownSec
	}
	if upd.SlippageBps != nil {
		existing.SlippageBps = *upd.SlippageBps
	}
	if upd.Enabled != nil {
		existing.Enabled = *upd.Enabled
	}

	_, err = r.db.Exec(`
		UPDATE swing_configs
		SET take_profit_bps = ?, stop_loss_bps = ?, trailing_stop_bps = ?, cooldown_sec = ?, slippage_bps = ?, enabled = ?
		WHERE id = ?`,
		existing.TakeProfitBps,
		existing.StopLossBps,
		nullInt64Ptr(existing.TrailingStopBps),
		existing.CooldownSec,
		existing.SlippageBps,
		boolToInt(existing.Enabled),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update swing config: %w", err)
	}

	return r.GetByID(id)
}

// Delete removes a swing config.
func (r *Repository) Delete(id int64) error {
	res, err := r.db.Exec("DELETE FROM swing_configs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete swing config: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return domain.NewError(domain.KindNotFound, "swing config %d not found", id)
	}
	return nil
}

// List returns swing configs, optionally only enabled ones.
func (r *Repository) List(enabledOnly bool) ([]domain.SwingConfig, error) {
	query := "SELECT " + swingColumns + " FROM swing_configs"
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY id"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list swing configs: %w", err)
	}
	defer rows.Close()

	var out []domain.SwingConfig
	for rows.Next() {
		cfg, err := scanSwing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan swing config: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating swing configs: %w", err)
	}
	return out, nil
}

// GetByID retrieves one swing config.
func (r *Repository) GetByID(id int64) (*domain.SwingConfig, error) {
	row := r.db.QueryRow("SELECT "+swingColumns+" FROM swing_configs WHERE id = ?", id)
	cfg, err := scanSwing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, "swing config %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get swing config: %w", err)
	}
	return &cfg, nil
}

// Get retrieves the config for a (fleet, coin) pair, or nil if absent.
func (r *Repository) Get(fleetName, coinAddress string) (*domain.SwingConfig, error) {
	row := r.db.QueryRow(
		"SELECT "+swingColumns+" FROM swing_configs WHERE fleet_name = ? AND coin_address = ?",
		fleetName, domain.NormalizeAddress(coinAddress),
	)
	cfg, err := scanSwing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get swing config: %w", err)
	}
	return &cfg, nil
}

// SetPeak records a new running P&L maximum.
func (r *Repository) SetPeak(id int64, peakPnlBps int64) error {
	if _, err := r.db.Exec("UPDATE swing_configs SET peak_pnl_bps = ? WHERE id = ?", peakPnlBps, id); err != nil {
		return fmt.Errorf("failed to set swing peak: %w", err)
	}
	return nil
}

// MarkAction resets the running peak and stamps lastActionAt after a
// triggered exit completes.
func (r *Repository) MarkAction(id int64, at time.Time) error {
	if _, err := r.db.Exec(
		"UPDATE swing_configs SET peak_pnl_bps = NULL, last_action_at = ? WHERE id = ?",
		at.Unix(), id,
	); err != nil {
		return fmt.Errorf("failed to mark swing action: %w", err)
	}
	return nil
}

func scanSwing(s interface {
	Scan(dest ...interface{}) error
}) (domain.SwingConfig, error) {
	var cfg domain.SwingConfig
	var trailing, peak sql.NullInt64
	var lastAction sql.NullInt64
	var enabled int
	err := s.Scan(&cfg.ID, &cfg.FleetName, &cfg.CoinAddress, &cfg.TakeProfitBps, &cfg.StopLossBps,
		&trailing, &cfg.CooldownSec, &cfg.SlippageBps, &enabled, &peak, &lastAction)
	if err != nil {
		return domain.SwingConfig{}, err
	}
	cfg.Enabled = enabled == 1
	if trailing.Valid {
		cfg.TrailingStopBps = &trailing.Int64
	}
	if peak.Valid {
		cfg.PeakPnlBps = &peak.Int64
	}
	if lastAction.Valid {
		t := time.Unix(lastAction.Int64, 0).UTC()
		cfg.LastActionAt = &t
	}
	return cfg, nil
}

func nullInt64Ptr(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
