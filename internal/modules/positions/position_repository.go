// Package positions owns the per-(wallet, coin) cost-basis ledger.
package positions

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/database"
	"github.com/klawleybot/fleetd/internal/domain"
)

const positionsColumns = `wallet_id, coin_address, total_cost_wei, total_received_wei, holdings_raw, buy_count, sell_count, first_action_at, last_action_at`

// PositionRepository handles position database operations.
type PositionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "position").Logger(),
	}
}

// Delta describes one position adjustment. All amounts are additive;
// HoldingsSub subtracts (sells reduce holdings).
type Delta struct {
	CostWei     *uint256.Int // buy: ETH spent
	ReceivedWei *uint256.Int // sell: ETH received
	HoldingsAdd *uint256.Int // buy: token units acquired
	HoldingsSub *uint256.Int // sell: token units disposed
	IsBuy       bool
}

// Upsert applies a delta to the (walletID, coin) row atomically,
// creating the row on first touch. Holdings are clamped at zero; going
// below indicates a reconciliation gap and is logged, never persisted.
func (r *PositionRepository) Upsert(walletID int64, coinAddress string, delta Delta) (*domain.Position, error) {
	coin := domain.NormalizeAddress(coinAddress)
	now := time.Now().Unix()

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var costStr, receivedStr, holdingsStr string
		var buyCount, sellCount int
		var firstAt int64

		err := tx.QueryRow(`
			SELECT total_cost_wei, total_received_wei, holdings_raw, buy_count, sell_count, first_action_at
			FROM positions WHERE wallet_id = ? AND coin_address = ?`,
			walletID, coin,
		).Scan(&costStr, &receivedStr, &holdingsStr, &buyCount, &sellCount, &firstAt)

		fresh := errors.Is(err, sql.ErrNoRows)
		if err != nil && !fresh {
			return fmt.Errorf("failed to read position: %w", err)
		}
		if fresh {
			costStr, receivedStr, holdingsStr = "0", "0", "0"
			firstAt = now
		}

		cost, err := domain.ParseWei(costStr)
		if err != nil {
			return fmt.Errorf("corrupt total_cost_wei: %w", err)
		}
		received, err := domain.ParseWei(receivedStr)
		if err != nil {
			return fmt.Errorf("corrupt total_received_wei: %w", err)
		}
		holdings, err := domain.ParseWei(holdingsStr)
		if err != nil {
			return fmt.Errorf("corrupt holdings_raw: %w", err)
		}

		if delta.CostWei != nil {
			cost.Add(cost, delta.CostWei)
		}
		if delta.ReceivedWei != nil {
			received.Add(received, delta.ReceivedWei)
		}
		if delta.HoldingsAdd != nil {
			holdings.Add(holdings, delta.HoldingsAdd)
		}
		if delta.HoldingsSub != nil {
			if holdings.Lt(delta.HoldingsSub) {
				r.log.Warn().
					Int64("wallet_id", walletID).
					Str("coin", coin).
					Str("holdings", holdings.Dec()).
					Str("subtract", delta.HoldingsSub.Dec()).
					Msg("Position holdings would go negative, clamping to zero")
				holdings.Clear()
			} else {
				holdings.Sub(holdings, delta.HoldingsSub)
			}
		}

		if delta.IsBuy {
			buyCount++
		} else {
			sellCount++
		}

		if fresh {
			_, err = tx.Exec(`
				INSERT INTO positions (wallet_id, coin_address, total_cost_wei, total_received_wei, holdings_raw, buy_count, sell_count, first_action_at, last_action_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				walletID, coin, cost.Dec(), received.Dec(), holdings.Dec(), buyCount, sellCount, firstAt, now,
			)
		} else {
			_, err = tx.Exec(`
				UPDATE positions
				SET total_cost_wei = ?, total_received_wei = ?, holdings_raw = ?, buy_count = ?, sell_count = ?, last_action_at = ?
				WHERE wallet_id = ? AND coin_address = ?`,
				cost.Dec(), received.Dec(), holdings.Dec(), buyCount, sellCount, now, walletID, coin,
			)
		}
		if err != nil {
			return fmt.Errorf("failed to write position: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r.Get(walletID, coin)
}

// Get retrieves one position row, or nil if the pair has never traded.
func (r *PositionRepository) Get(walletID int64, coinAddress string) (*domain.Position, error) {
	row := r.db.QueryRow(
		"SELECT "+positionsColumns+" FROM positions WHERE wallet_id = ? AND coin_address = ?",
		walletID, domain.NormalizeAddress(coinAddress),
	)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return &pos, nil
}

// ListByWallet returns a wallet's positions.
func (r *PositionRepository) ListByWallet(walletID int64) ([]domain.Position, error) {
	return r.list("SELECT "+positionsColumns+" FROM positions WHERE wallet_id = ? ORDER BY coin_address", walletID)
}

// ListByCoin returns every wallet's position in one coin.
func (r *PositionRepository) ListByCoin(coinAddress string) ([]domain.Position, error) {
	return r.list("SELECT "+positionsColumns+" FROM positions WHERE coin_address = ? ORDER BY wallet_id",
		domain.NormalizeAddress(coinAddress))
}

// ListByCluster returns positions held by the cluster's member wallets.
func (r *PositionRepository) ListByCluster(clusterID int64) ([]domain.Position, error) {
	return r.list(`
		SELECT `+positionsColumns+` FROM positions
		WHERE wallet_id IN (SELECT wallet_id FROM cluster_wallets WHERE cluster_id = ?)
		ORDER BY wallet_id, coin_address`, clusterID)
}

func (r *PositionRepository) list(query string, args ...interface{}) ([]domain.Position, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return out, nil
}

func scanPosition(s interface {
	Scan(dest ...interface{}) error
}) (domain.Position, error) {
	var p domain.Position
	var firstAt, lastAt int64
	err := s.Scan(&p.WalletID, &p.CoinAddress, &p.TotalCostWei, &p.TotalReceivedWei,
		&p.HoldingsRaw, &p.BuyCount, &p.SellCount, &firstAt, &lastAt)
	if err != nil {
		return domain.Position{}, err
	}
	p.FirstActionAt = time.Unix(firstAt, 0).UTC()
	p.LastActionAt = time.Unix(lastAt, 0).UTC()
	return p, nil
}
