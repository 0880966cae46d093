package ops

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/domain"
)

const tradesColumns = `id, wallet_id, from_token, to_token, amount_in, amount_out, user_op_hash, tx_hash, status, error_message, created_at`

// TradeRepository records per-wallet swap outcomes. Rows are
// append-only.
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repo", "trade").Logger(),
	}
}

// Create inserts a new trade record.
func (r *TradeRepository) Create(trade domain.Trade) (*domain.Trade, error) {
	if trade.WalletID <= 0 {
		return nil, fmt.Errorf("trade requires a wallet id")
	}
	if _, err := domain.ParseWei(trade.AmountIn); err != nil {
		return nil, fmt.Errorf("trade amountIn: %w", err)
	}

	res, err := r.db.Exec(`
		INSERT INTO trades (wallet_id, from_token, to_token, amount_in, amount_out, user_op_hash, tx_hash, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.WalletID,
		domain.NormalizeAddress(trade.FromToken),
		domain.NormalizeAddress(trade.ToToken),
		trade.AmountIn,
		nullString(trade.AmountOut),
		nullString(trade.UserOpHash),
		nullString(trade.TxHash),
		string(trade.Status),
		nullString(trade.ErrorMessage),
		time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read trade id: %w", err)
	}
	trade.ID = id

	r.log.Info().
		Int64("trade_id", id).
		Int64("wallet_id", trade.WalletID).
		Str("status", string(trade.Status)).
		Msg("Trade recorded")
	return &trade, nil
}

// List returns all trades, newest first.
func (r *TradeRepository) List() ([]domain.Trade, error) {
	rows, err := r.db.Query("SELECT " + tradesColumns + " FROM trades ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var amountOut, userOpHash, txHash, errorMessage sql.NullString
		var status string
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.WalletID, &t.FromToken, &t.ToToken, &t.AmountIn,
			&amountOut, &userOpHash, &txHash, &status, &errorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.AmountOut = amountOut.String
		t.UserOpHash = userOpHash.String
		t.TxHash = txHash.String
		t.Status = domain.UnitStatus(status)
		t.ErrorMessage = errorMessage.String
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

// ListByWallet returns a wallet's trades, newest first.
func (r *TradeRepository) ListByWallet(walletID int64) ([]domain.Trade, error) {
	rows, err := r.db.Query("SELECT "+tradesColumns+" FROM trades WHERE wallet_id = ? ORDER BY id DESC", walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades by wallet: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var amountOut, userOpHash, txHash, errorMessage sql.NullString
		var status string
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.WalletID, &t.FromToken, &t.ToToken, &t.AmountIn,
			&amountOut, &userOpHash, &txHash, &status, &errorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.AmountOut = amountOut.String
		t.UserOpHash = userOpHash.String
		t.TxHash = txHash.String
		t.Status = domain.UnitStatus(status)
		t.ErrorMessage = errorMessage.String
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}
