package ops

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/domain"
)

const fundingColumns = `id, wallet_id, amount_wei, user_op_hash, tx_hash, status, error_message, created_at`

// FundingRepository records master-to-fleet value transfers. Rows are
// append-only.
type FundingRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewFundingRepository creates a new funding repository
func NewFundingRepository(db *sql.DB, log zerolog.Logger) *FundingRepository {
	return &FundingRepository{
		db:  db,
		log: log.With().Str("repo", "funding").Logger(),
	}
}

// Create inserts a new funding record.
func (r *FundingRepository) Create(tx domain.FundingTx) (*domain.FundingTx, error) {
	if tx.WalletID <= 0 {
		return nil, fmt.Errorf("funding record requires a wallet id")
	}
	if _, err := domain.ParseWei(tx.AmountWei); err != nil {
		return nil, fmt.Errorf("funding amountWei: %w", err)
	}

	res, err := r.db.Exec(`
		INSERT INTO funding_txs (wallet_id, amount_wei, user_op_hash, tx_hash, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.WalletID,
		tx.AmountWei,
		nullString(tx.UserOpHash),
		nullString(tx.TxHash),
		string(tx.Status),
		nullString(tx.ErrorMessage),
		time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create funding record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read funding id: %w", err)
	}
	tx.ID = id

	r.log.Info().
		Int64("funding_id", id).
		Int64("wallet_id", tx.WalletID).
		Str("status", string(tx.Status)).
		Msg("Funding recorded")
	return &tx, nil
}

// List returns all funding records, newest first.
func (r *FundingRepository) List() ([]domain.FundingTx, error) {
	rows, err := r.db.Query("SELECT " + fundingColumns + " FROM funding_txs ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list funding records: %w", err)
	}
	defer rows.Close()

	var out []domain.FundingTx
	for rows.Next() {
		var f domain.FundingTx
		var userOpHash, txHash, errorMessage sql.NullString
		var status string
		var createdAt int64
		if err := rows.Scan(&f.ID, &f.WalletID, &f.AmountWei, &userOpHash, &txHash,
			&status, &errorMessage, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan funding record: %w", err)
		}
		f.UserOpHash = userOpHash.String
		f.TxHash = txHash.String
		f.Status = domain.UnitStatus(status)
		f.ErrorMessage = errorMessage.String
		f.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funding records: %w", err)
	}
	return out, nil
}
