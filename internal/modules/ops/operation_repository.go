// Package ops owns the durable operation lifecycle and its audit rows.
// Operation status transitions are monotone; the repository is the only
// component allowed to move them and it refuses anything outside the
// lattice.
package ops

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/database"
	"github.com/klawleybot/fleetd/internal/domain"
)

const operationsColumns = `id, type, cluster_id, status, requested_by, approved_by, payload_json, result_json, error_message, created_at, updated_at`

// OperationRepository handles operation database operations.
type OperationRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewOperationRepository creates a new operation repository
func NewOperationRepository(db *sql.DB, log zerolog.Logger) *OperationRepository {
	return &OperationRepository{
		db:  db,
		log: log.With().Str("repo", "operation").Logger(),
	}
}

// Create persists a new operation in status pending. The payload is
// validated against the operation type before anything is written.
func (r *OperationRepository) Create(opType domain.OperationType, clusterID int64, requestedBy, payloadJSON string) (*domain.Operation, error) {
	if !domain.ValidOperationType(opType) {
		return nil, fmt.Errorf("unknown operation type %q", opType)
	}
	if _, err := domain.ParsePayload(opType, payloadJSON); err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	res, err := r.db.Exec(`
		INSERT INTO operations (type, cluster_id, status, requested_by, payload_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(opType), clusterID, string(domain.StatusPending), requestedBy, payloadJSON, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read operation id: %w", err)
	}

	r.log.Info().
		Int64("operation_id", id).
		Str("type", string(opType)).
		Int64("cluster_id", clusterID).
		Str("requested_by", requestedBy).
		Msg("Operation created")

	return r.GetByID(id)
}

// GetByID retrieves an operation by id.
func (r *OperationRepository) GetByID(id int64) (*domain.Operation, error) {
	row := r.db.QueryRow("SELECT "+operationsColumns+" FROM operations WHERE id = ?", id)
	op, err := scanOperationRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, "operation %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return &op, nil
}

// List returns the most recent operations, newest first.
func (r *OperationRepository) List(limit int) ([]domain.Operation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query("SELECT "+operationsColumns+" FROM operations ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var out []domain.Operation
	for rows.Next() {
		op, err := scanOperationRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		out = append(out, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return out, nil
}

// UpdateStatus transitions an operation to newStatus, enforcing the
// lattice. The read and the conditional write happen inside one
// transaction so concurrent movers cannot race past each other.
func (r *OperationRepository) UpdateStatus(id int64, newStatus domain.OperationStatus, errorMessage string) error {
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRow("SELECT status FROM operations WHERE id = ?", id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewError(domain.KindNotFound, "operation %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("failed to read operation status: %w", err)
		}

		from := domain.OperationStatus(current)
		if !domain.AllowedTransition(from, newStatus) {
			return domain.NewError(domain.KindStateConflict,
				"operation %d cannot move %s -> %s", id, from, newStatus)
		}

		_, err = tx.Exec(
			"UPDATE operations SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?",
			string(newStatus), nullString(errorMessage), time.Now().Unix(), id, current,
		)
		if err != nil {
			return fmt.Errorf("failed to update operation status: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().
		Int64("operation_id", id).
		Str("status", string(newStatus)).
		Msg("Operation status updated")
	return nil
}

// SetApproved moves a pending operation to approved and records who
// approved it.
func (r *OperationRepository) SetApproved(id int64, approvedBy string) error {
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRow("SELECT status FROM operations WHERE id = ?", id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewError(domain.KindNotFound, "operation %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("failed to read operation status: %w", err)
		}

		from := domain.OperationStatus(current)
		if !domain.AllowedTransition(from, domain.StatusApproved) {
			return domain.NewError(domain.KindStateConflict,
				"operation %d cannot move %s -> %s", id, from, domain.StatusApproved)
		}

		_, err = tx.Exec(
			"UPDATE operations SET status = ?, approved_by = ?, updated_at = ? WHERE id = ?",
			string(domain.StatusApproved), approvedBy, time.Now().Unix(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to approve operation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().Int64("operation_id", id).Str("approved_by", approvedBy).Msg("Operation approved")
	return nil
}

// Cancel moves a pending operation to cancelled. Operations past
// pending cannot be cancelled.
func (r *OperationRepository) Cancel(id int64, reason string) error {
	return r.UpdateStatus(id, domain.StatusCancelled, reason)
}

// SetResult writes the terminal status together with the resultJson
// document and an optional summary message.
func (r *OperationRepository) SetResult(id int64, status domain.OperationStatus, resultJSON, errorMessage string) error {
	if !domain.TerminalStatus(status) || status == domain.StatusCancelled {
		return fmt.Errorf("SetResult requires a terminal execution status, got %q", status)
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRow("SELECT status FROM operations WHERE id = ?", id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewError(domain.KindNotFound, "operation %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("failed to read operation status: %w", err)
		}

		from := domain.OperationStatus(current)
		if !domain.AllowedTransition(from, status) {
			return domain.NewError(domain.KindStateConflict,
				"operation %d cannot move %s -> %s", id, from, status)
		}

		_, err = tx.Exec(
			"UPDATE operations SET status = ?, result_json = ?, error_message = ?, updated_at = ? WHERE id = ?",
			string(status), nullString(resultJSON), nullString(errorMessage), time.Now().Unix(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to set operation result: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().Int64("operation_id", id).Str("status", string(status)).Msg("Operation finalized")
	return nil
}

// LatestClusterOperationAgeSec returns the seconds since the cluster's
// most recent terminal operation, excluding excludeID (the operation
// currently being policy-checked). Returns nil when the cluster has no
// terminal history.
func (r *OperationRepository) LatestClusterOperationAgeSec(clusterID int64, excludeID int64) (*int64, error) {
	var updatedAt int64
	err := r.db.QueryRow(`
		SELECT updated_at FROM operations
		WHERE cluster_id = ?
		  AND id != ?
		  AND status IN ('complete', 'partial', 'failed')
		ORDER BY updated_at DESC
		LIMIT 1`, clusterID, excludeID).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest cluster operation: %w", err)
	}

	age := time.Now().Unix() - updatedAt
	if age < 0 {
		age = 0
	}
	return &age, nil
}

func scanOperation(s interface {
	Scan(dest ...interface{}) error
}) (domain.Operation, error) {
	var op domain.Operation
	var opType, status string
	var approvedBy, resultJSON, errorMessage sql.NullString
	var createdAt, updatedAt int64
	err := s.Scan(&op.ID, &opType, &op.ClusterID, &status, &op.RequestedBy,
		&approvedBy, &op.PayloadJSON, &resultJSON, &errorMessage, &createdAt, &updatedAt)
	if err != nil {
		return domain.Operation{}, err
	}
	op.Type = domain.OperationType(opType)
	op.Status = domain.OperationStatus(status)
	op.ApprovedBy = approvedBy.String
	op.ResultJSON = resultJSON.String
	op.ErrorMessage = errorMessage.String
	op.CreatedAt = time.Unix(createdAt, 0).UTC()
	op.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return op, nil
}

func scanOperationRow(row *sql.Row) (domain.Operation, error) {
	return scanOperation(row)
}

func scanOperationRows(rows *sql.Rows) (domain.Operation, error) {
	return scanOperation(rows)
}

// nullString converts an empty string to NULL for nullable columns.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
