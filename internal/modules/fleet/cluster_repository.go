package fleet

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/database"
	"github.com/klawleybot/fleetd/internal/domain"
)

const clustersColumns = `id, name, strategy_mode, created_at`

// ClusterRepository handles cluster database operations.
type ClusterRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewClusterRepository creates a new cluster repository
func NewClusterRepository(db *sql.DB, log zerolog.Logger) *ClusterRepository {
	return &ClusterRepository{
		db:  db,
		log: log.With().Str("repo", "cluster").Logger(),
	}
}

// Create inserts a new cluster. Fails on name collision.
func (r *ClusterRepository) Create(name string, mode domain.StrategyMode) (*domain.Cluster, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("cluster name is required")
	}
	if !domain.ValidStrategyMode(mode) {
		return nil, fmt.Errorf("unknown strategy mode %q", mode)
	}

	res, err := r.db.Exec(
		"INSERT INTO clusters (name, strategy_mode, created_at) VALUES (?, ?, ?)",
		name, string(mode), time.Now().Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("cluster %q already exists: %w", name, err)
		}
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read cluster id: %w", err)
	}

	r.log.Info().Int64("cluster_id", id).Str("name", name).Str("mode", string(mode)).Msg("Cluster created")
	return r.GetByID(id)
}

// GetByID retrieves a cluster by id.
func (r *ClusterRepository) GetByID(id int64) (*domain.Cluster, error) {
	row := r.db.QueryRow("SELECT "+clustersColumns+" FROM clusters WHERE id = ?", id)
	cluster, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, "cluster %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster by id: %w", err)
	}
	return &cluster, nil
}

// GetByName retrieves a cluster by its unique name.
func (r *ClusterRepository) GetByName(name string) (*domain.Cluster, error) {
	row := r.db.QueryRow("SELECT "+clustersColumns+" FROM clusters WHERE name = ?", name)
	cluster, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, "cluster %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cluster by name: %w", err)
	}
	return &cluster, nil
}

// List returns all clusters ordered by id.
func (r *ClusterRepository) List() ([]domain.Cluster, error) {
	rows, err := r.db.Query("SELECT " + clustersColumns + " FROM clusters ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer rows.Close()

	var clusters []domain.Cluster
	for rows.Next() {
		var c domain.Cluster
		var mode string
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.Name, &mode, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		c.StrategyMode = domain.StrategyMode(mode)
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		clusters = append(clusters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clusters: %w", err)
	}
	return clusters, nil
}

// SetWallets replaces the cluster's membership with the given wallet
// ids, preserving the given order. Master wallets are refused: the
// master only funds, it never trades in a fleet.
func (r *ClusterRepository) SetWallets(clusterID int64, walletIDs []int64) error {
	if _, err := r.GetByID(clusterID); err != nil {
		return err
	}

	// Reject master membership before touching the member table
	for _, walletID := range walletIDs {
		var isMaster int
		err := r.db.QueryRow("SELECT is_master FROM wallets WHERE id = ?", walletID).Scan(&isMaster)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewError(domain.KindNotFound, "wallet %d not found", walletID)
		}
		if err != nil {
			return fmt.Errorf("failed to check wallet %d: %w", walletID, err)
		}
		if isMaster == 1 {
			return fmt.Errorf("wallet %d is the master wallet and cannot join a cluster", walletID)
		}
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM cluster_wallets WHERE cluster_id = ?", clusterID); err != nil {
			return fmt.Errorf("failed to clear cluster members: %w", err)
		}
		for i, walletID := range walletIDs {
			if _, err := tx.Exec(
				"INSERT INTO cluster_wallets (cluster_id, wallet_id, position) VALUES (?, ?, ?)",
				clusterID, walletID, i,
			); err != nil {
				return fmt.Errorf("failed to add wallet %d to cluster: %w", walletID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Info().Int64("cluster_id", clusterID).Int("wallets", len(walletIDs)).Msg("Cluster membership updated")
	return nil
}

// ListWalletDetails returns the cluster's member wallets in membership
// order. The execution engine dispatches units in exactly this order.
func (r *ClusterRepository) ListWalletDetails(clusterID int64) ([]domain.Wallet, error) {
	rows, err := r.db.Query(`
		SELECT w.id, w.name, w.address, w.owner_address, w.provider_account_name, w.type, w.is_master, w.created_at
		FROM cluster_wallets cw
		JOIN wallets w ON w.id = cw.wallet_id
		WHERE cw.cluster_id = ?
		ORDER BY cw.position`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		wallet, err := scanWalletFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster wallet: %w", err)
		}
		wallets = append(wallets, wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cluster wallets: %w", err)
	}
	return wallets, nil
}

// Delete removes a cluster and its membership rows. Wallets persist.
func (r *ClusterRepository) Delete(clusterID int64) error {
	res, err := r.db.Exec("DELETE FROM clusters WHERE id = ?", clusterID)
	if err != nil {
		return fmt.Errorf("failed to delete cluster: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return domain.NewError(domain.KindNotFound, "cluster %d not found", clusterID)
	}

	r.log.Info().Int64("cluster_id", clusterID).Msg("Cluster deleted")
	return nil
}

func scanCluster(row *sql.Row) (domain.Cluster, error) {
	var c domain.Cluster
	var mode string
	var createdAt int64
	if err := row.Scan(&c.ID, &c.Name, &mode, &createdAt); err != nil {
		return domain.Cluster{}, err
	}
	c.StrategyMode = domain.StrategyMode(mode)
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	return c, nil
}
