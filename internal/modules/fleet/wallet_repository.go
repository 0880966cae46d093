// Package fleet owns wallet and cluster persistence.
package fleet

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/klawleybot/fleetd/internal/domain"
)

// walletsColumns is the list of columns for the wallets table.
// Used to avoid SELECT * which can break when schema changes.
// Column order must match scanWallet().
const walletsColumns = `id, name, address, owner_address, provider_account_name, type, is_master, created_at`

// WalletRepository handles wallet database operations.
type WalletRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *sql.DB, log zerolog.Logger) *WalletRepository {
	return &WalletRepository{
		db:  db,
		log: log.With().Str("repo", "wallet").Logger(),
	}
}

// Create inserts a new wallet. Name and address are globally unique and
// at most one wallet may be the master; violations surface as errors.
func (r *WalletRepository) Create(name, address, ownerAddress, providerAccountName string, isMaster bool) (*domain.Wallet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("wallet name is required")
	}
	if !domain.ValidAddress(address) {
		return nil, fmt.Errorf("invalid wallet address %q", address)
	}
	if !domain.ValidAddress(ownerAddress) {
		return nil, fmt.Errorf("invalid owner address %q", ownerAddress)
	}

	now := time.Now()
	res, err := r.db.Exec(`
		INSERT INTO wallets (name, address, owner_address, provider_account_name, type, is_master, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		name,
		domain.NormalizeAddress(address),
		domain.NormalizeAddress(ownerAddress),
		providerAccountName,
		string(domain.WalletTypeSmart),
		boolToInt(isMaster),
		now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("wallet with that name, address, or master flag already exists: %w", err)
		}
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet id: %w", err)
	}

	r.log.Info().
		Int64("wallet_id", id).
		Str("name", name).
		Bool("is_master", isMaster).
		Msg("Wallet created")

	return r.GetByID(id)
}

// GetMaster retrieves the master wallet, or nil if none exists yet.
func (r *WalletRepository) GetMaster() (*domain.Wallet, error) {
	row := r.db.QueryRow("SELECT " + walletsColumns + " FROM wallets WHERE is_master = 1")
	wallet, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get master wallet: %w", err)
	}
	return &wallet, nil
}

// GetByID retrieves a wallet by id.
func (r *WalletRepository) GetByID(id int64) (*domain.Wallet, error) {
	row := r.db.QueryRow("SELECT "+walletsColumns+" FROM wallets WHERE id = ?", id)
	wallet, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, "wallet %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet by id: %w", err)
	}
	return &wallet, nil
}

// GetByName retrieves a wallet by its unique name.
func (r *WalletRepository) GetByName(name string) (*domain.Wallet, error) {
	row := r.db.QueryRow("SELECT "+walletsColumns+" FROM wallets WHERE name = ?", name)
	wallet, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, "wallet %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet by name: %w", err)
	}
	return &wallet, nil
}

// List returns all wallets ordered by id.
func (r *WalletRepository) List() ([]domain.Wallet, error) {
	rows, err := r.db.Query("SELECT " + walletsColumns + " FROM wallets ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		wallet, err := scanWalletFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallets: %w", err)
	}
	return wallets, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWalletRow(s rowScanner) (domain.Wallet, error) {
	var w domain.Wallet
	var walletType string
	var isMaster int
	var createdAt int64
	err := s.Scan(&w.ID, &w.Name, &w.Address, &w.OwnerAddress, &w.ProviderAccountName, &walletType, &isMaster, &createdAt)
	if err != nil {
		return domain.Wallet{}, err
	}
	w.Type = domain.WalletType(walletType)
	w.IsMaster = isMaster == 1
	w.CreatedAt = time.Unix(createdAt, 0).UTC()
	return w, nil
}

func scanWallet(row *sql.Row) (domain.Wallet, error) {
	return scanWalletRow(row)
}

func scanWalletFromRows(rows *sql.Rows) (domain.Wallet, error) {
	return scanWalletRow(rows)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
