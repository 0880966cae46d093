package ops

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klawleybot/fleetd/internal/database"
	"github.com/klawleybot/fleetd/internal/domain"
)

const fundingPayload = `{"clusterId":1,"amountWei":"100000000000000"}`

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:    filepath.Join(t.TempDir(), "fleet.db"),
		Profile: database.ProfileLedger,
		Name:    "fleet",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Operations reference clusters; seed one for foreign keys.
	_, err = db.Exec(`INSERT INTO clusters (id, name, strategy_mode, created_at) VALUES (1, 'alpha', 'sync', 0)`)
	require.NoError(t, err)

	return db
}

func TestOperationLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOperationRepository(db.Conn(), zerolog.Nop())

	op, err := repo.Create(domain.OpFundingRequest, 1, "operator", fundingPayload)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, op.Status)
	assert.Empty(t, op.ApprovedBy)

	require.NoError(t, repo.SetApproved(op.ID, "operator"))
	got, err := repo.GetByID(op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Equal(t, "operator", got.ApprovedBy)

	require.NoError(t, repo.UpdateStatus(op.ID, domain.StatusExecuting, ""))

	result := `{"transfers":[{"walletId":2,"status":"complete"}]}`
	require.NoError(t, repo.SetResult(op.ID, domain.StatusComplete, result, ""))

	got, err = repo.GetByID(op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusComplete, got.Status)
	assert.Equal(t, result, got.ResultJSON)
}

func TestCreateRejectsBadPayload(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOperationRepository(db.Conn(), zerolog.Nop())

	_, err := repo.Create(domain.OpFundingRequest, 1, "operator", `{"clusterId":1,"amountWei":"0"}`)
	assert.Error(t, err)

	_, err = repo.Create("SWEEP", 1, "operator", fundingPayload)
	assert.Error(t, err)
}

func TestUpdateStatusEnforcesLattice(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOperationRepository(db.Conn(), zerolog.Nop())

	op, err := repo.Create(domain.OpFundingRequest, 1, "operator", fundingPayload)
	require.NoError(t, err)

	// pending cannot jump straight to executing
	err = repo.UpdateStatus(op.ID, domain.StatusExecuting, "")
	require.Error(t, err)
	assert.Equal(t, domain.KindStateConflict, domain.KindOf(err))

	// terminal states are final
	require.NoError(t, repo.SetApproved(op.ID, "operator"))
	require.NoError(t, repo.UpdateStatus(op.ID, domain.StatusFailed, "policy rejected"))
	err = repo.UpdateStatus(op.ID, domain.StatusExecuting, "")
	require.Error(t, err)
	assert.Equal(t, domain.KindStateConflict, domain.KindOf(err))

	got, err := repo.GetByID(op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "policy rejected", got.ErrorMessage)
}

func TestCancelOnlyFromPending(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOperationRepository(db.Conn(), zerolog.Nop())

	op, err := repo.Create(domain.OpFundingRequest, 1, "operator", fundingPayload)
	require.NoError(t, err)

	require.NoError(t, repo.Cancel(op.ID, "changed my mind"))
	got, err := repo.GetByID(op.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	// A cancelled operation leaves no audit rows behind.
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM trades`).Scan(&count))
	assert.Equal(t, 0, count)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM funding_txs`).Scan(&count))
	assert.Equal(t, 0, count)

	// Approved operations cannot be cancelled.
	op2, err := repo.Create(domain.OpFundingRequest, 1, "operator", fundingPayload)
	require.NoError(t, err)
	require.NoError(t, repo.SetApproved(op2.ID, "operator"))
	err = repo.Cancel(op2.ID, "too late")
	require.Error(t, err)
	assert.Equal(t, domain.KindStateConflict, domain.KindOf(err))
}

func TestSetResultRequiresTerminalExecutionStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOperationRepository(db.Conn(), zerolog.Nop())

	op, err := repo.Create(domain.OpFundingRequest, 1, "operator", fundingPayload)
	require.NoError(t, err)

	assert.Error(t, repo.SetResult(op.ID, domain.StatusApproved, "{}", ""))
	assert.Error(t, repo.SetResult(op.ID, domain.StatusCancelled, "{}", ""))
}

func TestGetByIDNotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOperationRepository(db.Conn(), zerolog.Nop())

	_, err := repo.GetByID(999)
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestLatestClusterOperationAgeSec(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOperationRepository(db.Conn(), zerolog.Nop())

	// No terminal history yet
	age, err := repo.LatestClusterOperationAgeSec(1, 0)
	require.NoError(t, err)
	assert.Nil(t, age)

	op, err := repo.Create(domain.OpFundingRequest, 1, "operator", fundingPayload)
	require.NoError(t, err)
	require.NoError(t, repo.SetApproved(op.ID, "operator"))
	require.NoError(t, repo.UpdateStatus(op.ID, domain.StatusExecuting, ""))
	require.NoError(t, repo.SetResult(op.ID, domain.StatusComplete, "{}", ""))

	age, err = repo.LatestClusterOperationAgeSec(1, 0)
	require.NoError(t, err)
	require.NotNil(t, age)
	assert.GreaterOrEqual(t, *age, int64(0))
	assert.Less(t, *age, int64(5))

	// The operation under evaluation is excluded from its own cooldown
	age, err = repo.LatestClusterOperationAgeSec(1, op.ID)
	require.NoError(t, err)
	assert.Nil(t, age)
}

func TestListNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewOperationRepository(db.Conn(), zerolog.Nop())

	first, err := repo.Create(domain.OpFundingRequest, 1, "operator", fundingPayload)
	require.NoError(t, err)
	second, err := repo.Create(domain.OpFundingRequest, 1, "operator", fundingPayload)
	require.NoError(t, err)

	ops, err := repo.List(10)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, second.ID, ops[0].ID)
	assert.Equal(t, first.ID, ops[1].ID)

	ops, err = repo.List(1)
	require.NoError(t, err)
	require.Len(t, ops, 1)
}
