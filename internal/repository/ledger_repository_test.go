package repository

import (
	"context"
	"testing"
	"time"

	"github.com/blues/fundledger/internal/model"
	"github.com/blues/fundledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pledge(projectId, contributor string, amount int64) *model.ContributionModel {
	return &model.ContributionModel{
		ProjectId:       projectId,
		ContributorId:   contributor,
		ContributorName: contributor,
		Amount:          amount,
		ExpiresAt:       time.Now().UTC().Add(30 * time.Minute),
	}
}

func TestLedgerReserve(t *testing.T) {
	db := testutil.NewDB(t)
	projects := NewProjectRepository(db)
	ledger := NewLedgerRepository(db)
	ctx := context.Background()
	p := newProject(t, projects, "Coral", 10_000_000)

	first := pledge(p.Id, "a", 4_000_000)
	require.NoError(t, ledger.Reserve(ctx, first))
	assert.NotZero(t, first.Id)
	assert.Equal(t, model.ContributionStatusPending, first.Status)

	assert.ErrorIs(t, ledger.Reserve(ctx, pledge(p.Id, "b", 7_000_000)), ErrReserveRejected)
	require.NoError(t, ledger.Reserve(ctx, pledge(p.Id, "b", 6_000_000)))
	assert.ErrorIs(t, ledger.Reserve(ctx, pledge(p.Id, "c", 1)), ErrReserveRejected)
	assert.ErrorIs(t, ledger.Reserve(ctx, pledge("missing", "c", 1)), ErrReserveRejected)

	got, err := projects.Get(ctx, p.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), got.FundsRaised)

	list, total, err := ledger.ListByProject(ctx, p.Id, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, "a", list[0].ContributorId)
	assert.Equal(t, "b", list[1].ContributorId)
}

func TestLedgerReserveInactive(t *testing.T) {
	db := testutil.NewDB(t)
	projects := NewProjectRepository(db)
	ledger := NewLedgerRepository(db)
	ctx := context.Background()
	p := newProject(t, projects, "Coral", 10_000_000)

	require.NoError(t, projects.Deactivate(ctx, p.Id, time.Now()))
	assert.ErrorIs(t, ledger.Reserve(ctx, pledge(p.Id, "a", 1)), ErrReserveRejected)
}

func TestLedgerConfirm(t *testing.T) {
	db := testutil.NewDB(t)
	projects := NewProjectRepository(db)
	ledger := NewLedgerRepository(db)
	ctx := context.Background()
	p := newProject(t, projects, "Coral", 10_000_000)

	c1 := pledge(p.Id, "a", 1_000_000)
	c2 := pledge(p.Id, "b", 1_000_000)
	require.NoError(t, ledger.Reserve(ctx, c1))
	require.NoError(t, ledger.Reserve(ctx, c2))

	now := time.Now().UTC()
	done, err := ledger.Confirm(ctx, c1.Id, "0x01", now)
	require.NoError(t, err)
	assert.Equal(t, model.ContributionStatusCompleted, done.Status)
	assert.Equal(t, "0x01", done.Hash())

	t.Run("same hash is idempotent", func(t *testing.T) {
		again, err := ledger.Confirm(ctx, c1.Id, "0x01", now)
		require.NoError(t, err)
		assert.Equal(t, done.Id, again.Id)

		got, _ := projects.Get(ctx, p.Id)
		assert.Equal(t, int64(2_000_000), got.FundsRaised)
	})

	t.Run("hash belongs to another contribution", func(t *testing.T) {
		_, err := ledger.Confirm(ctx, c2.Id, "0x01", now)
		assert.ErrorIs(t, err, ErrTxHashInUse)
	})

	t.Run("completed with a different hash", func(t *testing.T) {
		_, err := ledger.Confirm(ctx, c1.Id, "0x02", now)
		assert.ErrorIs(t, err, ErrNotPending)
	})

	t.Run("unknown contribution", func(t *testing.T) {
		_, err := ledger.Confirm(ctx, 999, "0x03", now)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	byHash, err := ledger.GetByTxHash(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, c1.Id, byHash.Id)
}

func TestLedgerRelease(t *testing.T) {
	db := testutil.NewDB(t)
	projects := NewProjectRepository(db)
	ledger := NewLedgerRepository(db)
	ctx := context.Background()
	p := newProject(t, projects, "Coral", 10_000_000)

	c := pledge(p.Id, "a", 3_000_000)
	require.NoError(t, ledger.Reserve(ctx, c))

	released, err := ledger.Release(ctx, c.Id, model.ContributionStatusExpired, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, model.ContributionStatusExpired, released.Status)

	got, _ := projects.Get(ctx, p.Id)
	assert.Equal(t, int64(0), got.FundsRaised)

	_, err = ledger.Release(ctx, c.Id, model.ContributionStatusCancelled, time.Now().UTC())
	assert.ErrorIs(t, err, ErrNotPending)

	_, err = ledger.Confirm(ctx, c.Id, "0xaa", time.Now().UTC())
	assert.ErrorIs(t, err, ErrNotPending)

	_, err = ledger.Release(ctx, c.Id, model.ContributionStatusCompleted, time.Now().UTC())
	assert.ErrorIs(t, err, ErrProtectedField)
}

func TestLedgerQueries(t *testing.T) {
	db := testutil.NewDB(t)
	projects := NewProjectRepository(db)
	ledger := NewLedgerRepository(db)
	ctx := context.Background()
	p := newProject(t, projects, "Coral", 10_000_000)

	old := pledge(p.Id, "a", 1_000_000)
	old.ContributorAddress = "0xAbC0000000000000000000000000000000000001"
	old.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	fresh := pledge(p.Id, "a", 1_000_000)
	other := pledge(p.Id, "b", 2_000_000)
	for _, c := range []*model.ContributionModel{old, fresh, other} {
		require.NoError(t, ledger.Reserve(ctx, c))
	}
	_, err := ledger.Confirm(ctx, other.Id, "0xbb", time.Now().UTC())
	require.NoError(t, err)

	found, err := ledger.FindPending(ctx, p.Id, "a", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, old.Id, found.Id)

	byAddr, err := ledger.FindPendingByAddress(ctx, p.Id, "0xabc0000000000000000000000000000000000001", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, old.Id, byAddr.Id)

	expired, err := ledger.ListExpired(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.Id, expired[0].Id)

	totals, err := ledger.Totals(ctx, p.Id)
	require.NoError(t, err)
	assert.Equal(t, int64(4_000_000), totals.Pledged)
	assert.Equal(t, int64(2_000_000), totals.Settled)
	assert.Equal(t, int64(2), totals.PendingCount)
	assert.Equal(t, int64(1), totals.CompletedCount)
	assert.Equal(t, int64(2), totals.Contributors)

	completed, total, err := ledger.ListByProject(ctx, p.Id, model.ContributionStatusCompleted, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, other.Id, completed[0].Id)
}

func TestLedgerEvents(t *testing.T) {
	ledger := NewLedgerRepository(testutil.NewDB(t))
	ctx := context.Background()

	block, err := ledger.LastEventBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), block)

	e := &model.ChainEventModel{ContractAddress: "0x1", EventType: "ContributionMade", TxHash: "0xaa", LogIndex: 0, BlockNum: 120}
	created, err := ledger.SaveEvent(ctx, e)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &model.ChainEventModel{ContractAddress: "0x1", EventType: "ContributionMade", TxHash: "0xaa", LogIndex: 0, BlockNum: 120}
	created, err = ledger.SaveEvent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	block, err = ledger.LastEventBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(120), block)

	require.NoError(t, ledger.SaveAudit(ctx, &model.AuditRecordModel{ProjectId: "p", DriftWei: "0", Balanced: true}))
	latest, err := ledger.LatestAudit(ctx, "p")
	require.NoError(t, err)
	assert.True(t, latest.Balanced)
}
