package services

import (
	"context"
	"testing"
	"time"

	"gate-admission/internal/status"
	"gate-admission/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockGormStore(t *testing.T) (*GormQueueStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		TranslateError:         true,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return NewGormQueueStore(gormDB), mock
}

var entryColumns = []string{
	"id", "event_id", "gate_id", "user_id", "status", "token", "token_redeemed",
	"joined_at", "deadline_at", "verified_at", "estimated_wait_units",
}

func entryRow(rows *sqlmock.Rows, e *models.GateQueueEntry) *sqlmock.Rows {
	var verifiedAt any
	if e.VerifiedAt != nil {
		verifiedAt = *e.VerifiedAt
	}
	return rows.AddRow(e.ID, e.EventID, e.GateID, e.UserID, string(e.Status), e.Token, e.TokenRedeemed,
		e.JoinedAt, e.DeadlineAt, verifiedAt, e.EstimatedWaitUnits)
}

func TestGormQueueStore_Get(t *testing.T) {
	store, mock := newMockGormStore(t)
	entry := newTestEntry("e1", "u1", models.GateEntryCurrent, storeEpoch)

	mock.ExpectQuery(`SELECT \* FROM "gate_queue_entries" WHERE id = \$1`).
		WillReturnRows(entryRow(sqlmock.NewRows(entryColumns), entry))
	mock.ExpectQuery(`SELECT \* FROM "gate_queue_entries" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(entryColumns))

	got, err := store.Get(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, models.GateEntryCurrent, got.Status)
	assert.Nil(t, got.VerifiedAt)

	_, err = store.Get(context.Background(), "e2")
	assert.ErrorIs(t, err, status.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormQueueStore_Insert(t *testing.T) {
	store, mock := newMockGormStore(t)
	entry := newTestEntry("e1", "u1", models.GateEntryPending, storeEpoch)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count\(\*\) FROM "gate_queue_entries" WHERE user_id = \$1 AND event_id = \$2 AND status IN`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO "gate_queue_entries"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Insert(context.Background(), entry)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormQueueStore_InsertDuplicateActive(t *testing.T) {
	store, mock := newMockGormStore(t)
	entry := newTestEntry("e2", "u1", models.GateEntryPending, storeEpoch)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count\(\*\) FROM "gate_queue_entries"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := store.Insert(context.Background(), entry)

	assert.ErrorIs(t, err, status.ErrDuplicateActiveEntry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormQueueStore_PatchApplied(t *testing.T) {
	store, mock := newMockGormStore(t)
	deadline := storeEpoch.Add(3 * time.Minute)
	promoted := newTestEntry("e1", "u1", models.GateEntryCurrent, storeEpoch)
	promoted.DeadlineAt = deadline

	mock.ExpectExec(`UPDATE "gate_queue_entries" SET .* WHERE id = \$\d+ AND status IN .* AND status IN`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "gate_queue_entries" WHERE id = \$1`).
		WillReturnRows(entryRow(sqlmock.NewRows(entryColumns), promoted))

	got, err := store.Patch(context.Background(), "e1", EntryPatch{
		Status:             statusPtr(models.GateEntryCurrent),
		DeadlineAt:         timePtr(deadline),
		EstimatedWaitUnits: intPtr(0),
		IfStatus:           []models.GateEntryStatus{models.GateEntryPending},
	})

	require.NoError(t, err)
	assert.Equal(t, models.GateEntryCurrent, got.Status)
	assert.True(t, got.DeadlineAt.Equal(deadline))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormQueueStore_PatchRejected(t *testing.T) {
	redeemedAt := storeEpoch.Add(time.Minute)
	verified := newTestEntry("e1", "u1", models.GateEntryVerified, storeEpoch)
	verified.TokenRedeemed = true
	verified.VerifiedAt = &redeemedAt
	released := newTestEntry("e1", "u1", models.GateEntryReleased, storeEpoch)

	tests := []struct {
		name    string
		stored  *models.GateQueueEntry
		patch   EntryPatch
		wantErr error
	}{
		{
			name:   "token already redeemed",
			stored: verified,
			patch: EntryPatch{
				Status:            statusPtr(models.GateEntryVerified),
				TokenRedeemed:     boolPtr(true),
				IfStatus:          activeStatuses,
				IfTokenUnredeemed: true,
			},
			wantErr: status.ErrConflict,
		},
		{
			name:    "terminal entry",
			stored:  released,
			patch:   EntryPatch{Status: statusPtr(models.GateEntryCurrent)},
			wantErr: status.ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockGormStore(t)

			mock.ExpectExec(`UPDATE "gate_queue_entries" SET`).
				WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(`SELECT \* FROM "gate_queue_entries" WHERE id = \$1`).
				WillReturnRows(entryRow(sqlmock.NewRows(entryColumns), tt.stored))

			got, err := store.Patch(context.Background(), "e1", tt.patch)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormQueueStore_ListByStatus(t *testing.T) {
	store, mock := newMockGormStore(t)
	rows := sqlmock.NewRows(entryColumns)
	entryRow(rows, newTestEntry("e1", "u1", models.GateEntryPending, storeEpoch))
	entryRow(rows, newTestEntry("e2", "u2", models.GateEntryPending, storeEpoch.Add(time.Second)))

	mock.ExpectQuery(`SELECT \* FROM "gate_queue_entries" WHERE event_id = \$1 AND gate_id = \$2 AND status = \$3`).
		WillReturnRows(rows)

	got, err := store.ListByStatus(context.Background(), "evt-1", "Gate A", models.GateEntryPending)

	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
