package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"wisefido-vitals/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var recordColumns = []string{
	"record_id", "category", "start_time", "end_time",
	"source", "device", "manual_entry", "last_modified", "payload",
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresHealthStore) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	store := NewPostgresHealthStore(db, zap.NewNop(), time.Hour)
	return db, mock, store
}

func TestReadRecords_DecodesPayloads(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	at := start.Add(8 * time.Hour)

	rows := sqlmock.NewRows(recordColumns).
		AddRow("rec-1", "blood_pressure", at, at, "com.wisefido.vitals", "cuff", true, at,
			[]byte(`{"systolic_mmhg":120,"diastolic_mmhg":80}`)).
		AddRow("rec-2", "blood_pressure", at.Add(time.Hour), at.Add(time.Hour), "", "", false, at,
			[]byte(`not-json`))

	mock.ExpectQuery(`SELECT\s+record_id`).
		WithArgs("blood_pressure", start, end).
		WillReturnRows(rows)

	recs, err := store.ReadRecords(context.Background(), models.CategoryBloodPressure, models.TimeRange{Start: start, End: end})

	require.NoError(t, err)
	require.Len(t, recs, 1, "undecodable rows are skipped")
	assert.Equal(t, "rec-1", recs[0].ID)
	require.NotNil(t, recs[0].BloodPressure)
	assert.Equal(t, 120.0, recs[0].BloodPressure.SystolicMmHg)
	assert.Equal(t, 80.0, recs[0].BloodPressure.DiastolicMmHg)
	assert.True(t, recs[0].Metadata.ManualEntry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadRecords_QueryError(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+record_id`).WillReturnError(sql.ErrConnDone)

	_, err := store.ReadRecords(context.Background(), models.CategorySteps, models.TimeRange{})
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestInsertRecords_WritesRecordAndChangeLog(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	rec := models.Record{
		ID:        "5f0c5a5e-8d1e-4f43-9d52-3f4b2d0a0c11",
		Category:  models.CategorySteps,
		StartTime: at,
		EndTime:   at.Add(time.Hour),
		Metadata:  models.Metadata{Source: "com.wisefido.vitals", ManualEntry: true, LastModified: at},
		Steps:     &models.StepsPayload{Count: 1200},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(changeLogLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO health_records`).
		WithArgs(rec.ID, "steps", rec.StartTime, rec.EndTime, "com.wisefido.vitals", "", true, at, []byte(`{"count":1200}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO health_changes`).
		WithArgs("steps", rec.ID).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.InsertRecords(context.Background(), []models.Record{rec}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecords_RollsBackOnFailure(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	rec := models.Record{ID: "r1", Category: models.CategoryDistance, StartTime: at, EndTime: at,
		Distance: &models.DistancePayload{Meters: 500}}

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO health_records`).WillReturnError(sql.ErrTxDone)
	mock.ExpectRollback()

	err := store.InsertRecords(context.Background(), []models.Record{rec})
	assert.ErrorContains(t, err, "failed to insert health record r1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChangesToken_IssuesUUID(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).
		WithArgs(changeLogLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO health_change_tokens`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	token, err := store.GetChangesToken(context.Background(), []models.Category{models.CategorySteps})
	require.NoError(t, err)
	assert.Len(t, string(token), 36)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChangesToken_LockFailureIssuesNothing(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	token, err := store.GetChangesToken(context.Background(), []models.Category{models.CategorySteps})
	assert.ErrorContains(t, err, "failed to lock change log")
	assert.Empty(t, token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChanges_HasMore(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	mock.ExpectQuery(`SELECT categories, last_seq, issued_at`).
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"categories", "last_seq", "issued_at"}).
			AddRow("{steps,heart_rate}", int64(41), now.Add(-time.Minute)))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(41), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	resp, err := store.GetChanges(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChangesResponse{HasMore: true}, resp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChanges_UnknownOrStaleTokenIsExpired(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	mock.ExpectQuery(`SELECT categories, last_seq, issued_at`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT categories, last_seq, issued_at`).
		WithArgs("stale").
		WillReturnRows(sqlmock.NewRows([]string{"categories", "last_seq", "issued_at"}).
			AddRow("{steps}", int64(1), now.Add(-2*time.Hour)))

	resp, err := store.GetChanges(context.Background(), "missing")
	require.NoError(t, err)
	assert.True(t, resp.TokenExpired)

	resp, err = store.GetChanges(context.Background(), "stale")
	require.NoError(t, err)
	assert.True(t, resp.TokenExpired)
	assert.False(t, resp.HasMore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetGrantedPermissions(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT permission FROM health_permissions`).
		WillReturnRows(sqlmock.NewRows([]string{"permission"}).
			AddRow("READ_STEPS").
			AddRow("WRITE_STEPS"))

	perms, err := store.GetGrantedPermissions(context.Background())
	require.NoError(t, err)
	assert.True(t, perms.Has(models.ReadPermission(models.CategorySteps)))
	assert.False(t, perms.Has(models.ReadPermission(models.CategorySleep)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
