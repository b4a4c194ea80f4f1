package store

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanfleet/telemetry-core/pkg/model"
)

func newMockWriter(t *testing.T) (*Writer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	w := New(func(database string) (string, PoolSettings, error) { return "unused", PoolSettings{}, nil })
	w.pools["tenantA"] = sqlx.NewDb(db, "postgres")
	return w, mock
}

func TestWriter_UpsertRobotStates_CommitsOneRowPerStatement(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO robot_state").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := w.UpsertRobotStates(context.Background(), "tenantA", []model.RobotState{
		{Serial: "R1", Battery: 80},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriter_UpsertRobotStates_SplitsOversizedBatch(t *testing.T) {
	w, mock := newMockWriter(t)

	states := make([]model.RobotState, MaxBatchSize+1)
	for i := range states {
		states[i] = model.RobotState{Serial: "R", Battery: 1}
	}

	mock.ExpectBegin()
	for i := 0; i < MaxBatchSize; i++ {
		mock.ExpectExec("INSERT INTO robot_state").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO robot_state").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := w.UpsertRobotStates(context.Background(), "tenantA", states)
	require.NoError(t, err)
	assert.Equal(t, MaxBatchSize+1, result.Applied)
}

func TestWriter_UpsertRobotStates_PermanentErrorDropsBatch(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO robot_state").WillReturnError(assertCause)
	mock.ExpectRollback()

	result, err := w.UpsertRobotStates(context.Background(), "tenantA", []model.RobotState{
		{Serial: "R1", Battery: 80},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Applied)
	assert.Equal(t, 1, result.Dropped)
}

func TestWriter_GetRobotState_NotFound(t *testing.T) {
	w, mock := newMockWriter(t)

	mock.ExpectQuery("SELECT serial, vendor, state, battery").
		WillReturnRows(sqlmock.NewRows([]string{"serial", "vendor", "state", "battery", "pos_x", "pos_y", "pos_yaw", "map_id", "timestamp"}))

	_, found, err := w.GetRobotState(context.Background(), "tenantA", "R1")
	require.NoError(t, err)
	assert.False(t, found)
}

var assertCause = fmtError("duplicate key value violates unique constraint")

type fmtError string

func (e fmtError) Error() string { return string(e) }
