package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockPool(t *testing.T, cfg PoolConfig) (*PoolManager, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	pm, err := NewPoolManager(gdb, cfg, zap.NewNop())
	require.NoError(t, err)
	return pm, mock
}

func TestNewPoolManager_NilDB(t *testing.T) {
	t.Parallel()
	_, err := NewPoolManager(nil, DefaultPoolConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestPoolManager_PingAndClose(t *testing.T) {
	t.Parallel()
	pm, mock := newMockPool(t, PoolConfig{MaxIdleConns: 1, MaxOpenConns: 2})

	mock.ExpectPing()
	require.NoError(t, pm.Ping(context.Background()))

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close(), "double close is a no-op")

	err := pm.Ping(context.Background())
	assert.ErrorContains(t, err, "pool is closed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_Commits(t *testing.T) {
	t.Parallel()
	pm, mock := newMockPool(t, PoolConfig{})

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE task_instances").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := pm.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return tx.Exec("UPDATE task_instances SET status = ? WHERE id = ?", "completed", "t1").Error
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	t.Parallel()
	pm, mock := newMockPool(t, PoolConfig{})

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := pm.WithTransaction(context.Background(), func(tx *gorm.DB) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRetry_RecoversFromDeadlock(t *testing.T) {
	t.Parallel()
	pm, mock := newMockPool(t, PoolConfig{})

	// first attempt deadlocks, second commits
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	attempts := 0
	err := pm.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempts++
		if attempts == 1 {
			return errors.New("deadlock detected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRetry_GivesUpOnPermanentError(t *testing.T) {
	t.Parallel()
	pm, mock := newMockPool(t, PoolConfig{})

	mock.ExpectBegin()
	mock.ExpectRollback()

	attempts := 0
	err := pm.WithTransactionRetry(context.Background(), 5, func(tx *gorm.DB) error {
		attempts++
		return errors.New("unique constraint violation")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts, "permanent errors must not be retried")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRetry_Exhaustion(t *testing.T) {
	t.Parallel()
	pm, mock := newMockPool(t, PoolConfig{})

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	err := pm.WithTransactionRetry(context.Background(), 2, func(tx *gorm.DB) error {
		return errors.New("lock wait timeout exceeded")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
}

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want bool
	}{
		{"deadlock detected", true},
		{"ERROR: could not serialize access (SQLSTATE 40001)", true},
		{"serialization failure", true},
		{"read tcp: connection reset by peer", true},
		{"dial tcp: connection refused", true},
		{"write: broken pipe", true},
		{"Lock wait timeout exceeded", true},
		{"driver: bad connection", true},
		{"duplicate key value violates unique constraint", false},
		{"syntax error at or near", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isRetryableError(errors.New(tc.msg)), tc.msg)
	}
	assert.False(t, isRetryableError(nil))
}
