package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"aqiwatch/internal/types"
)

func TestAlertStateRepository_LoadLastSent(t *testing.T) {
	sent := time.Date(2026, 1, 10, 6, 0, 0, 0, time.FixedZone("PKT", 5*3600))

	db := new(mockDBTX)
	row := &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*time.Time) = sent
		return nil
	}}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{DefaultAlertStateKey}).Return(row)

	got, err := NewAlertStateRepository(db, "").LoadLastSent(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(sent))
	assert.Equal(t, time.UTC, got.Location())
	db.AssertExpectations(t)
}

func TestAlertStateRepository_LoadLastSent_NeverSent(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows})

	got, err := NewAlertStateRepository(db, "lahore").LoadLastSent(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAlertStateRepository_LoadLastSent_DBError(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: errors.New("timeout")})

	_, err := NewAlertStateRepository(db, "").LoadLastSent(context.Background())
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestAlertStateRepository_TryAcquire_Taken(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	prevSent := now.Add(-7 * time.Hour)

	db := new(mockDBTX)
	row := &mockRow{scanFn: func(dest ...any) error {
		p := prevSent
		*dest[0].(**time.Time) = &p
		return nil
	}}
	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ON CONFLICT") && strings.Contains(sql, "last_sent_at <= $3")
	}), []any{"lahore", now, now.Add(-6 * time.Hour)}).Return(row)

	ok, prev, err := NewAlertStateRepository(db, "lahore").TryAcquire(context.Background(), now, 6*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, prev)
	assert.Equal(t, prevSent, *prev)
	db.AssertExpectations(t)
}

func TestAlertStateRepository_TryAcquire_HeldByAnotherProcess(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	holder := now.Add(-time.Hour)

	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "INSERT INTO alert_state")
	}), mock.Anything).Return(&mockRow{scanErr: pgx.ErrNoRows}).Once()
	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.HasPrefix(strings.TrimSpace(sql), "SELECT last_sent_at")
	}), []any{DefaultAlertStateKey}).Return(&mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*time.Time) = holder
		return nil
	}}).Once()

	ok, last, err := NewAlertStateRepository(db, "").TryAcquire(context.Background(), now, 6*time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NotNil(t, last)
	assert.Equal(t, holder, *last)
	db.AssertExpectations(t)
}

func TestAlertStateRepository_TryAcquire_DBError(t *testing.T) {
	db := new(mockDBTX)
	db.On("QueryRow", mock.Anything, mock.Anything, mock.Anything).Return(&mockRow{scanErr: errors.New("connection refused")})

	_, _, err := NewAlertStateRepository(db, "").TryAcquire(context.Background(), time.Now(), time.Hour)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestAlertStateRepository_Release(t *testing.T) {
	claimed := time.Date(2026, 1, 10, 6, 0, 0, 123456789, time.UTC)
	truncated := claimed.Truncate(time.Microsecond)
	previous := claimed.Add(-8 * time.Hour)

	t.Run("restores previous", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
			return strings.Contains(sql, "UPDATE alert_state")
		}), []any{"lahore", truncated, previous.Truncate(time.Microsecond)}).
			Return(pgconn.NewCommandTag("UPDATE 1"), nil)

		require.NoError(t, NewAlertStateRepository(db, "lahore").Release(context.Background(), claimed, &previous))
		db.AssertExpectations(t)
	})

	t.Run("deletes first claim", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
			return strings.Contains(sql, "DELETE FROM alert_state")
		}), []any{"lahore", truncated}).
			Return(pgconn.NewCommandTag("DELETE 1"), nil)

		require.NoError(t, NewAlertStateRepository(db, "lahore").Release(context.Background(), claimed, nil))
		db.AssertExpectations(t)
	})

	t.Run("db error", func(t *testing.T) {
		db := new(mockDBTX)
		db.On("Exec", mock.Anything, mock.Anything, mock.Anything).
			Return(pgconn.CommandTag{}, errors.New("connection refused"))

		err := NewAlertStateRepository(db, "").Release(context.Background(), claimed, nil)
		assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	})
}
