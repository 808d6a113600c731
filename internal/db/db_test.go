package db

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOpen_SQLiteFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "broker.db")
	gdb, err := Open(path)
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Ping())
	t.Cleanup(func() { _ = sqlDB.Close() })
}

type row struct {
	ID uint64 `gorm:"primaryKey"`
}

func TestOpen_MissingRowIsNotLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	gdb, err := Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&row{}))

	var r row
	assert.ErrorIs(t, gdb.First(&r, "id = ?", 1).Error, gorm.ErrRecordNotFound)
	assert.NotContains(t, buf.String(), "record not found")

	// real errors still reach the log
	require.Error(t, gdb.Table("missing").First(&r).Error)
	assert.Contains(t, buf.String(), "no such table")
}

func TestIsConflict(t *testing.T) {
	assert.False(t, IsConflict(nil))
	assert.True(t, IsConflict(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, IsConflict(errors.New("database table is locked")))
	assert.False(t, IsConflict(errors.New("record not found")))
}

func TestRetry_RetriesConflictsOnly(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", func() error {
		calls++
		if calls < 2 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	boom := errors.New("boom")
	err = Retry(context.Background(), "op", func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetry_GivesUpAfterThreeAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "op", func() error {
		calls++
		return errors.New("database is locked")
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}
