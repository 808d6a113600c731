// Package dbtest hands each test its own in-memory sqlite database.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-broker/internal/db"
)

func Open(t *testing.T, models ...any) *gorm.DB {
	t.Helper()
	gdb, err := db.Open("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err, "open sqlite")
	require.NoError(t, gdb.AutoMigrate(models...), "automigrate")

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return gdb
}
