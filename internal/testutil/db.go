// Package testutil builds throwaway SQLite databases for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"exchange/internal/infrastructure/database"
	"exchange/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory database with the ledger schema.
//
// The pool is limited to one connection, so concurrent transactions queue on
// the pool instead of failing with SQLITE_BUSY. Code running inside a
// transaction must therefore only use that transaction's handle.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// CreateUser inserts a user row the way the identity service would.
func CreateUser(t testing.TB, db *gorm.DB, email, nickname string, role model.Role) *model.User {
	t.Helper()
	user := &model.User{Email: email, Nickname: nickname, Role: role}
	require.NoError(t, db.WithContext(context.Background()).Create(user).Error)
	return user
}

// CountRows counts ledger rows of one user and type.
func CountRows(t testing.TB, db *gorm.DB, userID int64, typ model.TransactionType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.Transaction{}).
		Where("user_id = ? AND type = ?", userID, typ).
		Count(&n).Error)
	return n
}
