package repository

import (
	"testing"

	"github.com/nimasrn/video-report/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type TestDB struct {
	*pg.DB
	Raw *gorm.DB
}

// SetupTestDB opens a private in-memory sqlite database with the schema
// migrated. A single connection keeps every goroutine on the same database.
func SetupTestDB(t testing.TB) *TestDB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	err = db.AutoMigrate(&ReportEntity{}, &ItemEntity{}, &DispatchAttemptEntity{})
	require.NoError(t, err)

	return &TestDB{
		DB:  pg.New(db, db),
		Raw: db,
	}
}
