package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/landrop/server/internal/models"
)

// Connect opens (creating if necessary) the history database at the given
// path and migrates the schema. sqlite only supports one writer at a time, so
// the connection pool is pinned to a single connection; the record store
// additionally serializes appends to keep id assignment monotonic.
func Connect(path string) (*gorm.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(15000)", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// ConnectInMemory is the test variant of Connect.
func ConnectInMemory() (*gorm.DB, error) {
	return Connect(":memory:")
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.TransferRecord{})
}
