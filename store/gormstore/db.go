// Package gormstore is the reference GORM-backed persistence layer for
// the cooldown manager and the usage ledger, grounded on the teacher's
// own database bootstrap (PostgreSQL when a postgres:// DSN is given,
// SQLite otherwise).
package gormstore

import (
	"strings"

	"github.com/Laisky/errors/v2"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open connects to dsn (a postgres:// URL, or empty/a file path for
// SQLite) and migrates every model this package owns.
func Open(dsn string) (*gorm.DB, error) {
	db, err := open(dsn)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&cooldownEntryModel{}, &usageRecordModel{}); err != nil {
		return nil, errors.Wrap(err, "auto-migrate gateway tables")
	}
	return db, nil
}

func open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{PrepareStmt: true}

	if strings.HasPrefix(dsn, "postgres://") {
		db, err := gorm.Open(postgres.New(postgres.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		}), cfg)
		return db, errors.Wrap(err, "open postgres")
	}

	path := dsn
	if path == "" {
		path = "plexus.db"
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	return db, errors.Wrap(err, "open sqlite")
}
