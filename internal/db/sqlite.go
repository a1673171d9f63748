package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
)

// NewSQLiteService opens a sqlite database. Used for local runs and tests;
// pass "file:<name>?mode=memory&cache=shared" for an in-memory database.
func NewSQLiteService(dsn string, log *logger.Logger) (*DatabaseService, error) {
	serviceLog := log.With("service", "DatabaseService", "dialect", "sqlite")
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(serviceLog))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer.
	sqlDB.SetMaxOpenConns(1)
	return &DatabaseService{db: db, log: serviceLog, dialect: "sqlite"}, nil
}

// NewTestDatabase returns a migrated in-memory database unique to name.
func NewTestDatabase(name string) (*gorm.DB, error) {
	svc, err := NewSQLiteService(fmt.Sprintf("file:%s?mode=memory&cache=shared", name), logger.NewNop())
	if err != nil {
		return nil, err
	}
	if err := svc.AutoMigrateAll(); err != nil {
		return nil, err
	}
	return svc.DB(), nil
}
