package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/slotter-org/ollama-chat-backend/internal/config"
	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

// DatabaseService owns the gorm handle and schema migration.
type DatabaseService struct {
	db      *gorm.DB
	log     *logger.Logger
	dialect string
}

const slowQueryThreshold = 200 * time.Millisecond

// gormConfig routes gorm's own logging through zap. Missing rows are an expected
// outcome for lookups and are not logged.
func gormConfig(log *logger.Logger) *gorm.Config {
	gormLog := gormlogger.New(log.With("component", "gorm"), gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
	return &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
		NowFunc: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// Open connects to the database selected by cfg.DBDriver.
func Open(cfg *config.Config, log *logger.Logger) (*DatabaseService, error) {
	if cfg.DBDriver == "sqlite" {
		return NewSQLiteService(cfg.SQLitePath, log)
	}
	return NewPostgresService(cfg, log)
}

func NewPostgresService(cfg *config.Config, log *logger.Logger) (*DatabaseService, error) {
	serviceLog := log.With("service", "DatabaseService", "dialect", "postgres")

	log.Info("Attempting to connect to Postgres DB now...")
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig(serviceLog))
	if err != nil {
		log.Error("Failed to connect to Postgres DB", "error", err)
		return nil, fmt.Errorf("failed to connect to Postgres DB: %w", err)
	}
	log.Info("Successfully Connected to Postgres DB :)")

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return &DatabaseService{db: db, log: serviceLog, dialect: "postgres"}, nil
}

func (s *DatabaseService) AutoMigrateAll() error {
	s.log.Info("Starting AutoMigrateAll for all GORM models now...")
	err := s.db.AutoMigrate(
		&types.Settings{},
		&types.BackendEndpoint{},
		&types.Project{},
		&types.ProjectFile{},
		&types.Chat{},
		&types.ChatSettings{},
		&types.Message{},
	)
	if err != nil {
		s.log.Error("AutoMigrateAll failed :(", "error", err)
		return err
	}
	s.log.Info("AutoMigrateAll completed successfully :)")

	if s.dialect != "postgres" {
		return nil
	}
	s.log.Info("Configuring Foreign Key Relationships now...")
	for _, fk := range foreignKeys {
		if err := s.addForeignKey(fk); err != nil {
			return err
		}
	}
	s.log.Info("Successfully Added Foreign Key Relationships :)")
	return nil
}

type foreignKey struct {
	name      string
	table     string
	column    string
	refTable  string
	refColumn string
	onDelete  string
}

var foreignKeys = []foreignKey{
	{"fk_chat_project_id", "chat", "project_id", "project", "id", "CASCADE"},
	{"fk_chat_backend_id", "chat", "backend_id", "backend_endpoint", "id", "SET NULL"},
	{"fk_message_chat_id", "message", "chat_id", "chat", "id", "CASCADE"},
	{"fk_project_file_project_id", "project_file", "project_id", "project", "id", "CASCADE"},
	{"fk_chat_settings_chat_id", "chat_settings", "chat_id", "chat", "id", "CASCADE"},
	{"fk_message_files_message_id", "message_files", "message_id", "message", "id", "CASCADE"},
	{"fk_message_files_file_id", "message_files", "file_id", "project_file", "id", "CASCADE"},
}

// addForeignKey is idempotent so migrations can run on every boot.
func (s *DatabaseService) addForeignKey(fk foreignKey) error {
	var count int64
	if err := s.db.Raw(`SELECT COUNT(*) FROM pg_constraint WHERE conname = ?`, fk.name).Scan(&count).Error; err != nil {
		return fmt.Errorf("failed to look up %s: %w", fk.name, err)
	}
	if count > 0 {
		return nil
	}
	stmt := fmt.Sprintf(`ALTER TABLE %q ADD CONSTRAINT %q FOREIGN KEY (%q) REFERENCES %q (%q) ON DELETE %s`,
		fk.table, fk.name, fk.column, fk.refTable, fk.refColumn, fk.onDelete)
	if err := s.db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("failed to add %s: %w", fk.name, err)
	}
	s.log.Debug("Added foreign key", "constraint", fk.name)
	return nil
}

func (s *DatabaseService) DB() *gorm.DB {
	return s.db
}

func (s *DatabaseService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
