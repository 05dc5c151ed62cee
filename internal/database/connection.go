// internal/database/connection.go
package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/export-registry/internal/config"
	"github.com/javajoker/export-registry/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		// Surface unique violations as gorm.ErrDuplicatedKey
		TranslateError: true,
		Logger:         logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"host":     cfg.Host,
		"database": cfg.Database,
	}).Info("Database connection established")
	return db, nil
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return logger.Info
	case "warn":
		return logger.Warn
	case "error":
		return logger.Error
	default:
		return logger.Silent
	}
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed")
	}
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error; err != nil {
		return fmt.Errorf("failed to create pgcrypto extension: %w", err)
	}

	err := db.AutoMigrate(
		&models.Account{},
		&models.ExporterProfile{},
		&models.ProductDeclaration{},
		&models.RegistrationCase{},
		&models.CaseHistoryEntry{},
		&models.Document{},
		&models.InfoRequest{},
		&models.Notification{},
		&models.AuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	createIndexes(db)

	logrus.Info("Database migrations completed")
	return nil
}

func createIndexes(db *gorm.DB) {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_cases_status_created ON registration_cases(status, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_cases_agent_status ON registration_cases(assigned_agent_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_cases_unassigned ON registration_cases(status) WHERE assigned_agent_id IS NULL",
		"CREATE INDEX IF NOT EXISTS idx_cases_applicant_status ON registration_cases(applicant_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_history_case_created ON case_history_entries(case_id, created_at DESC, id DESC)",
		"CREATE INDEX IF NOT EXISTS idx_documents_case_product_type ON documents(case_id, product_id, document_type)",
		"CREATE INDEX IF NOT EXISTS idx_info_requests_open ON info_requests(case_id) WHERE resolved_at IS NULL",
		"CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(recipient_id, created_at DESC) WHERE read_at IS NULL",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_action ON audit_logs(actor_id, action)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id)",
		// History rows are immutable: reject UPDATE and DELETE at the database level too.
		`CREATE OR REPLACE RULE case_history_no_update AS ON UPDATE TO case_history_entries DO INSTEAD NOTHING`,
		`CREATE OR REPLACE RULE case_history_no_delete AS ON DELETE TO case_history_entries DO INSTEAD NOTHING`,
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			// Continue with other indexes instead of failing completely
			logrus.WithError(err).WithField("statement", index).Warn("Failed to create index")
		}
	}
}

// SeedInitialData creates the bootstrap admin account when none exists.
func SeedInitialData(db *gorm.DB, cfg config.AdminSeedConfig) error {
	if cfg.Password == "" {
		logrus.Info("ADMIN_PASSWORD not set, skipping admin seed")
		return nil
	}

	var adminCount int64
	if err := db.Model(&models.Account{}).Where("role = ?", models.RoleAdmin).Count(&adminCount).Error; err != nil {
		return fmt.Errorf("failed to count admins: %w", err)
	}
	if adminCount > 0 {
		return nil
	}

	admin := &models.Account{
		Email:       strings.ToLower(cfg.Email),
		DisplayName: "System Administrator",
		Role:        models.RoleAdmin,
		Status:      models.AccountStatusActive,
	}
	if err := admin.SetPassword(cfg.Password); err != nil {
		return fmt.Errorf("failed to set admin password: %w", err)
	}
	if err := db.Create(admin).Error; err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	logrus.WithField("email", admin.Email).Info("Default admin account created")
	return nil
}

// Transaction helper
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback().Error; rbErr != nil && !errors.Is(rbErr, gorm.ErrInvalidTransaction) {
			logrus.WithError(rbErr).Error("Rollback failed")
		}
		return err
	}

	return tx.Commit().Error
}
