package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/pulsetrack/scraper-go/pkg/config"
)

// SetupDatabase initializes the database connection and runs migrations.
func SetupDatabase(cfg *config.Config, logger *logrus.Logger) (*gorm.DB, error) {
	logger.Debug("Starting database setup")

	projectRoot, err := findProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}

	if err := RunMigrations(logger, projectRoot, cfg.DatabaseURL()); err != nil {
		return nil, err
	}

	logger.Debug("Establishing GORM database connection")

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN()), &gorm.Config{
		Logger: NewGormLogrusLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Safety net behind the SQL migrations for additive schema drift.
	if err := db.AutoMigrate(&Job{}, &Task{}, &SocialLink{}, &EngagementSnapshot{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database schema: %w", err)
	}

	logger.Info("Database setup completed successfully")
	return db, nil
}

// findProjectRoot looks for go.mod file to determine project root
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root (go.mod)")
		}
		dir = parent
	}
}
