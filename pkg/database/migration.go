package database

import (
	"fmt"
	"os"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

type migrationLogger struct {
	ectologger.Logger
}

func (l migrationLogger) Verbose() bool {
	return true
}

func (l migrationLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}

// MigrationConfig controls schema migration behavior at startup
type MigrationConfig struct {
	FolderPath   string
	Version      uint
	Force        int
	AutoRollback bool
}

// MigrationService applies SQL migrations from the configured folder
type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

func (ms *MigrationService) resolveMigrationFolder() string {
	folder := ms.config.FolderPath
	if _, err := os.Stat(folder); err == nil {
		return folder
	}
	workingDirectory, _ := os.Getwd()
	separator := ""
	if workingDirectory != "/" {
		separator = "/"
	}
	return workingDirectory + separator + folder
}

// Migrate brings the database schema up to the configured version
func (ms *MigrationService) Migrate(databaseName string, db DB) error {
	folder := ms.resolveMigrationFolder()
	if _, err := os.Stat(folder); err != nil {
		return errors.Wrap(err, fmt.Sprintf("migration folder %s does not exist", folder))
	}

	driver, err := postgres.WithInstance(db.Unsafe().DB, &postgres.Config{})
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migration driver")
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}

	m.Log = migrationLogger{Logger: ms.logger}

	return ms.runMigration(m)
}

func (ms *MigrationService) runMigration(m *migrate.Migrate) error {
	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	previousVersion, _, versionErr := m.Version()
	if versionErr != nil && versionErr != migrate.ErrNilVersion {
		ms.logger.WithError(versionErr).Error("Failed to get current migration version")
	}

	var err error
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}

	if err == migrate.ErrNoChange {
		ms.logger.Info("Database schema is up to date")
		return nil
	}

	if err != nil {
		ms.logger.WithError(err).Error("Migration failed")
		if ms.config.AutoRollback && versionErr == nil {
			ms.logger.Infof("Rolling database back to version %d", previousVersion)
			if rbErr := m.Migrate(previousVersion); rbErr != nil && rbErr != migrate.ErrNoChange {
				ms.logger.WithError(rbErr).Error("Rollback failed")
			}
		}
		return err
	}

	version, _, _ := m.Version()
	ms.logger.Infof("Database migrated to version %d", version)
	return nil
}
