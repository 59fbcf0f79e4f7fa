package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sync"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// gooseLogger routes goose output through zap.
type gooseLogger struct {
	s *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...interface{}) { l.s.Infof(format, v...) }
func (l gooseLogger) Fatalf(format string, v ...interface{}) { l.s.Fatalf(format, v...) }

func gooseDialect(driver string) (string, string, error) {
	switch driver {
	case DriverPostgres, "":
		return "postgres", path.Join("migrations", DriverPostgres), nil
	case DriverSQLite:
		return "sqlite3", path.Join("migrations", DriverSQLite), nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func prepareGoose(driver string, logger *zap.SugaredLogger) (string, error) {
	dialect, dir, err := gooseDialect(driver)
	if err != nil {
		return "", err
	}
	goose.SetBaseFS(migrations)
	if logger != nil {
		goose.SetLogger(gooseLogger{s: logger})
	} else {
		goose.SetLogger(goose.NopLogger())
	}
	if err := goose.SetDialect(dialect); err != nil {
		return "", fmt.Errorf("goose dialect: %w", err)
	}
	return dir, nil
}

// Migrate applies all embedded migrations for the given driver.
func Migrate(ctx context.Context, db *sql.DB, driver string, logger *zap.SugaredLogger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	dir, err := prepareGoose(driver, logger)
	if err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrationVersion returns the current schema version.
func MigrationVersion(ctx context.Context, db *sql.DB, driver string) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if _, err := prepareGoose(driver, nil); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}

// Rollback reverts the most recent migration.
func Rollback(ctx context.Context, db *sql.DB, driver string, logger *zap.SugaredLogger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	dir, err := prepareGoose(driver, logger)
	if err != nil {
		return err
	}
	return goose.DownContext(ctx, db, dir)
}
