package database

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"wootsync/platform/logger"
)

//go:embed migrations
var migrationsFS embed.FS

// Migration is a single versioned schema change.
type Migration struct {
	AppliedAt *time.Time
	Name      string
	UpSQL     string
	DownSQL   string
	Version   int
}

// Migrator applies embedded SQL migrations in version order.
type Migrator struct {
	db     *Database
	logger *logger.Logger
}

func NewMigrator(db *Database, logger *logger.Logger) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger,
	}
}

// RunMigrations applies all pending migrations.
func (m *Migrator) RunMigrations() error {
	m.logger.Info("Starting database migrations...")

	if err := m.createMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.getAppliedVersions()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	pendingCount := 0
	for _, migration := range migrations {
		if _, ok := applied[migration.Version]; ok {
			continue
		}
		if err := m.executeMigration(migration); err != nil {
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
		pendingCount++
	}

	if pendingCount > 0 {
		m.logger.InfoWithFields("Database migrations completed", map[string]interface{}{
			"migrations_applied": pendingCount,
			"total_migrations":   len(migrations),
		})
	} else {
		m.logger.Info("Database is up to date, no migrations needed")
	}

	return nil
}

func (m *Migrator) createMigrationsTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS "wsMigrations" (
			"version" INTEGER PRIMARY KEY,
			"name" VARCHAR(255) NOT NULL,
			"appliedAt" TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
	`
	if _, err := m.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) loadMigrations() ([]*Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		version, base, direction, err := parseMigrationFilename(name)
		if err != nil {
			return nil, err
		}

		content, err := fs.ReadFile(migrationsFS, "migrations/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		migration, ok := byVersion[version]
		if !ok {
			migration = &Migration{Version: version, Name: base}
			byVersion[version] = migration
		}
		if direction == "up" {
			migration.UpSQL = string(content)
		} else {
			migration.DownSQL = string(content)
		}
	}

	migrations := make([]*Migration, 0, len(byVersion))
	for _, migration := range byVersion {
		migrations = append(migrations, migration)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// parseMigrationFilename parses "000001_create_tables.up.sql" style names.
func parseMigrationFilename(name string) (version int, base, direction string, err error) {
	trimmed := strings.TrimSuffix(name, ".sql")
	switch {
	case strings.HasSuffix(trimmed, ".up"):
		direction = "up"
		trimmed = strings.TrimSuffix(trimmed, ".up")
	case strings.HasSuffix(trimmed, ".down"):
		direction = "down"
		trimmed = strings.TrimSuffix(trimmed, ".down")
	default:
		return 0, "", "", fmt.Errorf("migration %s missing .up/.down suffix", name)
	}

	parts := strings.SplitN(trimmed, "_", 2)
	if len(parts) != 2 {
		return 0, "", "", fmt.Errorf("migration %s has invalid name format", name)
	}

	version, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", "", fmt.Errorf("migration %s has invalid version: %w", name, err)
	}

	return version, parts[1], direction, nil
}

func (m *Migrator) getAppliedVersions() (map[int]struct{}, error) {
	rows, err := m.db.Query(`SELECT "version" FROM "wsMigrations"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]struct{})
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = struct{}{}
	}
	return applied, rows.Err()
}

func (m *Migrator) executeMigration(migration *Migration) error {
	m.logger.InfoWithFields("Applying migration", map[string]interface{}{
		"version": migration.Version,
		"name":    migration.Name,
	})

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}

	if _, err := tx.Exec(migration.UpSQL); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			m.logger.ErrorWithFields("Failed to rollback migration", map[string]interface{}{
				"version": migration.Version,
				"error":   rollbackErr.Error(),
			})
		}
		return fmt.Errorf("migration SQL failed: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO "wsMigrations" ("version", "name") VALUES ($1, $2)`, migration.Version, migration.Name); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			m.logger.ErrorWithFields("Failed to rollback migration record", map[string]interface{}{
				"version": migration.Version,
				"error":   rollbackErr.Error(),
			})
		}
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}
