package internal

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// RunMigrations applies the draft schema. driver is the DRAFT_DRIVER value.
func RunMigrations(db *sql.DB, driver string) error {
	goose.SetBaseFS(migrations)

	dialect := "postgres"
	switch driver {
	case "sqlite":
		dialect = "sqlite3"
	case "postgres":
	default:
		return fmt.Errorf("unsupported draft driver: %s", driver)
	}

	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	return goose.Up(db, "migrations")
}
