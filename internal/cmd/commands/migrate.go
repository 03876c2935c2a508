package commands

import (
	"flag"
	"fmt"
	"strings"

	"github.com/cartulary/cartulary/internal/migrate"
)

// MigrateCommand applies the embedded schema migrations.
type MigrateCommand struct {
	base *base

	flagDown    bool
	flagVersion bool
}

func (c *MigrateCommand) Synopsis() string {
	return "Apply database schema migrations"
}

func (c *MigrateCommand) Help() string {
	return strings.TrimSpace(`
Usage: cartulary migrate [options]

  Applies all pending schema migrations to the configured PostgreSQL
  database, including the pgvector extension and the vector index.

Options:

  -down     Roll back the most recent migration instead.
  -version  Print the current migration version and exit.
`)
}

func (c *MigrateCommand) Run(args []string) int {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	flags.BoolVar(&c.flagDown, "down", false, "roll back one migration")
	flags.BoolVar(&c.flagVersion, "version", false, "print current version")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	cfg, err := c.base.loadConfig()
	if err != nil {
		return 1
	}
	db, err := c.base.openDatabase(cfg)
	if err != nil {
		return 1
	}
	sqlDB, err := db.DB()
	if err != nil {
		c.base.ui.Error("Failed to access database handle: " + err.Error())
		return 1
	}

	switch {
	case c.flagVersion:
		version, dirty, err := migrate.Version(sqlDB)
		if err != nil {
			c.base.ui.Error("Failed to read migration version: " + err.Error())
			return 1
		}
		c.base.ui.Output(fmt.Sprintf("version=%d dirty=%v", version, dirty))
	case c.flagDown:
		if err := migrate.Rollback(sqlDB); err != nil {
			c.base.ui.Error("Rollback failed: " + err.Error())
			return 1
		}
		c.base.ui.Output("Rolled back one migration")
	default:
		if err := migrate.RunMigrations(sqlDB); err != nil {
			c.base.ui.Error("Migration failed: " + err.Error())
			return 1
		}
		c.base.ui.Output("Migrations applied")
	}
	return 0
}
