package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BaSui01/flowforge/config"
	"github.com/BaSui01/flowforge/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		withMigrator(subargs, func(mg *migration.Migrator) error {
			return mg.Up()
		})
	case "down":
		withMigrator(subargs, func(mg *migration.Migrator) error {
			return mg.Down()
		})
	case "version":
		withMigrator(subargs, func(mg *migration.Migrator) error {
			version, dirty, err := mg.Version()
			if err != nil {
				return err
			}
			fmt.Printf("version: %d dirty: %v\n", version, dirty)
			return nil
		})
	case "goto":
		runMigrateToVersion(subargs, func(mg *migration.Migrator, v uint64) error {
			return mg.Goto(uint(v))
		})
	case "force":
		runMigrateToVersion(subargs, func(mg *migration.Migrator, v uint64) error {
			return mg.Force(int(v))
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  flowforge migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration
  version   Show current migration version
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  help      Show this help message

Options:
  --config <path>   Path to configuration file (YAML)

Examples:
  flowforge migrate up
  flowforge migrate up --config /etc/flowforge/config.yaml
  flowforge migrate down
  flowforge migrate goto 1
  flowforge migrate force 0`)
}

// withMigrator builds a migrator from flags, runs fn, and cleans up.
func withMigrator(args []string, fn func(*migration.Migrator) error) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	dbType, err := migration.ParseDatabaseType(cfg.Database.Driver)
	if err != nil {
		// SQLite is development-only and migrates through AutoMigrate.
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect database: %v\n", err)
		os.Exit(1)
	}
	sqlDB, err := db.DB()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to access database: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	mg, err := migration.New(sqlDB, dbType, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer mg.Close()

	if err := fn(mg); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

func runMigrateToVersion(args []string, fn func(*migration.Migrator, uint64) error) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: flowforge migrate goto|force <version>\n")
		os.Exit(1)
	}
	version, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}
	withMigrator(args[1:], func(mg *migration.Migrator) error {
		return fn(mg, version)
	})
}
