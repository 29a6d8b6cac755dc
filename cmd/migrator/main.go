// Package main provides the database migration CLI for satq. Migrations are
// embedded in the binary for zero-config deployment.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/satq-io/satq/internal/storage"
	"github.com/satq-io/satq/migrations"
)

const name = "satq-migrator"

func main() {
	showHelp := flag.Bool("help", false, "show help information")
	flag.Parse()

	if *showHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	command := flag.Arg(0)

	cfg := storage.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid database configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	defer func() {
		_ = db.Close()
	}()

	if err := executeCommand(command, db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

func executeCommand(command string, db *sql.DB) error {
	switch command {
	case "up":
		if err := migrations.Up(db); err != nil {
			return err
		}

		fmt.Println("Migrations applied.")

		return nil
	case "down":
		if err := migrations.StepDown(db); err != nil {
			return err
		}

		fmt.Println("Last migration rolled back.")

		return nil
	case "version":
		version, dirty, err := migrations.Version(db)
		if err != nil {
			return err
		}

		if version == 0 && !dirty {
			fmt.Println("No migrations applied yet.")

			return nil
		}

		fmt.Printf("Current version: %d (dirty: %t)\n", version, dirty)

		return nil
	default:
		printUsage()

		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage() {
	fmt.Printf(`%s - database migration tool

Usage:
  migrator <command>

Commands:
  up        Apply all pending migrations
  down      Roll back the last migration
  version   Show the current migration version

Configuration is read from the DB_* environment variables.
`, name)
}
