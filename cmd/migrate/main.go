// Command migrate applies the schema to the configured database.
//
// Usage:
//
//	go run cmd/migrate/main.go up       # Apply the schema (default)
//	go run cmd/migrate/main.go status   # Check connectivity and show counts
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"clowdy/internal/config"
	"clowdy/internal/db"
	"clowdy/pkg/models"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			if err := godotenv.Load("../../.env"); err != nil {
				log.Println("No .env file found, using environment variables")
			}
		}
	}

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	store, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	defer store.Close()

	switch command {
	case "up":
		if err := store.Migrate(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Printf("Schema applied: %d tables", len(models.AllModels()))
	case "status":
		if err := store.Health(); err != nil {
			log.Fatalf("Database unreachable: %v", err)
		}
		showCounts(store)
	case "help":
		printUsage()
	default:
		log.Printf("Unknown command: %s", command)
		printUsage()
		os.Exit(1)
	}
}

func showCounts(store *db.Database) {
	tables := []string{"projects", "functions", "env_vars", "routes", "invocations"}
	for _, table := range tables {
		var n int64
		if err := store.DB.Table(table).Count(&n).Error; err != nil {
			log.Printf("%-12s (not migrated)", table)
			continue
		}
		log.Printf("%-12s %d rows", table, n)
	}
}

func printUsage() {
	fmt.Print(`
Database migration tool

Usage:
  migrate <command>

Commands:
  up        Apply the schema to the configured database (default)
  status    Check connectivity and show per-table row counts
  help      Show this help message

Environment Variables:
  DATABASE_URL    Postgres DSN or sqlite file path (default: clowdy.db)
`)
}
