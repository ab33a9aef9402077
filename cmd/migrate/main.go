package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/joho/godotenv/autoload"

	"jetlumiere/internal/config"
	"jetlumiere/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("pgx", cfg.Postgres.DSN())
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	migrationsPath := getEnv("MIGRATIONS_PATH", "./migrations")

	switch command {
	case "up":
		if err := store.RunMigrations(db, migrationsPath); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		log.Println("migrations applied")

	case "down":
		if err := store.RollbackMigration(db, migrationsPath); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("last migration rolled back")

	case "version":
		version, dirty, err := store.MigrationVersion(db, migrationsPath)
		if err != nil {
			log.Fatalf("read version: %v", err)
		}
		if dirty {
			log.Printf("schema version %d, dirty: fix manually before migrating", version)
		} else {
			log.Printf("schema version %d", version)
		}

	case "create":
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate create <name>")
		}
		createMigration(migrationsPath, os.Args[2])

	default:
		log.Printf("unknown command %q", command)
		printUsage()
		os.Exit(1)
	}
}

// createMigration writes an empty up/down pair numbered after the highest
// existing version in the migrations directory.
func createMigration(dir, name string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Fatalf("read %s: %v", dir, err)
	}

	next := 1
	for _, e := range entries {
		var v int
		if _, err := fmt.Sscanf(e.Name(), "%d_", &v); err == nil && v >= next {
			next = v + 1
		}
	}

	for _, suffix := range []string{"up", "down"} {
		path := filepath.Join(dir, fmt.Sprintf("%06d_%s.%s.sql", next, name, suffix))
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			log.Fatalf("write %s: %v", path, err)
		}
		log.Printf("created %s", path)
	}
}

func printUsage() {
	fmt.Println(`usage: migrate <command>

commands:
  up              apply all pending migrations
  down            roll back the most recent migration
  version         print the current schema version
  create <name>   write an empty up/down migration pair

The database connection comes from DB_HOST, DB_PORT, DB_DATABASE,
DB_USERNAME and DB_PASSWORD (a .env file is honored). MIGRATIONS_PATH
overrides the default ./migrations directory.`)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
