// Command migrate applies the embedded schema migrations.
//
// The connection string comes from -dsn, then ARBOR_DB_DSN, then the same
// ARBOR_DB_* variables the server reads (a .env file is honored).
package main

import (
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/joho/godotenv"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/JaimeStill/arbor/pkg/database"
)

//go:embed migrations/*.sql
var migrations embed.FS

const envDSN = "ARBOR_DB_DSN"

var databaseEnv = &database.Env{
	Host:     "ARBOR_DB_HOST",
	Port:     "ARBOR_DB_PORT",
	Name:     "ARBOR_DB_NAME",
	User:     "ARBOR_DB_USER",
	Password: "ARBOR_DB_PASSWORD",
	SSLMode:  "ARBOR_DB_SSL_MODE",
}

// resolveDSN builds a connection string from the environment, defaulting
// database and user to arbor.
func resolveDSN() (string, error) {
	if v := os.Getenv(envDSN); v != "" {
		return v, nil
	}

	cfg := database.Config{Name: "arbor", User: "arbor", ApplicationName: "arbor-migrate"}
	if err := cfg.Finalize(databaseEnv); err != nil {
		return "", fmt.Errorf("database config: %w", err)
	}
	return cfg.Dsn(), nil
}

func main() {
	var (
		dsn     = flag.String("dsn", "", "Database connection string")
		up      = flag.Bool("up", false, "Run all up migrations")
		down    = flag.Bool("down", false, "Run all down migrations")
		steps   = flag.Int("steps", 0, "Number of migrations (positive=up, negative=down)")
		version = flag.Bool("version", false, "Print current migration version")
		force   = flag.Int("force", -1, "Force set version (use with caution)")
	)
	flag.Parse()

	forceSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "force" {
			forceSet = true
		}
	})

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to load .env: %v", err)
	}

	if *dsn == "" {
		resolved, err := resolveDSN()
		if err != nil {
			log.Fatalf("failed to resolve dsn: %v", err)
		}
		*dsn = resolved
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		log.Fatalf("failed to create migration source: %v", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, *dsn)
	if err != nil {
		log.Fatalf("failed to create migrator: %v", err)
	}
	defer m.Close()

	switch {
	case *version:
		v, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("failed to get version: %v", err)
		}
		fmt.Printf("version: %d, dirty: %v\n", v, dirty)
	case forceSet:
		if err := m.Force(*force); err != nil {
			log.Fatalf("failed to force version: %v", err)
		}
		fmt.Printf("forced to version %d\n", *force)
	case *up:
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("failed to run up migrations: %v", err)
		}
		fmt.Println("migrations applied successfully")
	case *down:
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("failed to run down migrations: %v", err)
		}
		fmt.Println("migrations reverted successfully")
	case *steps != 0:
		if err := m.Steps(*steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatalf("failed to run migrations: %v", err)
		}
		fmt.Printf("applied %d migration steps\n", *steps)
	default:
		fmt.Println("usage: migrate -dsn <connection-string> [-up|-down|-steps N|-version|-force N]")
		flag.PrintDefaults()
	}
}
