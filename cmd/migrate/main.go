// Command migrate applies the destination schema migrations for the ingest
// pipeline. The hardened ingest path never creates tables itself; run this
// first against a fresh database.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"
)

func main() {
	var (
		storageKind string
		dbURL       string
		command     string
	)

	flag.StringVar(&storageKind, "storage", "postgres", "storage backend (postgres, sqlite, mssql)")
	flag.StringVar(&dbURL, "db-url", "", "database connection string (falls back to DATABASE_URL)")
	flag.StringVar(&command, "command", "up", "goose command (up, down, status, version)")
	flag.Parse()

	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		fatalf("-db-url (or DATABASE_URL) is required")
	}

	db, dir, err := open(storageKind, dbURL)
	if err != nil {
		fatalf("%v", err)
	}
	defer db.Close()

	if err := migrate(db, storageKind, dir, command); err != nil {
		log.Fatalf("migrate: %v", err)
	}
}

// migrate runs one goose command against the dialect's migration directory.
func migrate(db *sql.DB, storageKind, dir, command string) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(storageKind); err != nil {
		return err
	}

	switch command {
	case "up":
		return goose.Up(db, dir)
	case "down":
		return goose.Down(db, dir)
	case "status":
		return goose.Status(db, dir)
	case "version":
		v, err := goose.GetDBVersion(db)
		if err != nil {
			return err
		}
		log.Printf("version: %d", v)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// open connects with the matching database/sql driver and resolves the
// dialect's migration directory.
func open(storageKind, dbURL string) (*sql.DB, string, error) {
	var driver string
	switch storageKind {
	case "postgres":
		driver = "pgx"
	case "sqlite":
		driver = "sqlite"
	case "mssql":
		driver = "sqlserver"
	default:
		return nil, "", fmt.Errorf("unsupported storage %q", storageKind)
	}

	db, err := sql.Open(driver, dbURL)
	if err != nil {
		return nil, "", err
	}
	return db, "migrations/" + storageKind, nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
