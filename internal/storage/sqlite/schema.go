package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ingest/internal/schema"
)

// InitSchema creates the destination tables in the SQLite database at dsn
// when they do not already exist, with lead and owner columns taken from the
// catalog. This is the legacy local-run convenience; server backends get
// their schema from migrations instead.
func InitSchema(ctx context.Context, dsn string, cat *schema.Catalog) error {
	stmts, err := SchemaDDL(cat)
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init schema: %w", err)
		}
	}
	return nil
}

// SchemaDDL builds CREATE TABLE IF NOT EXISTS statements for the catalog's
// entities. Every value column is TEXT.
func SchemaDDL(cat *schema.Catalog) ([]string, error) {
	leadCols, err := entityColumns(cat, "lead")
	if err != nil {
		return nil, err
	}
	ownerCols, err := entityColumns(cat, "owner")
	if err != nil {
		return nil, err
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	notes TEXT,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_sources_name ON sources (name COLLATE NOCASE)`,
		createEntityTable("leads", leadCols, "source_id INTEGER NOT NULL REFERENCES sources (id)"),
		createEntityTable("owners", ownerCols, "lead_id INTEGER NOT NULL REFERENCES leads (id)"),
		`CREATE TABLE IF NOT EXISTS ` + sqlIdent(cat.AppendixTableName()) + ` (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	lead_id INTEGER NOT NULL REFERENCES leads (id),
	source_id INTEGER NOT NULL REFERENCES sources (id),
	upload_tag TEXT,
	original_row_number INTEGER,
	column_name TEXT NOT NULL,
	value TEXT
)`,
	}
	return stmts, nil
}

// entityColumns lists an entity's value columns, skipping the
// system-generated fields the table definition supplies itself.
func entityColumns(cat *schema.Catalog, entity string) ([]string, error) {
	fields, err := cat.Fields(entity)
	if err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		if cat.IsSystemGenerated(entity, f) {
			continue
		}
		cols = append(cols, f)
	}
	return cols, nil
}

func createEntityTable(table string, columns []string, fkColumn string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (\n\tid INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, c := range columns {
		b.WriteString(",\n\t")
		b.WriteString(sqlIdent(c))
		b.WriteString(" TEXT")
	}
	b.WriteString(",\n\t")
	b.WriteString(fkColumn)
	b.WriteString(",\n\tcreated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP\n)")
	return b.String()
}
