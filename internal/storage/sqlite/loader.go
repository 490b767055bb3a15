// Package sqlite implements the ingestion destination over a local SQLite
// database file. Useful for local runs and tests; the ordered-id guarantee
// is met with per-row inserts inside the shared transaction, since SQLite
// has no multi-row RETURNING path worth the complexity at this scale.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"ingest/internal/storage"
)

// Loader implements storage.Loader for SQLite.
//
// Source-name uniqueness is case-insensitive via a unique index on name
// with COLLATE NOCASE.
type Loader struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Loader, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// Single writer: the whole ingestion is one transaction anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Loader{db: db}, nil
}

func (l *Loader) Close() {
	_ = l.db.Close()
}

func (l *Loader) Begin(ctx context.Context) (storage.Session, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &session{tx: tx}, nil
}

type session struct {
	tx   *sql.Tx
	done bool
}

func (s *session) VerifyTables(ctx context.Context, tables []string) error {
	var missing []string
	for _, t := range tables {
		var name string
		err := s.tx.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, t).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, t)
			continue
		}
		if err != nil {
			return fmt.Errorf("sqlite: verify table %s: %w", t, err)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("sqlite: missing required tables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *session) InsertSource(ctx context.Context, name, notes string) (int64, error) {
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO sources (name, notes) VALUES (?, ?)`, name, notes)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, fmt.Errorf("%w: %v", storage.ErrSourceExists, err)
		}
		return 0, fmt.Errorf("sqlite: insert source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: source id: %w", err)
	}
	return id, nil
}

func (s *session) FindSource(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.tx.QueryRowContext(ctx,
		`SELECT id FROM sources WHERE name = ? COLLATE NOCASE`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: find source: %w", err)
	}
	return id, true, nil
}

// InsertLeads inserts row by row and collects LastInsertId values, which
// trivially preserves submission order.
func (s *session) InsertLeads(ctx context.Context, columns []string, rows [][]any, sourceID int64) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	query := buildLeadInsertSQL("leads", columns)
	stmt, err := s.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: prepare leads: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		args := make([]any, 0, len(columns)+1)
		args = append(args, row...)
		args = append(args, sourceID)
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return nil, fmt.Errorf("sqlite: insert lead: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("sqlite: lead id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *session) InsertOwners(ctx context.Context, columns []string, rows [][]any, leadIDs []int64) error {
	if len(rows) == 0 {
		return nil
	}
	if len(rows) != len(leadIDs) {
		return fmt.Errorf("sqlite: %d owner rows for %d lead ids", len(rows), len(leadIDs))
	}

	stmt, err := s.tx.PrepareContext(ctx, buildOwnerInsertSQL("owners", columns))
	if err != nil {
		return fmt.Errorf("sqlite: prepare owners: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		args := make([]any, 0, len(columns)+1)
		args = append(args, leadIDs[i])
		args = append(args, row...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("sqlite: insert owner: %w", err)
		}
	}
	return nil
}

func (s *session) InsertAppendix(ctx context.Context, table string, rows []storage.AppendixRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := "INSERT INTO " + sqlIdent(table) +
		" (lead_id, source_id, upload_tag, original_row_number, column_name, value) VALUES (?, ?, ?, ?, ?, ?)"
	stmt, err := s.tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("sqlite: prepare appendix: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.LeadID, r.SourceID, r.UploadTag, r.RowNumber, r.Column, r.Value); err != nil {
			return fmt.Errorf("sqlite: insert appendix: %w", err)
		}
	}
	return nil
}

func (s *session) Commit(ctx context.Context) error {
	s.done = true
	return s.tx.Commit()
}

func (s *session) Rollback(ctx context.Context) error {
	if s.done {
		return nil
	}
	err := s.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func buildLeadInsertSQL(table string, columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for _, c := range columns {
		b.WriteString(sqlIdent(c))
		b.WriteString(", ")
	}
	b.WriteString("source_id) VALUES (")
	b.WriteString(strings.Repeat("?, ", len(columns)))
	b.WriteString("?)")
	return b.String()
}

func buildOwnerInsertSQL(table string, columns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (lead_id")
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES (?")
	b.WriteString(strings.Repeat(", ?", len(columns)))
	b.WriteString(")")
	return b.String()
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
