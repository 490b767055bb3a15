// Package mssql implements the ingestion destination for SQL Server.
//
// SQL Server's OUTPUT clause does not guarantee row order, so the lead
// insert runs as a MERGE whose OUTPUT carries each row's ordinal alongside
// the generated id; the client reorders by that ordinal.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"

	"ingest/internal/storage"
)

// Loader implements storage.Loader for SQL Server.
//
// Source-name uniqueness relies on the default case-insensitive collation;
// the unique index on sources(name) already folds case.
type Loader struct {
	db *sql.DB
}

// New opens a SQL Server connection pool.
func New(ctx context.Context, cfg storage.Config) (storage.Loader, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
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
		var n int
		err := s.tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_NAME = @p1`, t).Scan(&n)
		if err != nil {
			return fmt.Errorf("mssql: verify table %s: %w", t, err)
		}
		if n == 0 {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("mssql: missing required tables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *session) InsertSource(ctx context.Context, name, notes string) (int64, error) {
	var id int64
	err := s.tx.QueryRowContext(ctx,
		`INSERT INTO sources (name, notes) OUTPUT INSERTED.id VALUES (@p1, @p2)`,
		name, notes).Scan(&id)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: %v", storage.ErrSourceExists, err)
	}
	if err != nil {
		return 0, fmt.Errorf("mssql: insert source: %w", err)
	}
	return id, nil
}

func (s *session) FindSource(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.tx.QueryRowContext(ctx,
		`SELECT id FROM sources WHERE UPPER(name) = UPPER(@p1)`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("mssql: find source: %w", err)
	}
	return id, true, nil
}

func (s *session) InsertLeads(ctx context.Context, columns []string, rows [][]any, sourceID int64) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	query, args := buildLeadMergeSQL("leads", columns, rows, sourceID)
	sqlRows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mssql: insert leads: %w", err)
	}
	defer sqlRows.Close()

	ids := make([]int64, len(rows))
	seen := 0
	for sqlRows.Next() {
		var rn int
		var id int64
		if err := sqlRows.Scan(&rn, &id); err != nil {
			return nil, fmt.Errorf("mssql: scan lead id: %w", err)
		}
		if rn < 0 || rn >= len(rows) {
			return nil, fmt.Errorf("mssql: lead ordinal %d out of range", rn)
		}
		ids[rn] = id
		seen++
	}
	if err := sqlRows.Err(); err != nil {
		return nil, fmt.Errorf("mssql: insert leads: %w", err)
	}
	if seen != len(rows) {
		return nil, fmt.Errorf("mssql: insert leads returned %d ids for %d rows", seen, len(rows))
	}
	return ids, nil
}

func (s *session) InsertOwners(ctx context.Context, columns []string, rows [][]any, leadIDs []int64) error {
	if len(rows) == 0 {
		return nil
	}
	if len(rows) != len(leadIDs) {
		return fmt.Errorf("mssql: %d owner rows for %d lead ids", len(rows), len(leadIDs))
	}

	query, args := buildOwnerInsertSQL("owners", columns, rows, leadIDs)
	if _, err := s.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mssql: insert owners: %w", err)
	}
	return nil
}

func (s *session) InsertAppendix(ctx context.Context, table string, rows []storage.AppendixRow) error {
	if len(rows) == 0 {
		return nil
	}

	query, args := buildAppendixInsertSQL(table, rows)
	if _, err := s.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mssql: insert appendix: %w", err)
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

func isUniqueViolation(err error) bool {
	var me mssqldb.Error
	if errors.As(err, &me) {
		return me.Number == 2601 || me.Number == 2627
	}
	return false
}

// buildLeadMergeSQL constructs the ordered-return bulk insert.
//
// The MERGE's ON 1 = 0 never matches, so every source row inserts, and the
// OUTPUT clause can reference src.[rn] next to INSERTED.[id]. Pure, unit
// tested without a database.
func buildLeadMergeSQL(table string, columns []string, rows [][]any, sourceID int64) (string, []any) {
	var b strings.Builder
	b.WriteString("MERGE INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" USING (VALUES ")

	args := make([]any, 0, len(rows)*(len(columns)+1))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		fmt.Fprintf(&b, ", @p%d, %d)", p, i)
		args = append(args, sourceID)
		p++
	}

	b.WriteString(") AS src (")
	for _, c := range columns {
		b.WriteString(mssqlIdent(c))
		b.WriteString(", ")
	}
	b.WriteString("[source_id], [rn]) ON 1 = 0 WHEN NOT MATCHED THEN INSERT (")
	for _, c := range columns {
		b.WriteString(mssqlIdent(c))
		b.WriteString(", ")
	}
	b.WriteString("[source_id]) VALUES (")
	for _, c := range columns {
		b.WriteString("src.")
		b.WriteString(mssqlIdent(c))
		b.WriteString(", ")
	}
	b.WriteString("src.[source_id]) OUTPUT src.[rn], INSERTED.[id];")

	return b.String(), args
}

func buildOwnerInsertSQL(table string, columns []string, rows [][]any, leadIDs []int64) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" ([lead_id]")
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*(len(columns)+1))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "(@p%d", p)
		args = append(args, leadIDs[i])
		p++
		for j := range columns {
			fmt.Fprintf(&b, ", @p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	b.WriteString(";")
	return b.String(), args
}

func buildAppendixInsertSQL(table string, rows []storage.AppendixRow) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" ([lead_id], [source_id], [upload_tag], [original_row_number], [column_name], [value]) VALUES ")

	args := make([]any, 0, len(rows)*6)
	p := 1
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "(@p%d, @p%d, @p%d, @p%d, @p%d, @p%d)", p, p+1, p+2, p+3, p+4, p+5)
		args = append(args, r.LeadID, r.SourceID, r.UploadTag, r.RowNumber, r.Column, r.Value)
		p += 6
	}
	b.WriteString(";")
	return b.String(), args
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified
// names, e.g. "dbo.leads" -> [dbo].[leads].
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
