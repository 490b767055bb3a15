package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingest/internal/storage"
)

// Loader implements storage.Loader for Postgres over a pgx pool.
//
// Source-name uniqueness is case-insensitive via a functional unique index
// on upper(name); InsertSource folds conflicts on that index into
// storage.ErrSourceExists without aborting the surrounding transaction.
type Loader struct {
	pool *pgxpool.Pool
}

// New opens a Postgres-backed loader.
func New(ctx context.Context, cfg storage.Config) (storage.Loader, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Loader{pool: pool}, nil
}

// Close closes the connection pool.
func (l *Loader) Close() {
	l.pool.Close()
}

// Begin opens the ingestion transaction.
func (l *Loader) Begin(ctx context.Context) (storage.Session, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &session{tx: tx}, nil
}

type session struct {
	tx   pgx.Tx
	done bool
}

func (s *session) VerifyTables(ctx context.Context, tables []string) error {
	var missing []string
	for _, t := range tables {
		var ok bool
		err := s.tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1)`,
			t).Scan(&ok)
		if err != nil {
			return fmt.Errorf("postgres: verify table %s: %w", t, err)
		}
		if !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("postgres: missing required tables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// InsertSource inserts via ON CONFLICT DO NOTHING against the upper(name)
// unique index so a conflict returns no row instead of poisoning the
// transaction.
func (s *session) InsertSource(ctx context.Context, name, notes string) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx,
		`INSERT INTO sources (name, notes) VALUES ($1, $2)
		 ON CONFLICT ((upper(name))) DO NOTHING
		 RETURNING id`,
		name, notes).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, storage.ErrSourceExists
	}
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: %v", storage.ErrSourceExists, err)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: insert source: %w", err)
	}
	return id, nil
}

func (s *session) FindSource(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.tx.QueryRow(ctx,
		`SELECT id FROM sources WHERE upper(name) = upper($1)`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("postgres: find source: %w", err)
	}
	return id, true, nil
}

func (s *session) InsertLeads(ctx context.Context, columns []string, rows [][]any, sourceID int64) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	sql, args := buildLeadInsertSQL("leads", columns, rows, sourceID)
	pgRows, err := s.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert leads: %w", err)
	}
	defer pgRows.Close()

	ids := make([]int64, 0, len(rows))
	for pgRows.Next() {
		var id int64
		if err := pgRows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan lead id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := pgRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: insert leads: %w", err)
	}
	if len(ids) != len(rows) {
		return nil, fmt.Errorf("postgres: insert leads returned %d ids for %d rows", len(ids), len(rows))
	}
	return ids, nil
}

func (s *session) InsertOwners(ctx context.Context, columns []string, rows [][]any, leadIDs []int64) error {
	if len(rows) == 0 {
		return nil
	}
	if len(rows) != len(leadIDs) {
		return fmt.Errorf("postgres: %d owner rows for %d lead ids", len(rows), len(leadIDs))
	}

	sql, args := buildOwnerInsertSQL("owners", columns, rows, leadIDs)
	if _, err := s.tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("postgres: insert owners: %w", err)
	}
	return nil
}

func (s *session) InsertAppendix(ctx context.Context, table string, rows []storage.AppendixRow) error {
	if len(rows) == 0 {
		return nil
	}

	sql, args := buildAppendixInsertSQL(table, rows)
	if _, err := s.tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("postgres: insert appendix: %w", err)
	}
	return nil
}

func (s *session) Commit(ctx context.Context) error {
	s.done = true
	return s.tx.Commit(ctx)
}

func (s *session) Rollback(ctx context.Context) error {
	if s.done {
		return nil
	}
	err := s.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// buildLeadInsertSQL constructs the ordered-return bulk insert. RETURNING
// order carries no guarantee relative to VALUES order, so every row is
// tagged with an ordinal (rn) and the INSERT selects the tagged rows sorted
// by it; the returned id stream then matches submission order. Pure, so
// placeholder numbering and quoting are unit tested without a database.
func buildLeadInsertSQL(table string, columns []string, rows [][]any, sourceID int64) (string, []any) {
	var b strings.Builder

	b.WriteString("WITH data (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(", source_id, rn) AS (VALUES ")

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
			fmt.Fprintf(&b, "$%d::text", p)
			args = append(args, row[j])
			p++
		}
		fmt.Fprintf(&b, ", $%d::bigint, %d)", p, i)
		args = append(args, sourceID)
		p++
	}

	b.WriteString("), ins AS (INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(", source_id) SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(", source_id FROM data ORDER BY rn RETURNING id) SELECT id FROM ins;")

	return b.String(), args
}

// buildOwnerInsertSQL constructs a plain bulk insert with lead_id bound per
// row. No ordered return is needed: owners are keyed by lead_id.
func buildOwnerInsertSQL(table string, columns []string, rows [][]any, leadIDs []int64) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (lead_id")
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*(len(columns)+1))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d::bigint", p)
		args = append(args, leadIDs[i])
		p++
		for j := range columns {
			fmt.Fprintf(&b, ", $%d::text", p)
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
	b.WriteString(pgIdent(table))
	b.WriteString(" (lead_id, source_id, upload_tag, original_row_number, column_name, value) VALUES ")

	args := make([]any, 0, len(rows)*6)
	p := 1
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", p, p+1, p+2, p+3, p+4, p+5)
		args = append(args, r.LeadID, r.SourceID, r.UploadTag, r.RowNumber, r.Column, r.Value)
		p += 6
	}
	b.WriteString(";")
	return b.String(), args
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
