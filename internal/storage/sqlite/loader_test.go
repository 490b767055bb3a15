package sqlite

import (
	"context"
	"errors"
	"testing"

	"ingest/internal/storage"
)

func TestBuildLeadInsertSQL(t *testing.T) {
	t.Parallel()

	got := buildLeadInsertSQL("leads", []string{"business_legal_name", "state"})
	want := `INSERT INTO "leads" ("business_legal_name", "state", source_id) VALUES (?, ?, ?)`
	if got != want {
		t.Fatalf("buildLeadInsertSQL = %q, want %q", got, want)
	}
}

func TestBuildOwnerInsertSQL(t *testing.T) {
	t.Parallel()

	got := buildOwnerInsertSQL("owners", []string{"first_name", "email"})
	want := `INSERT INTO "owners" (lead_id, "first_name", "email") VALUES (?, ?, ?)`
	if got != want {
		t.Fatalf("buildOwnerInsertSQL = %q, want %q", got, want)
	}
}

func TestSQLIdentQuoting(t *testing.T) {
	t.Parallel()

	if got := sqlIdent(`we"ird`); got != `"we""ird"` {
		t.Fatalf("sqlIdent = %s", got)
	}
}

const testDDL = `
CREATE TABLE sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    notes TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);
CREATE UNIQUE INDEX ux_sources_name ON sources (name COLLATE NOCASE);
CREATE TABLE leads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    business_legal_name TEXT,
    state TEXT,
    source_id INTEGER REFERENCES sources(id)
);
CREATE TABLE owners (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    lead_id INTEGER UNIQUE REFERENCES leads(id),
    first_name TEXT
);
CREATE TABLE lead_appendix_kv (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    lead_id INTEGER REFERENCES leads(id),
    source_id INTEGER REFERENCES sources(id),
    upload_tag TEXT,
    original_row_number INTEGER,
    column_name TEXT,
    value TEXT
);
`

func openTestSession(t *testing.T) storage.Session {
	t.Helper()
	ctx := context.Background()

	loader, err := New(ctx, storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(loader.Close)

	sess, err := loader.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := sess.(*session).tx.Exec(testDDL); err != nil {
		t.Fatalf("ddl: %v", err)
	}
	return sess
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	sess := openTestSession(t)

	if err := sess.VerifyTables(ctx, []string{"sources", "leads", "owners", "lead_appendix_kv"}); err != nil {
		t.Fatalf("VerifyTables: %v", err)
	}
	if err := sess.VerifyTables(ctx, []string{"no_such_table"}); err == nil {
		t.Fatalf("VerifyTables should fail on missing table")
	}

	srcID, err := sess.InsertSource(ctx, "Acme", "")
	if err != nil {
		t.Fatalf("InsertSource: %v", err)
	}

	// Case-insensitive duplicate must conflict.
	if _, err := sess.InsertSource(ctx, "ACME", ""); !errors.Is(err, storage.ErrSourceExists) {
		t.Fatalf("duplicate InsertSource err = %v", err)
	}
	id, found, err := sess.FindSource(ctx, "acme")
	if err != nil || !found || id != srcID {
		t.Fatalf("FindSource = %d %v %v", id, found, err)
	}

	leadIDs, err := sess.InsertLeads(ctx,
		[]string{"business_legal_name", "state"},
		[][]any{{"Acme Inc", "CA"}, {"Globex", nil}},
		srcID)
	if err != nil {
		t.Fatalf("InsertLeads: %v", err)
	}
	if len(leadIDs) != 2 || leadIDs[1] != leadIDs[0]+1 {
		t.Fatalf("leadIDs = %v", leadIDs)
	}

	if err := sess.InsertOwners(ctx, []string{"first_name"}, [][]any{{"Jane"}, {nil}}, leadIDs); err != nil {
		t.Fatalf("InsertOwners: %v", err)
	}

	err = sess.InsertAppendix(ctx, "lead_appendix_kv", []storage.AppendixRow{
		{LeadID: leadIDs[0], SourceID: srcID, UploadTag: "t", RowNumber: 1, Column: "Extra", Value: "x"},
	})
	if err != nil {
		t.Fatalf("InsertAppendix: %v", err)
	}

	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// Rollback after Commit is a no-op.
	if err := sess.Rollback(ctx); err != nil {
		t.Fatalf("Rollback after Commit: %v", err)
	}
}

func TestInsertOwnersLengthMismatch(t *testing.T) {
	ctx := context.Background()
	sess := openTestSession(t)

	err := sess.InsertOwners(ctx, []string{"first_name"}, [][]any{{"Jane"}}, []int64{1, 2})
	if err == nil {
		t.Fatalf("want mismatch error")
	}
}
