package postgres

import (
	"strings"
	"testing"

	"ingest/internal/storage"
)

func TestBuildLeadInsertSQLOrdering(t *testing.T) {
	sql, args := buildLeadInsertSQL("leads",
		[]string{"business_legal_name", "state"},
		[][]any{{"Acme", "CA"}, {"Globex", nil}},
		7)

	if !strings.HasPrefix(sql, `WITH data ("business_legal_name", "state", source_id, rn) AS (VALUES `) {
		t.Fatalf("sql prefix wrong: %s", sql)
	}
	if !strings.Contains(sql, "($1::text, $2::text, $3::bigint, 0)") {
		t.Fatalf("first row values wrong: %s", sql)
	}
	if !strings.Contains(sql, "($4::text, $5::text, $6::bigint, 1)") {
		t.Fatalf("second row values wrong: %s", sql)
	}
	if !strings.Contains(sql, "ORDER BY rn RETURNING id") {
		t.Fatalf("missing ordered return: %s", sql)
	}
	if !strings.HasSuffix(sql, "SELECT id FROM ins;") {
		t.Fatalf("sql suffix wrong: %s", sql)
	}

	want := []any{"Acme", "CA", int64(7), "Globex", nil, int64(7)}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %v, want %v", i, args[i], want[i])
		}
	}
}

func TestBuildOwnerInsertSQL(t *testing.T) {
	sql, args := buildOwnerInsertSQL("owners",
		[]string{"first_name"},
		[][]any{{"Jane"}, {"John"}},
		[]int64{101, 102})

	if !strings.HasPrefix(sql, `INSERT INTO "owners" (lead_id, "first_name") VALUES `) {
		t.Fatalf("sql prefix wrong: %s", sql)
	}
	if !strings.Contains(sql, "($1::bigint, $2::text), ($3::bigint, $4::text)") {
		t.Fatalf("values wrong: %s", sql)
	}
	want := []any{int64(101), "Jane", int64(102), "John"}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %v, want %v", i, args[i], want[i])
		}
	}
}

func TestBuildAppendixInsertSQL(t *testing.T) {
	sql, args := buildAppendixInsertSQL("lead_appendix_kv", []storage.AppendixRow{
		{LeadID: 5, SourceID: 2, UploadTag: "t", RowNumber: 1, Column: "Extra", Value: "x"},
	})
	if !strings.Contains(sql, "(lead_id, source_id, upload_tag, original_row_number, column_name, value)") {
		t.Fatalf("columns wrong: %s", sql)
	}
	if !strings.Contains(sql, "($1, $2, $3, $4, $5, $6)") {
		t.Fatalf("placeholders wrong: %s", sql)
	}
	if len(args) != 6 || args[0] != int64(5) || args[4] != "Extra" {
		t.Fatalf("args = %v", args)
	}
}

func TestPgIdentQuoting(t *testing.T) {
	if got := pgIdent(`we"ird`); got != `"we""ird"` {
		t.Fatalf("pgIdent = %s", got)
	}
}
