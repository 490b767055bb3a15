package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testSchema = `{
  "schema_name": "lead_intake",
  "entities": {
    "lead": {
      "fields": {
        "id": {"type": "id_number", "system_generated": true},
        "business_legal_name": {"type": "string", "required": true},
        "state": {"type": "state"},
        "phone_raw": {"type": "phone"},
        "phone_clean": {"type": "phone_clean", "derived_from": "phone_raw"}
      }
    },
    "owner": {
      "fields": {
        "id": {"type": "id_number", "system_generated": true},
        "first_name": {"type": "person_name"}
      }
    }
  },
  "appendix": {"enabled": true, "table_name": "lead_appendix_kv"}
}`

const testTemplate = `incoming_schema,expected_schema
Company,business_legal_name
State,state
Phone,phone_raw
Owner First,first_name
`

const testInput = `Company,State,Phone,Owner First,Extra Col
Acme Inc,CA,(555) 123-4567,Jane,note one
Globex,,555.987.6543,John,
`

// writeFixtures lays out a schema, template and input file in a temp dir.
func writeFixtures(t *testing.T) (schemaPath, templatePath, inputPath string) {
	t.Helper()
	dir := t.TempDir()

	schemaPath = filepath.Join(dir, "schema.json")
	templatePath = filepath.Join(dir, "template.csv")
	inputPath = filepath.Join(dir, "input.csv")

	for _, f := range []struct {
		path, body string
	}{
		{schemaPath, testSchema},
		{templatePath, testTemplate},
		{inputPath, testInput},
	} {
		if err := os.WriteFile(f.path, []byte(f.body), 0o644); err != nil {
			t.Fatalf("write %s: %v", f.path, err)
		}
	}
	return schemaPath, templatePath, inputPath
}

func baseOptions(t *testing.T) options {
	schemaPath, templatePath, inputPath := writeFixtures(t)
	return options{
		schemaPath:   schemaPath,
		templatePath: templatePath,
		filePath:     inputPath,
		sourceName:   "Test Upload",
		uploadTag:    "tag-test",
	}
}

func TestCheckOptions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*options)
		wantErr string
	}{
		{
			name:    "missing_file",
			mutate:  func(o *options) { o.filePath = "" },
			wantErr: "-file is required",
		},
		{
			name:    "missing_source",
			mutate:  func(o *options) { o.sourceName = "" },
			wantErr: "-source is required",
		},
		{
			name:    "no_strategy",
			mutate:  func(o *options) { o.templatePath = "" },
			wantErr: "one of -template or -fuzzy-map",
		},
		{
			name:    "both_strategies",
			mutate:  func(o *options) { o.fuzzyMapPath = "fuzzy.json" },
			wantErr: "mutually exclusive",
		},
		{
			name:    "missing_db_url",
			mutate:  func(o *options) { o.dryRun = false },
			wantErr: "-db-url",
		},
		{
			name: "init_db_non_sqlite",
			mutate: func(o *options) {
				o.initDB = true
				o.storageKind = "postgres"
				o.dbURL = "postgres://localhost/x"
			},
			wantErr: "-init-db is only supported with -storage sqlite",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := options{
				filePath:     "in.csv",
				sourceName:   "S",
				templatePath: "tpl.csv",
				dryRun:       true,
			}
			tc.mutate(&opts)

			err := checkOptions(opts)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("checkOptions err=%v, want containing %q", err, tc.wantErr)
			}
			var uerr *usageError
			if !errors.As(err, &uerr) {
				t.Fatalf("err=%T, want *usageError", err)
			}
		})
	}
}

func TestRunDryRunPreview(t *testing.T) {
	opts := baseOptions(t)
	opts.dryRun = true

	var out bytes.Buffer
	if err := run(context.Background(), opts, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"dry run: 2 leads, 2 owners, 1 appendix entries",
		"Acme Inc",
		"5551234567",
		"NULL",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("preview missing %q:\n%s", want, got)
		}
	}
}

func TestRunRejectsNonCSVInput(t *testing.T) {
	opts := baseOptions(t)
	opts.dryRun = true
	opts.filePath = strings.TrimSuffix(opts.filePath, ".csv") + ".xlsx"

	err := run(context.Background(), opts, new(bytes.Buffer))
	var uerr *usageError
	if !errors.As(err, &uerr) || !strings.Contains(err.Error(), "unsupported file format") {
		t.Fatalf("err=%v, want unsupported file format usage error", err)
	}
}

func TestRunStopsOnTemplateValidationFailure(t *testing.T) {
	opts := baseOptions(t)
	opts.dryRun = true

	// Point a template row at a field the schema does not declare.
	bad := testTemplate + "Mystery,warp_factor\n"
	if err := os.WriteFile(opts.templatePath, []byte(bad), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	err := run(context.Background(), opts, new(bytes.Buffer))
	var uerr *usageError
	if !errors.As(err, &uerr) {
		t.Fatalf("err=%v, want *usageError", err)
	}
	if !strings.Contains(err.Error(), "warp_factor") {
		t.Fatalf("err=%v, want mention of the unknown field", err)
	}
}

func TestRunStopsOnRequiredFieldFailure(t *testing.T) {
	opts := baseOptions(t)
	opts.dryRun = true

	// Required business_legal_name never maps when the header is absent.
	input := "State,Owner First\nCA,Jane\n"
	if err := os.WriteFile(opts.filePath, []byte(input), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	err := run(context.Background(), opts, new(bytes.Buffer))
	var uerr *usageError
	if !errors.As(err, &uerr) {
		t.Fatalf("err=%v, want *usageError", err)
	}
	if !strings.Contains(err.Error(), "business_legal_name") {
		t.Fatalf("err=%v, want mention of business_legal_name", err)
	}
}

func TestRunEndToEndSQLite(t *testing.T) {
	opts := baseOptions(t)
	opts.storageKind = "sqlite"
	opts.dbURL = "file:" + filepath.Join(t.TempDir(), "ingest.db")
	opts.initDB = true

	var out bytes.Buffer
	if err := run(context.Background(), opts, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Test Upload") {
		t.Fatalf("summary missing source name:\n%s", out.String())
	}

	db, err := sql.Open("sqlite", opts.dbURL)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	counts := map[string]int{
		"sources":          1,
		"leads":            2,
		"owners":           2,
		"lead_appendix_kv": 1,
	}
	for table, want := range counts {
		var got int
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&got); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if got != want {
			t.Fatalf("%s rows=%d, want %d", table, got, want)
		}
	}

	var phone string
	if err := db.QueryRow(`SELECT phone_clean FROM leads WHERE business_legal_name = 'Acme Inc'`).Scan(&phone); err != nil {
		t.Fatalf("select phone_clean: %v", err)
	}
	if phone != "5551234567" {
		t.Fatalf("phone_clean=%q, want 5551234567", phone)
	}

	var col, val string
	if err := db.QueryRow(`SELECT column_name, value FROM lead_appendix_kv`).Scan(&col, &val); err != nil {
		t.Fatalf("select appendix: %v", err)
	}
	if col != "Extra Col" || val != "note one" {
		t.Fatalf("appendix=(%q,%q), want (Extra Col, note one)", col, val)
	}
}
