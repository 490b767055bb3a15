package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ingest/internal/cleaner"
	"ingest/internal/ingest"
	"ingest/internal/mapping"
	"ingest/internal/parser/csv"
	"ingest/internal/schema"
	"ingest/internal/storage"
	"ingest/internal/storage/sqlite"

	"github.com/jedib0t/go-pretty/v6/table"
)

// previewRows caps how many cleaned rows the dry-run preview prints per
// entity.
const previewRows = 5

const timeRounding = time.Millisecond

type options struct {
	schemaPath   string
	filePath     string
	sourceName   string
	templatePath string
	fuzzyMapPath string
	dbURL        string
	storageKind  string
	uploadTag    string
	batchSize    int
	dryRun       bool
	skipAppendix bool
	initDB       bool
	verbose      bool
}

// usageError marks configuration and validation failures, which exit with
// code 1 instead of the runtime-failure code 2.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, a ...any) error {
	return &usageError{msg: fmt.Sprintf(format, a...)}
}

// run executes one ingestion: load catalog, build the mapping strategy,
// validate it against the schema, clean the file, then either preview
// (dry run) or persist through the engine.
func run(ctx context.Context, opts options, out io.Writer) error {
	if err := checkOptions(opts); err != nil {
		return err
	}

	cat, err := schema.Load(opts.schemaPath)
	if err != nil {
		return usagef("%v", err)
	}

	strategy, err := buildStrategy(opts)
	if err != nil {
		return usagef("%v", err)
	}

	if issues := mapping.Validate(cat, strategy); len(issues) > 0 {
		return usagef("template validation failed:\n  %s", strings.Join(issues, "\n  "))
	}

	if ext := strings.ToLower(filepath.Ext(opts.filePath)); ext != ".csv" {
		return usagef("unsupported file format %q: only .csv input is supported", ext)
	}
	tbl, err := csv.ReadFile(opts.filePath)
	if err != nil {
		return usagef("read input: %v", err)
	}

	cl := &cleaner.Cleaner{
		Catalog:  cat,
		Strategy: strategy,
		Logger:   verboseLogger(opts.verbose),
	}
	res, err := cl.Clean(tbl, opts.uploadTag)
	if err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	if issues := cl.ValidateRequiredFields(res.Leads, res.Owners); len(issues) > 0 {
		return usagef("required field validation failed:\n  %s", strings.Join(issues, "\n  "))
	}

	if opts.dryRun {
		renderPreview(out, res)
		return nil
	}

	if opts.initDB {
		if err := sqlite.InitSchema(ctx, opts.dbURL, cat); err != nil {
			return fmt.Errorf("init db: %w", err)
		}
	}

	loader, err := storage.New(ctx, storage.Config{
		Kind:          opts.storageKind,
		DSN:           opts.dbURL,
		AppendixTable: cat.AppendixTableName(),
	})
	if err != nil {
		return usagef("open storage: %v", err)
	}
	defer loader.Close()

	engine := &ingest.Engine{
		Loader:        loader,
		Logger:        verboseLogger(opts.verbose),
		SourceName:    opts.sourceName,
		UploadTag:     opts.uploadTag,
		AppendixTable: cat.AppendixTableName(),
		BatchSize:     opts.batchSize,
		SkipAppendix:  opts.skipAppendix || !cat.AppendixEnabled(),
	}
	sum, err := engine.Run(ctx, res)
	if err != nil {
		return err
	}

	renderSummary(out, sum)
	return nil
}

func checkOptions(opts options) error {
	if opts.filePath == "" {
		return usagef("-file is required")
	}
	if opts.sourceName == "" {
		return usagef("-source is required")
	}
	if opts.templatePath == "" && opts.fuzzyMapPath == "" {
		return usagef("one of -template or -fuzzy-map is required")
	}
	if opts.templatePath != "" && opts.fuzzyMapPath != "" {
		return usagef("-template and -fuzzy-map are mutually exclusive")
	}
	if !opts.dryRun && opts.dbURL == "" {
		return usagef("-db-url (or DATABASE_URL) is required unless -dry-run is set")
	}
	if opts.initDB && opts.storageKind != "sqlite" {
		return usagef("-init-db is only supported with -storage sqlite")
	}
	return nil
}

// buildStrategy picks the mapping strategy once at setup.
func buildStrategy(opts options) (mapping.Strategy, error) {
	if opts.templatePath != "" {
		return mapping.NewTemplateMapper(opts.templatePath)
	}
	return mapping.NewFuzzyMapper(opts.fuzzyMapPath, "", "")
}

// renderPreview prints the first few cleaned lead and owner rows plus the
// appendix count, without touching the database.
func renderPreview(out io.Writer, res *cleaner.Result) {
	fmt.Fprintf(out, "dry run: %d leads, %d owners, %d appendix entries\n\n",
		res.Leads.Len(), res.Owners.Len(), len(res.Appendix))

	renderRecords(out, "leads", res.Leads)
	renderRecords(out, "owners", res.Owners)
}

func renderRecords(out io.Writer, title string, recs *cleaner.Records) {
	fmt.Fprintf(out, "%s (showing %d of %d):\n", title, min(previewRows, recs.Len()), recs.Len())

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(recs.Fields))
	for i, f := range recs.Fields {
		header[i] = f
	}
	t.AppendHeader(header)

	for i, row := range recs.Rows {
		if i >= previewRows {
			break
		}
		cells := make(table.Row, len(row))
		for j, v := range row {
			if v == nil {
				cells[j] = "NULL"
				continue
			}
			cells[j] = v
		}
		t.AppendRow(cells)
	}
	t.Render()
	fmt.Fprintln(out)
}

func renderSummary(out io.Writer, sum *ingest.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"run", sum.RunID})
	t.AppendRows([]table.Row{
		{"source", fmt.Sprintf("%s (id=%d)", sum.SourceName, sum.SourceID)},
		{"upload tag", sum.UploadTag},
		{"leads", sum.LeadsInserted},
		{"owners", sum.OwnersInserted},
		{"appendix", sum.AppendixInserted},
		{"elapsed", sum.Elapsed.Round(timeRounding)},
	})
	for _, st := range sum.Timings {
		t.AppendRow(table.Row{"  " + st.Stage, st.Elapsed.Round(timeRounding)})
	}
	t.Render()
}

func verboseLogger(verbose bool) cleaner.Logger {
	if verbose {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return nil
}
