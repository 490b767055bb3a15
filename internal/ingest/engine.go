// Package ingest persists cleaned record batches into a destination through
// one storage transaction per run.
//
// The engine never creates schema. It verifies the destination tables,
// resolves the source row, bulk-inserts leads in batches while collecting
// their generated ids in input order, binds owners row-for-row to those ids,
// resolves appendix placeholders against them, and commits. Any failure
// rolls the whole run back.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ingest/internal/cleaner"
	"ingest/internal/metrics"
	"ingest/internal/storage"

	"github.com/google/uuid"
)

const (
	// DefaultBatchSize is used when Engine.BatchSize is unset.
	DefaultBatchSize = 5000

	// MinBatchSize is the floor for configured batch sizes. Smaller values
	// are clamped up, not rejected.
	MinBatchSize = 100
)

const metricsJob = "ingest"

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// AlignmentError reports a positional invariant violation between leads and
// a dependent batch. It always aborts the transaction.
type AlignmentError struct {
	Stage  string
	Detail string
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("ingest: %s alignment violated: %s", e.Stage, e.Detail)
}

// StageTiming is one phase duration, in execution order.
type StageTiming struct {
	Stage   string
	Elapsed time.Duration
}

// Summary is the result of one completed run.
type Summary struct {
	RunID      string
	SourceID   int64
	SourceName string
	UploadTag  string

	LeadsInserted    int
	OwnersInserted   int
	AppendixInserted int
	TotalRows        int

	Elapsed time.Duration
	Timings []StageTiming
}

// Engine runs one ingestion per Run call. Fields are read-only after
// construction; the engine itself holds no per-run state.
type Engine struct {
	Loader storage.Loader
	Logger Logger

	SourceName  string
	SourceNotes string
	UploadTag   string

	// AppendixTable is the destination appendix table, taken from the
	// schema catalog.
	AppendixTable string

	// BatchSize controls rows per bulk insert. Zero means DefaultBatchSize;
	// values below MinBatchSize are clamped to it.
	BatchSize int

	SkipAppendix bool

	// now is a test seam.
	now func() time.Time
}

// Run ingests one cleaned result inside a single transaction.
//
// Errors:
//   - Missing destination tables abort before any write.
//   - An unresolvable source-name conflict aborts the run.
//   - Owner/lead count mismatch and out-of-range appendix placeholders
//     surface as *AlignmentError.
//
// Edge cases:
//   - Zero lead rows: the source is still resolved and committed, lead,
//     owner and appendix tables are untouched.
//   - Zero owners with nonzero leads is a warning, not an error.
func (e *Engine) Run(ctx context.Context, res *cleaner.Result) (*Summary, error) {
	logf := e.logger()
	now := e.clock()
	start := now()

	sum := &Summary{
		RunID:      uuid.NewString(),
		SourceName: e.SourceName,
		UploadTag:  e.UploadTag,
		TotalRows:  res.Leads.Len(),
	}
	logf("stage=begin run_id=%s source=%q rows=%d batch_size=%d",
		sum.RunID, e.SourceName, sum.TotalRows, e.batchSize())

	sess, err := e.Loader.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: begin transaction: %w", err)
	}
	defer func() { _ = sess.Rollback(context.WithoutCancel(ctx)) }()

	run := func(stage string, f func() error) error {
		t0 := now()
		err := f()
		d := now().Sub(t0)
		sum.Timings = append(sum.Timings, StageTiming{Stage: stage, Elapsed: d})
		metrics.RecordStage(metricsJob, stage, err, d)
		if err != nil {
			logf("stage=%s err=%v elapsed=%s", stage, err, d.Truncate(time.Millisecond))
			return err
		}
		logf("stage=%s ok elapsed=%s", stage, d.Truncate(time.Millisecond))
		return nil
	}

	if err := run("verify_tables", func() error {
		return sess.VerifyTables(ctx, []string{"sources", "leads", "owners", e.AppendixTable})
	}); err != nil {
		return nil, err
	}

	if err := run("resolve_source", func() error {
		id, err := e.resolveSource(ctx, sess)
		sum.SourceID = id
		return err
	}); err != nil {
		return nil, err
	}

	var leadIDs []int64
	if err := run("insert_leads", func() error {
		ids, err := e.insertLeads(ctx, sess, res.Leads, sum.SourceID)
		leadIDs = ids
		return err
	}); err != nil {
		return nil, err
	}
	sum.LeadsInserted = len(leadIDs)
	metrics.RecordRows(metricsJob, "leads", int64(sum.LeadsInserted))

	if err := run("insert_owners", func() error {
		n, err := e.insertOwners(ctx, sess, res.Owners, leadIDs)
		sum.OwnersInserted = n
		return err
	}); err != nil {
		return nil, err
	}
	metrics.RecordRows(metricsJob, "owners", int64(sum.OwnersInserted))

	if err := run("insert_appendix", func() error {
		n, err := e.insertAppendix(ctx, sess, res.Appendix, leadIDs, sum.SourceID)
		sum.AppendixInserted = n
		return err
	}); err != nil {
		return nil, err
	}
	metrics.RecordRows(metricsJob, "appendix", int64(sum.AppendixInserted))

	if err := run("commit", func() error {
		return sess.Commit(ctx)
	}); err != nil {
		return nil, err
	}

	sum.Elapsed = now().Sub(start)
	logf("stage=done run_id=%s source_id=%d leads=%d owners=%d appendix=%d elapsed=%s",
		sum.RunID, sum.SourceID, sum.LeadsInserted, sum.OwnersInserted,
		sum.AppendixInserted, sum.Elapsed.Truncate(time.Millisecond))
	return sum, nil
}

// resolveSource inserts the source row, falling back to a lookup and one
// insert retry when the name already exists. A second failed insert after a
// miss on lookup is fatal.
func (e *Engine) resolveSource(ctx context.Context, sess storage.Session) (int64, error) {
	id, err := sess.InsertSource(ctx, e.SourceName, e.SourceNotes)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, storage.ErrSourceExists) {
		return 0, fmt.Errorf("ingest: insert source %q: %w", e.SourceName, err)
	}

	id, found, err := sess.FindSource(ctx, e.SourceName)
	if err != nil {
		return 0, fmt.Errorf("ingest: find source %q: %w", e.SourceName, err)
	}
	if found {
		return id, nil
	}

	id, err = sess.InsertSource(ctx, e.SourceName, e.SourceNotes)
	if err != nil {
		return 0, fmt.Errorf("ingest: source %q conflicts on insert but is absent on lookup: %w", e.SourceName, err)
	}
	return id, nil
}

// insertLeads bulk-inserts lead rows in batches and returns every generated
// id concatenated in input-row order.
func (e *Engine) insertLeads(ctx context.Context, sess storage.Session, leads *cleaner.Records, sourceID int64) ([]int64, error) {
	if leads.Len() == 0 {
		return nil, nil
	}

	size := e.batchSize()
	ids := make([]int64, 0, leads.Len())
	batches := 0

	for off := 0; off < leads.Len(); off += size {
		end := off + size
		if end > leads.Len() {
			end = leads.Len()
		}
		batch := leads.Rows[off:end]

		got, err := sess.InsertLeads(ctx, leads.Fields, batch, sourceID)
		if err != nil {
			return nil, fmt.Errorf("ingest: insert leads batch at row %d: %w", off, err)
		}
		if len(got) != len(batch) {
			return nil, &AlignmentError{
				Stage:  "insert_leads",
				Detail: fmt.Sprintf("batch at row %d returned %d ids for %d rows", off, len(got), len(batch)),
			}
		}
		ids = append(ids, got...)
		batches++
	}

	metrics.RecordBatches(metricsJob, int64(batches))
	return ids, nil
}

// insertOwners bulk-inserts owner rows in batches, row i bound to leadIDs[i].
func (e *Engine) insertOwners(ctx context.Context, sess storage.Session, owners *cleaner.Records, leadIDs []int64) (int, error) {
	if owners.Len() == 0 {
		if len(leadIDs) > 0 {
			e.logger()("stage=insert_owners warn=%q leads=%d", "no owner rows", len(leadIDs))
		}
		return 0, nil
	}
	if owners.Len() != len(leadIDs) {
		return 0, &AlignmentError{
			Stage:  "insert_owners",
			Detail: fmt.Sprintf("%d owner rows for %d lead ids", owners.Len(), len(leadIDs)),
		}
	}

	size := e.batchSize()
	for off := 0; off < owners.Len(); off += size {
		end := off + size
		if end > owners.Len() {
			end = owners.Len()
		}
		if err := sess.InsertOwners(ctx, owners.Fields, owners.Rows[off:end], leadIDs[off:end]); err != nil {
			return 0, fmt.Errorf("ingest: insert owners batch at row %d: %w", off, err)
		}
	}
	return owners.Len(), nil
}

// insertAppendix resolves placeholders to generated lead ids and
// bulk-inserts the resulting rows in batches.
func (e *Engine) insertAppendix(ctx context.Context, sess storage.Session, entries []cleaner.AppendixEntry, leadIDs []int64, sourceID int64) (int, error) {
	if e.SkipAppendix || len(entries) == 0 {
		return 0, nil
	}

	rows := make([]storage.AppendixRow, len(entries))
	for i, entry := range entries {
		if entry.Placeholder < 0 || entry.Placeholder >= len(leadIDs) {
			return 0, &AlignmentError{
				Stage:  "insert_appendix",
				Detail: fmt.Sprintf("placeholder %d outside lead id range [0,%d)", entry.Placeholder, len(leadIDs)),
			}
		}
		rows[i] = storage.AppendixRow{
			LeadID:    leadIDs[entry.Placeholder],
			SourceID:  sourceID,
			UploadTag: entry.UploadTag,
			RowNumber: entry.RowNumber,
			Column:    entry.Column,
			Value:     entry.Value,
		}
	}

	size := e.batchSize()
	for off := 0; off < len(rows); off += size {
		end := off + size
		if end > len(rows) {
			end = len(rows)
		}
		if err := sess.InsertAppendix(ctx, e.AppendixTable, rows[off:end]); err != nil {
			return 0, fmt.Errorf("ingest: insert appendix batch at row %d: %w", off, err)
		}
	}
	return len(rows), nil
}

func (e *Engine) batchSize() int {
	if e.BatchSize <= 0 {
		return DefaultBatchSize
	}
	if e.BatchSize < MinBatchSize {
		return MinBatchSize
	}
	return e.BatchSize
}

func (e *Engine) clock() func() time.Time {
	if e.now != nil {
		return e.now
	}
	return time.Now
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return e.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
