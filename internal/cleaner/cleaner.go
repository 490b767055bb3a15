// Package cleaner turns a raw input table into normalized per-entity record
// batches plus an appendix batch of unmapped values.
//
// The transform is linear: map headers, materialize combinations and
// computations, partition columns, project each entity's schema fields in
// declared order with type normalization and derivations, then collect
// appendix entries. No state survives a run.
package cleaner

import (
	"fmt"
	"log"
	"strings"
	"time"

	"ingest/internal/mapping"
	"ingest/internal/normalize"
	"ingest/internal/parser/csv"
	"ingest/internal/schema"
)

// Logger is the minimal logging interface used by the cleaner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Records is a columnar entity projection: one row per input row, field
// order fixed by schema declaration. A nil cell is a null value.
type Records struct {
	Fields []string
	Rows   [][]any
}

// Len returns the number of projected rows.
func (r *Records) Len() int { return len(r.Rows) }

// AppendixEntry is one unmapped non-empty cell. Placeholder is the row's
// position within the current batch; it is resolved to a generated lead id
// only after the parent rows are persisted.
type AppendixEntry struct {
	Placeholder int
	Column      string
	Value       string
	RowNumber   int
	UploadTag   string
}

// excludeFromAppendix lists columns never captured in the appendix, mapped
// or not. Comparison is case-insensitive after trimming.
var excludeFromAppendix = map[string]struct{}{
	"zb status": {},
}

// Cleaner applies the active mapping strategy, the normalizer registry and
// the schema catalog to raw tables. Construct once per invocation.
type Cleaner struct {
	Catalog  *schema.Catalog
	Strategy mapping.Strategy
	Logger   Logger

	// Now is a seam for date-derivation tests. When nil, time.Now is used.
	Now func() time.Time
}

// Result is the output of one Clean call.
type Result struct {
	Leads    *Records
	Owners   *Records
	Appendix []AppendixEntry
}

// Clean transforms one parsed table.
//
// Errors:
//   - A combination whose source column is absent from the table is an
//     error: templates declare combinations unconditionally and a missing
//     source means the template does not match this file.
//   - Unknown schema entities surface as schema errors.
func (c *Cleaner) Clean(tbl *csv.Table, uploadTag string) (*Result, error) {
	logf := c.logger()

	hm := c.Strategy.MapHeaders(tbl.Headers)

	rawHeaders := append([]string(nil), tbl.Headers...)

	if err := c.applyCombinations(tbl, hm); err != nil {
		return nil, err
	}
	c.applyComputations(tbl, hm)

	unmapped := appendixCandidates(hm, rawHeaders)

	logf("stage=load rows=%d columns=%d", tbl.Len(), len(rawHeaders))
	logf("stage=map direct=%d combinations=%d computations=%d",
		len(hm.Direct), len(hm.Combinations), len(hm.Computations))
	if len(unmapped) > 0 {
		logf("stage=appendix candidates=%d columns=%s", len(unmapped), strings.Join(unmapped, ","))
	}

	// canonical field name -> raw column values
	canonical := make(map[string][]string, len(hm.Direct))
	for raw, field := range hm.Direct {
		canonical[field] = tbl.Column(raw)
	}
	for _, combo := range hm.Combinations {
		canonical[combo.Target] = tbl.Column(combo.Target)
	}
	for _, comp := range hm.Computations {
		canonical[comp.Target] = tbl.Column(comp.Target)
	}

	leads, err := c.projectEntity("lead", canonical, tbl.Len())
	if err != nil {
		return nil, err
	}
	owners, err := c.projectEntity("owner", canonical, tbl.Len())
	if err != nil {
		return nil, err
	}

	appendix := buildAppendix(tbl, unmapped, uploadTag)

	logf("stage=clean ok leads=%d owners=%d appendix=%d", leads.Len(), owners.Len(), len(appendix))
	return &Result{Leads: leads, Owners: owners, Appendix: appendix}, nil
}

// applyCombinations materializes each fired combination's target column by
// joining its source columns with the rule separator, row by row, and
// trimming the result.
func (c *Cleaner) applyCombinations(tbl *csv.Table, hm *mapping.HeaderMap) error {
	for _, combo := range hm.Combinations {
		cols := make([][]string, len(combo.Sources))
		for i, src := range combo.Sources {
			col := resolveColumn(tbl, src)
			if col == nil {
				return fmt.Errorf("cleaner: combination source column %q not found in input", src)
			}
			cols[i] = col
		}
		values := make([]string, tbl.Len())
		for row := range values {
			parts := make([]string, len(cols))
			for i, col := range cols {
				parts[i] = col[row]
			}
			values[row] = strings.TrimSpace(strings.Join(parts, combo.Separator))
		}
		tbl.AddColumn(combo.Target, values)
	}
	return nil
}

// applyComputations materializes each fired computation's target column.
// Unknown operation identifiers degrade to a trimmed copy of the source.
func (c *Cleaner) applyComputations(tbl *csv.Table, hm *mapping.HeaderMap) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	for _, comp := range hm.Computations {
		src := tbl.Column(comp.Source)
		values := make([]string, tbl.Len())
		for row, v := range src {
			switch comp.Op {
			case "duration_to_date":
				if out, ok := normalize.DurationToDate(v, now()); ok {
					values[row] = out
				}
			default:
				values[row] = strings.TrimSpace(v)
			}
		}
		tbl.AddColumn(comp.Target, values)
	}
}

// resolveColumn finds a source column case-insensitively with edge
// whitespace tolerated, matching how templates name combination sources.
func resolveColumn(tbl *csv.Table, name string) []string {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, h := range tbl.Headers {
		if strings.ToLower(strings.TrimSpace(h)) == want {
			return tbl.Column(h)
		}
	}
	return nil
}

func appendixCandidates(hm *mapping.HeaderMap, rawHeaders []string) []string {
	var out []string
	for _, h := range hm.Unmapped(rawHeaders) {
		if _, drop := excludeFromAppendix[strings.ToLower(strings.TrimSpace(h))]; drop {
			continue
		}
		out = append(out, h)
	}
	return out
}

// projectEntity builds one entity's Records: every non-system-generated
// schema field in declared order, derived or normalized per field type, and
// nil-filled when the source column is absent.
func (c *Cleaner) projectEntity(entity string, canonical map[string][]string, nRows int) (*Records, error) {
	fields, err := c.Catalog.Fields(entity)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	out := &Records{}
	var columns [][]any

	for _, field := range fields {
		if c.Catalog.IsSystemGenerated(entity, field) {
			continue
		}
		out.Fields = append(out.Fields, field)

		col := make([]any, nRows)
		fieldType, err := c.Catalog.FieldType(entity, field)
		if err != nil {
			return nil, err
		}

		if source := c.Catalog.DerivedFrom(entity, field); source != "" {
			src, ok := canonical[source]
			if ok {
				for i, v := range src {
					col[i] = deriveValue(field, source, fieldType, v)
				}
			}
			columns = append(columns, col)
			continue
		}

		src, ok := canonical[field]
		if !ok {
			columns = append(columns, col)
			continue
		}
		for i, v := range src {
			if field == "start_date" && fieldType == "date" {
				if s, ok := normalize.TimeInBusinessToDate(v, now()); ok {
					col[i] = s
				}
				continue
			}
			if s, ok := normalize.Normalize(v, fieldType); ok {
				col[i] = s
			}
		}
		columns = append(columns, col)
	}

	out.Rows = make([][]any, nRows)
	for i := range out.Rows {
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = col[i]
		}
		out.Rows[i] = row
	}
	return out, nil
}

// deriveValue applies type-specific derivation logic: phone_clean from
// phone_raw, soc from sic, and a generic normalize-at-target-type fallback
// for any other derived pair.
func deriveValue(field, source, fieldType, raw string) any {
	switch {
	case strings.HasSuffix(field, "_clean") && strings.HasSuffix(source, "_raw"):
		if s, ok := normalize.DerivePhoneClean(raw); ok {
			return s
		}
	case field == "soc" && source == "sic":
		if s, ok := normalize.DeriveSocFromSic(raw); ok {
			return s
		}
	default:
		if s, ok := normalize.Normalize(raw, fieldType); ok {
			return s
		}
	}
	return nil
}

// buildAppendix emits one entry per non-empty unmapped cell, carrying the
// row position as the yet-unresolved placeholder and the 1-based original
// row number.
func buildAppendix(tbl *csv.Table, candidates []string, uploadTag string) []AppendixEntry {
	if len(candidates) == 0 {
		return nil
	}
	cols := make(map[string][]string, len(candidates))
	for _, name := range candidates {
		cols[name] = tbl.Column(name)
	}

	var out []AppendixEntry
	for row := 0; row < tbl.Len(); row++ {
		for _, name := range candidates {
			v := strings.TrimSpace(cols[name][row])
			if v == "" {
				continue
			}
			out = append(out, AppendixEntry{
				Placeholder: row,
				Column:      name,
				Value:       v,
				RowNumber:   row + 1,
				UploadTag:   uploadTag,
			})
		}
	}
	return out
}

// ValidateRequiredFields checks that every required schema field (except
// "source", supplied out-of-band) is present in the projection and not
// entirely null across all rows. Errors accumulate.
func (c *Cleaner) ValidateRequiredFields(leads, owners *Records) []string {
	var errs []string
	errs = append(errs, c.checkEntity("lead", leads, true)...)
	errs = append(errs, c.checkEntity("owner", owners, false)...)
	return errs
}

func (c *Cleaner) checkEntity(entity string, recs *Records, skipSource bool) []string {
	fields, err := c.Catalog.Fields(entity)
	if err != nil {
		return []string{err.Error()}
	}

	idx := make(map[string]int, len(recs.Fields))
	for i, f := range recs.Fields {
		idx[f] = i
	}

	var errs []string
	for _, field := range fields {
		if !c.Catalog.IsRequired(entity, field) {
			continue
		}
		if skipSource && field == "source" {
			continue
		}
		col, ok := idx[field]
		if !ok {
			errs = append(errs, fmt.Sprintf("Required %s field missing: %s", entity, field))
			continue
		}
		allNull := true
		for _, row := range recs.Rows {
			if row[col] != nil {
				allNull = false
				break
			}
		}
		if allNull {
			errs = append(errs, fmt.Sprintf("Required %s field is all empty: %s", entity, field))
		}
	}
	return errs
}

func (c *Cleaner) logger() func(format string, v ...any) {
	if c.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return c.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
