// Package schema loads the entity/field catalog that drives cleaning and
// ingestion.
//
// The catalog is a JSON document of the form:
//
//	{
//	  "schema_name": "...",
//	  "version": "1.0",
//	  "entities": {
//	    "lead":  {"fields": {"business_legal_name": {"type": "string", "required": true}, ...}},
//	    "owner": {"fields": {...}}
//	  },
//	  "appendix": {"enabled": true, "table_name": "lead_appendix_kv"}
//	}
//
// Field declaration order matters downstream (entity projections are built
// field by field in declared order), so the loader recovers key order from
// the raw JSON instead of relying on Go map iteration.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// FieldError reports an unknown entity or field lookup against the catalog.
type FieldError struct {
	Entity string
	Field  string
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: unknown entity %q", e.Entity)
	}
	return fmt.Sprintf("schema: unknown field %q in entity %q", e.Field, e.Entity)
}

// Field holds the per-field metadata used by the cleaner and validators.
type Field struct {
	Type            string `json:"type"`
	Required        bool   `json:"required"`
	DerivedFrom     string `json:"derived_from"`
	SystemGenerated bool   `json:"system_generated"`
}

type entity struct {
	fieldOrder []string
	fields     map[string]Field
}

// Catalog provides read-only access to the loaded schema. It is built once
// per invocation and never mutated afterwards.
type Catalog struct {
	name     string
	version  string
	entities map[string]*entity
	order    []string

	appendixEnabled bool
	appendixTable   string
}

// Load reads and parses a schema document from disk.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a schema document from r.
//
// Edge cases:
//   - Missing schema_name defaults to "unknown", version to "1.0".
//   - Missing appendix block means appendix disabled with the default table
//     name "lead_appendix_kv".
func Parse(r io.Reader) (*Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("schema: read: %w", err)
	}

	var doc struct {
		SchemaName string `json:"schema_name"`
		Version    string `json:"version"`
		Entities   map[string]struct {
			Fields map[string]Field `json:"fields"`
		} `json:"entities"`
		Appendix struct {
			Enabled   bool   `json:"enabled"`
			TableName string `json:"table_name"`
		} `json:"appendix"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema: decode: %w", err)
	}

	c := &Catalog{
		name:            doc.SchemaName,
		version:         doc.Version,
		entities:        make(map[string]*entity, len(doc.Entities)),
		appendixEnabled: doc.Appendix.Enabled,
		appendixTable:   doc.Appendix.TableName,
	}
	if c.name == "" {
		c.name = "unknown"
	}
	if c.version == "" {
		c.version = "1.0"
	}
	if c.appendixTable == "" {
		c.appendixTable = "lead_appendix_kv"
	}

	// Recover declaration order for entities and their fields from the raw
	// document; encoding/json maps discard it.
	entityOrder, fieldOrders, err := keyOrders(raw)
	if err != nil {
		return nil, err
	}

	for name, e := range doc.Entities {
		ent := &entity{fields: e.Fields}
		ent.fieldOrder = fieldOrders[name]
		c.entities[name] = ent
	}
	c.order = entityOrder

	return c, nil
}

// keyOrders walks the raw JSON token stream and records the declared order
// of entity names and of each entity's field names.
func keyOrders(raw []byte) (entities []string, fields map[string][]string, err error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("schema: decode: %w", err)
	}
	entRaw, ok := doc["entities"]
	if !ok {
		return nil, map[string][]string{}, nil
	}

	var entDoc map[string]json.RawMessage
	if err := json.Unmarshal(entRaw, &entDoc); err != nil {
		return nil, nil, fmt.Errorf("schema: decode entities: %w", err)
	}

	entities, err = objectKeys(entRaw)
	if err != nil {
		return nil, nil, err
	}

	fields = make(map[string][]string, len(entDoc))
	for _, name := range entities {
		var e map[string]json.RawMessage
		if err := json.Unmarshal(entDoc[name], &e); err != nil {
			return nil, nil, fmt.Errorf("schema: decode entity %s: %w", name, err)
		}
		fr, ok := e["fields"]
		if !ok {
			fields[name] = nil
			continue
		}
		ks, err := objectKeys(fr)
		if err != nil {
			return nil, nil, err
		}
		fields[name] = ks
	}
	return entities, fields, nil
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("schema: scan keys: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("schema: expected object, got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("schema: scan keys: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("schema: expected object key, got %v", tok)
		}
		keys = append(keys, key)

		// Skip the value entirely.
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, fmt.Errorf("schema: scan keys: %w", err)
		}
	}
	return keys, nil
}

// Name returns the schema name.
func (c *Catalog) Name() string { return c.name }

// Version returns the schema version string.
func (c *Catalog) Version() string { return c.version }

// Entities lists entity names in declaration order.
func (c *Catalog) Entities() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Fields returns the entity's field names in declaration order.
// Unknown entities are an error: every caller iterating fields needs the
// entity to actually exist.
func (c *Catalog) Fields(entityName string) ([]string, error) {
	e, ok := c.entities[entityName]
	if !ok {
		return nil, &FieldError{Entity: entityName}
	}
	out := make([]string, len(e.fieldOrder))
	copy(out, e.fieldOrder)
	return out, nil
}

// FieldType returns the declared type tag for a field, defaulting to
// "string" when the field declares no type. Unknown entity or field is an
// error.
func (c *Catalog) FieldType(entityName, field string) (string, error) {
	e, ok := c.entities[entityName]
	if !ok {
		return "", &FieldError{Entity: entityName}
	}
	f, ok := e.fields[field]
	if !ok {
		return "", &FieldError{Entity: entityName, Field: field}
	}
	if f.Type == "" {
		return "string", nil
	}
	return f.Type, nil
}

// IsRequired reports whether the field is flagged required. Unknown
// entities or fields are simply not required.
func (c *Catalog) IsRequired(entityName, field string) bool {
	if e, ok := c.entities[entityName]; ok {
		if f, ok := e.fields[field]; ok {
			return f.Required
		}
	}
	return false
}

// IsSystemGenerated reports whether the field is populated by the store
// rather than by input data. Permissive on unknown names.
func (c *Catalog) IsSystemGenerated(entityName, field string) bool {
	if e, ok := c.entities[entityName]; ok {
		if f, ok := e.fields[field]; ok {
			return f.SystemGenerated
		}
	}
	return false
}

// DerivedFrom returns the source field this field is derived from, or ""
// for plain fields. Permissive on unknown names.
func (c *Catalog) DerivedFrom(entityName, field string) string {
	if e, ok := c.entities[entityName]; ok {
		if f, ok := e.fields[field]; ok {
			return f.DerivedFrom
		}
	}
	return ""
}

// AppendixEnabled reports whether unmapped columns should be captured.
func (c *Catalog) AppendixEnabled() bool { return c.appendixEnabled }

// AppendixTableName returns the destination table for appendix rows.
func (c *Catalog) AppendixTableName() string { return c.appendixTable }
