package mapping

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// TemplateMapper maps headers via an explicit user-authored table. No
// inference: when a template is provided it is trusted completely.
//
// Template format, CSV with two named columns:
//
//	incoming_schema,expected_schema
//	iusa company name,business_legal_name
//	first name + last name,owner_name
//
// An incoming cell containing "+" declares a combination: the named source
// columns are joined with a single space into the target field, and each
// source is excluded from the unmapped set.
type TemplateMapper struct {
	lookup       map[string]string
	consumedBy   map[string]string
	pairs        []Pair
	combinations []Combination
}

// NewTemplateMapper loads a template table from path.
func NewTemplateMapper(path string) (*TemplateMapper, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mapping: open template %s: %w", path, err)
	}
	defer f.Close()
	return ParseTemplate(f)
}

// ParseTemplate reads a template table from r.
func ParseTemplate(r io.Reader) (*TemplateMapper, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("mapping: read template header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	incomingIdx, expectedIdx := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "incoming_schema":
			incomingIdx = i
		case "expected_schema":
			expectedIdx = i
		}
	}
	if incomingIdx < 0 || expectedIdx < 0 {
		return nil, fmt.Errorf("mapping: template must have columns incoming_schema and expected_schema, got %v", header)
	}

	m := &TemplateMapper{
		lookup:     make(map[string]string),
		consumedBy: make(map[string]string),
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("mapping: read template row: %w", err)
		}
		if incomingIdx >= len(rec) || expectedIdx >= len(rec) {
			continue
		}
		incoming := strings.TrimSpace(rec[incomingIdx])
		expected := strings.TrimSpace(rec[expectedIdx])
		if incoming == "" || expected == "" {
			continue
		}

		if strings.Contains(incoming, "+") {
			sources := splitCombination(incoming)
			m.combinations = append(m.combinations, Combination{
				Target:    expected,
				Sources:   sources,
				Separator: " ",
			})
			for _, src := range sources {
				m.consumedBy[strings.ToLower(src)] = expected
			}
			continue
		}

		m.lookup[strings.ToLower(incoming)] = expected
		m.pairs = append(m.pairs, Pair{Incoming: incoming, Field: expected})
	}
	return m, nil
}

// splitCombination parses the "+"-joined source list, preserving declared
// left-to-right order.
func splitCombination(incoming string) []string {
	parts := strings.Split(incoming, "+")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MapHeaders resolves each header by direct case-insensitive lookup.
// Headers absent from the template are unmapped.
func (m *TemplateMapper) MapHeaders(rawHeaders []string) *HeaderMap {
	hm := &HeaderMap{
		Direct:       make(map[string]string),
		Consumed:     make(map[string]string),
		Combinations: m.Combinations(),
	}
	for _, h := range rawHeaders {
		key := strings.ToLower(strings.TrimSpace(h))
		if target, ok := m.consumedBy[key]; ok {
			hm.Consumed[h] = target
			continue
		}
		if field, ok := m.lookup[key]; ok {
			hm.Direct[h] = field
		}
	}
	return hm
}

// DirectPairs returns the declared 1:1 mappings.
func (m *TemplateMapper) DirectPairs() []Pair {
	out := make([]Pair, len(m.pairs))
	copy(out, m.pairs)
	return out
}

// Combinations returns the declared combination rules.
func (m *TemplateMapper) Combinations() []Combination {
	out := make([]Combination, len(m.combinations))
	copy(out, m.combinations)
	return out
}

// Computations always returns nil: template mode is explicit-only.
func (m *TemplateMapper) Computations() []Computation { return nil }
