package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FuzzyMapper matches headers against a canonical-field to known-variants
// index. Every variant and every raw header is reduced with NormalizeHeader
// before comparison, so matching is insensitive to casing, punctuation and
// spacing differences.
//
// Two optional sibling rule files extend it: combination rules (an ordered
// source pattern list joined into a target field) and computation rules (a
// named operation over a single matched source). A combination fires only
// when all of its source patterns are present in the header set; a
// computation fires when any one of its source patterns is present.
type FuzzyMapper struct {
	reverse      map[string]string
	pairs        []Pair
	combinations []combinationRule
	computations []computationRule
}

type combinationRule struct {
	Target    string `json:"target_field"`
	Separator string `json:"separator"`
	Sources   []struct {
		Pattern string `json:"pattern"`
		Order   int    `json:"order"`
	} `json:"sources"`
}

type computationRule struct {
	Target  string `json:"target_field"`
	Op      string `json:"computation"`
	Sources []struct {
		Pattern string `json:"pattern"`
	} `json:"sources"`
}

// NewFuzzyMapper loads the variants index from fuzzyPath. Combination and
// computation rule paths default to fuzzy_combinations.json and
// fuzzy_computations.json next to the index; either file may be absent, in
// which case that rule set is simply empty.
func NewFuzzyMapper(fuzzyPath, combinationsPath, computationsPath string) (*FuzzyMapper, error) {
	raw, err := os.ReadFile(fuzzyPath)
	if err != nil {
		return nil, fmt.Errorf("mapping: read fuzzy map %s: %w", fuzzyPath, err)
	}
	var variants map[string][]string
	if err := json.Unmarshal(raw, &variants); err != nil {
		return nil, fmt.Errorf("mapping: decode fuzzy map %s: %w", fuzzyPath, err)
	}

	m := &FuzzyMapper{reverse: make(map[string]string)}

	// Deterministic pair order for validation output.
	canonicals := make([]string, 0, len(variants))
	for field := range variants {
		canonicals = append(canonicals, field)
	}
	sort.Strings(canonicals)
	for _, field := range canonicals {
		vs := variants[field]
		for _, v := range vs {
			m.reverse[NormalizeHeader(v)] = field
		}
		incoming := field
		if len(vs) > 0 {
			incoming = vs[0]
		}
		m.pairs = append(m.pairs, Pair{Incoming: incoming, Field: field})
	}

	dir := filepath.Dir(fuzzyPath)
	if combinationsPath == "" {
		combinationsPath = filepath.Join(dir, "fuzzy_combinations.json")
	}
	if computationsPath == "" {
		computationsPath = filepath.Join(dir, "fuzzy_computations.json")
	}

	var combos struct {
		Combinations []combinationRule `json:"combinations"`
	}
	if err := loadOptionalJSON(combinationsPath, &combos); err != nil {
		return nil, err
	}
	m.combinations = combos.Combinations

	var comps struct {
		Computations []computationRule `json:"computations"`
	}
	if err := loadOptionalJSON(computationsPath, &comps); err != nil {
		return nil, err
	}
	m.computations = comps.Computations

	return m, nil
}

func loadOptionalJSON(path string, dst any) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mapping: read rules %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("mapping: decode rules %s: %w", path, err)
	}
	return nil
}

// MapHeaders resolves each header through the reverse index, then scans the
// header set against the combination and computation rules. Source headers
// of a fired rule are consumed rather than left unmapped.
func (m *FuzzyMapper) MapHeaders(rawHeaders []string) *HeaderMap {
	hm := &HeaderMap{
		Direct:   make(map[string]string),
		Consumed: make(map[string]string),
	}

	norm := make(map[string]string, len(rawHeaders))
	for _, h := range rawHeaders {
		norm[h] = NormalizeHeader(h)
		if field, ok := m.reverse[norm[h]]; ok {
			hm.Direct[h] = field
		}
	}

	for _, rule := range m.combinations {
		matched := make(map[int]string, len(rule.Sources))
		for _, src := range rule.Sources {
			want := NormalizeHeader(src.Pattern)
			for _, h := range rawHeaders {
				if norm[h] == want {
					matched[src.Order] = h
					break
				}
			}
		}
		if len(matched) != len(rule.Sources) {
			continue
		}

		orders := make([]int, 0, len(matched))
		for o := range matched {
			orders = append(orders, o)
		}
		sort.Ints(orders)
		sources := make([]string, 0, len(orders))
		for _, o := range orders {
			sources = append(sources, matched[o])
		}

		sep := rule.Separator
		if sep == "" {
			sep = " "
		}
		hm.Combinations = append(hm.Combinations, Combination{
			Target:    rule.Target,
			Sources:   sources,
			Separator: sep,
		})
		for _, h := range sources {
			delete(hm.Direct, h)
			hm.Consumed[h] = rule.Target
		}
	}

	for _, rule := range m.computations {
		var matched string
		for _, src := range rule.Sources {
			want := NormalizeHeader(src.Pattern)
			for _, h := range rawHeaders {
				if norm[h] == want {
					matched = h
					break
				}
			}
			if matched != "" {
				break
			}
		}
		if matched == "" {
			continue
		}
		hm.Computations = append(hm.Computations, Computation{
			Target: rule.Target,
			Source: matched,
			Op:     rule.Op,
		})
		delete(hm.Direct, matched)
		hm.Consumed[matched] = rule.Target
	}

	return hm
}

// DirectPairs returns one declared pair per canonical field, so a field
// with many known variants cannot trip the duplicate-target check.
func (m *FuzzyMapper) DirectPairs() []Pair {
	out := make([]Pair, len(m.pairs))
	copy(out, m.pairs)
	return out
}

// Combinations returns the declared combination rules.
func (m *FuzzyMapper) Combinations() []Combination {
	out := make([]Combination, 0, len(m.combinations))
	for _, rule := range m.combinations {
		ordered := append([]struct {
			Pattern string `json:"pattern"`
			Order   int    `json:"order"`
		}(nil), rule.Sources...)
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })
		sources := make([]string, len(ordered))
		for i, s := range ordered {
			sources[i] = s.Pattern
		}
		sep := rule.Separator
		if sep == "" {
			sep = " "
		}
		out = append(out, Combination{Target: rule.Target, Sources: sources, Separator: sep})
	}
	return out
}

// Computations returns the declared computation rules with their first
// source pattern.
func (m *FuzzyMapper) Computations() []Computation {
	out := make([]Computation, 0, len(m.computations))
	for _, rule := range m.computations {
		src := ""
		if len(rule.Sources) > 0 {
			src = rule.Sources[0].Pattern
		}
		out = append(out, Computation{Target: rule.Target, Source: src, Op: rule.Op})
	}
	return out
}
