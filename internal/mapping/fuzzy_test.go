package mapping

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFuzzyFixtures(t *testing.T, combos, comps string) string {
	t.Helper()
	dir := t.TempDir()
	fuzzy := `{
  "business_legal_name": ["Biz Name", "Company Name", "iusa company name"],
  "phone_raw": ["Phone", "Phone Number", "phone#"],
  "state": ["State", "ST"]
}`
	if err := os.WriteFile(filepath.Join(dir, "fuzzy.json"), []byte(fuzzy), 0o644); err != nil {
		t.Fatalf("write fuzzy.json: %v", err)
	}
	if combos != "" {
		if err := os.WriteFile(filepath.Join(dir, "fuzzy_combinations.json"), []byte(combos), 0o644); err != nil {
			t.Fatalf("write combinations: %v", err)
		}
	}
	if comps != "" {
		if err := os.WriteFile(filepath.Join(dir, "fuzzy_computations.json"), []byte(comps), 0o644); err != nil {
			t.Fatalf("write computations: %v", err)
		}
	}
	return filepath.Join(dir, "fuzzy.json")
}

func TestFuzzyMapHeadersVariants(t *testing.T) {
	path := writeFuzzyFixtures(t, "", "")
	m, err := NewFuzzyMapper(path, "", "")
	if err != nil {
		t.Fatalf("NewFuzzyMapper: %v", err)
	}

	headers := []string{"BIZ_NAME", "Phone#", "st", "Mystery Column"}
	hm := m.MapHeaders(headers)

	if got := hm.Direct["BIZ_NAME"]; got != "business_legal_name" {
		t.Fatalf("Direct[BIZ_NAME] = %q", got)
	}
	if got := hm.Direct["Phone#"]; got != "phone_raw" {
		t.Fatalf("Direct[Phone#] = %q", got)
	}
	if got := hm.Direct["st"]; got != "state" {
		t.Fatalf("Direct[st] = %q", got)
	}
	unmapped := hm.Unmapped(headers)
	if len(unmapped) != 1 || unmapped[0] != "Mystery Column" {
		t.Fatalf("Unmapped = %v", unmapped)
	}
}

func TestFuzzyCombinationFiresOnlyWhenAllSourcesPresent(t *testing.T) {
	combos := `{"combinations": [{
      "target_field": "owner_name",
      "separator": " ",
      "sources": [
        {"pattern": "last name", "order": 2},
        {"pattern": "first name", "order": 1}
      ]
  }]}`
	path := writeFuzzyFixtures(t, combos, "")
	m, err := NewFuzzyMapper(path, "", "")
	if err != nil {
		t.Fatalf("NewFuzzyMapper: %v", err)
	}

	// Only one source present: the rule must not fire.
	hm := m.MapHeaders([]string{"First Name", "Biz Name"})
	if len(hm.Combinations) != 0 {
		t.Fatalf("combination fired with missing source: %v", hm.Combinations)
	}

	headers := []string{"First Name", "LAST-NAME", "Biz Name"}
	hm = m.MapHeaders(headers)
	if len(hm.Combinations) != 1 {
		t.Fatalf("Combinations = %v", hm.Combinations)
	}
	c := hm.Combinations[0]
	if c.Target != "owner_name" {
		t.Fatalf("combo target = %q", c.Target)
	}
	// Sources ordered by the rule's declared order, not header order.
	if len(c.Sources) != 2 || c.Sources[0] != "First Name" || c.Sources[1] != "LAST-NAME" {
		t.Fatalf("combo sources = %v", c.Sources)
	}
	if got := hm.Consumed["First Name"]; got != "owner_name" {
		t.Fatalf("Consumed[First Name] = %q", got)
	}
	unmapped := hm.Unmapped(headers)
	if len(unmapped) != 0 {
		t.Fatalf("Unmapped = %v", unmapped)
	}
}

func TestFuzzyComputationFiresOnAnySource(t *testing.T) {
	comps := `{"computations": [{
      "target_field": "start_date",
      "computation": "duration_to_date",
      "sources": [
        {"pattern": "time in business"},
        {"pattern": "years in business"}
      ]
  }]}`
	path := writeFuzzyFixtures(t, "", comps)
	m, err := NewFuzzyMapper(path, "", "")
	if err != nil {
		t.Fatalf("NewFuzzyMapper: %v", err)
	}

	headers := []string{"Years_In_Business", "Biz Name"}
	hm := m.MapHeaders(headers)
	if len(hm.Computations) != 1 {
		t.Fatalf("Computations = %v", hm.Computations)
	}
	cp := hm.Computations[0]
	if cp.Target != "start_date" || cp.Op != "duration_to_date" || cp.Source != "Years_In_Business" {
		t.Fatalf("computation = %+v", cp)
	}
	if got := hm.Consumed["Years_In_Business"]; got != "start_date" {
		t.Fatalf("Consumed = %q", got)
	}
}

func TestFuzzyMissingRuleFilesAreOptional(t *testing.T) {
	path := writeFuzzyFixtures(t, "", "")
	m, err := NewFuzzyMapper(path, "", "")
	if err != nil {
		t.Fatalf("NewFuzzyMapper: %v", err)
	}
	if got := m.Combinations(); len(got) != 0 {
		t.Fatalf("Combinations = %v", got)
	}
	if got := m.Computations(); len(got) != 0 {
		t.Fatalf("Computations = %v", got)
	}
}

func TestFuzzyDirectPairsOnePerField(t *testing.T) {
	path := writeFuzzyFixtures(t, "", "")
	m, err := NewFuzzyMapper(path, "", "")
	if err != nil {
		t.Fatalf("NewFuzzyMapper: %v", err)
	}
	pairs := m.DirectPairs()
	if len(pairs) != 3 {
		t.Fatalf("DirectPairs = %v", pairs)
	}
	seen := make(map[string]bool)
	for _, p := range pairs {
		if seen[p.Field] {
			t.Fatalf("field %q appears twice in DirectPairs", p.Field)
		}
		seen[p.Field] = true
	}
}
