package mapping

import (
	"fmt"

	"ingest/internal/schema"
)

// Validate checks a mapping strategy against the schema before any row is
// processed. Errors accumulate rather than fail-fast; a non-empty result is
// a hard stop for the caller.
//
// Checks:
//  1. Every target field of a direct or combination mapping exists in the
//     schema's lead or owner field set.
//  2. No two distinct incoming headers map directly to the same target.
//  3. Every required schema field (except "source", which is supplied
//     out-of-band) is directly mapped, a combination target, or derived.
func Validate(cat *schema.Catalog, m Strategy) []string {
	var errs []string

	pairs := m.DirectPairs()
	combos := m.Combinations()

	schemaFields := make(map[string]struct{})
	for _, entity := range []string{"lead", "owner"} {
		fields, err := cat.Fields(entity)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		for _, f := range fields {
			schemaFields[f] = struct{}{}
		}
	}

	targets := make(map[string]struct{})
	targetOrder := make([]string, 0, len(pairs)+len(combos))
	addTarget := func(t string) {
		if _, ok := targets[t]; !ok {
			targets[t] = struct{}{}
			targetOrder = append(targetOrder, t)
		}
	}
	for _, p := range pairs {
		addTarget(p.Field)
	}
	for _, c := range combos {
		addTarget(c.Target)
	}
	for _, cp := range m.Computations() {
		addTarget(cp.Target)
	}

	for _, t := range targetOrder {
		if _, ok := schemaFields[t]; !ok {
			errs = append(errs, fmt.Sprintf("Template maps to field '%s' which is not in schema (lead or owner).", t))
		}
	}

	seen := make(map[string]string)
	for _, p := range pairs {
		if prev, ok := seen[p.Field]; ok && prev != p.Incoming {
			errs = append(errs, fmt.Sprintf(
				"Duplicate mapping: two incoming columns ('%s' and '%s') map to same expected field '%s'.",
				prev, p.Incoming, p.Field))
		}
		seen[p.Field] = p.Incoming
	}

	for _, entity := range []string{"lead", "owner"} {
		fields, err := cat.Fields(entity)
		if err != nil {
			continue
		}
		for _, field := range fields {
			if !cat.IsRequired(entity, field) || field == "source" {
				continue
			}
			if cat.DerivedFrom(entity, field) != "" {
				continue
			}
			if _, ok := targets[field]; ok {
				continue
			}
			errs = append(errs, fmt.Sprintf(
				"Required field '%s' (%s) is not mapped in template and is not derived.", field, entity))
		}
	}

	return errs
}
