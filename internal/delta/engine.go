// Package delta reconciles agent-proposed state changes against a world's
// typed schema, producing the minimal validated set of field-level writes.
// The engine is pure: no I/O, same inputs always yield the same result.
package delta

import (
	"fmt"
	"strconv"

	"github.com/talefold/talefold/internal/story"
)

// Proposal is one (schema key, new value) pair proposed by an agent.
type Proposal struct {
	Key    string
	Value  any
	Source string // Which agent proposed it
}

// Change is one validated field-level state change.
type Change struct {
	Key      string
	Previous any
	New      any
	Source   string
}

// Warning records a proposal that was dropped, skipped, or clamped. Warnings
// never abort a turn.
type Warning struct {
	Key    string
	Reason string
}

// Result is the computed delta set for one batch of proposals.
type Result struct {
	Changes  []Change
	Warnings []Warning
}

// Compute validates each proposal against the schema, coerces and clamps
// values, and compares them to the current effective value (stored row if
// present, else the schema default). Identical values produce no change.
// Unknown keys and type mismatches are warnings, not errors. When several
// proposals target the same key the last one wins; changes are emitted in
// schema order.
func Compute(schema []story.SchemaField, current map[string]any, proposals []Proposal) Result {
	var res Result

	accepted := make(map[string]Proposal, len(proposals))
	for _, p := range proposals {
		field := fieldByKey(schema, p.Key)
		if field == nil {
			res.Warnings = append(res.Warnings, Warning{Key: p.Key, Reason: "unknown schema key"})
			continue
		}

		coerced, warn, ok := coerce(field, p.Value)
		if !ok {
			res.Warnings = append(res.Warnings, Warning{Key: p.Key, Reason: warn})
			continue
		}
		if warn != "" {
			res.Warnings = append(res.Warnings, Warning{Key: p.Key, Reason: warn})
		}
		accepted[p.Key] = Proposal{Key: p.Key, Value: coerced, Source: p.Source}
	}

	for i := range schema {
		field := &schema[i]
		p, ok := accepted[field.Key]
		if !ok {
			continue
		}

		previous, stored := current[field.Key]
		if !stored {
			previous = field.DefaultValue()
		}
		if valueEqual(previous, p.Value) {
			continue
		}

		res.Changes = append(res.Changes, Change{
			Key:      field.Key,
			Previous: previous,
			New:      p.Value,
			Source:   p.Source,
		})
	}

	return res
}

func fieldByKey(schema []story.SchemaField, key string) *story.SchemaField {
	for i := range schema {
		if schema[i].Key == key {
			return &schema[i]
		}
	}
	return nil
}

// coerce validates v against the field's type. Numbers are clamped to the
// declared bounds rather than rejected; other type mismatches skip the field.
// Returns the coerced value, an optional warning, and whether the value was
// accepted at all.
func coerce(field *story.SchemaField, v any) (any, string, bool) {
	switch field.Type {
	case story.FieldNumber:
		n, ok := asNumber(v)
		if !ok {
			return nil, fmt.Sprintf("want number, got %T", v), false
		}
		if field.Min != nil && n < *field.Min {
			return *field.Min, fmt.Sprintf("clamped %v to min %v", n, *field.Min), true
		}
		if field.Max != nil && n > *field.Max {
			return *field.Max, fmt.Sprintf("clamped %v to max %v", n, *field.Max), true
		}
		return n, "", true

	case story.FieldBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Sprintf("want bool, got %T", v), false
		}
		return b, "", true

	case story.FieldText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Sprintf("want text, got %T", v), false
		}
		return s, "", true

	case story.FieldEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Sprintf("want enum option, got %T", v), false
		}
		for _, opt := range field.Options {
			if opt == s {
				return s, "", true
			}
		}
		return nil, fmt.Sprintf("%q is not a declared option", s), false

	case story.FieldTextList:
		list, ok := asStringList(v)
		if !ok {
			return nil, fmt.Sprintf("want text list, got %T", v), false
		}
		return list, "", true
	}

	return nil, fmt.Sprintf("unknown field type %q", field.Type), false
}

// asNumber accepts the numeric representations that survive a JSON round trip
// plus numeric strings, which is how numbers arrive from parsed system notes.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func asStringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out, true
	case []any:
		out := make([]string, 0, len(list))
		for _, el := range list {
			s, ok := el.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// valueEqual compares two state values after normalizing numeric width and
// list representation, so a stored float64 matches a default int and a
// []any of strings matches a []string.
func valueEqual(a, b any) bool {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}
	if al, ok := asStringList(a); ok {
		bl, ok := asStringList(b)
		if !ok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if al[i] != bl[i] {
				return false
			}
		}
		return true
	}
	return a == b
}
