package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/tree"
)

// freeFormKeys hold caller-supplied maps whose keys are data, not field names.
var freeFormKeys = map[string]bool{
	"claims":     true,
	"properties": true,
}

// ActivityLogRecord is one Azure Monitor activity log entry in its REST JSON form.
type ActivityLogRecord struct {
	Raw json.RawMessage

	parsed *tree.Value
	err    error
}

// NewActivityLogRecord wraps the JSON encoding of an activity log event.
func NewActivityLogRecord(raw []byte) *ActivityLogRecord {
	return &ActivityLogRecord{Raw: raw}
}

func (r *ActivityLogRecord) Provider() Provider { return Azure }

// ToStructured converts field names to snake_case and unwraps localized strings.
func (r *ActivityLogRecord) ToStructured() (tree.Value, error) {
	if r.parsed == nil {
		v, err := tree.Parse(r.Raw)
		if err != nil {
			r.err = fmt.Errorf("decode activity log event: %w", err)
			v = tree.MapOf(nil)
		} else if v.Kind() != tree.Map {
			r.err = fmt.Errorf("decode activity log event: expected object, got kind %d", v.Kind())
			v = tree.MapOf(nil)
		}
		v = snakeKeys(v)
		r.parsed = &v
	}
	return *r.parsed, r.err
}

func (r *ActivityLogRecord) UniqueID() string {
	v, _ := r.ToStructured()
	if id := v.LookupString("event_data_id"); id != "" {
		return id
	}
	return v.LookupString("id")
}

func (r *ActivityLogRecord) Timestamp() time.Time {
	v, _ := r.ToStructured()
	ts, err := time.Parse(time.RFC3339Nano, v.LookupString("event_timestamp"))
	if err != nil {
		return time.Time{}
	}
	return ts
}

func (r *ActivityLogRecord) Name() string {
	v, _ := r.ToStructured()
	return v.LookupString("operation_name")
}

func (r *ActivityLogRecord) Source() string {
	v, _ := r.ToStructured()
	return v.LookupString("resource_provider_name")
}

// snakeKeys renames map keys to snake_case outside free-form maps and replaces
// {"value", "localizedValue"} objects by their value.
func snakeKeys(v tree.Value) tree.Value {
	return v.Transform(func(path []string, m map[string]tree.Value) tree.Value {
		if plain, ok := localized(m); ok {
			return plain
		}
		if len(path) > 0 && freeFormKeys[path[len(path)-1]] {
			return tree.MapOf(m)
		}
		out := make(map[string]tree.Value, len(m))
		for k, child := range m {
			out[tree.SnakeCase(k)] = child
		}
		return tree.MapOf(out)
	})
}

func localized(m map[string]tree.Value) (tree.Value, bool) {
	value, ok := m["value"]
	if !ok || value.Kind() != tree.String {
		return tree.Value{}, false
	}
	for k := range m {
		if k != "value" && k != "localizedValue" && k != "localized_value" {
			return tree.Value{}, false
		}
	}
	return value, true
}

// ResolvePath finds an attribute written in either naming convention.
func ResolvePath(payload tree.Value, path string) string {
	if leaf, ok := payload.Lookup(path); ok {
		return leaf.Text()
	}
	return payload.LookupString(tree.SnakePath(path))
}
