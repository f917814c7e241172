package normalize

import (
	"fmt"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/tree"
)

// CloudTrailRecord is one LookupEvents result. Detail holds the embedded CloudTrailEvent
// JSON document, nil when the API omitted it.
type CloudTrailRecord struct {
	EventID     string
	EventName   string
	EventSource string
	EventTime   time.Time
	Username    string
	Detail      *string
}

func (r CloudTrailRecord) Provider() Provider   { return AWS }
func (r CloudTrailRecord) UniqueID() string     { return r.EventID }
func (r CloudTrailRecord) Timestamp() time.Time { return r.EventTime }
func (r CloudTrailRecord) Name() string         { return r.EventName }
func (r CloudTrailRecord) Source() string       { return r.EventSource }

// ToStructured parses the embedded detail and overlays the envelope identifiers on it.
// When the detail is missing the envelope alone is returned; when it is not a JSON
// object the envelope is returned with an error.
func (r CloudTrailRecord) ToStructured() (tree.Value, error) {
	base := tree.MapOf(nil)
	var warn error

	if r.Detail != nil {
		parsed, err := tree.Parse([]byte(*r.Detail))
		switch {
		case err != nil:
			warn = fmt.Errorf("decode CloudTrailEvent: %w", err)
		case parsed.Kind() != tree.Map:
			warn = fmt.Errorf("decode CloudTrailEvent: expected object, got kind %d", parsed.Kind())
		default:
			base = parsed
		}
	}

	base = base.With("EventId", tree.Str(r.EventID))
	base = base.With("EventName", tree.Str(r.EventName))
	base = base.With("EventSource", tree.Str(r.EventSource))
	if !r.EventTime.IsZero() {
		base = base.With("EventTime", tree.Str(r.EventTime.UTC().Format(time.RFC3339)))
	}
	return base, warn
}
