package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
)

// TimeRange bounds an export by the owning execution's run time.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// ExportRow is one stored event as exported.
type ExportRow struct {
	EventID     string          `json:"event_id"`
	AccountID   string          `json:"account_id"`
	Profile     string          `json:"profile_name,omitempty"`
	Region      string          `json:"region,omitempty"`
	Name        string          `json:"event_name"`
	Source      string          `json:"event_source,omitempty"`
	Time        time.Time       `json:"event_time"`
	Data        json.RawMessage `json:"event_data"`
	ExecutionID string          `json:"execution_id"`
}

// FetchEvents returns the stored events of one provider in event-time order. With a
// range, only events whose owning execution started at or after From and ended at or
// before To are returned.
func (s *Store) FetchEvents(ctx context.Context, provider normalize.Provider, tr *TimeRange) ([]ExportRow, error) {
	tbl, ok := eventTables[provider]
	if !ok {
		return nil, fmt.Errorf("no event table for provider %q", provider)
	}

	q := tbl.export
	var args []any
	if tr != nil {
		q += ` JOIN execution_history h ON h.execution_id = e.execution_id
			WHERE h.exec_start >= ? AND h.exec_end <= ?`
		args = append(args, formatTime(tr.From), formatTime(tr.To))
	}
	q += " ORDER BY e." + tbl.timeColumn + ", 1"

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tbl.name, err)
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var r ExportRow
		var ts, data string
		if err := rows.Scan(&r.EventID, &r.AccountID, &r.Profile, &r.Region, &r.Name, &r.Source,
			&ts, &data, &r.ExecutionID); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", tbl.name, err)
		}
		if r.Time, err = parseTime(ts); err != nil {
			return nil, err
		}
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RuleMatch links a rule to an event it claimed.
type RuleMatch struct {
	Provider    normalize.Provider
	RuleName    string
	EventID     string
	ExecutionID string
}

// RuleMatches lists the rules that claimed an event.
func (s *Store) RuleMatches(ctx context.Context, provider normalize.Provider, eventID string) ([]RuleMatch, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT rule_name, execution_id FROM rule_matches
		WHERE provider = ? AND event_id = ?
		ORDER BY rule_name`), string(provider), eventID)
	if err != nil {
		return nil, fmt.Errorf("query rule matches: %w", err)
	}
	defer rows.Close()

	var out []RuleMatch
	for rows.Next() {
		m := RuleMatch{Provider: provider, EventID: eventID}
		if err := rows.Scan(&m.RuleName, &m.ExecutionID); err != nil {
			return nil, fmt.Errorf("scan rule match: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Attribute is a deduplicated lookup attribute.
type Attribute struct {
	ID    int64
	Key   string
	Value string
}

// AttributeMappings lists the lookup attributes an event is mapped to.
func (s *Store) AttributeMappings(ctx context.Context, provider normalize.Provider, eventID string) ([]Attribute, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT a.attribute_id, a.attribute_key, a.attribute_value
		FROM event_lookup_attributes m
		JOIN lookup_attributes a ON a.attribute_id = m.attribute_id
		WHERE m.provider = ? AND m.event_id = ?
		ORDER BY a.attribute_id`), string(provider), eventID)
	if err != nil {
		return nil, fmt.Errorf("query attribute mappings: %w", err)
	}
	defer rows.Close()

	var out []Attribute
	for rows.Next() {
		var a Attribute
		if err := rows.Scan(&a.ID, &a.Key, &a.Value); err != nil {
			return nil, fmt.Errorf("scan attribute mapping: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LineageGaps returns ids of stored events that lack a rule match or an attribute
// mapping. A healthy store returns none.
func (s *Store) LineageGaps(ctx context.Context, provider normalize.Provider) ([]string, error) {
	tbl, ok := eventTables[provider]
	if !ok {
		return nil, fmt.Errorf("no event table for provider %q", provider)
	}
	q := fmt.Sprintf(`
		SELECT e.%[1]s FROM %[2]s e
		WHERE NOT EXISTS (SELECT 1 FROM rule_matches r WHERE r.provider = ? AND r.event_id = e.%[1]s)
		   OR NOT EXISTS (SELECT 1 FROM event_lookup_attributes m WHERE m.provider = ? AND m.event_id = e.%[1]s)
		ORDER BY 1`, tbl.idColumn, tbl.name)

	rows, err := s.db.QueryContext(ctx, s.rebind(q), string(provider), string(provider))
	if err != nil {
		return nil, fmt.Errorf("query lineage gaps: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CountEvents returns the number of stored events for a provider.
func (s *Store) CountEvents(ctx context.Context, provider normalize.Provider) (int, error) {
	tbl, ok := eventTables[provider]
	if !ok {
		return 0, fmt.Errorf("no event table for provider %q", provider)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tbl.name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", tbl.name, err)
	}
	return n, nil
}
