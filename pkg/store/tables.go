package store

import (
	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
)

// eventTable describes one provider event table.
type eventTable struct {
	name     string
	idColumn string
	// insert is write-once on the table's primary key.
	insert string
	args   func(ev normalize.Event, payload, execID string) []any
	// export selects the columns scanned into ExportRow, aliased uniformly.
	export string
	// timeColumn is the event timestamp column.
	timeColumn string
}

var eventTables = map[normalize.Provider]eventTable{
	normalize.AWS: {
		name:     "cloudtrail_events",
		idColumn: "event_id",
		insert: `
			INSERT INTO cloudtrail_events (
				event_id, account_id, profile_name, region, event_name, event_source, event_time, event_data, execution_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (event_id) DO NOTHING`,
		args: func(ev normalize.Event, payload, execID string) []any {
			return []any{
				ev.SourceID, ev.Account.ID, ev.Account.Profile, ev.Account.Region,
				ev.Name, ev.Source, formatTime(ev.Time), payload, execID,
			}
		},
		export: `
			SELECT e.event_id, e.account_id, e.profile_name, e.region, e.event_name, e.event_source,
				e.event_time, e.event_data, e.execution_id
			FROM cloudtrail_events e`,
		timeColumn: "event_time",
	},
	normalize.Azure: {
		name:     "azure_events",
		idColumn: "event_data_id",
		insert: `
			INSERT INTO azure_events (
				event_data_id, subscription_id, operation_name, resource_provider, event_timestamp, event_data, execution_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (event_data_id) DO NOTHING`,
		args: func(ev normalize.Event, payload, execID string) []any {
			return []any{
				ev.SourceID, ev.Account.ID, ev.Name, ev.Source, formatTime(ev.Time), payload, execID,
			}
		},
		export: `
			SELECT e.event_data_id, e.subscription_id, '' AS profile_name, '' AS region, e.operation_name,
				e.resource_provider, e.event_timestamp, e.event_data, e.execution_id
			FROM azure_events e`,
		timeColumn: "event_timestamp",
	},
}
