package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/google/uuid"
)

// Execution is one poll of one rule in one account scope.
type Execution struct {
	ID             string
	Provider       normalize.Provider
	Scope          string
	RuleName       string
	AttributeKey   string
	AttributeValue string
	WindowStart    time.Time
	WindowEnd      time.Time
	ExecStart      time.Time
	ExecEnd        time.Time
	ResultCount    int
	Succeeded      bool
}

// Unit is everything one successful poll writes.
type Unit struct {
	Execution Execution
	Events    []normalize.Event
}

// CommitResult summarizes a committed Unit.
type CommitResult struct {
	// ExecutionID is the id lineage rows point at. It differs from the Unit's when
	// another poll already recorded the same window.
	ExecutionID string
	// Reused is true when the execution row already existed and was left untouched.
	Reused bool
	// Inserted counts event rows that did not exist before.
	Inserted int
	// Linked counts events whose lineage rows are now present.
	Linked int
	// Failed counts events whose rows were rolled back.
	Failed int
}

// Commit writes a unit in one transaction: the execution row, then per event (each under
// its own savepoint) the event row, lookup attribute mapping and rule match, all
// insert-if-absent. A failing event is rolled back to its savepoint and counted in
// Failed; the rest of the unit commits.
func (s *Store) Commit(ctx context.Context, u Unit) (CommitResult, error) {
	tbl, ok := eventTables[u.Execution.Provider]
	if !ok {
		return CommitResult{}, fmt.Errorf("no event table for provider %q", u.Execution.Provider)
	}
	exec := u.Execution
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CommitResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res := CommitResult{ExecutionID: exec.ID}
	res.ExecutionID, res.Reused, err = s.insertExecution(ctx, tx, exec)
	if err != nil {
		return CommitResult{}, err
	}

	attrID, err := s.lookupAttributeID(ctx, tx, exec.AttributeKey, exec.AttributeValue)
	if err != nil {
		return CommitResult{}, err
	}

	for _, ev := range u.Events {
		inserted, evErr, err := s.insertEvent(ctx, tx, tbl, ev, res.ExecutionID, attrID, exec.RuleName)
		if err != nil {
			return CommitResult{}, err
		}
		if evErr != nil {
			res.Failed++
			s.logger.Warn("Event insert failed, skipping", "event_id", ev.SourceID, "rule", exec.RuleName, "error", evErr)
			continue
		}
		res.Linked++
		if inserted {
			res.Inserted++
		}
	}

	if !res.Reused {
		_, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE execution_history SET result_count = ?, exec_end = ? WHERE execution_id = ?`),
			res.Inserted, formatTime(exec.ExecEnd), res.ExecutionID)
		if err != nil {
			return CommitResult{}, fmt.Errorf("finalize execution %s: %w", res.ExecutionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return CommitResult{}, fmt.Errorf("commit unit: %w", err)
	}
	return res, nil
}

// insertExecution inserts the row or, on a uniqueness conflict, returns the existing id.
func (s *Store) insertExecution(ctx context.Context, tx *sql.Tx, e Execution) (string, bool, error) {
	r, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO execution_history (
			execution_id, provider, scope, rule_name, attribute_key, attribute_value,
			window_start, window_end, exec_start, exec_end, result_count, succeeded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, scope, rule_name, attribute_key, attribute_value, window_start) DO NOTHING`),
		e.ID, string(e.Provider), e.Scope, e.RuleName, e.AttributeKey, e.AttributeValue,
		formatTime(e.WindowStart), formatTime(e.WindowEnd), formatTime(e.ExecStart), formatTime(e.ExecEnd),
		e.ResultCount, e.Succeeded)
	if err != nil {
		return "", false, fmt.Errorf("insert execution: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("insert execution: %w", err)
	}
	if n == 1 {
		return e.ID, false, nil
	}

	var existing string
	err = tx.QueryRowContext(ctx, s.rebind(`
		SELECT execution_id FROM execution_history
		WHERE provider = ? AND scope = ? AND rule_name = ? AND attribute_key = ? AND attribute_value = ? AND window_start = ?`),
		string(e.Provider), e.Scope, e.RuleName, e.AttributeKey, e.AttributeValue, formatTime(e.WindowStart),
	).Scan(&existing)
	if err != nil {
		return "", false, fmt.Errorf("load conflicting execution: %w", err)
	}
	s.logger.Debug("Execution already recorded for window, reusing", "execution_id", existing, "rule", e.RuleName)
	return existing, true, nil
}

func (s *Store) lookupAttributeID(ctx context.Context, tx *sql.Tx, key, value string) (int64, error) {
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO lookup_attributes (attribute_key, attribute_value) VALUES (?, ?)
		ON CONFLICT (attribute_key, attribute_value) DO NOTHING`), key, value)
	if err != nil {
		return 0, fmt.Errorf("insert lookup attribute: %w", err)
	}
	var id int64
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT attribute_id FROM lookup_attributes WHERE attribute_key = ? AND attribute_value = ?`),
		key, value).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("load lookup attribute: %w", err)
	}
	return id, nil
}

// insertEvent returns evErr for a failure confined to this event and err when the
// transaction itself can no longer be used.
func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, tbl eventTable, ev normalize.Event, execID string, attrID int64, rule string) (inserted bool, evErr, err error) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT event_row"); err != nil {
		return false, nil, fmt.Errorf("savepoint: %w", err)
	}

	inserted, evErr = s.insertEventRows(ctx, tx, tbl, ev, execID, attrID, rule)
	if evErr != nil {
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT event_row"); err != nil {
			return false, nil, errors.Join(evErr, fmt.Errorf("rollback to savepoint: %w", err))
		}
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT event_row"); err != nil {
		return false, nil, fmt.Errorf("release savepoint: %w", err)
	}
	return inserted, evErr, nil
}

func (s *Store) insertEventRows(ctx context.Context, tx *sql.Tx, tbl eventTable, ev normalize.Event, execID string, attrID int64, rule string) (bool, error) {
	if ev.SourceID == "" {
		return false, errors.New("event has no source id")
	}
	payload, err := ev.RawPayload()
	if err != nil {
		return false, fmt.Errorf("serialize payload: %w", err)
	}

	r, err := tx.ExecContext(ctx, s.rebind(tbl.insert), tbl.args(ev, string(payload), execID)...)
	if err != nil {
		return false, fmt.Errorf("insert into %s: %w", tbl.name, err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert into %s: %w", tbl.name, err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO event_lookup_attributes (provider, event_id, attribute_id) VALUES (?, ?, ?)
		ON CONFLICT (provider, event_id, attribute_id) DO NOTHING`),
		string(ev.Provider), ev.SourceID, attrID)
	if err != nil {
		return false, fmt.Errorf("insert attribute mapping: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO rule_matches (provider, rule_name, event_id, execution_id) VALUES (?, ?, ?, ?)
		ON CONFLICT (provider, rule_name, event_id) DO NOTHING`),
		string(ev.Provider), rule, ev.SourceID, execID)
	if err != nil {
		return false, fmt.Errorf("insert rule match: %w", err)
	}
	return n == 1, nil
}
