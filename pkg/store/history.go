package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/DrSkyle/cloudtail/pkg/engine/watermark"
)

var _ watermark.History = (*Store)(nil)

// LatestSuccessfulEnd implements watermark.History.
func (s *Store) LatestSuccessfulEnd(ctx context.Context, key watermark.Key) (time.Time, bool, error) {
	var end string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT window_end FROM execution_history
		WHERE provider = ? AND scope = ? AND attribute_key = ? AND attribute_value = ? AND succeeded = ?
		ORDER BY window_end DESC
		LIMIT 1`),
		key.Provider, key.Scope, key.AttributeKey, key.AttributeValue, true,
	).Scan(&end)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query watermark: %w", err)
	}
	t, err := parseTime(end)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse watermark %q: %w", end, err)
	}
	return t, true, nil
}

// ExecutionFilter narrows Executions. Zero fields match everything.
type ExecutionFilter struct {
	Provider normalize.Provider
	Scope    string
	RuleName string
	Limit    int
}

// Executions lists execution history, newest window first.
func (s *Store) Executions(ctx context.Context, f ExecutionFilter) ([]Execution, error) {
	q := `
		SELECT execution_id, provider, scope, rule_name, attribute_key, attribute_value,
			window_start, window_end, exec_start, exec_end, result_count, succeeded
		FROM execution_history WHERE 1 = 1`
	var args []any
	if f.Provider != "" {
		q += " AND provider = ?"
		args = append(args, string(f.Provider))
	}
	if f.Scope != "" {
		q += " AND scope = ?"
		args = append(args, f.Scope)
	}
	if f.RuleName != "" {
		q += " AND rule_name = ?"
		args = append(args, f.RuleName)
	}
	q += " ORDER BY window_end DESC, rule_name"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var provider, wStart, wEnd, execStart, execEnd string
		if err := rows.Scan(&e.ID, &provider, &e.Scope, &e.RuleName, &e.AttributeKey, &e.AttributeValue,
			&wStart, &wEnd, &execStart, &execEnd, &e.ResultCount, &e.Succeeded); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Provider = normalize.Provider(provider)
		if e.WindowStart, err = parseTime(wStart); err != nil {
			return nil, err
		}
		if e.WindowEnd, err = parseTime(wEnd); err != nil {
			return nil, err
		}
		if e.ExecStart, err = parseTime(execStart); err != nil {
			return nil, err
		}
		if e.ExecEnd, err = parseTime(execEnd); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
