// Package report writes stored events to export files and renders run summaries.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/DrSkyle/cloudtail/pkg/engine/watermark"
	"github.com/DrSkyle/cloudtail/pkg/storage"
	"github.com/DrSkyle/cloudtail/pkg/store"
)

// EventSource is the export boundary of the store.
type EventSource interface {
	FetchEvents(ctx context.Context, provider normalize.Provider, tr *store.TimeRange) ([]store.ExportRow, error)
}

var fileSources = map[normalize.Provider]string{
	normalize.AWS:   "AWS_CloudTrail",
	normalize.Azure: "Azure_Activity_Log",
}

// FileName is the export file of provider for day, e.g. AWS_CloudTrail_2024-06-01.json.
func FileName(p normalize.Provider, day time.Time) string {
	return fmt.Sprintf("%s_%s.json", fileSources[p], day.Format(time.DateOnly))
}

// Result describes one written (or untouched) export file.
type Result struct {
	Provider normalize.Provider
	Location string
	Fetched  int
	// Written counts records appended to the file.
	Written int
}

// Exporter merges stored events into per-provider JSON files.
type Exporter struct {
	events EventSource
	sink   storage.BlobStore
	clock  watermark.Clock
	logger *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

func WithClock(c watermark.Clock) Option {
	return func(x *Exporter) { x.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(x *Exporter) { x.logger = l }
}

func NewExporter(events EventSource, sink storage.BlobStore, opts ...Option) *Exporter {
	x := &Exporter{events: events, sink: sink, clock: watermark.SystemClock, logger: slog.Default()}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Export writes one file per provider, named for today. Records already present in an
// existing file of that name are not written again.
func (x *Exporter) Export(ctx context.Context, tr *store.TimeRange) ([]Result, error) {
	today := x.clock.Now()
	var results []Result
	for _, p := range []normalize.Provider{normalize.AWS, normalize.Azure} {
		res, err := x.exportProvider(ctx, p, FileName(p, today), tr)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (x *Exporter) exportProvider(ctx context.Context, p normalize.Provider, key string, tr *store.TimeRange) (Result, error) {
	res := Result{Provider: p, Location: x.sink.Location(key)}
	rows, err := x.events.FetchEvents(ctx, p, tr)
	if err != nil {
		return res, fmt.Errorf("fetch %s events: %w", p, err)
	}
	res.Fetched = len(rows)
	if len(rows) == 0 {
		x.logger.Info("No events found in the given time range", "provider", p)
		return res, nil
	}

	existing, err := x.sink.Get(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return res, fmt.Errorf("read %s: %w", res.Location, err)
	}
	fresh := make([]any, len(rows))
	for i := range rows {
		fresh[i] = rows[i]
	}
	merged, written, err := Merge(existing, fresh)
	if err != nil {
		return res, fmt.Errorf("merge %s: %w", res.Location, err)
	}
	res.Written = written
	if written == 0 {
		x.logger.Info("No new events to write", "file", res.Location)
		return res, nil
	}
	if err := x.sink.Put(ctx, key, merged); err != nil {
		return res, err
	}
	x.logger.Info("Wrote new events", "file", res.Location, "new", written)
	return res, nil
}

// Merge appends the records of fresh that are not already in existing, a JSON array.
// Records are compared by content, so key order and whitespace do not matter. It
// returns the new document and the number of appended records.
func Merge(existing []byte, fresh []any) ([]byte, int, error) {
	var doc []json.RawMessage
	if len(bytes.TrimSpace(existing)) > 0 {
		if err := json.Unmarshal(existing, &doc); err != nil {
			return nil, 0, fmt.Errorf("existing file is not a JSON array: %w", err)
		}
	}
	seen := make(map[string]bool, len(doc)+len(fresh))
	for _, rec := range doc {
		k, err := canonical(rec)
		if err != nil {
			return nil, 0, err
		}
		seen[k] = true
	}

	written := 0
	for _, rec := range fresh {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, 0, err
		}
		k, err := canonical(raw)
		if err != nil {
			return nil, 0, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		doc = append(doc, raw)
		written++
	}

	out, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, 0, err
	}
	return append(out, '\n'), written, nil
}

// canonical re-encodes a JSON value with sorted object keys.
func canonical(raw []byte) (string, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	return string(b), err
}
