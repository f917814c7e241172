package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/normalize"
	"github.com/DrSkyle/cloudtail/pkg/engine/tree"
	"github.com/DrSkyle/cloudtail/pkg/engine/watermark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, Config{DSN: filepath.Join(t.TempDir(), "cloudtail.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func ctEvent(id, name string) normalize.Event {
	return normalize.Event{
		SourceID: id,
		Provider: normalize.AWS,
		Account:  normalize.Account{ID: "111122223333", Profile: "prod", Region: "us-east-1"},
		Name:     name,
		Source:   "signin.amazonaws.com",
		Time:     t0.Add(time.Minute),
		Payload:  tree.MapOf(map[string]tree.Value{"EventId": tree.Str(id), "EventName": tree.Str(name)}),
	}
}

func ctUnit(rule, value string, start time.Time, events ...normalize.Event) Unit {
	return Unit{
		Execution: Execution{
			Provider:       normalize.AWS,
			Scope:          "111122223333",
			RuleName:       rule,
			AttributeKey:   "EventName",
			AttributeValue: value,
			WindowStart:    start,
			WindowEnd:      start.Add(time.Hour),
			ExecStart:      t0.Add(48 * time.Hour),
			ExecEnd:        t0.Add(48*time.Hour + time.Second),
			Succeeded:      true,
		},
		Events: events,
	}
}

func TestOpen_RejectsUnsupported(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)

	_, err = Open(context.Background(), Config{DSN: ":memory:"})
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestCommit_IdempotentRerun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := ctUnit("console-login", "ConsoleLogin", t0, ctEvent("e1", "ConsoleLogin"), ctEvent("e2", "ConsoleLogin"))

	first, err := s.Commit(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	assert.False(t, first.Reused)

	second, err := s.Commit(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.True(t, second.Reused)
	assert.Equal(t, first.ExecutionID, second.ExecutionID)

	n, err := s.CountEvents(ctx, normalize.AWS)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	execs, err := s.Executions(ctx, ExecutionFilter{RuleName: "console-login"})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, 2, execs[0].ResultCount, "rerun must not overwrite the recorded count")
	assert.True(t, execs[0].Succeeded)
}

func TestCommit_CrossRuleClaim(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ev := ctEvent("e1", "ConsoleLogin")

	_, err := s.Commit(ctx, ctUnit("rule-a", "ConsoleLogin", t0, ev))
	require.NoError(t, err)
	res, err := s.Commit(ctx, ctUnit("rule-b", "Console*", t0, ev))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Linked)

	matches, err := s.RuleMatches(ctx, normalize.AWS, "e1")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "rule-a", matches[0].RuleName)
	assert.Equal(t, "rule-b", matches[1].RuleName)

	attrs, err := s.AttributeMappings(ctx, normalize.AWS, "e1")
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "ConsoleLogin", attrs[0].Value)
	assert.Equal(t, "Console*", attrs[1].Value)

	execs, err := s.Executions(ctx, ExecutionFilter{RuleName: "rule-b"})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, 0, execs[0].ResultCount)
}

func TestCommit_LineageComplete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, rule := range []string{"a", "b", "c"} {
		evs := []normalize.Event{ctEvent("shared", "ConsoleLogin"), ctEvent("own-"+rule, "ConsoleLogin")}
		_, err := s.Commit(ctx, ctUnit(rule, "ConsoleLogin", t0.Add(time.Duration(i)*time.Hour), evs...))
		require.NoError(t, err)
	}

	gaps, err := s.LineageGaps(ctx, normalize.AWS)
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestCommit_ZeroEventsRecordsExecution(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Commit(ctx, ctUnit("quiet", "DeleteTrail", t0))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)

	end, found, err := s.LatestSuccessfulEnd(ctx, watermark.Key{
		Provider: "aws", Scope: "111122223333", AttributeKey: "EventName", AttributeValue: "DeleteTrail",
	})
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, end.Equal(t0.Add(time.Hour)))
}

func TestCommit_FailedEventIsIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.Commit(ctx, ctUnit("r", "ConsoleLogin", t0,
		ctEvent("good-1", "ConsoleLogin"), ctEvent("", "ConsoleLogin"), ctEvent("good-2", "ConsoleLogin")))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Failed)

	n, err := s.CountEvents(ctx, normalize.AWS)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCommit_DegradedEventStored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	detail := "{not json"
	ev, warn := normalize.Normalize(normalize.CloudTrailRecord{
		EventID: "bad-detail", EventName: "ConsoleLogin", EventTime: t0, Detail: &detail,
	}, normalize.Account{ID: "111122223333"}, nil)
	require.Error(t, warn)

	res, err := s.Commit(ctx, ctUnit("r", "ConsoleLogin", t0, ev))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	rows, err := s.FetchEvents(ctx, normalize.AWS, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"EventId":"bad-detail","EventName":"ConsoleLogin","EventSource":"","EventTime":"2024-05-01T00:00:00Z"}`, string(rows[0].Data))
}

func TestCommit_ConcurrentSameWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const pollers = 4
	results := make([]CommitResult, pollers)
	var wg sync.WaitGroup
	for i := range pollers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Commit(ctx, ctUnit("race", "ConsoleLogin", t0, ctEvent("e1", "ConsoleLogin")))
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	execs, err := s.Executions(ctx, ExecutionFilter{RuleName: "race"})
	require.NoError(t, err)
	require.Len(t, execs, 1)

	inserted := 0
	for _, r := range results {
		assert.Equal(t, execs[0].ID, r.ExecutionID)
		inserted += r.Inserted
	}
	assert.Equal(t, 1, inserted)
}

func TestLatestSuccessfulEnd_ScopedAndOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := range 3 {
		_, err := s.Commit(ctx, ctUnit("r", "ConsoleLogin", t0.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	key := watermark.Key{Provider: "aws", Scope: "111122223333", AttributeKey: "EventName", AttributeValue: "ConsoleLogin"}
	end, found, err := s.LatestSuccessfulEnd(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, end.Equal(t0.Add(3*time.Hour)), "got %v", end)

	key.Scope = "999999999999"
	_, found, err = s.LatestSuccessfulEnd(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFetchEvents_TimeRangeAndProviders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Commit(ctx, ctUnit("r", "ConsoleLogin", t0, ctEvent("e1", "ConsoleLogin")))
	require.NoError(t, err)

	az := Unit{
		Execution: Execution{
			Provider: normalize.Azure, Scope: "sub-1", RuleName: "az", AttributeKey: "operation_name",
			AttributeValue: "Microsoft.Compute/*", WindowStart: t0, WindowEnd: t0.Add(time.Hour),
			ExecStart: t0.Add(96 * time.Hour), ExecEnd: t0.Add(96*time.Hour + time.Second), Succeeded: true,
		},
		Events: []normalize.Event{{
			SourceID: "az-1", Provider: normalize.Azure, Account: normalize.Account{ID: "sub-1"},
			Name: "Microsoft.Compute/virtualMachines/delete", Source: "Microsoft.Compute", Time: t0,
			Payload: tree.MapOf(map[string]tree.Value{"event_data_id": tree.Str("az-1")}),
		}},
	}
	_, err = s.Commit(ctx, az)
	require.NoError(t, err)

	aws, err := s.FetchEvents(ctx, normalize.AWS, nil)
	require.NoError(t, err)
	require.Len(t, aws, 1)
	assert.Equal(t, "prod", aws[0].Profile)

	azure, err := s.FetchEvents(ctx, normalize.Azure, nil)
	require.NoError(t, err)
	require.Len(t, azure, 1)
	assert.Equal(t, "sub-1", azure[0].AccountID)
	assert.Empty(t, azure[0].Profile)

	inRange, err := s.FetchEvents(ctx, normalize.AWS, &TimeRange{From: t0.Add(24 * time.Hour), To: t0.Add(72 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, inRange, 1)

	outOfRange, err := s.FetchEvents(ctx, normalize.Azure, &TimeRange{From: t0.Add(24 * time.Hour), To: t0.Add(72 * time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, outOfRange)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))
	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "postgres://app:xxxxx@db:5432/cloudtail", MaskDSN("postgres://app:hunter2@db:5432/cloudtail"))
	assert.Equal(t, "/var/lib/cloudtail.db", MaskDSN("/var/lib/cloudtail.db"))
}
