package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/DrSkyle/cloudtail/pkg/engine/failure"
)

func strPtr(s string) *string { return &s }

func fixedID() string { return "synthesized-id" }

func TestNormalize_CloudTrailMergesEnvelope(t *testing.T) {
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw := CloudTrailRecord{
		EventID:     "ev-1",
		EventName:   "ConsoleLogin",
		EventSource: "signin.amazonaws.com",
		EventTime:   when,
		Detail:      strPtr(`{"eventVersion":"1.08","userIdentity":{"type":"IAMUser","userName":"alice"},"responseElements":{"ConsoleLogin":"Failure"}}`),
	}

	ev, warn := Normalize(raw, Account{ID: "111122223333", Profile: "prod"}, fixedID)
	if warn != nil {
		t.Fatalf("unexpected warning: %v", warn)
	}

	if ev.SourceID != "ev-1" || ev.Provider != AWS || ev.Name != "ConsoleLogin" || !ev.Time.Equal(when) {
		t.Errorf("unexpected envelope projection: %+v", ev)
	}
	checks := map[string]string{
		"EventId":                       "ev-1",
		"EventName":                     "ConsoleLogin",
		"EventSource":                   "signin.amazonaws.com",
		"EventTime":                     "2024-05-01T12:00:00Z",
		"userIdentity.userName":         "alice",
		"responseElements.ConsoleLogin": "Failure",
	}
	for path, want := range checks {
		if got := ev.Payload.LookupString(path); got != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
}

func TestNormalize_CloudTrailInvalidDetailDegrades(t *testing.T) {
	raw := CloudTrailRecord{
		EventID:     "ev-broken",
		EventName:   "DeleteTrail",
		EventSource: "cloudtrail.amazonaws.com",
		EventTime:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Detail:      strPtr(`{"eventVersion": "1.08", "truncated`),
	}

	ev, warn := Normalize(raw, Account{ID: "1"}, fixedID)
	if warn == nil {
		t.Fatal("expected a degradation warning")
	}
	if !failure.Is(warn, failure.Normalization) {
		t.Errorf("expected normalization kind, got %v", warn)
	}
	if ev.SourceID != "ev-broken" {
		t.Errorf("degraded event lost its id: %q", ev.SourceID)
	}
	if got := ev.Payload.Keys(); strings.Join(got, ",") != "EventId,EventName,EventSource,EventTime" {
		t.Errorf("expected envelope-only payload, got keys %v", got)
	}
	if _, err := ev.RawPayload(); err != nil {
		t.Errorf("degraded payload must still serialize: %v", err)
	}
}

func TestNormalize_CloudTrailNonObjectDetailDegrades(t *testing.T) {
	raw := CloudTrailRecord{EventID: "ev-2", Detail: strPtr(`["not","an","object"]`)}
	ev, warn := Normalize(raw, Account{}, fixedID)
	if warn == nil {
		t.Fatal("expected a warning for a non-object detail")
	}
	if ev.Payload.LookupString("EventId") != "ev-2" {
		t.Error("envelope missing from degraded payload")
	}
}

func TestNormalize_CloudTrailMissingDetailIsNotDegraded(t *testing.T) {
	_, warn := Normalize(CloudTrailRecord{EventID: "ev-3", EventName: "X"}, Account{}, fixedID)
	if warn != nil {
		t.Errorf("missing detail should not warn, got %v", warn)
	}
}

func TestNormalize_SynthesizesMissingID(t *testing.T) {
	ev, _ := Normalize(CloudTrailRecord{EventName: "X"}, Account{}, fixedID)
	if ev.SourceID != "synthesized-id" {
		t.Errorf("expected synthesized id, got %q", ev.SourceID)
	}

	ev, _ = Normalize(NewActivityLogRecord([]byte(`{"operationName":{"value":"op"}}`)), Account{}, nil)
	if len(ev.SourceID) != 36 {
		t.Errorf("expected a UUID for an activity log event without ids, got %q", ev.SourceID)
	}
}

const activityLogJSON = `{
	"eventDataId": "d1",
	"id": "/subscriptions/s/providers/microsoft.insights/eventtypes/management/values/d1",
	"operationName": {"value": "Microsoft.Compute/virtualMachines/delete", "localizedValue": "Delete Virtual Machine"},
	"resourceProviderName": {"value": "Microsoft.Compute", "localizedValue": "Microsoft.Compute"},
	"eventTimestamp": "2024-05-02T08:30:00.1234567Z",
	"caller": "bob@example.com",
	"httpRequest": {"clientIpAddress": "10.0.0.1", "method": "DELETE"},
	"claims": {"http://schemas.microsoft.com/identity/claims/objectidentifier": "oid", "ipaddr": "10.0.0.1"},
	"properties": {"statusCode": "OK"}
}`

func TestNormalize_ActivityLog(t *testing.T) {
	ev, warn := Normalize(NewActivityLogRecord([]byte(activityLogJSON)), Account{ID: "sub-1"}, fixedID)
	if warn != nil {
		t.Fatalf("unexpected warning: %v", warn)
	}

	if ev.SourceID != "d1" {
		t.Errorf("expected eventDataId as id, got %q", ev.SourceID)
	}
	if ev.Name != "Microsoft.Compute/virtualMachines/delete" {
		t.Errorf("expected unwrapped operation name, got %q", ev.Name)
	}
	if ev.Source != "Microsoft.Compute" {
		t.Errorf("unexpected source %q", ev.Source)
	}
	if want := time.Date(2024, 5, 2, 8, 30, 0, 123456700, time.UTC); !ev.Time.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ev.Time, want)
	}

	checks := map[string]string{
		"operation_name":                     "Microsoft.Compute/virtualMachines/delete",
		"http_request.client_ip_address":     "10.0.0.1",
		"claims.ipaddr":                      "10.0.0.1",
		"properties.statusCode":              "OK",
		"caller":                             "bob@example.com",
		"event_data_id":                      "d1",
		"resource_provider_name":             "Microsoft.Compute",
		"httpRequest.clientIpAddress":        "",
		"properties.status_code":             "",
		"operation_name.localized_value":     "",
	}
	for path, want := range checks {
		if got := ev.Payload.LookupString(path); got != want {
			t.Errorf("%s = %q, want %q", path, got, want)
		}
	}
}

func TestResolvePath_EitherConvention(t *testing.T) {
	ev, _ := Normalize(NewActivityLogRecord([]byte(activityLogJSON)), Account{}, fixedID)

	for _, key := range []string{"OperationName", "operationName", "operation_name"} {
		if got := ResolvePath(ev.Payload, key); got != "Microsoft.Compute/virtualMachines/delete" {
			t.Errorf("ResolvePath(%q) = %q", key, got)
		}
	}
	if got := ResolvePath(ev.Payload, "properties.statusCode"); got != "OK" {
		t.Errorf("free-form keys must resolve literally, got %q", got)
	}
	if got := ResolvePath(ev.Payload, "missing.path"); got != "" {
		t.Errorf("missing path should be empty, got %q", got)
	}
}

func TestNormalize_ActivityLogInvalidJSON(t *testing.T) {
	ev, warn := Normalize(NewActivityLogRecord([]byte(`{oops`)), Account{}, fixedID)
	if !failure.Is(warn, failure.Normalization) {
		t.Fatalf("expected normalization warning, got %v", warn)
	}
	if ev.SourceID != "synthesized-id" {
		t.Errorf("expected synthesized id, got %q", ev.SourceID)
	}
}
