package tree

import (
	"testing"
)

func TestLookup(t *testing.T) {
	v, err := Parse([]byte(`{
		"eventName": "ConsoleLogin",
		"userIdentity": {"type": "IAMUser", "sessionContext": {"mfa": false}},
		"responseElements": {"ConsoleLogin": "Failure"},
		"count": 12345678901234567890,
		"tags": ["a", "b"],
		"nothing": null
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"eventName", "ConsoleLogin", true},
		{"userIdentity.type", "IAMUser", true},
		{"userIdentity.sessionContext.mfa", "false", true},
		{"responseElements.ConsoleLogin", "Failure", true},
		{"count", "12345678901234567890", true},
		{"tags", `["a","b"]`, true},
		{"nothing", "", true},
		{"userIdentity.arn", "", false},
		{"eventName.deeper", "", false},
		{"tags.0", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			leaf, ok := v.Lookup(tt.path)
			if ok != tt.ok {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.path, ok, tt.ok)
			}
			if got := leaf.Text(); got != tt.want {
				t.Errorf("Lookup(%q) = %q, want %q", tt.path, got, tt.want)
			}
			if got := v.LookupString(tt.path); got != tt.want {
				t.Errorf("LookupString(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMarshal_SortedAndLossless(t *testing.T) {
	v, err := Parse([]byte(`{"b": 1.50, "a": {"z": true, "y": [null]}, "big": 9007199254740993}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	data, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"a":{"y":[null],"z":true},"b":1.50,"big":9007199254740993}`
	if string(data) != want {
		t.Errorf("got %s\nwant %s", data, want)
	}
}

func TestWith_DoesNotMutateOriginal(t *testing.T) {
	orig := MapOf(map[string]Value{"a": Str("1")})
	next := orig.With("b", Str("2"))

	if _, ok := orig.Field("b"); ok {
		t.Error("With mutated the receiver")
	}
	if next.LookupString("b") != "2" || next.LookupString("a") != "1" {
		t.Errorf("unexpected result %s", next.Text())
	}
}

func TestParse_RejectsTrailingData(t *testing.T) {
	if _, err := Parse([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Error("expected error for concatenated documents")
	}
	if _, err := Parse([]byte(`{not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"OperationName":   "operation_name",
		"operationName":   "operation_name",
		"operation_name":  "operation_name",
		"eventDataId":     "event_data_id",
		"id":              "id",
		"clientIpAddress": "client_ip_address",
	}
	for in, want := range tests {
		if got := SnakeCase(in); got != want {
			t.Errorf("SnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
	if got := SnakePath("httpRequest.clientIpAddress"); got != "http_request.client_ip_address" {
		t.Errorf("SnakePath = %q", got)
	}
}

func TestTransform_PathsAndBottomUp(t *testing.T) {
	v, _ := Parse([]byte(`{"outer": {"inner": {"value": "x", "localizedValue": "X"}}}`))
	var seen []string
	out := v.Transform(func(path []string, m map[string]Value) Value {
		seen = append(seen, joinPath(path))
		if s, ok := m["value"]; ok && len(m) == 2 {
			return s
		}
		return MapOf(m)
	})

	if got := out.LookupString("outer.inner"); got != "x" {
		t.Errorf("expected unwrapped leaf, got %q", got)
	}
	want := []string{"outer.inner", "outer", ""}
	if len(seen) != len(want) {
		t.Fatalf("visited %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("visit %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func joinPath(p []string) string {
	s := ""
	for i, seg := range p {
		if i > 0 {
			s += "."
		}
		s += seg
	}
	return s
}
