package schema

import (
	"encoding/json"
	"testing"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "sorted keys", doc: `{"b":2,"a":1}`, want: `{"a":1,"b":2}`},
		{name: "nested keys", doc: `{"z":{"y":1,"x":[{"d":1,"c":2}]}}`, want: `{"z":{"x":[{"c":2,"d":1}],"y":1}}`},
		{name: "whitespace", doc: "{ \"a\" :\n 1 }", want: `{"a":1}`},
		{name: "no html escaping", doc: `{"pattern":"<a&b>"}`, want: `{"pattern":"<a&b>"}`},
		{name: "boolean", doc: `true`, want: `true`},
		{name: "large integer kept exact", doc: `{"n":12345678901234567890}`, want: `{"n":12345678901234567890}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(json.RawMessage(tt.doc))
			if err != nil {
				t.Fatalf("Canonicalize() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Canonicalize() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint(json.RawMessage(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	b, err := Fingerprint(json.RawMessage(`{ "b": 2, "a": 1 }`))
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if a != b {
		t.Errorf("equivalent documents fingerprint differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(a))
	}

	c, err := Fingerprint(json.RawMessage(`{"a":1,"b":3}`))
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if a == c {
		t.Error("different documents produced the same fingerprint")
	}

	if _, err := Fingerprint(json.RawMessage(`{`)); err == nil {
		t.Error("Fingerprint() of malformed JSON should error")
	}
}
