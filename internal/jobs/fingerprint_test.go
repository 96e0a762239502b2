package jobs

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCanonicalInput(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil", nil, "null"},
		{"empty raw", json.RawMessage(""), "null"},
		{"map sorted", map[string]int{"b": 2, "a": 1}, `{"a":1,"b":2}`},
		{"raw reordered", json.RawMessage(`{ "z": [1, 2], "a": {"y": true, "x": null} }`), `{"a":{"x":null,"y":true},"z":[1,2]}`},
		{"bytes", []byte(`"hi"`), `"hi"`},
		{"large number kept", json.RawMessage(`{"n":12345678901234567890}`), `{"n":12345678901234567890}`},
		{"struct", struct {
			B string `json:"b"`
			A int    `json:"a"`
		}{"x", 1}, `{"a":1,"b":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalInput(tt.input)
			if err != nil {
				t.Fatalf("CanonicalInput failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCanonicalInputRejectsInvalid(t *testing.T) {
	for _, raw := range []string{`{"a":`, `{"a":1} {"b":2}`, `nope`} {
		if _, err := CanonicalInput(json.RawMessage(raw)); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Expected error for %q", raw)
		}
	}
	if _, err := CanonicalInput(make(chan int)); !errors.Is(err, ErrInvalidInput) {
		t.Error("Expected error for unserializable input")
	}
}

func TestFingerprintStable(t *testing.T) {
	a, err := Fingerprint(map[string]any{"x": 1, "y": []string{"p", "q"}})
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	b, err := Fingerprint(json.RawMessage(`{"y":["p","q"],"x":1}`))
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if a != b {
		t.Errorf("Expected equal fingerprints for equal inputs, got %s and %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("Expected 16 hex chars, got %d (%s)", len(a), a)
	}

	c, _ := Fingerprint(map[string]any{"x": 2, "y": []string{"p", "q"}})
	if c == a {
		t.Error("Expected different inputs to produce different fingerprints")
	}
}
