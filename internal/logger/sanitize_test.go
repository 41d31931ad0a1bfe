package logger

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		maxLength int
		expected  string
	}{
		{name: "empty", input: "", maxLength: 10, expected: ""},
		{name: "plain", input: "buy milk", maxLength: 10, expected: "buy milk"},
		{name: "control characters removed", input: "buy\x00 milk\x1b", maxLength: 20, expected: "buy milk"},
		{name: "newlines removed", input: "line1\nline2\r", maxLength: 20, expected: "line1line2"},
		{name: "truncated", input: "abcdefghij", maxLength: 4, expected: "abcd..."},
		{name: "truncation keeps runes whole", input: "ééé", maxLength: 3, expected: "é..."},
		{name: "invalid utf8 repaired", input: "ok\xffok", maxLength: 10, expected: "okok"},
		{name: "default length", input: "short", maxLength: 0, expected: "short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SanitizeString(tt.input, tt.maxLength)
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	got := SanitizeText(strings.Repeat("a", MaxTaskTextLength+50))
	if len(got) != MaxTaskTextLength+3 {
		t.Errorf("Expected length %d, got %d", MaxTaskTextLength+3, len(got))
	}
}

func TestSanitizeError(t *testing.T) {
	t.Parallel()

	if got := SanitizeError(nil); got != "" {
		t.Errorf("Expected empty string, got %q", got)
	}
	if got := SanitizeError(errors.New("bad\ninput")); got != "badinput" {
		t.Errorf("Expected %q, got %q", "badinput", got)
	}
}

func TestNewLoggers(t *testing.T) {
	t.Parallel()

	for _, debug := range []bool{true, false} {
		prod, err := NewProductionLogger(debug)
		if err != nil {
			t.Fatalf("NewProductionLogger(%v): %v", debug, err)
		}
		if got := prod.Core().Enabled(-1); got != debug {
			t.Errorf("Expected debug enabled %v, got %v", debug, got)
		}
		dev, err := NewDevelopmentLogger(debug)
		if err != nil {
			t.Fatalf("NewDevelopmentLogger(%v): %v", debug, err)
		}
		if dev == nil {
			t.Error("Expected development logger")
		}
	}
	if err := Sync(nil); err != nil {
		t.Errorf("Expected nil error for nil logger, got %v", err)
	}
}
