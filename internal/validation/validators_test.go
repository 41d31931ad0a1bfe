package validation

import (
	"strings"
	"testing"
)

func TestAddTaskRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		text        string
		expectError string
	}{
		{name: "valid", text: "buy milk tomorrow"},
		{name: "empty", text: "", expectError: "text is required"},
		{name: "blank", text: "   \t ", expectError: "text is required"},
		{name: "at limit", text: strings.Repeat("a", MaxTaskTextLength)},
		{name: "too long", text: strings.Repeat("a", MaxTaskTextLength+1), expectError: "at most 1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Struct(AddTaskRequest{Text: tt.text})
			if tt.expectError == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.expectError) {
				t.Errorf("Expected error containing %q, got %v", tt.expectError, err)
			}
		})
	}
}

func TestTaskIDParam(t *testing.T) {
	t.Parallel()

	if err := Struct(TaskIDParam{ID: "6f1c2b8e-5a4d-4c3b-9e2f-1a2b3c4d5e6f"}); err != nil {
		t.Errorf("Expected valid uuid, got %v", err)
	}
	err := Struct(TaskIDParam{ID: "42"})
	if err == nil || !strings.Contains(err.Error(), "must be a UUID") {
		t.Errorf("Expected uuid error, got %v", err)
	}
}

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{input: "  buy milk  ", expected: "buy milk"},
		{input: "buy\x00 milk", expected: "buy milk"},
		{input: "line1\nline2\tend", expected: "line1\nline2\tend"},
		{input: "\x1b[31mred", expected: "[31mred"},
	}

	for _, tt := range tests {
		if got := SanitizeText(tt.input); got != tt.expected {
			t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
