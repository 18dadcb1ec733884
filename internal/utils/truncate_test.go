package utils

import (
	"strings"
	"testing"
)

func TestTruncateForLog(t *testing.T) {
	t.Parallel()

	letter := strings.Repeat("Dear hiring team, ", 50)

	tests := []struct {
		name   string
		input  string
		limit  int
		expect string
	}{
		{name: "non-positive limit hides the text", input: "cover letter", limit: -1, expect: ""},
		{name: "fits", input: "short note", limit: 20, expect: "short note"},
		{name: "exact length is not cut", input: "12345", limit: 5, expect: "12345"},
		{name: "cuts on runes, not bytes", input: "Привет, команда", limit: 6, expect: "Привет..."},
		{name: "whitespace does not count", input: "\n  draft body \t", limit: 5, expect: "draft..."},
		{name: "long draft preview", input: letter, limit: 17, expect: "Dear hiring team,..."},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateForLog(tt.input, tt.limit); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}
