package judge_test

import (
	"encoding/json"
	"testing"

	"duel_arena/internal/domain/model"
	"duel_arena/internal/judge"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name     string
		mode     model.ComparisonMode
		expected string
		actual   string
		want     bool
	}{
		{"same array", model.ComparisonExact, `[0,1]`, "[0, 1]\n", true},
		{"order matters", model.ComparisonExact, `[0,1]`, `[1,0]`, false},
		{"numbers by value", model.ComparisonExact, `1`, `1.0`, true},
		{"objects ignore key order", model.ComparisonExact, `{"a":1,"b":2}`, `{"b":2,"a":1}`, true},
		{"plain string output", model.ComparisonExact, `"hello"`, "hello\n", true},
		{"string vs number", model.ComparisonExact, `"1"`, `1`, false},
		{"unordered multiset", model.ComparisonUnordered, `[1,2,2]`, `[2,1,2]`, true},
		{"unordered counts", model.ComparisonUnordered, `[1,2,2]`, `[1,1,2]`, false},
		{"unordered nested keeps order", model.ComparisonUnordered, `[[1,2]]`, `[[2,1]]`, false},
		{"unordered scalar", model.ComparisonUnordered, `3`, `3`, true},
		{"empty output", model.ComparisonExact, `[]`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := judge.Equal(tt.mode, json.RawMessage(tt.expected), []byte(tt.actual)); got != tt.want {
				t.Fatalf("Equal(%s, %s) = %v, want %v", tt.expected, tt.actual, got, tt.want)
			}
		})
	}
}
