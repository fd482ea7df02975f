package model

import (
	"encoding/json"
	"time"
)

type ProblemDifficulty string
type ComparisonMode string

const (
	DifficultyEasy   ProblemDifficulty = "easy"
	DifficultyMedium ProblemDifficulty = "medium"
	DifficultyHard   ProblemDifficulty = "hard"

	// ComparisonExact compares decoded values structurally.
	ComparisonExact ComparisonMode = "exact"
	// ComparisonUnordered treats a top-level array result as a multiset.
	ComparisonUnordered ComparisonMode = "unordered"
)

func (d ProblemDifficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

func (m ComparisonMode) Valid() bool {
	return m == ComparisonExact || m == ComparisonUnordered
}

type Problem struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Difficulty    ProblemDifficulty `json:"difficulty"`
	Comparison    ComparisonMode    `json:"comparison"`
	TimeLimitMs   int               `json:"time_limit_ms"`
	MemoryLimitKb int               `json:"memory_limit_kb"`
	TestCases     []TestCase        `json:"test_cases"`
	CreatedAt     time.Time         `json:"created_at"`
}

// TestCase input and expected output are JSON values fed to and read from the program.
type TestCase struct {
	Input          json.RawMessage `json:"input"`
	ExpectedOutput json.RawMessage `json:"expected_output"`
	Explanation    string          `json:"explanation,omitempty"`
	Hidden         bool            `json:"hidden,omitempty"`
}

// PublicView hides the hidden cases. The returned problem shares no slices with p.
func (p *Problem) PublicView() *Problem {
	out := *p
	out.TestCases = make([]TestCase, 0, len(p.TestCases))
	for _, tc := range p.TestCases {
		if !tc.Hidden {
			out.TestCases = append(out.TestCases, tc)
		}
	}
	return &out
}

// ProblemSummary is the list projection, without test cases.
type ProblemSummary struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Difficulty ProblemDifficulty `json:"difficulty"`
	CaseCount  int               `json:"case_count"`
}

func (p *Problem) Summary() ProblemSummary {
	return ProblemSummary{ID: p.ID, Title: p.Title, Difficulty: p.Difficulty, CaseCount: len(p.TestCases)}
}
