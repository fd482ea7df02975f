package model

import "time"

type SubmissionStatus string
type CaseErrorKind string

const (
	SubmissionJudging SubmissionStatus = "judging"
	SubmissionJudged  SubmissionStatus = "judged"
	SubmissionFailed  SubmissionStatus = "failed" // judge infrastructure failure, not a wrong answer

	CaseCompileError   CaseErrorKind = "CompileError"
	CaseRuntimeError   CaseErrorKind = "RuntimeError"
	CaseTimeoutError   CaseErrorKind = "TimeoutError"
	CaseOutputMismatch CaseErrorKind = "OutputMismatch"
)

type Submission struct {
	ID            string           `json:"id"`
	MatchID       string           `json:"match_id"`
	ParticipantID string           `json:"participant_id"`
	Language      string           `json:"language"`
	Source        string           `json:"source,omitempty"`
	Seq           int              `json:"seq"`
	Status        SubmissionStatus `json:"status"`
	Verdict       *Verdict         `json:"verdict,omitempty"`
	Late          bool             `json:"late"` // judged after the match had already resolved
	SubmittedAt   time.Time        `json:"submitted_at"`
	JudgedAt      *time.Time       `json:"judged_at,omitempty"`
}

type Verdict struct {
	SubmissionID  string        `json:"submission_id,omitempty"`
	Passed        bool          `json:"passed"`
	Cases         []CaseOutcome `json:"cases"`
	CompileOutput string        `json:"compile_output,omitempty"`
}

type CaseOutcome struct {
	CaseIndex    int           `json:"case_index"`
	Passed       bool          `json:"passed"`
	ActualOutput string        `json:"actual_output"`
	Error        CaseErrorKind `json:"error,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	DurationMs   int64         `json:"duration_ms"`
}

// PassedCount is the number of passing cases, shown next to the case list.
func (v *Verdict) PassedCount() int {
	n := 0
	for _, c := range v.Cases {
		if c.Passed {
			n++
		}
	}
	return n
}

// Settle recomputes the overall result: every case passed and there is at least one case.
func (v *Verdict) Settle() {
	v.Passed = len(v.Cases) > 0
	for _, c := range v.Cases {
		if !c.Passed {
			v.Passed = false
			return
		}
	}
}
