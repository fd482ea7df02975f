package model

import (
	"encoding/json"
	"time"
)

const (
	JobStatusQueued     = "Queued"
	JobStatusProcessing = "Processing" // Worker holds the job lock and is evaluating
	JobStatusCompleted  = "Completed"  // Verdict pushed to the result list
	JobStatusFailed     = "Failed"     // Worker could not evaluate; error pushed instead
)

// JudgeJob tracks one remote evaluation. Request is the encoded judge request.
type JudgeJob struct {
	ID        string          `json:"id"`
	Request   json.RawMessage `json:"request"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// JudgeJobResult is pushed by the worker onto the job's result list.
type JudgeJobResult struct {
	JobID   string   `json:"job_id"`
	Verdict *Verdict `json:"verdict,omitempty"`
	Error   string   `json:"error,omitempty"`
	// ErrorCode carries the sentinel name so the caller can restore error identity.
	ErrorCode string `json:"error_code,omitempty"`
}
