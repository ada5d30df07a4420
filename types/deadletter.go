package types

import "time"

// DeadLetterStatus is the retry bookkeeping state of a failed run record.
type DeadLetterStatus string

const (
	DeadLetterPending  DeadLetterStatus = "pending"
	DeadLetterRetrying DeadLetterStatus = "retrying"
	DeadLetterResolved DeadLetterStatus = "resolved"
)

// DeadLetterEntry is the durable record of a background run that failed
// outright. Entries are never auto-deleted, only marked resolved; the
// per-user ledger is capped, evicting the oldest beyond the cap.
type DeadLetterEntry struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflow_id"`
	ExecutionID string           `json:"execution_id,omitempty"`
	UserID      string           `json:"user_id"`
	TriggerKind TriggerKind      `json:"trigger_kind"`
	Reason      string           `json:"reason"`
	StartedAt   time.Time        `json:"started_at"`
	EndedAt     time.Time        `json:"ended_at"`
	Results     []StepResult     `json:"results,omitempty"`
	RetryCount  int              `json:"retry_count"`
	Status      DeadLetterStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	LastRetryAt time.Time        `json:"last_retry_at,omitempty"`
}
