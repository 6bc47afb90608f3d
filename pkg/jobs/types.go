// Package jobs defines the durable job protocol at the heart of the
// orchestration core: enqueue, atomic claim per worker role, idempotent
// terminal results, and lease-based crash recovery.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cleargrid-labs/conductor/pkg/envelope"
)

// Status is the lifecycle state of a job.
// pending -> claimed -> {completed | failed | cancelled}; terminal states
// are never left.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is the durable unit of work derived from an accepted command
// envelope. Exactly one worker holds a claimed job at a time.
type Job struct {
	ID             string              `json:"id"`
	OrgID          string              `json:"orgId"`
	SessionID      string              `json:"sessionId,omitempty"`
	Role           envelope.WorkerRole `json:"role"`
	CommandType    string              `json:"commandType"`
	Payload        json.RawMessage     `json:"payload,omitempty"`
	Priority       int                 `json:"priority,omitempty"`
	Status         Status              `json:"status"`
	ContentHash    string              `json:"contentHash,omitempty"`
	ScheduledFor   *time.Time          `json:"scheduledFor,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	ClaimedAt      *time.Time          `json:"claimedAt,omitempty"`
	ClaimedBy      string              `json:"claimedBy,omitempty"`
	LeaseExpiresAt *time.Time          `json:"leaseExpiresAt,omitempty"`
	CompletedAt    *time.Time          `json:"completedAt,omitempty"`
	Attempts       int                 `json:"attempts"`
	Result         json.RawMessage     `json:"result,omitempty"`
	Error          string              `json:"error,omitempty"`
}

// Result is the terminal report for a job. Once written, the job's status
// is immutable.
type Result struct {
	Status   Status          `json:"status"`
	Payload  json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}

// Validate rejects non-terminal result statuses.
func (r Result) Validate() error {
	if !r.Status.Terminal() {
		return fmt.Errorf("result status %q is not terminal", r.Status)
	}
	return nil
}
