// Package envelope validates and normalizes the wire shapes that cross the
// orchestration boundary: inbound command envelopes, connector
// registrations, job claims, and job results. Validation is fail-closed:
// any structural issue rejects the input before it reaches the job store.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// WorkerRole identifies which specialized worker pool a job targets.
type WorkerRole string

const (
	RoleDirector WorkerRole = "director"
	RoleSafety   WorkerRole = "safety"
	RoleDomain   WorkerRole = "domain"
)

// Valid reports whether the role is one of the known worker roles.
func (r WorkerRole) Valid() bool {
	switch r {
	case RoleDirector, RoleSafety, RoleDomain:
		return true
	}
	return false
}

// ConnectorType identifies the class of external enterprise system a
// connector registration binds to.
type ConnectorType string

const (
	ConnectorERP        ConnectorType = "erp"
	ConnectorTax        ConnectorType = "tax"
	ConnectorAccounting ConnectorType = "accounting"
	ConnectorCompliance ConnectorType = "compliance"
	ConnectorAnalytics  ConnectorType = "analytics"
)

// Valid reports whether the connector type is known.
func (t ConnectorType) Valid() bool {
	switch t {
	case ConnectorERP, ConnectorTax, ConnectorAccounting, ConnectorCompliance, ConnectorAnalytics:
		return true
	}
	return false
}

// RegistrationStatus is the lifecycle state of a connector registration.
// Transitions are monotone toward active or error; there is no implicit
// retry out of error without explicit re-registration.
type RegistrationStatus string

const (
	StatusInactive RegistrationStatus = "inactive"
	StatusPending  RegistrationStatus = "pending"
	StatusActive   RegistrationStatus = "active"
	StatusError    RegistrationStatus = "error"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s RegistrationStatus) Valid() bool {
	switch s {
	case StatusInactive, StatusPending, StatusActive, StatusError:
		return true
	}
	return false
}

// CanTransitionTo enforces the monotone registration lifecycle.
func (s RegistrationStatus) CanTransitionTo(next RegistrationStatus) bool {
	switch s {
	case StatusInactive:
		return next == StatusPending || next == StatusActive || next == StatusError
	case StatusPending:
		return next == StatusActive || next == StatusError
	case StatusActive:
		return next == StatusError
	case StatusError:
		return false
	}
	return false
}

// CommandEnvelope is the validated, normalized representation of an
// inbound instruction to the agent system. OrgID and CommandType are
// always present and non-empty; the payload is opaque to the core.
type CommandEnvelope struct {
	OrgID        string          `json:"orgId"`
	SessionID    string          `json:"sessionId,omitempty"`
	CommandType  string          `json:"commandType"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     int             `json:"priority,omitempty"` // 1-1000, 0 means unset
	ScheduledFor *time.Time      `json:"scheduledFor,omitempty"`
	TargetRole   WorkerRole      `json:"targetRole,omitempty"`
}

// Normalize fills defaults: an unset target role resolves to director.
func (e *CommandEnvelope) Normalize() {
	if e.TargetRole == "" {
		e.TargetRole = RoleDirector
	}
}

// ContentHash returns the SHA-256 hex digest of the envelope's RFC 8785
// canonical JSON form, usable as a dedup/idempotency key.
func (e *CommandEnvelope) ContentHash() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal for hashing: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("envelope: canonicalize for hashing: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ConnectorRegistration binds an org to an external enterprise system.
type ConnectorRegistration struct {
	ID        string             `json:"id,omitempty"`
	OrgID     string             `json:"orgId"`
	Type      ConnectorType      `json:"type"`
	Name      string             `json:"name"`
	Config    map[string]any     `json:"config,omitempty"`
	Status    RegistrationStatus `json:"status,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
	CreatedAt time.Time          `json:"createdAt,omitempty"`
	UpdatedAt time.Time          `json:"updatedAt,omitempty"`
}

// JobClaim is a worker's request for its next unit of work.
type JobClaim struct {
	WorkerRole WorkerRole `json:"workerRole"`
	WorkerID   string     `json:"workerId,omitempty"`
}

// JobResult is the terminal report for a claimed job.
type JobResult struct {
	Status   string          `json:"status"` // completed | failed | cancelled
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`
}
