// Package safety gates every inbound command behind an assessment
// capability. The gateway performs no judgement of its own; it adapts the
// envelope and result shapes to whatever assessor is configured, and its
// placement is the correctness property: no command becomes a job without
// passing through it.
package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cleargrid-labs/conductor/pkg/envelope"
	"github.com/cleargrid-labs/conductor/pkg/guard"
)

// ErrDenied is the sentinel for a command refused admission.
var ErrDenied = errors.New("command denied by safety assessment")

// Assessment is the structured verdict for a command envelope.
type Assessment struct {
	Allowed        bool     `json:"allowed"`
	Reason         string   `json:"reason,omitempty"`
	ContentFilters []string `json:"contentFilters,omitempty"`
}

// Assessor is the opaque assessment capability: envelope in, verdict out.
// Any backing implementation can be substituted.
type Assessor interface {
	Assess(ctx context.Context, env *envelope.CommandEnvelope) (*Assessment, error)
}

// AssessorFunc adapts a function to the Assessor interface.
type AssessorFunc func(ctx context.Context, env *envelope.CommandEnvelope) (*Assessment, error)

func (f AssessorFunc) Assess(ctx context.Context, env *envelope.CommandEnvelope) (*Assessment, error) {
	return f(ctx, env)
}

// Gateway wraps an assessor with a deadline and fail-closed semantics:
// an assessor error or timeout denies admission.
type Gateway struct {
	assessor Assessor
	timeout  time.Duration
	logger   *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithTimeout bounds the assessment call. Zero disables the bound.
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGateway creates a gateway over the given assessor.
func NewGateway(assessor Assessor, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		assessor: assessor,
		timeout:  30 * time.Second,
		logger:   slog.Default().With("component", "safety"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit runs the assessment for env. It returns the assessment when the
// command is allowed and ErrDenied otherwise. Assessor failures and
// timeouts deny admission; the underlying error is wrapped for diagnosis.
func (g *Gateway) Admit(ctx context.Context, env *envelope.CommandEnvelope) (*Assessment, error) {
	assessment, err := guard.Do(ctx, g.timeout, func(ctx context.Context) (*Assessment, error) {
		return g.assessor.Assess(ctx, env)
	})
	if err != nil {
		g.logger.WarnContext(ctx, "safety assessment unavailable, denying",
			"org_id", env.OrgID,
			"command_type", env.CommandType,
			"error", err)
		return nil, fmt.Errorf("%w: assessment failed: %v", ErrDenied, err)
	}
	if assessment == nil || !assessment.Allowed {
		reason := "assessment withheld approval"
		if assessment != nil && assessment.Reason != "" {
			reason = assessment.Reason
		}
		g.logger.InfoContext(ctx, "command denied",
			"org_id", env.OrgID,
			"command_type", env.CommandType,
			"reason", reason)
		return nil, fmt.Errorf("%w: %s", ErrDenied, reason)
	}
	return assessment, nil
}
