package safety

import (
	"context"

	"github.com/cleargrid-labs/conductor/pkg/connector"
	"github.com/cleargrid-labs/conductor/pkg/envelope"
)

// HTTPAssessor submits envelopes to a remote assessment service through
// the standard connector transport.
type HTTPAssessor struct {
	client *connector.Client
}

// NewHTTPAssessor creates an assessor calling the service described by cfg.
func NewHTTPAssessor(cfg connector.Config, opts ...connector.ClientOption) (*HTTPAssessor, error) {
	client, err := connector.NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &HTTPAssessor{client: client}, nil
}

// Assess posts the envelope and decodes the verdict.
func (a *HTTPAssessor) Assess(ctx context.Context, env *envelope.CommandEnvelope) (*Assessment, error) {
	var assessment Assessment
	if err := a.client.Post(ctx, "/assessments", env, &assessment); err != nil {
		return nil, err
	}
	return &assessment, nil
}
