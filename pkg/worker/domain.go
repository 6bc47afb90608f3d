package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cleargrid-labs/conductor/pkg/jobs"
)

// DomainHandler executes single-action domain jobs: the job's command type
// names the tool and the payload carries its inputs. It is the handler for
// domain-role workers, where the director's plan machinery would be
// overhead for one call.
type DomainHandler struct {
	dispatcher Dispatcher
}

// NewDomainHandler creates a handler over the dispatcher.
func NewDomainHandler(dispatcher Dispatcher) *DomainHandler {
	return &DomainHandler{dispatcher: dispatcher}
}

// Handle dispatches the job's command as one tool call.
func (h *DomainHandler) Handle(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	var inputs map[string]any
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &inputs); err != nil {
			return nil, fmt.Errorf("decode command payload: %w", err)
		}
	}

	output, err := h.dispatcher.Dispatch(ctx, job.OrgID, job.CommandType, inputs)
	if err != nil {
		return nil, err
	}
	return json.Marshal(output)
}
