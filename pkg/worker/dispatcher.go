package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cleargrid-labs/conductor/pkg/connector"
)

// ErrUnknownTool is returned when a plan step names a tool the dispatcher
// has no binding for.
var ErrUnknownTool = errors.New("unknown tool")

// Dispatcher executes a named domain action on behalf of an org.
type Dispatcher interface {
	Dispatch(ctx context.Context, orgID, tool string, inputs map[string]any) (any, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, orgID, tool string, inputs map[string]any) (any, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, orgID, tool string, inputs map[string]any) (any, error) {
	return f(ctx, orgID, tool, inputs)
}

// RegistryDispatcher routes tool names to the org's registered connectors.
// Connector resolution happens per dispatch so registration changes take
// effect without a restart.
type RegistryDispatcher struct {
	registry *connector.Registry
}

// NewRegistryDispatcher creates a dispatcher backed by the registry.
func NewRegistryDispatcher(registry *connector.Registry) *RegistryDispatcher {
	return &RegistryDispatcher{registry: registry}
}

// Dispatch resolves the tool name and invokes the matching connector
// operation with the step inputs.
func (d *RegistryDispatcher) Dispatch(ctx context.Context, orgID, tool string, inputs map[string]any) (any, error) {
	switch tool {
	case "payables.create_invoice":
		c, err := d.registry.PayablesFor(ctx, orgID)
		if err != nil {
			return nil, err
		}
		var inv connector.Invoice
		if err := decodeInputs(inputs, &inv); err != nil {
			return nil, err
		}
		return c.CreateInvoice(ctx, &inv)

	case "payables.schedule_payment":
		c, err := d.registry.PayablesFor(ctx, orgID)
		if err != nil {
			return nil, err
		}
		var req connector.PaymentSchedule
		if err := decodeInputs(inputs, &req); err != nil {
			return nil, err
		}
		return c.SchedulePayment(ctx, &req)

	case "payables.get_invoice":
		c, err := d.registry.PayablesFor(ctx, orgID)
		if err != nil {
			return nil, err
		}
		id, err := stringInput(inputs, "invoiceId")
		if err != nil {
			return nil, err
		}
		return c.GetInvoice(ctx, id)

	case "regulatory.submit_filing":
		c, err := d.registry.RegulatoryFor(ctx, orgID)
		if err != nil {
			return nil, err
		}
		var filing connector.Filing
		if err := decodeInputs(inputs, &filing); err != nil {
			return nil, err
		}
		return c.SubmitFiling(ctx, &filing)

	case "regulatory.upload_document":
		c, err := d.registry.RegulatoryFor(ctx, orgID)
		if err != nil {
			return nil, err
		}
		var doc connector.SupportingDocument
		if err := decodeInputs(inputs, &doc); err != nil {
			return nil, err
		}
		return c.UploadDocument(ctx, &doc)

	case "regulatory.filing_status":
		c, err := d.registry.RegulatoryFor(ctx, orgID)
		if err != nil {
			return nil, err
		}
		jurisdiction, err := stringInput(inputs, "jurisdiction")
		if err != nil {
			return nil, err
		}
		filingType, err := stringInput(inputs, "filingType")
		if err != nil {
			return nil, err
		}
		return c.GetFilingStatus(ctx, jurisdiction, filingType)

	case "analytics.generate_board_pack":
		c, err := d.registry.AnalyticsFor(ctx, orgID)
		if err != nil {
			return nil, err
		}
		var req connector.BoardPackRequest
		if err := decodeInputs(inputs, &req); err != nil {
			return nil, err
		}
		return c.GenerateBoardPack(ctx, &req)

	case "analytics.run_scenario":
		c, err := d.registry.AnalyticsFor(ctx, orgID)
		if err != nil {
			return nil, err
		}
		var scenario connector.Scenario
		if err := decodeInputs(inputs, &scenario); err != nil {
			return nil, err
		}
		return c.RunScenario(ctx, &scenario)

	case "analytics.get_kpis":
		c, err := d.registry.AnalyticsFor(ctx, orgID)
		if err != nil {
			return nil, err
		}
		period, err := stringInput(inputs, "period")
		if err != nil {
			return nil, err
		}
		return c.GetKPIs(ctx, period)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
}

func decodeInputs(inputs map[string]any, out any) error {
	raw, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("encode step inputs: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode step inputs: %w", err)
	}
	return nil
}

func stringInput(inputs map[string]any, key string) (string, error) {
	v, ok := inputs[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("step input %q must be a non-empty string", key)
	}
	return v, nil
}
