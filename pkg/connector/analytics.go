package connector

import (
	"context"
	"net/url"
	"time"
)

// AnalyticsConnector is the typed façade over an analytics/BI system.
type AnalyticsConnector struct {
	client *Client
}

// NewAnalyticsConnector wraps an existing client.
func NewAnalyticsConnector(client *Client) *AnalyticsConnector {
	return &AnalyticsConnector{client: client}
}

// BoardPackRequest asks for a board reporting pack covering a period.
type BoardPackRequest struct {
	Period   string   `json:"period"`
	Sections []string `json:"sections,omitempty"`
}

// BoardPack is the generated reporting pack.
type BoardPack struct {
	ID          string    `json:"id"`
	Period      string    `json:"period"`
	URL         string    `json:"url,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Scenario describes a what-if model run.
type Scenario struct {
	Name        string             `json:"name"`
	Assumptions map[string]float64 `json:"assumptions,omitempty"`
}

// ScenarioResult carries the model outputs for a scenario.
type ScenarioResult struct {
	Name    string             `json:"name"`
	Outputs map[string]float64 `json:"outputs"`
}

// KPISet is the metric snapshot for a reporting period.
type KPISet struct {
	Period  string             `json:"period"`
	Metrics map[string]float64 `json:"metrics"`
}

// GenerateBoardPack generates a board pack for the requested period.
func (a *AnalyticsConnector) GenerateBoardPack(ctx context.Context, req *BoardPackRequest) (*BoardPack, error) {
	var pack BoardPack
	if err := a.client.Post(ctx, "/board-packs", req, &pack); err != nil {
		return nil, err
	}
	return &pack, nil
}

// RunScenario executes a what-if scenario.
func (a *AnalyticsConnector) RunScenario(ctx context.Context, scenario *Scenario) (*ScenarioResult, error) {
	var result ScenarioResult
	if err := a.client.Post(ctx, "/scenarios/run", scenario, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetKPIs fetches the KPI snapshot for a period.
func (a *AnalyticsConnector) GetKPIs(ctx context.Context, period string) (*KPISet, error) {
	query := url.Values{}
	query.Set("period", period)

	var kpis KPISet
	if err := a.client.Get(ctx, "/kpis", query, &kpis); err != nil {
		return nil, err
	}
	return &kpis, nil
}
