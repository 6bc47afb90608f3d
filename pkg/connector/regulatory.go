package connector

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// RegulatoryConnector is the typed façade over a regulatory filing system.
type RegulatoryConnector struct {
	client *Client
}

// NewRegulatoryConnector wraps an existing client.
func NewRegulatoryConnector(client *Client) *RegulatoryConnector {
	return &RegulatoryConnector{client: client}
}

// Filing is a regulatory filing submission.
type Filing struct {
	ID           string         `json:"id,omitempty"`
	Jurisdiction string         `json:"jurisdiction"`
	FilingType   string         `json:"filingType"`
	Period       string         `json:"period"`
	Payload      map[string]any `json:"payload,omitempty"`
	Status       string         `json:"status,omitempty"`
	SubmittedAt  *time.Time     `json:"submittedAt,omitempty"`
}

// SupportingDocument attaches evidence to a filing. Content is
// base64-encoded on the wire by the JSON codec.
type SupportingDocument struct {
	FilingID string `json:"filingId"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Content  []byte `json:"content"`
}

// DocumentReceipt acknowledges an uploaded document.
type DocumentReceipt struct {
	ID         string    `json:"id"`
	FilingID   string    `json:"filingId"`
	Name       string    `json:"name"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// FilingStatus reports where a filing stands with the regulator.
type FilingStatus struct {
	Jurisdiction string     `json:"jurisdiction"`
	FilingType   string     `json:"filingType"`
	Status       string     `json:"status"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

// SubmitFiling submits a filing to the regulator.
func (r *RegulatoryConnector) SubmitFiling(ctx context.Context, filing *Filing) (*Filing, error) {
	var submitted Filing
	if err := r.client.Post(ctx, "/filings", filing, &submitted); err != nil {
		return nil, err
	}
	return &submitted, nil
}

// UploadDocument attaches a supporting document to an existing filing.
func (r *RegulatoryConnector) UploadDocument(ctx context.Context, doc *SupportingDocument) (*DocumentReceipt, error) {
	var receipt DocumentReceipt
	path := fmt.Sprintf("/filings/%s/documents", doc.FilingID)
	if err := r.client.Post(ctx, path, doc, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// GetFilingStatus fetches the current status for (jurisdiction, filingType).
func (r *RegulatoryConnector) GetFilingStatus(ctx context.Context, jurisdiction, filingType string) (*FilingStatus, error) {
	query := url.Values{}
	query.Set("jurisdiction", jurisdiction)
	query.Set("filingType", filingType)

	var status FilingStatus
	if err := r.client.Get(ctx, "/filings/status", query, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
