package connector

import (
	"context"
	"fmt"
	"time"
)

// PayablesConnector is the typed façade over an ERP payables system.
type PayablesConnector struct {
	client *Client
}

// NewPayablesConnector wraps an existing client.
func NewPayablesConnector(client *Client) *PayablesConnector {
	return &PayablesConnector{client: client}
}

// Invoice is a payables invoice as the ERP system represents it.
type Invoice struct {
	ID          string        `json:"id,omitempty"`
	VendorID    string        `json:"vendorId"`
	AmountCents int64         `json:"amountCents"`
	Currency    string        `json:"currency"`
	DueDate     *time.Time    `json:"dueDate,omitempty"`
	Lines       []InvoiceLine `json:"lines,omitempty"`
	Status      string        `json:"status,omitempty"`
}

// InvoiceLine is a single line item on an invoice.
type InvoiceLine struct {
	Description    string `json:"description"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
}

// PaymentSchedule requests payment of an invoice on a given date.
type PaymentSchedule struct {
	InvoiceID string    `json:"invoiceId"`
	PayOn     time.Time `json:"payOn"`
	Method    string    `json:"method,omitempty"`
}

// Payment is the ERP's record of a scheduled payment.
type Payment struct {
	ID           string    `json:"id"`
	InvoiceID    string    `json:"invoiceId"`
	ScheduledFor time.Time `json:"scheduledFor"`
	Status       string    `json:"status"`
}

// CreateInvoice creates an invoice in the ERP system.
func (p *PayablesConnector) CreateInvoice(ctx context.Context, inv *Invoice) (*Invoice, error) {
	var created Invoice
	if err := p.client.Post(ctx, "/invoices", inv, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// SchedulePayment schedules payment for an invoice.
func (p *PayablesConnector) SchedulePayment(ctx context.Context, req *PaymentSchedule) (*Payment, error) {
	var payment Payment
	if err := p.client.Post(ctx, "/payments/schedule", req, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetInvoice fetches an invoice by id.
func (p *PayablesConnector) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	var inv Invoice
	if err := p.client.Get(ctx, fmt.Sprintf("/invoices/%s", id), nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}
