package connector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cleargrid-labs/conductor/pkg/envelope"
)

// ErrNoActiveConnector is returned when an org has no active registration
// of the requested type.
var ErrNoActiveConnector = errors.New("no active connector registration")

// ErrInvalidTransition is returned for a registration status change that
// violates the monotone lifecycle.
var ErrInvalidTransition = errors.New("invalid registration status transition")

// ErrRegistrationNotFound is returned for operations on unknown
// registration ids.
var ErrRegistrationNotFound = errors.New("connector registration not found")

// RegistrationStore persists connector registrations in SQL.
type RegistrationStore struct {
	db *sql.DB
}

// NewRegistrationStore creates the store and its schema.
func NewRegistrationStore(db *sql.DB) (*RegistrationStore, error) {
	s := &RegistrationStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RegistrationStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS connector_registrations (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		config JSON,
		status TEXT NOT NULL,
		metadata JSON,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_registrations_org_type ON connector_registrations(org_id, type, status);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Create persists a new registration and returns its id.
func (s *RegistrationStore) Create(ctx context.Context, reg *envelope.ConnectorRegistration) (string, error) {
	if reg.ID == "" {
		reg.ID = uuid.New().String()
	}
	if reg.Status == "" {
		reg.Status = envelope.StatusInactive
	}
	now := time.Now().UTC()
	reg.CreatedAt = now
	reg.UpdatedAt = now

	configJSON, _ := json.Marshal(reg.Config)
	metaJSON, _ := json.Marshal(reg.Metadata)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connector_registrations (id, org_id, type, name, config, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reg.ID, reg.OrgID, string(reg.Type), reg.Name, string(configJSON), string(reg.Status), string(metaJSON),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert registration: %w", err)
	}
	return reg.ID, nil
}

// Get fetches a registration by id.
func (s *RegistrationStore) Get(ctx context.Context, id string) (*envelope.ConnectorRegistration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, type, name, config, status, metadata, created_at, updated_at
		FROM connector_registrations WHERE id = ?`, id)
	reg, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRegistrationNotFound, id)
	}
	return reg, err
}

// ListByOrg enumerates an org's registrations.
func (s *RegistrationStore) ListByOrg(ctx context.Context, orgID string) ([]*envelope.ConnectorRegistration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, type, name, config, status, metadata, created_at, updated_at
		FROM connector_registrations WHERE org_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var regs []*envelope.ConnectorRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// UpdateStatus advances a registration's lifecycle. Transitions must be
// monotone toward active or error; anything else is rejected.
func (s *RegistrationStore) UpdateStatus(ctx context.Context, id string, next envelope.RegistrationStatus) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !current.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, next)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE connector_registrations SET status = ?, updated_at = ? WHERE id = ?`,
		string(next), time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

// ActiveForOrg returns the first active registration of the given type.
func (s *RegistrationStore) ActiveForOrg(ctx context.Context, orgID string, typ envelope.ConnectorType) (*envelope.ConnectorRegistration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, type, name, config, status, metadata, created_at, updated_at
		FROM connector_registrations
		WHERE org_id = ? AND type = ? AND status = ?
		ORDER BY created_at LIMIT 1`,
		orgID, string(typ), string(envelope.StatusActive))

	reg, err := scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: org %s type %s", ErrNoActiveConnector, orgID, typ)
	}
	return reg, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row rowScanner) (*envelope.ConnectorRegistration, error) {
	var reg envelope.ConnectorRegistration
	var typ, status, configJSON, metaJSON, createdAt, updatedAt string
	if err := row.Scan(&reg.ID, &reg.OrgID, &typ, &reg.Name, &configJSON, &status, &metaJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	reg.Type = envelope.ConnectorType(typ)
	reg.Status = envelope.RegistrationStatus(status)
	_ = json.Unmarshal([]byte(configJSON), &reg.Config)
	_ = json.Unmarshal([]byte(metaJSON), &reg.Metadata)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		reg.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		reg.UpdatedAt = t
	}
	return &reg, nil
}

// Registry builds per-org typed connectors from active registrations.
// Clients are constructed per call from the registration's config; there is
// no process-wide client cache, so tenants never share transport state.
type Registry struct {
	store *RegistrationStore
	opts  []ClientOption
}

// NewRegistry creates a registry over the given store. Options are applied
// to every client the registry constructs.
func NewRegistry(store *RegistrationStore, opts ...ClientOption) *Registry {
	return &Registry{store: store, opts: opts}
}

// PayablesFor resolves the org's active ERP connector.
func (r *Registry) PayablesFor(ctx context.Context, orgID string) (*PayablesConnector, error) {
	client, err := r.clientFor(ctx, orgID, envelope.ConnectorERP)
	if err != nil {
		return nil, err
	}
	return NewPayablesConnector(client), nil
}

// RegulatoryFor resolves the org's active compliance connector, falling
// back to a tax connector when no compliance registration exists.
func (r *Registry) RegulatoryFor(ctx context.Context, orgID string) (*RegulatoryConnector, error) {
	client, err := r.clientFor(ctx, orgID, envelope.ConnectorCompliance)
	if errors.Is(err, ErrNoActiveConnector) {
		client, err = r.clientFor(ctx, orgID, envelope.ConnectorTax)
	}
	if err != nil {
		return nil, err
	}
	return NewRegulatoryConnector(client), nil
}

// AnalyticsFor resolves the org's active analytics connector.
func (r *Registry) AnalyticsFor(ctx context.Context, orgID string) (*AnalyticsConnector, error) {
	client, err := r.clientFor(ctx, orgID, envelope.ConnectorAnalytics)
	if err != nil {
		return nil, err
	}
	return NewAnalyticsConnector(client), nil
}

func (r *Registry) clientFor(ctx context.Context, orgID string, typ envelope.ConnectorType) (*Client, error) {
	reg, err := r.store.ActiveForOrg(ctx, orgID, typ)
	if err != nil {
		return nil, err
	}
	return NewClient(ConfigFromRegistration(reg), r.opts...)
}

// ConfigFromRegistration extracts the transport config from a
// registration's free-form config map.
func ConfigFromRegistration(reg *envelope.ConnectorRegistration) Config {
	cfg := Config{}
	if v, ok := reg.Config["endpoint"].(string); ok {
		cfg.Endpoint = v
	}
	if v, ok := reg.Config["apiKey"].(string); ok {
		cfg.APIKey = v
	}
	if v, ok := reg.Config["tenantId"].(string); ok {
		cfg.TenantID = v
	}
	if v, ok := reg.Config["timeoutMs"].(float64); ok && v > 0 {
		cfg.Timeout = time.Duration(v) * time.Millisecond
	}
	if headers, ok := reg.Config["extraHeaders"].(map[string]any); ok {
		cfg.ExtraHeaders = make(map[string]string, len(headers))
		for k, v := range headers {
			if s, ok := v.(string); ok {
				cfg.ExtraHeaders[k] = s
			}
		}
	}
	return cfg
}
