package connector

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cleargrid-labs/conductor/pkg/envelope"
)

// BootstrapRegistration is one connector entry in a bootstrap YAML file.
type BootstrapRegistration struct {
	OrgID    string         `yaml:"org_id"`
	Type     string         `yaml:"type"`
	Name     string         `yaml:"name"`
	Config   map[string]any `yaml:"config"`
	Activate bool           `yaml:"activate"`
}

type bootstrapFile struct {
	Connectors []BootstrapRegistration `yaml:"connectors"`
}

// LoadBootstrap parses a bootstrap YAML file into registrations. Entries
// with Activate true are returned with status active, the rest inactive.
func LoadBootstrap(path string) ([]*envelope.ConnectorRegistration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("connector bootstrap: read %s: %w", path, err)
	}

	var file bootstrapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("connector bootstrap: parse %s: %w", path, err)
	}

	regs := make([]*envelope.ConnectorRegistration, 0, len(file.Connectors))
	for i, entry := range file.Connectors {
		typ := envelope.ConnectorType(entry.Type)
		if entry.OrgID == "" || entry.Name == "" || !typ.Valid() {
			return nil, fmt.Errorf("connector bootstrap: entry %d is invalid (org %q, type %q, name %q)",
				i, entry.OrgID, entry.Type, entry.Name)
		}
		status := envelope.StatusInactive
		if entry.Activate {
			status = envelope.StatusActive
		}
		regs = append(regs, &envelope.ConnectorRegistration{
			OrgID:  entry.OrgID,
			Type:   typ,
			Name:   entry.Name,
			Config: entry.Config,
			Status: status,
		})
	}
	return regs, nil
}

// SeedRegistrations loads a bootstrap file and persists its entries,
// returning how many were created.
func SeedRegistrations(ctx context.Context, store *RegistrationStore, path string) (int, error) {
	regs, err := LoadBootstrap(path)
	if err != nil {
		return 0, err
	}
	for _, reg := range regs {
		if _, err := store.Create(ctx, reg); err != nil {
			return 0, err
		}
	}
	return len(regs), nil
}
