package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError represents a specific validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Code)
}

// ValidationResult contains the outcome of a schema validation pass.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
	Hash   string            `json:"hash,omitempty"` // Content hash if valid
}

// Validator validates the orchestration wire shapes against their compiled
// JSON Schemas.
type Validator struct {
	command      *jsonschema.Schema
	registration *jsonschema.Schema
	claim        *jsonschema.Schema
	result       *jsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	v := &Validator{}
	var err error
	if v.command, err = compile("command-envelope", commandEnvelopeSchema); err != nil {
		return nil, err
	}
	if v.registration, err = compile("connector-registration", connectorRegistrationSchema); err != nil {
		return nil, err
	}
	if v.claim, err = compile("job-claim", jobClaimSchema); err != nil {
		return nil, err
	}
	if v.result, err = compile("job-result", jobResultSchema); err != nil {
		return nil, err
	}
	return v, nil
}

// MustNewValidator panics on schema compilation failure. The schemas are
// embedded constants, so a failure here is a programming error.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

func compile(name, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://conductor.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("envelope: schema %s load failed: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("envelope: schema %s compile failed: %w", name, err)
	}
	return compiled, nil
}

// ValidateCommand validates and normalizes an inbound command envelope.
// On success the result carries the envelope's canonical content hash.
func (v *Validator) ValidateCommand(raw []byte) (*CommandEnvelope, *ValidationResult) {
	result := v.check(v.command, raw)
	if !result.Valid {
		return nil, result
	}

	var env CommandEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, invalid("envelope", "DECODE_FAILED", err.Error())
	}
	env.Normalize()

	if hash, err := env.ContentHash(); err == nil {
		result.Hash = hash
	}
	return &env, result
}

// ValidateRegistration validates a connector registration. A missing
// status defaults to inactive.
func (v *Validator) ValidateRegistration(raw []byte) (*ConnectorRegistration, *ValidationResult) {
	result := v.check(v.registration, raw)
	if !result.Valid {
		return nil, result
	}

	var reg ConnectorRegistration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, invalid("registration", "DECODE_FAILED", err.Error())
	}
	if reg.Status == "" {
		reg.Status = StatusInactive
	}
	return &reg, result
}

// ValidateClaim validates a worker's job claim request.
func (v *Validator) ValidateClaim(raw []byte) (*JobClaim, *ValidationResult) {
	result := v.check(v.claim, raw)
	if !result.Valid {
		return nil, result
	}

	var claim JobClaim
	if err := json.Unmarshal(raw, &claim); err != nil {
		return nil, invalid("claim", "DECODE_FAILED", err.Error())
	}
	return &claim, result
}

// ValidateResult validates a terminal job result report.
func (v *Validator) ValidateResult(raw []byte) (*JobResult, *ValidationResult) {
	result := v.check(v.result, raw)
	if !result.Valid {
		return nil, result
	}

	var res JobResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, invalid("result", "DECODE_FAILED", err.Error())
	}
	return &res, result
}

func (v *Validator) check(schema *jsonschema.Schema, raw []byte) *ValidationResult {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return invalid("$", "INVALID_JSON", err.Error())
	}

	if err := schema.Validate(value); err != nil {
		result := &ValidationResult{Valid: false}
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			for _, leaf := range flatten(ve) {
				field := leaf.InstanceLocation
				if field == "" {
					field = "$"
				}
				result.Errors = append(result.Errors, ValidationError{
					Field:   field,
					Code:    "SCHEMA_VIOLATION",
					Message: leaf.Message,
				})
			}
		} else {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "$",
				Code:    "SCHEMA_VIOLATION",
				Message: err.Error(),
			})
		}
		return result
	}
	return &ValidationResult{Valid: true}
}

// flatten walks the cause tree and returns the leaf violations, which carry
// the most specific instance locations.
func flatten(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var leaves []*jsonschema.ValidationError
	for _, cause := range ve.Causes {
		leaves = append(leaves, flatten(cause)...)
	}
	return leaves
}

func invalid(field, code, message string) *ValidationResult {
	return &ValidationResult{
		Valid:  false,
		Errors: []ValidationError{{Field: field, Code: code, Message: message}},
	}
}
