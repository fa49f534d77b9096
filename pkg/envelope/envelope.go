// Package envelope implements the Envelope Validator: the gate every
// inter-node message passes through before it can reach the Run
// Ledger or a sink. Validation rejects malformed messages outright —
// non-object JSON, missing base fields, an unknown envelope_kind, a
// payload_hash mismatch, or a schema_version outside the accepted
// range — before any field is trusted downstream.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nikodemus-eth/corvusforge/pkg/canonical"
	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
)

// Validator parses and validates raw envelope bytes. Per-kind JSON
// schemas are optional: a kind with no registered schema is accepted
// on base-field, payload_hash and schema_version checks alone.
type Validator struct {
	schemaConstraint *semver.Constraints

	mu      sync.RWMutex
	schemas map[contracts.EnvelopeKind]*jsonschema.Schema
}

// New builds a Validator accepting schema_version values matching
// versionConstraint (e.g. ">=1.0.0, <2.0.0"), Masterminds/semver
// syntax.
func New(versionConstraint string) (*Validator, error) {
	c, err := semver.NewConstraint(versionConstraint)
	if err != nil {
		return nil, fmt.Errorf("envelope: invalid schema_version constraint %q: %w", versionConstraint, err)
	}
	return &Validator{
		schemaConstraint: c,
		schemas:          make(map[contracts.EnvelopeKind]*jsonschema.Schema),
	}, nil
}

// RegisterPayloadSchema compiles and stores a JSON Schema (2020-12
// draft) that every envelope of kind must satisfy in its payload.
func (v *Validator) RegisterPayloadSchema(kind contracts.EnvelopeKind, schemaURI, schemaJSON string) error {
	if !contracts.ValidEnvelopeKinds[kind] {
		return fmt.Errorf("envelope: cannot register schema for unknown kind %q", kind)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURI, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("envelope: failed to load schema for %s: %w", kind, err)
	}
	compiled, err := c.Compile(schemaURI)
	if err != nil {
		return fmt.Errorf("envelope: failed to compile schema for %s: %w", kind, err)
	}
	v.mu.Lock()
	v.schemas[kind] = compiled
	v.mu.Unlock()
	return nil
}

// ParseAndValidate parses raw as JSON and validates it into a sealed
// Envelope. Non-object JSON (arrays, scalars, null) is rejected before
// any field is accessed.
func (v *Validator) ParseAndValidate(raw []byte) (*contracts.Envelope, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, &contracts.EnvelopeValidationError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	obj, ok := generic.(map[string]any)
	if !ok {
		return nil, &contracts.EnvelopeValidationError{Reason: "envelope must be a JSON object"}
	}

	env, err := v.buildEnvelope(obj)
	if err != nil {
		return nil, err
	}

	if err := v.validateBaseFields(env); err != nil {
		return nil, err
	}
	if err := v.validatePayloadHash(env, obj); err != nil {
		return nil, err
	}
	if err := v.validateSchemaVersion(env); err != nil {
		return nil, err
	}
	if err := v.validatePayloadSchema(env); err != nil {
		return nil, err
	}

	return env, nil
}

func (v *Validator) buildEnvelope(obj map[string]any) (*contracts.Envelope, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, &contracts.EnvelopeValidationError{Reason: fmt.Sprintf("failed to re-marshal envelope: %v", err)}
	}
	var env contracts.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &contracts.EnvelopeValidationError{Reason: fmt.Sprintf("failed to decode envelope fields: %v", err)}
	}
	return &env, nil
}

func (v *Validator) validateBaseFields(env *contracts.Envelope) error {
	if env.EnvelopeID == "" {
		return &contracts.EnvelopeValidationError{Field: "envelope_id", Reason: "required"}
	}
	if env.RunID == "" {
		return &contracts.EnvelopeValidationError{Field: "run_id", Reason: "required"}
	}
	if env.SourceNodeID == "" {
		return &contracts.EnvelopeValidationError{Field: "source_node_id", Reason: "required"}
	}
	if env.DestinationNodeID == "" {
		return &contracts.EnvelopeValidationError{Field: "destination_node_id", Reason: "required"}
	}
	if env.EnvelopeKind == "" {
		return &contracts.EnvelopeValidationError{Field: "envelope_kind", Reason: "required"}
	}
	if !contracts.ValidEnvelopeKinds[env.EnvelopeKind] {
		return &contracts.EnvelopeValidationError{Field: "envelope_kind", Reason: fmt.Sprintf("unknown kind %q", env.EnvelopeKind)}
	}
	if env.PayloadHash == "" {
		return &contracts.EnvelopeValidationError{Field: "payload_hash", Reason: "required"}
	}
	if env.TimestampUTC.IsZero() {
		return &contracts.EnvelopeValidationError{Field: "timestamp_utc", Reason: "required"}
	}
	if env.SchemaVersion == "" {
		return &contracts.EnvelopeValidationError{Field: "schema_version", Reason: "required"}
	}
	return nil
}

func (v *Validator) validatePayloadHash(env *contracts.Envelope, obj map[string]any) error {
	payload, _ := obj["payload"].(map[string]any)
	want, err := canonical.HashValue(payload)
	if err != nil {
		return &contracts.EnvelopeValidationError{Field: "payload", Reason: fmt.Sprintf("failed to canonicalize: %v", err)}
	}
	if want != env.PayloadHash {
		return &contracts.EnvelopeValidationError{Field: "payload_hash", Reason: fmt.Sprintf("expected %s, got %s", want, env.PayloadHash)}
	}
	return nil
}

func (v *Validator) validateSchemaVersion(env *contracts.Envelope) error {
	ver, err := semver.NewVersion(env.SchemaVersion)
	if err != nil {
		return &contracts.EnvelopeValidationError{Field: "schema_version", Reason: fmt.Sprintf("not a valid semver: %v", err)}
	}
	if !v.schemaConstraint.Check(ver) {
		return &contracts.EnvelopeValidationError{Field: "schema_version", Reason: fmt.Sprintf("%s does not satisfy %s", env.SchemaVersion, v.schemaConstraint.String())}
	}
	return nil
}

func (v *Validator) validatePayloadSchema(env *contracts.Envelope) error {
	v.mu.RLock()
	schema, ok := v.schemas[env.EnvelopeKind]
	v.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := schema.Validate(env.Payload); err != nil {
		return &contracts.EnvelopeValidationError{Field: "payload", Reason: fmt.Sprintf("schema validation failed: %v", err)}
	}
	return nil
}
