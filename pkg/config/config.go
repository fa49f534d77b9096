// Package config loads the YAML configuration that feeds the
// Production Guard and the orchestrator's component wiring.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment names the deployment tier. The Production Guard only
// enforces its strict checks when this is EnvironmentProduction.
type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentStaging     Environment = "staging"
	EnvironmentProduction  Environment = "production"
)

// LedgerConfig configures the Run Ledger's backing store.
type LedgerConfig struct {
	DSN string `yaml:"dsn"`
}

// ArtifactConfig configures the Artifact Store backend.
type ArtifactConfig struct {
	Backend    string `yaml:"backend"`
	BaseDir    string `yaml:"base_dir"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Prefix   string `yaml:"s3_prefix"`
}

// TrustConfig names the public keys the Crypto Bridge computes trust
// context fingerprints from, and the private keys it signs with.
type TrustConfig struct {
	PluginTrustRootPublicHex  string `yaml:"plugin_trust_root_public_hex"`
	WaiverSigningKeyPublicHex string `yaml:"waiver_signing_key_public_hex"`
	WaiverSigningKeyPrivateHex string `yaml:"waiver_signing_key_private_hex,omitempty"`
	AnchorKeyPublicHex        string `yaml:"anchor_key_public_hex"`
	AnchorKeyPrivateHex       string `yaml:"anchor_key_private_hex,omitempty"`
}

// WaiverConfig configures the Waiver Manager's signature mode.
type WaiverConfig struct {
	Strict bool `yaml:"strict"`
}

// SinkConfig configures one concrete sink to register with the dispatcher.
type SinkConfig struct {
	Type    string `yaml:"type"` // "log" | "postgres" | "redis"
	DSN     string `yaml:"dsn,omitempty"`
	Channel string `yaml:"channel,omitempty"`
}

// Config is the full process configuration.
type Config struct {
	Environment Environment      `yaml:"environment"`
	Ledger      LedgerConfig     `yaml:"ledger"`
	Artifacts   ArtifactConfig   `yaml:"artifacts"`
	Trust       TrustConfig      `yaml:"trust"`
	Waivers     WaiverConfig     `yaml:"waivers"`
	Sinks       []SinkConfig     `yaml:"sinks"`
	EnvelopeSchemaVersionRange string `yaml:"envelope_schema_version_range"`
	RequireRealCryptoProvider  bool   `yaml:"require_real_crypto_provider"`

	// RequiredTrustKeys names which trust-config key roles the
	// Production Guard requires to be present and non-empty in
	// production. Defaults to {plugin_trust_root, waiver_signing_key}
	// when unset; a deployment may widen this (e.g. to also require
	// anchor_key).
	RequiredTrustKeys []string `yaml:"required_trust_keys,omitempty"`

	// SupplementaryPolicyExpr, if set, is an additional CEL boolean
	// expression the Production Guard evaluates (stage_id and gate
	// bound to the empty string, context bound to a map whose only key
	// is "environment") before allowing a production startup to proceed. Absence
	// changes nothing about the guard's mandatory checks.
	SupplementaryPolicyExpr string `yaml:"supplementary_policy_expr,omitempty"`
}

// Load reads and parses a YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	if cfg.Environment == "" {
		cfg.Environment = EnvironmentDevelopment
	}
	if cfg.EnvelopeSchemaVersionRange == "" {
		cfg.EnvelopeSchemaVersionRange = ">=1.0.0, <2.0.0"
	}
	if cfg.RequiredTrustKeys == nil {
		cfg.RequiredTrustKeys = []string{"plugin_trust_root", "waiver_signing_key"}
	}
	return &cfg, nil
}

// IsProduction reports whether cfg targets the production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}
