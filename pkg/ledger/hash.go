package ledger

import (
	"github.com/nikodemus-eth/corvusforge/pkg/canonical"
	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
)

// computeEntryHash hashes the canonical JSON form of every entry field
// except entry_hash itself. Canonical JSON sorts object keys, so the
// struct's Go field order has no bearing on the resulting digest — the
// same logical entry always hashes the same way regardless of how it
// was constructed.
func computeEntryHash(e *contracts.LedgerEntry) (string, error) {
	fields := map[string]any{
		"entry_id":              e.EntryID,
		"run_id":                e.RunID,
		"stage_id":               string(e.StageID),
		"from_state":             string(e.StateTransition.From),
		"to_state":               string(e.StateTransition.To),
		"timestamp_utc":          e.TimestampUTC.UTC().Format("2006-01-02T15:04:05.000000000Z"),
		"input_hash":             e.InputHash,
		"output_hash":            e.OutputHash,
		"artifact_refs":          e.ArtifactRefs,
		"pipeline_version":       e.PipelineVersion,
		"schema_version":         e.SchemaVersion,
		"toolchain_version":      e.ToolchainVersion,
		"ruleset_versions":       e.RulesetVersions,
		"waiver_refs":            e.WaiverRefs,
		"trust_context":          e.TrustContext,
		"trust_context_version":  e.TrustContextVersion,
		"payload_hash":           e.PayloadHash,
		"previous_entry_hash":    e.PreviousEntryHash,
	}
	return canonical.HashValue(fields)
}
