// Package contracts holds the data model shared by every Corvusforge
// component: stage identifiers, ledger entries, artifacts, waivers,
// envelopes, and anchors. Nothing in this package has behavior beyond
// small value-type helpers; the invariants live in the packages that
// construct and seal these values.
package contracts

import "time"

// StageID is an opaque identifier drawn from the fixed pipeline stage set.
type StageID string

const (
	StageIntake           StageID = "s0_intake"
	StagePrerequisites    StageID = "s1_prerequisites"
	StageEnvironment      StageID = "s2_environment"
	StageTestContracting  StageID = "s3_test_contracting"
	StageCodePlan         StageID = "s4_code_plan"
	StageImplementation   StageID = "s5_implementation"
	StageAccessibility    StageID = "s55_accessibility"
	StageSecurity         StageID = "s575_security"
	StageVerification     StageID = "s6_verification"
	StageRelease          StageID = "s7_release"
)

// StageOrder lists every stage in its canonical pipeline order.
var StageOrder = []StageID{
	StageIntake,
	StagePrerequisites,
	StageEnvironment,
	StageTestContracting,
	StageCodePlan,
	StageImplementation,
	StageAccessibility,
	StageSecurity,
	StageVerification,
	StageRelease,
}

// StageState is one of the five states a stage may occupy within a run.
type StageState string

const (
	StateNotStarted StageState = "NOT_STARTED"
	StateRunning    StageState = "RUNNING"
	StatePassed     StageState = "PASSED"
	StateFailed     StageState = "FAILED"
	StateBlocked    StageState = "BLOCKED"
)

// StateTransition is a from→to pair recorded on a ledger entry.
type StateTransition struct {
	From StageState `json:"from"`
	To   StageState `json:"to"`
}

// TrustContext carries fingerprints of the active plugin/waiver/anchor
// public keys, sealed into every ledger entry so key rotations are
// forensically visible.
type TrustContext struct {
	PluginTrustRootFP   string `json:"plugin_trust_root_fp"`
	WaiverSigningKeyFP  string `json:"waiver_signing_key_fp"`
	AnchorKeyFP         string `json:"anchor_key_fp"`
}

// TrustContextVersion is the current trust-context schema version.
const TrustContextVersion = "1"

// LedgerEntry is a frozen, hash-chained record of one stage-state
// transition. Callers never set EntryHash or PreviousEntryHash
// directly — the Ledger computes both at append time.
type LedgerEntry struct {
	EntryID         string            `json:"entry_id"`
	RunID           string            `json:"run_id"`
	StageID         StageID           `json:"stage_id"`
	StateTransition StateTransition   `json:"state_transition"`
	TimestampUTC    time.Time         `json:"timestamp_utc"`

	InputHash  string `json:"input_hash"`
	OutputHash string `json:"output_hash"`

	ArtifactRefs []string `json:"artifact_refs"`

	PipelineVersion  string            `json:"pipeline_version"`
	SchemaVersion    string            `json:"schema_version"`
	ToolchainVersion string            `json:"toolchain_version"`
	RulesetVersions  map[string]string `json:"ruleset_versions"`

	WaiverRefs []string `json:"waiver_refs"`

	TrustContext        TrustContext `json:"trust_context"`
	TrustContextVersion string       `json:"trust_context_version"`

	PayloadHash string `json:"payload_hash"`

	PreviousEntryHash string `json:"previous_entry_hash"`
	EntryHash         string `json:"entry_hash"`
}

// Anchor is an externally witnessable checkpoint of a run's ledger chain.
type Anchor struct {
	RunID          string    `json:"run_id"`
	EntryCount     int       `json:"entry_count"`
	RootHash       string    `json:"root_hash"`
	FirstEntryHash string    `json:"first_entry_hash"`
	TimestampUTC   time.Time `json:"timestamp_utc"`
	AnchorHash     string    `json:"anchor_hash"`

	Signature string `json:"signature,omitempty"`
}

// Artifact is an immutable, content-addressed blob.
type Artifact struct {
	ContentAddress string `json:"content_address"`
	SizeBytes      int64  `json:"size_bytes"`
	MediaType      string `json:"media_type"`
	Bytes          []byte `json:"bytes"`
}

// Waiver is a signed artifact authorizing a bounded bypass of a gate.
type Waiver struct {
	WaiverID          string    `json:"waiver_id"`
	ScopeStageID      StageID   `json:"scope_stage_id"`
	ScopeGate         string    `json:"scope_gate"`
	ScopeExpr         string    `json:"scope_expr,omitempty"`
	Justification     string    `json:"justification"`
	ApprovingIdentity string    `json:"approving_identity"`
	Signature         string    `json:"signature"`
	IssuedAt          time.Time `json:"issued_at"`
	ExpiresAt         time.Time `json:"expires_at"`

	SignatureVerified bool `json:"signature_verified"`
}

// EnvelopeKind enumerates the six message kinds the Envelope Validator accepts.
type EnvelopeKind string

const (
	EnvelopeWorkOrder     EnvelopeKind = "WorkOrder"
	EnvelopeEvent         EnvelopeKind = "Event"
	EnvelopeArtifact      EnvelopeKind = "Artifact"
	EnvelopeClarification EnvelopeKind = "Clarification"
	EnvelopeFailure       EnvelopeKind = "Failure"
	EnvelopeResponse      EnvelopeKind = "Response"
)

// ValidEnvelopeKinds is the fixed set of acceptable envelope kinds.
var ValidEnvelopeKinds = map[EnvelopeKind]bool{
	EnvelopeWorkOrder:     true,
	EnvelopeEvent:         true,
	EnvelopeArtifact:      true,
	EnvelopeClarification: true,
	EnvelopeFailure:       true,
	EnvelopeResponse:      true,
}

// Envelope is a validated inter-node message.
type Envelope struct {
	EnvelopeID        string         `json:"envelope_id"`
	RunID             string         `json:"run_id"`
	SourceNodeID      string         `json:"source_node_id"`
	DestinationNodeID string         `json:"destination_node_id"`
	EnvelopeKind      EnvelopeKind   `json:"envelope_kind"`
	PayloadHash       string         `json:"payload_hash"`
	TimestampUTC      time.Time      `json:"timestamp_utc"`
	SchemaVersion     string         `json:"schema_version"`
	Payload           map[string]any `json:"payload"`
}
