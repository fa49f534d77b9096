// Package orchestrator is the thin composition layer over the Run
// Ledger, Stage Machine, Crypto Bridge, and Waiver Manager. It owns no
// invariant of its own: every guarantee it appears to provide is
// actually enforced by the package it delegates to.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nikodemus-eth/corvusforge/pkg/canonical"
	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
	"github.com/nikodemus-eth/corvusforge/pkg/crypto"
	"github.com/nikodemus-eth/corvusforge/pkg/ledger"
	"github.com/nikodemus-eth/corvusforge/pkg/stagemachine"
)

// StageHandler performs the actual work of one stage, given its
// input payload, and returns an output payload plus any artifact
// content addresses it produced.
type StageHandler func(ctx context.Context, payload map[string]any) (output map[string]any, artifactRefs []string, err error)

// Orchestrator composes the core packages into start/execute/verify
// operations over a run.
type Orchestrator struct {
	ledger  *ledger.Ledger
	machine *stagemachine.Machine
	bridge  *crypto.Bridge

	pluginTrustRootPublicHex  string
	waiverSigningKeyPublicHex string
	anchorKeyPublicHex        string

	pipelineVersion  string
	schemaVersion    string
	toolchainVersion string

	handlers map[contracts.StageID]StageHandler
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithTrustKeys sets the public keys the Crypto Bridge fingerprints
// into every run's trust context.
func WithTrustKeys(pluginTrustRootPublicHex, waiverSigningKeyPublicHex, anchorKeyPublicHex string) Option {
	return func(o *Orchestrator) {
		o.pluginTrustRootPublicHex = pluginTrustRootPublicHex
		o.waiverSigningKeyPublicHex = waiverSigningKeyPublicHex
		o.anchorKeyPublicHex = anchorKeyPublicHex
	}
}

// WithVersions sets the version strings recorded on every entry the
// orchestrator appends through StartRun and ExecuteStage; the cascade
// entries the Stage Machine appends on its own carry none.
func WithVersions(pipelineVersion, schemaVersion, toolchainVersion string) Option {
	return func(o *Orchestrator) {
		o.pipelineVersion = pipelineVersion
		o.schemaVersion = schemaVersion
		o.toolchainVersion = toolchainVersion
	}
}

// New constructs an Orchestrator. Callers are expected to have run
// guard.Check against the same configuration before calling this.
func New(l *ledger.Ledger, machine *stagemachine.Machine, bridge *crypto.Bridge, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledger:   l,
		machine:  machine,
		bridge:   bridge,
		handlers: make(map[contracts.StageID]StageHandler),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterHandler associates a StageHandler with a stage. ExecuteStage
// fails if no handler is registered for the stage it's asked to run.
func (o *Orchestrator) RegisterHandler(stage contracts.StageID, handler StageHandler) {
	o.handlers[stage] = handler
}

func (o *Orchestrator) trustContext() contracts.TrustContext {
	pluginFP, waiverFP, anchorFP := crypto.ComputeTrustContext(
		o.pluginTrustRootPublicHex, o.waiverSigningKeyPublicHex, o.anchorKeyPublicHex,
	)
	return contracts.TrustContext{
		PluginTrustRootFP:  pluginFP,
		WaiverSigningKeyFP: waiverFP,
		AnchorKeyFP:        anchorFP,
	}
}

// StartRun begins a new run: it computes the trust context from the
// orchestrator's configured keys and records the intake stage as an
// immediate NOT_STARTED->RUNNING->PASSED pair carrying prerequisites
// as its payload hash.
func (o *Orchestrator) StartRun(ctx context.Context, prerequisites map[string]any) (string, error) {
	runID := uuid.NewString()
	tc := o.trustContext()

	payloadHash, err := canonical.HashValue(prerequisites)
	if err != nil {
		return "", fmt.Errorf("orchestrator: failed to hash prerequisites: %w", err)
	}

	if _, err := o.machine.Transition(ctx, stagemachine.TransitionInput{
		RunID:            runID,
		Stage:            contracts.StageIntake,
		Target:           contracts.StateRunning,
		PayloadHash:      payloadHash,
		TrustContext:     tc,
		PipelineVersion:  o.pipelineVersion,
		SchemaVersion:    o.schemaVersion,
		ToolchainVersion: o.toolchainVersion,
	}); err != nil {
		return "", fmt.Errorf("orchestrator: failed to start intake for run %s: %w", runID, err)
	}

	if _, err := o.machine.Transition(ctx, stagemachine.TransitionInput{
		RunID:            runID,
		Stage:            contracts.StageIntake,
		Target:           contracts.StatePassed,
		PayloadHash:      payloadHash,
		TrustContext:     tc,
		PipelineVersion:  o.pipelineVersion,
		SchemaVersion:    o.schemaVersion,
		ToolchainVersion: o.toolchainVersion,
	}); err != nil {
		return "", fmt.Errorf("orchestrator: failed to pass intake for run %s: %w", runID, err)
	}

	return runID, nil
}

// ExecuteStage validates stage via the Stage Machine, invokes its
// registered handler, and appends the final transition recording
// both the input and output hashes. A handler error transitions the
// stage to FAILED (triggering cascade-block) rather than leaving it
// RUNNING.
func (o *Orchestrator) ExecuteStage(ctx context.Context, runID string, stage contracts.StageID, payload map[string]any) (map[string]any, error) {
	handler, ok := o.handlers[stage]
	if !ok {
		return nil, fmt.Errorf("orchestrator: no handler registered for stage %s", stage)
	}

	tc := o.trustContext()
	inputHash, err := canonical.HashValue(payload)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: failed to hash input for stage %s: %w", stage, err)
	}

	if _, err := o.machine.Transition(ctx, stagemachine.TransitionInput{
		RunID:            runID,
		Stage:            stage,
		Target:           contracts.StateRunning,
		InputHash:        inputHash,
		PayloadHash:      inputHash,
		TrustContext:     tc,
		PipelineVersion:  o.pipelineVersion,
		SchemaVersion:    o.schemaVersion,
		ToolchainVersion: o.toolchainVersion,
	}); err != nil {
		return nil, err
	}

	output, artifactRefs, handlerErr := handler(ctx, payload)
	if handlerErr != nil {
		if _, err := o.machine.Transition(ctx, stagemachine.TransitionInput{
			RunID:            runID,
			Stage:            stage,
			Target:           contracts.StateFailed,
			InputHash:        inputHash,
			TrustContext:     tc,
			PipelineVersion:  o.pipelineVersion,
			SchemaVersion:    o.schemaVersion,
			ToolchainVersion: o.toolchainVersion,
		}); err != nil {
			return nil, fmt.Errorf("orchestrator: stage %s failed (%v) and failure transition also failed: %w", stage, handlerErr, err)
		}
		return nil, handlerErr
	}

	outputHash, err := canonical.HashValue(output)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: failed to hash output for stage %s: %w", stage, err)
	}

	if _, err := o.machine.Transition(ctx, stagemachine.TransitionInput{
		RunID:            runID,
		Stage:            stage,
		Target:           contracts.StatePassed,
		InputHash:        inputHash,
		OutputHash:       outputHash,
		ArtifactRefs:     artifactRefs,
		TrustContext:     tc,
		PipelineVersion:  o.pipelineVersion,
		SchemaVersion:    o.schemaVersion,
		ToolchainVersion: o.toolchainVersion,
	}); err != nil {
		return nil, err
	}

	return output, nil
}

// VerifyChain delegates to the Run Ledger.
func (o *Orchestrator) VerifyChain(ctx context.Context, runID string) error {
	return o.ledger.VerifyChain(ctx, runID)
}

// GetStates delegates to the Stage Machine.
func (o *Orchestrator) GetStates(runID string) map[contracts.StageID]contracts.StageState {
	return o.machine.GetStates(runID)
}

// GetRunEntries delegates to the Run Ledger.
func (o *Orchestrator) GetRunEntries(ctx context.Context, runID string) ([]*contracts.LedgerEntry, error) {
	return o.ledger.EntriesForRun(ctx, runID)
}

// ExportAnchor delegates to the Run Ledger, signing with anchorPrivateKeyHex if non-empty.
func (o *Orchestrator) ExportAnchor(ctx context.Context, runID, anchorPrivateKeyHex string) (*contracts.Anchor, error) {
	return o.ledger.ExportAnchor(ctx, runID, o.bridge, anchorPrivateKeyHex)
}

// VerifyAgainstAnchor delegates to the Run Ledger.
func (o *Orchestrator) VerifyAgainstAnchor(ctx context.Context, anchor *contracts.Anchor) error {
	return o.ledger.VerifyAgainstAnchor(ctx, anchor, o.bridge, o.anchorKeyPublicHex)
}
