// Package stagemachine implements the Stage Machine: the only code
// path permitted to append stage-transition entries to the Run
// Ledger. The allowed-edge table is data, not a switch over the
// source state, and cascade-block/unblock are graph traversals over
// the Prerequisite Graph rather than per-case branches.
package stagemachine

import (
	"context"
	"fmt"
	"sync"

	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
	"github.com/nikodemus-eth/corvusforge/pkg/ledger"
	"github.com/nikodemus-eth/corvusforge/pkg/prereq"
	"github.com/nikodemus-eth/corvusforge/pkg/waiver"
)

// GatePredecessorPass is the default waiver scope gate consulted when
// deciding whether a predecessor's lack of a PASSED state can be
// bypassed. A waiver with an empty ScopeGate matches any gate for its
// ScopeStageID, so callers rarely need to name this explicitly.
const GatePredecessorPass = "predecessor_pass"

// allowedEdges is the complete allowed-transition table. All
// transitions not present here are rejected outright.
var allowedEdges = map[contracts.StageState]map[contracts.StageState]bool{
	contracts.StateNotStarted: {
		contracts.StateRunning: true,
		contracts.StateBlocked: true,
	},
	contracts.StateRunning: {
		contracts.StatePassed: true,
		contracts.StateFailed: true,
	},
	contracts.StateFailed: {
		contracts.StateRunning: true,
	},
	contracts.StateBlocked: {
		contracts.StateNotStarted: true,
	},
}

// Machine validates and records stage transitions.
type Machine struct {
	ledger  *ledger.Ledger
	graph   *prereq.Graph
	waivers *waiver.Manager

	mu     sync.RWMutex
	states map[string]map[contracts.StageID]contracts.StageState // run_id -> stage -> state
}

// New constructs a Machine over an already-built Ledger, Prerequisite
// Graph, and Waiver Manager. waivers may be nil, in which case
// can_start never treats a failing predecessor as waived.
func New(l *ledger.Ledger, graph *prereq.Graph, waivers *waiver.Manager) *Machine {
	return &Machine{
		ledger:  l,
		graph:   graph,
		waivers: waivers,
		states:  make(map[string]map[contracts.StageID]contracts.StageState),
	}
}

func (m *Machine) stateOf(runID string, stage contracts.StageID) contracts.StageState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.states[runID]
	if !ok {
		return contracts.StateNotStarted
	}
	s, ok := run[stage]
	if !ok {
		return contracts.StateNotStarted
	}
	return s
}

func (m *Machine) setState(runID string, stage contracts.StageID, state contracts.StageState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.states[runID]
	if !ok {
		run = make(map[contracts.StageID]contracts.StageState)
		m.states[runID] = run
	}
	run[stage] = state
}

// GetStates returns a snapshot of every known stage's current state
// for runID.
func (m *Machine) GetStates(runID string) map[contracts.StageID]contracts.StageState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[contracts.StageID]contracts.StageState)
	for _, stage := range contracts.StageOrder {
		out[stage] = contracts.StateNotStarted
	}
	if run, ok := m.states[runID]; ok {
		for stage, state := range run {
			out[stage] = state
		}
	}
	return out
}

// CanStart reports whether stage's direct predecessors are all
// PASSED, or covered by a valid waiver scoped to that predecessor.
func (m *Machine) CanStart(ctx context.Context, runID string, stage contracts.StageID) (bool, []string) {
	var reasons []string
	for _, pred := range m.graph.Predecessors(stage) {
		if m.stateOf(runID, pred) == contracts.StatePassed {
			continue
		}
		if m.waivers != nil {
			if _, ok := m.waivers.HasValidWaiver(ctx, pred, GatePredecessorPass, map[string]any{"run_id": runID}); ok {
				continue
			}
		}
		reasons = append(reasons, fmt.Sprintf("predecessor %s is %s, not PASSED and not waived", pred, m.stateOf(runID, pred)))
	}
	return len(reasons) == 0, reasons
}

// TransitionInput carries everything a transition needs beyond the
// target state.
type TransitionInput struct {
	RunID           string
	Stage           contracts.StageID
	Target          contracts.StageState
	InputHash       string
	OutputHash      string
	ArtifactRefs    []string
	WaiverRefs      []string
	TrustContext    contracts.TrustContext
	PipelineVersion string
	SchemaVersion   string
	ToolchainVersion string
	RulesetVersions map[string]string
	PayloadHash     string
}

// Transition validates and records one stage transition, cascading
// block/unblock to the Prerequisite Graph's transitive dependents
// where the table calls for it. A failed ledger append aborts the
// whole operation: no partial state is observable.
func (m *Machine) Transition(ctx context.Context, in TransitionInput) (*contracts.LedgerEntry, error) {
	from := m.stateOf(in.RunID, in.Stage)

	if !allowedEdges[from][in.Target] {
		return nil, &contracts.InvalidTransition{StageID: in.Stage, From: from, To: in.Target}
	}

	if in.Target == contracts.StateRunning && from == contracts.StateNotStarted {
		ok, reasons := m.CanStart(ctx, in.RunID, in.Stage)
		if !ok {
			return nil, &contracts.PrerequisiteError{StageID: in.Stage, Reasons: reasons}
		}
	}

	entry, err := m.ledger.Append(ctx, ledger.AppendInput{
		RunID:            in.RunID,
		StageID:          in.Stage,
		From:             from,
		To:               in.Target,
		InputHash:        in.InputHash,
		OutputHash:       in.OutputHash,
		ArtifactRefs:     in.ArtifactRefs,
		WaiverRefs:       in.WaiverRefs,
		TrustContext:     in.TrustContext,
		PipelineVersion:  in.PipelineVersion,
		SchemaVersion:    in.SchemaVersion,
		ToolchainVersion: in.ToolchainVersion,
		RulesetVersions:  in.RulesetVersions,
		PayloadHash:      in.PayloadHash,
	})
	if err != nil {
		return nil, err
	}

	m.setState(in.RunID, in.Stage, in.Target)

	switch {
	case from == contracts.StateRunning && in.Target == contracts.StateFailed:
		if err := m.cascadeBlock(ctx, in.RunID, in.Stage, in.TrustContext); err != nil {
			return entry, err
		}
	case from == contracts.StateRunning && in.Target == contracts.StatePassed:
		if err := m.cascadeUnblock(ctx, in.RunID, in.Stage, in.TrustContext); err != nil {
			return entry, err
		}
	}

	return entry, nil
}

// cascadeBlock transitions every NOT_STARTED transitive dependent of
// failedStage to BLOCKED, recording one ledger entry per stage.
func (m *Machine) cascadeBlock(ctx context.Context, runID string, failedStage contracts.StageID, trustContext contracts.TrustContext) error {
	for _, dependent := range m.graph.TransitiveDependents(failedStage) {
		if m.stateOf(runID, dependent) != contracts.StateNotStarted {
			continue
		}
		if _, err := m.ledger.Append(ctx, ledger.AppendInput{
			RunID:        runID,
			StageID:      dependent,
			From:         contracts.StateNotStarted,
			To:           contracts.StateBlocked,
			TrustContext: trustContext,
		}); err != nil {
			return fmt.Errorf("stagemachine: cascade-block failed for %s: %w", dependent, err)
		}
		m.setState(runID, dependent, contracts.StateBlocked)
	}
	return nil
}

// cascadeUnblock re-evaluates every BLOCKED transitive dependent of
// passedStage and unblocks (BLOCKED->NOT_STARTED) any whose
// predecessors are now all satisfied. Per the audit-completeness
// decision for this ledger, every unblock appends its own entry.
func (m *Machine) cascadeUnblock(ctx context.Context, runID string, passedStage contracts.StageID, trustContext contracts.TrustContext) error {
	for _, dependent := range m.graph.TransitiveDependents(passedStage) {
		if m.stateOf(runID, dependent) != contracts.StateBlocked {
			continue
		}
		ok, _ := m.CanStart(ctx, runID, dependent)
		if !ok {
			continue
		}
		if _, err := m.ledger.Append(ctx, ledger.AppendInput{
			RunID:        runID,
			StageID:      dependent,
			From:         contracts.StateBlocked,
			To:           contracts.StateNotStarted,
			TrustContext: trustContext,
		}); err != nil {
			return fmt.Errorf("stagemachine: cascade-unblock failed for %s: %w", dependent, err)
		}
		m.setState(runID, dependent, contracts.StateNotStarted)
	}
	return nil
}
