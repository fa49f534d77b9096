package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
	"github.com/nikodemus-eth/corvusforge/pkg/crypto"
	"github.com/nikodemus-eth/corvusforge/pkg/ledger"
	"github.com/nikodemus-eth/corvusforge/pkg/prereq"
	"github.com/nikodemus-eth/corvusforge/pkg/stagemachine"
	"github.com/nikodemus-eth/corvusforge/pkg/waiver"
)

func newTestOrchestrator(t *testing.T) *Orchestrator {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l, err := ledger.New(db, nil)
	require.NoError(t, err)

	graph, err := prereq.Default()
	require.NoError(t, err)

	bridge := crypto.NewBridge(nil)
	_, pubHex, err := bridge.GenerateKeypair()
	require.NoError(t, err)

	wm, err := waiver.New(bridge, pubHex, waiver.ModeStrict)
	require.NoError(t, err)

	machine := stagemachine.New(l, graph, wm)

	return New(l, machine, bridge,
		WithTrustKeys("plugin-root-pub", "waiver-key-pub", "anchor-key-pub"),
		WithVersions("pipeline-v1", "1.0.0", "toolchain-v1"),
	)
}

func TestStartRunRecordsIntakePassed(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	runID, err := o.StartRun(ctx, map[string]any{"requested_by": "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	states := o.GetStates(runID)
	assert.Equal(t, contracts.StatePassed, states[contracts.StageIntake])
	assert.Equal(t, contracts.StateNotStarted, states[contracts.StagePrerequisites])

	entries, err := o.GetRunEntries(ctx, runID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotEmpty(t, entries[0].TrustContext.PluginTrustRootFP)
}

func TestExecuteStageRunsHandlerAndRecordsHashes(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	o.RegisterHandler(contracts.StagePrerequisites, func(ctx context.Context, payload map[string]any) (map[string]any, []string, error) {
		return map[string]any{"resolved": true}, []string{"sha256:deadbeef"}, nil
	})

	runID, err := o.StartRun(ctx, map[string]any{})
	require.NoError(t, err)

	output, err := o.ExecuteStage(ctx, runID, contracts.StagePrerequisites, map[string]any{"foo": "bar"})
	require.NoError(t, err)
	assert.Equal(t, true, output["resolved"])

	states := o.GetStates(runID)
	assert.Equal(t, contracts.StatePassed, states[contracts.StagePrerequisites])

	require.NoError(t, o.VerifyChain(ctx, runID))
}

func TestExecuteStageFailsClosedWhenHandlerErrors(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	boom := errors.New("boom")
	o.RegisterHandler(contracts.StagePrerequisites, func(ctx context.Context, payload map[string]any) (map[string]any, []string, error) {
		return nil, nil, boom
	})

	runID, err := o.StartRun(ctx, map[string]any{})
	require.NoError(t, err)

	_, err = o.ExecuteStage(ctx, runID, contracts.StagePrerequisites, map[string]any{})
	require.ErrorIs(t, err, boom)

	states := o.GetStates(runID)
	assert.Equal(t, contracts.StateFailed, states[contracts.StagePrerequisites])
	// Cascade block must have propagated to downstream stages.
	assert.Equal(t, contracts.StateBlocked, states[contracts.StageEnvironment])
}

func TestExecuteStageRejectsUnregisteredHandler(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	runID, err := o.StartRun(ctx, map[string]any{})
	require.NoError(t, err)

	_, err = o.ExecuteStage(ctx, runID, contracts.StagePrerequisites, map[string]any{})
	require.Error(t, err)
}

func TestExportAndVerifyAnchorRoundTrip(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	o.RegisterHandler(contracts.StagePrerequisites, func(ctx context.Context, payload map[string]any) (map[string]any, []string, error) {
		return map[string]any{}, nil, nil
	})

	runID, err := o.StartRun(ctx, map[string]any{})
	require.NoError(t, err)
	_, err = o.ExecuteStage(ctx, runID, contracts.StagePrerequisites, map[string]any{})
	require.NoError(t, err)

	anchorPriv, anchorPub, err := o.bridge.GenerateKeypair()
	require.NoError(t, err)
	o.anchorKeyPublicHex = anchorPub

	anchor, err := o.ExportAnchor(ctx, runID, anchorPriv)
	require.NoError(t, err)
	assert.Equal(t, 4, anchor.EntryCount)

	require.NoError(t, o.VerifyAgainstAnchor(ctx, anchor))
}
