package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
)

func testEnvelope() *contracts.Envelope {
	return &contracts.Envelope{
		EnvelopeID:        "env-1",
		RunID:             "run-1",
		SourceNodeID:      "a",
		DestinationNodeID: "b",
		EnvelopeKind:      contracts.EnvelopeEvent,
		PayloadHash:       "deadbeef",
		TimestampUTC:      time.Now().UTC(),
		SchemaVersion:     "1.0.0",
		Payload:           map[string]any{"x": 1},
	}
}

func TestDispatchEmptyRegistryReturnsNoError(t *testing.T) {
	d := New(nil)
	results, err := d.Dispatch(context.Background(), testEnvelope())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDispatchSucceedsWhenAnySinkSucceeds(t *testing.T) {
	d := New(nil)
	good := NewMemorySink("good")
	bad := NewMemorySink("bad")
	bad.FailNext()
	d.Register(good)
	d.Register(bad)

	results, err := d.Dispatch(context.Background(), testEnvelope())
	require.NoError(t, err)
	assert.True(t, results["good"])
	assert.False(t, results["bad"])
}

func TestDispatchFailsWhenEverySinkFails(t *testing.T) {
	d := New(nil)
	a := NewMemorySink("a")
	a.FailNext()
	b := NewMemorySink("b")
	b.FailNext()
	d.Register(a)
	d.Register(b)

	_, err := d.Dispatch(context.Background(), testEnvelope())
	require.Error(t, err)
	var dispatchErr *contracts.SinkDispatchError
	assert.ErrorAs(t, err, &dispatchErr)
	assert.Len(t, dispatchErr.Failures, 2)
}

func TestBatchDispatchContinuesAcrossFailures(t *testing.T) {
	d := New(nil)
	m := NewMemorySink("m")
	d.Register(m)

	envs := []*contracts.Envelope{testEnvelope(), testEnvelope(), testEnvelope()}
	results, errs := d.BatchDispatch(context.Background(), envs)
	assert.Len(t, results, 3)
	assert.Len(t, errs, 3)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, m.Received(), 3)
}

func TestDispatchIsolatesPanickingSink(t *testing.T) {
	d := New(nil)
	d.Register(panicSink{})
	good := NewMemorySink("good")
	d.Register(good)

	results, err := d.Dispatch(context.Background(), testEnvelope())
	require.NoError(t, err)
	assert.False(t, results["panic"])
	assert.True(t, results["good"])
	assert.Len(t, good.Received(), 1)
}

type panicSink struct{}

func (panicSink) Name() string { return "panic" }
func (panicSink) Write(ctx context.Context, env *contracts.Envelope) error {
	panic("boom")
}
