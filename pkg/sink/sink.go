// Package sink implements the Sink Dispatcher: fan-out of a validated
// Envelope to every registered sink, with per-sink failure isolation.
// A sink's panic or error never prevents the others from receiving
// the envelope.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
)

// Sink receives validated envelopes. The dispatcher never retries a
// failed Write; any retry policy is a sink-internal concern.
type Sink interface {
	Name() string
	Write(ctx context.Context, env *contracts.Envelope) error
}

// Dispatcher fans an envelope out to every registered sink.
type Dispatcher struct {
	mu     sync.RWMutex
	sinks  map[string]Sink
	logger *slog.Logger
}

// New constructs an empty Dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: make(map[string]Sink), logger: logger}
}

// Register adds or replaces a sink under its own name.
func (d *Dispatcher) Register(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[s.Name()] = s
}

// Dispatch writes env to every registered sink, isolating failures,
// and returns a per-sink success map. An empty registry dispatches
// trivially (empty map, no error). If every registered sink failed,
// it returns contracts.SinkDispatchError alongside the result map.
func (d *Dispatcher) Dispatch(ctx context.Context, env *contracts.Envelope) (map[string]bool, error) {
	d.mu.RLock()
	sinks := make([]Sink, 0, len(d.sinks))
	for _, s := range d.sinks {
		sinks = append(sinks, s)
	}
	d.mu.RUnlock()

	results := make(map[string]bool, len(sinks))
	failures := make(map[string]string)

	for _, s := range sinks {
		if err := d.writeIsolated(ctx, s, env); err != nil {
			results[s.Name()] = false
			failures[s.Name()] = err.Error()
			d.logger.Error("sink dispatch failed", "sink", s.Name(), "envelope_id", env.EnvelopeID, "error", err)
			continue
		}
		results[s.Name()] = true
	}

	if len(sinks) > 0 && len(failures) == len(sinks) {
		return results, &contracts.SinkDispatchError{EnvelopeID: env.EnvelopeID, Failures: failures}
	}
	return results, nil
}

// writeIsolated recovers from a panicking sink so one broken
// implementation cannot take down dispatch for the others.
func (d *Dispatcher) writeIsolated(ctx context.Context, s Sink, env *contracts.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Write(ctx, env)
}

// BatchDispatch applies Dispatch to every envelope, continuing across
// the batch regardless of individual failures. The returned slice is
// aligned with envs; each error is either nil or a
// *contracts.SinkDispatchError for that specific envelope.
func (d *Dispatcher) BatchDispatch(ctx context.Context, envs []*contracts.Envelope) ([]map[string]bool, []error) {
	results := make([]map[string]bool, len(envs))
	errs := make([]error, len(envs))
	for i, env := range envs {
		results[i], errs[i] = d.Dispatch(ctx, env)
	}
	return results, errs
}
