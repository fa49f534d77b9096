package sink

import (
	"context"
	"log/slog"

	"github.com/nikodemus-eth/corvusforge/pkg/contracts"
)

// LogSink writes every envelope as a structured log line. It never
// fails, so it is a reasonable "always available" sink to register
// alongside any other.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a LogSink. A nil logger falls back to slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(ctx context.Context, env *contracts.Envelope) error {
	s.logger.Info("envelope",
		"envelope_id", env.EnvelopeID,
		"run_id", env.RunID,
		"kind", env.EnvelopeKind,
		"source", env.SourceNodeID,
		"destination", env.DestinationNodeID,
	)
	return nil
}
