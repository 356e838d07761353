package main

import (
	"log/slog"

	"greenbonds/core/events"
)

// eventLogger writes every committed ledger event to the structured log.
type eventLogger struct {
	logger *slog.Logger
}

func newEventLogger(logger *slog.Logger) *eventLogger {
	return &eventLogger{logger: logger.With("component", "events")}
}

func (l *eventLogger) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	payload := evt.Event()
	attrs := make([]any, 0, len(payload.Attributes)+1)
	attrs = append(attrs, slog.String("type", payload.Type))
	for k, v := range payload.Attributes {
		attrs = append(attrs, slog.String(k, v))
	}
	l.logger.Info("ledger event", attrs...)
}
