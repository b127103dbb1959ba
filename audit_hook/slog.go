package audithook

import (
	"context"
	"log/slog"
)

// SlogRecorder writes audit events as structured log records.
type SlogRecorder struct {
	logger *slog.Logger
}

var _ Recorder = (*SlogRecorder)(nil)

// NewSlogRecorder returns a Recorder logging to logger, or to
// slog.Default when logger is nil.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogRecorder{logger: logger}
}

// Record implements Recorder.
func (r *SlogRecorder) Record(ctx context.Context, evt *AuditEvent) error {
	level := slog.LevelInfo
	switch evt.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("action", evt.Action),
		slog.String("resource", evt.Resource),
		slog.String("category", evt.Category),
		slog.String("outcome", evt.Outcome),
		slog.Time("occurred_at", evt.OccurredAt),
	}
	if evt.ResourceID != "" {
		attrs = append(attrs, slog.String("resource_id", evt.ResourceID))
	}
	if evt.ActorID != "" {
		attrs = append(attrs, slog.String("actor_kind", evt.ActorKind), slog.String("actor_id", evt.ActorID))
	}
	if evt.Reason != "" {
		attrs = append(attrs, slog.String("reason", evt.Reason))
	}
	if len(evt.Metadata) > 0 {
		md := make([]any, 0, len(evt.Metadata))
		for k, v := range evt.Metadata {
			md = append(md, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", md...))
	}
	r.logger.LogAttrs(ctx, level, "audit", attrs...)
	return nil
}
