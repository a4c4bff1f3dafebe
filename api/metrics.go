package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "pinboard-api/api"
	notesRoute       = "/api/notes"
	notesSpanName    = "pinboard.notes.request"
	notesEventName   = "pinboard.notes.fetch"
	notesEventDomain = "pinboard"
)

// noteRequestMetrics collects stage timings for the notes listing and emits
// them both as a span and as a structured observability log record.
type noteRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration   time.Duration
	fetchDuration  time.Duration
	encodeDuration time.Duration
	filterApplied  bool
	notesReturned  int
	errorStage     string
}

func newNoteRequestMetrics(ctx context.Context, logger *log.Logger) (*noteRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, notesSpanName)
	m := &noteRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}
	return m, spanCtx
}

func (m *noteRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *noteRequestMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *noteRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *noteRequestMetrics) SetFilterApplied(applied bool) {
	m.filterApplied = applied
}

func (m *noteRequestMetrics) SetNotesReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.notesReturned = count
}

func (m *noteRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log finalizes the span, attaches the observability event to it and emits
// the matching structured log record.
func (m *noteRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	totalMs := durationToMillis(time.Since(m.start))
	attrs := []attribute.KeyValue{
		attribute.String("http.route", notesRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("pinboard.notes.total_ms", totalMs),
		attribute.Bool("pinboard.notes.filter_applied", m.filterApplied),
		attribute.Int("pinboard.notes.notes_returned", m.notesReturned),
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("pinboard.notes.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.fetchDuration > 0 {
		attrs = append(attrs, attribute.Float64("pinboard.notes.fetch_ms", durationToMillis(m.fetchDuration)))
	}
	if m.encodeDuration > 0 {
		attrs = append(attrs, attribute.Float64("pinboard.notes.encode_ms", durationToMillis(m.encodeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("pinboard.notes.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	severityText, severityNumber := severityForStatus(status, err)
	eventAttrs := append(append([]attribute.KeyValue(nil), attrs...),
		attribute.String("event.name", notesEventName),
		attribute.String("event.domain", notesEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	)

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		if err != nil {
			m.span.SetStatus(codes.Error, err.Error())
		} else if status >= http.StatusInternalServerError {
			m.span.SetStatus(codes.Error, http.StatusText(status))
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	attributes := map[string]any{
		"http.route":                    notesRoute,
		"http.status_code":              status,
		"pinboard.notes.total_ms":       totalMs,
		"pinboard.notes.filter_applied": m.filterApplied,
		"pinboard.notes.notes_returned": m.notesReturned,
	}
	if m.authDuration > 0 {
		attributes["pinboard.notes.auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.fetchDuration > 0 {
		attributes["pinboard.notes.fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.encodeDuration > 0 {
		attributes["pinboard.notes.encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		attributes["pinboard.notes.error_stage"] = m.errorStage
	}
	if err != nil {
		attributes["error.message"] = err.Error()
	}

	fields := log.Fields{
		"event.name":      notesEventName,
		"event.domain":    notesEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributes,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}

	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
