package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName    = "collection-api"
	itemsSpanName = "collection.items.request"
)

type itemsRequestMetrics struct {
	logger         *log.Logger
	span           trace.Span
	start          time.Time
	fetchDuration  time.Duration
	encodeDuration time.Duration
	refreshed      bool
	groupsReturned int
	hasNextPage    bool
	errorStage     string
}

func newItemsRequestMetrics(ctx context.Context, logger *log.Logger) (*itemsRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, itemsSpanName)
	return &itemsRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *itemsRequestMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *itemsRequestMetrics) ObserveEncode(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.encodeDuration = duration
}

func (m *itemsRequestMetrics) SetRefreshed(refreshed bool) {
	m.refreshed = refreshed
}

func (m *itemsRequestMetrics) SetGroupsReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.groupsReturned = count
}

func (m *itemsRequestMetrics) SetHasNextPage(hasNext bool) {
	m.hasNextPage = hasNext
}

func (m *itemsRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *itemsRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":           "/api/contexts/:kind/:id/items",
		"status":          status,
		"total_ms":        durationToMillis(time.Since(m.start)),
		"refreshed":       m.refreshed,
		"groups_returned": m.groupsReturned,
		"has_next_page":   m.hasNextPage,
	}
	if m.fetchDuration > 0 {
		fields["fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.encodeDuration > 0 {
		fields["encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	if m.span != nil {
		sc := m.span.SpanContext()
		if sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
		m.span.SetAttributes(
			attribute.String("http.route", "/api/contexts/:kind/:id/items"),
			attribute.Int("http.status_code", status),
			attribute.Int("collection.groups_returned", m.groupsReturned),
			attribute.Bool("collection.has_next_page", m.hasNextPage),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("collection.error_stage", m.errorStage))
		}
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		}
		m.span.End()
	}

	m.logger.WithFields(fields).Info("collection.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
