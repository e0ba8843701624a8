package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/openkcm/common-sdk/pkg/otlp"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/config"
	"github.com/openkcm/auth-relay/internal/gatekeeper"
	"github.com/openkcm/auth-relay/internal/session"
)

const tracerName = "auth-relay"

var (
	counter     metric.Int64Counter
	hist        metric.Int64Histogram
	decisions   metric.Int64Counter
	transitions metric.Int64Counter
)

func initMeters(ctx context.Context, cfg *config.Config) error {
	meter := otel.Meter(
		"kms20/"+cfg.Application.Name,
		metric.WithInstrumentationVersion(otel.Version()),
		metric.WithInstrumentationAttributes(otlp.CreateAttributesFrom(cfg.Application)...),
	)

	var err error

	counter, err = meter.Int64Counter(
		"http.request_count",
		metric.WithDescription("Incoming request count"),
		metric.WithUnit("request"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating request_count meter")
	}

	hist, err = meter.Int64Histogram(
		"http.duration",
		metric.WithDescription("Incoming end to end duration"),
		metric.WithUnit("milliseconds"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating duration meter")
	}

	decisions, err = meter.Int64Counter(
		"gatekeeper.decisions",
		metric.WithDescription("Gatekeeper decisions by outcome"),
		metric.WithUnit("request"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating gatekeeper.decisions meter")
	}

	transitions, err = meter.Int64Counter(
		"session.transitions",
		metric.WithDescription("Session token state transitions"),
		metric.WithUnit("transition"),
	)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "creating session.transitions meter")
	}

	return nil
}

// RecordDecision counts a gatekeeper decision.
func RecordDecision(ctx context.Context, d gatekeeper.Decision) {
	if decisions == nil {
		return
	}
	decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", string(d))))
}

// RecordTransition counts a session state transition.
func RecordTransition(ctx context.Context, from, to session.State) {
	slogctx.Debug(ctx, "Session state changed", "from", from.String(), "to", to.String())

	if transitions == nil {
		return
	}
	transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
}

// newTraceMiddleware covers every request with a span, a request id and
// the request metrics.
func newTraceMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	traceAttrs := otlp.CreateAttributesFrom(cfg.Application)
	tracer := otel.Tracer(tracerName, trace.WithInstrumentationAttributes(traceAttrs...))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := slogctx.With(r.Context(),
				commoncfg.AttrRequestID, uuid.NewString(),
			)

			parentCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(parentCtx, r.Method+" request", trace.WithAttributes(traceAttrs...))
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			requestStartTime := time.Now()

			defer func() {
				elapsedTime := time.Since(requestStartTime)

				operation := r.Method
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					operation += " " + rctx.RoutePattern()
				}
				span.SetName(operation)
				span.SetAttributes(attribute.Int("http.status_code", ww.Status()))

				attrs := metric.WithAttributes(
					otlp.CreateAttributesFrom(cfg.Application,
						attribute.String("userAgent", r.UserAgent()),
						attribute.String(commoncfg.AttrOperation, operation),
						attribute.Int("status", ww.Status()),
					)...,
				)

				if counter != nil {
					counter.Add(ctx, 1, attrs)
					hist.Record(ctx, elapsedTime.Milliseconds(), attrs)
				}

				slogctx.Debug(ctx, fmt.Sprintf("Finished %s request", operation), "status", ww.Status())
			}()

			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}
