package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/grpcwire/internal/eventbus"
	events "github.com/hanpama/grpcwire/internal/events"
	reqid "github.com/hanpama/grpcwire/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("grpcwire")}
	unsubscribe := sub.register()

	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Attach registers span-producing subscribers on the global bus using tp.
// It returns a function removing them.
func Attach(tp trace.TracerProvider) func() {
	sub := &subscriber{tracer: tp.Tracer("grpcwire")}
	return sub.register()
}

type subscriber struct {
	tracer    trace.Tracer
	callSpans sync.Map // call id -> trace.Span
	rtSpans   sync.Map // call id -> trace.Span
}

func (s *subscriber) register() func() {
	var unsubs []func()

	unsubs = append(unsubs, eventbus.Subscribe(func(ctx context.Context, e events.FrameEncoded) {
		call, ok := reqid.CallFromContext(ctx)
		if !ok {
			return
		}
		_, span := s.tracer.Start(ctx, "grpc.call", trace.WithSpanKind(trace.SpanKindClient))
		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("grpc.full_method", e.FullMethod),
			attribute.Int("grpc.request.frame_size", e.Size),
		)
		if rid, ok := reqid.FromContext(ctx); ok {
			span.SetAttributes(attribute.String("request.id", rid))
		}
		s.callSpans.Store(call, span)
	}))

	unsubs = append(unsubs, eventbus.Subscribe(func(ctx context.Context, e events.RoundTripStart) {
		call, ok := reqid.CallFromContext(ctx)
		if !ok {
			return
		}
		parent := ctx
		if v, ok := s.callSpans.Load(call); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "http2.round_trip")
		span.SetAttributes(
			semconv.RPCServiceKey.String(e.Service),
			semconv.RPCMethodKey.String(e.Method),
			attribute.String("net.peer.name", e.Target),
		)
		s.rtSpans.Store(call, span)
	}))

	unsubs = append(unsubs, eventbus.Subscribe(func(ctx context.Context, e events.RoundTripFinish) {
		call, _ := reqid.CallFromContext(ctx)
		v, ok := s.rtSpans.LoadAndDelete(call)
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.HTTPStatus != 0 {
			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.HTTPStatus))
		}
		span.SetAttributes(attribute.String("grpc.code", e.Code.String()))
		if e.Err != nil {
			span.RecordError(e.Err)
			span.SetStatus(codes.Error, e.Err.Error())
		}
		span.End()
	}))

	unsubs = append(unsubs, eventbus.Subscribe(func(ctx context.Context, e events.TransportFailed) {
		call, _ := reqid.CallFromContext(ctx)
		if v, ok := s.callSpans.Load(call); ok {
			v.(trace.Span).RecordError(e.Err)
		}
	}))

	unsubs = append(unsubs, eventbus.Subscribe(func(ctx context.Context, e events.OutcomeParsed) {
		call, _ := reqid.CallFromContext(ctx)
		v, ok := s.callSpans.LoadAndDelete(call)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(
			attribute.Int("grpc.status_code", e.Code),
			attribute.String("grpc.outcome", e.Kind),
		)
		switch {
		case e.Err != nil:
			span.RecordError(e.Err)
			span.SetStatus(codes.Error, e.Err.Error())
		case e.Code != 0:
			span.SetStatus(codes.Error, e.Kind)
		}
		span.End()
	}))

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
