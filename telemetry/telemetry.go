//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package telemetry wires OpenTelemetry tracing and metrics for the runtime.
// Until Start is called the package globals are no-ops, so instrumented code
// paths cost nothing when telemetry is disabled.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	noopt "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"trpc.group/trpc-go/trpc-agent-core/agent"
	"trpc.group/trpc-go/trpc-agent-core/model"
	"trpc.group/trpc-go/trpc-agent-core/tool"
)

// telemetry service constants.
const (
	ServiceName      = "telemetry"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-agent-core"
	InstrumentName   = "trpc.agent.core"

	// SpanNameCallModel names the span around one model call.
	SpanNameCallModel = "call_model"
	// SpanNamePrefixExecuteTool prefixes the span around one tool dispatch.
	SpanNamePrefixExecuteTool = "execute_tool"
)

const (
	// ProtocolGRPC uses gRPC protocol for the OTLP exporters.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for the OTLP exporters.
	ProtocolHTTP string = "http"
)

// telemetry attribute keys.
var (
	KeyInvocationID  = "trpc.agent.core.invocation_id"
	KeyAgentName     = "trpc.agent.core.agent_name"
	KeyStep          = "trpc.agent.core.step"
	KeyToolID        = "trpc.agent.core.tool_id"
	KeyToolCallArgs  = "trpc.agent.core.tool_call_args"
	KeyToolStatus    = "trpc.agent.core.tool_status"
	KeyToolResult    = "trpc.agent.core.tool_result"
	KeyModelRequest  = "trpc.agent.core.model_request"
	KeyModelResponse = "trpc.agent.core.model_response"
)

var (
	// Tracer is the global tracer for the runtime.
	Tracer trace.Tracer = noopt.Tracer{}
	// Meter is the global meter for the runtime.
	Meter metric.Meter = noopm.Meter{}
)

// Option is a function that configures telemetry options.
type Option func(*options)

// options holds the configuration options for telemetry.
type options struct {
	tracesEndpoint   string
	metricsEndpoint  string
	serviceName      string
	serviceVersion   string
	serviceNamespace string
	protocol         string
	headers          map[string]string
}

// WithTracesEndpoint sets the traces endpoint (host and port) the exporter
// will connect to. The provided endpoint should resemble "example.com:4317"
// (no scheme or path). When unset, OTEL_EXPORTER_OTLP_TRACES_ENDPOINT then
// OTEL_EXPORTER_OTLP_ENDPOINT are consulted before the localhost default.
func WithTracesEndpoint(endpoint string) Option {
	return func(opts *options) {
		opts.tracesEndpoint = endpoint
	}
}

// WithMetricsEndpoint sets the metrics endpoint (host and port) the exporter
// will connect to. When unset, OTEL_EXPORTER_OTLP_METRICS_ENDPOINT then
// OTEL_EXPORTER_OTLP_ENDPOINT are consulted before the localhost default.
func WithMetricsEndpoint(endpoint string) Option {
	return func(opts *options) {
		opts.metricsEndpoint = endpoint
	}
}

// WithServiceName sets the service name reported in the resource attributes.
func WithServiceName(name string) Option {
	return func(opts *options) {
		opts.serviceName = name
	}
}

// WithProtocol selects the exporter protocol, "grpc" (default) or "http".
func WithProtocol(protocol string) Option {
	return func(opts *options) {
		opts.protocol = protocol
	}
}

// WithHeaders sets the headers sent with every export request.
func WithHeaders(headers map[string]string) Option {
	return func(opts *options) {
		opts.headers = headers
	}
}

// Start installs real tracer and meter providers exporting over OTLP and
// returns a cleanup that flushes and shuts them down.
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	options := &options{
		serviceName:      ServiceName,
		serviceVersion:   ServiceVersion,
		serviceNamespace: ServiceNamespace,
		protocol:         ProtocolGRPC,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.tracesEndpoint == "" {
		options.tracesEndpoint = tracesEndpoint(options.protocol)
	}
	if options.metricsEndpoint == "" {
		options.metricsEndpoint = metricsEndpoint(options.protocol)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNamespace(options.serviceNamespace),
			semconv.ServiceName(options.serviceName),
			semconv.ServiceVersion(options.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var shutdownTracerProvider, shutdownMeterProvider func(context.Context) error
	switch options.protocol {
	case ProtocolHTTP:
		shutdownTracerProvider, err = initHTTPTracerProvider(ctx, res, options)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
		}
		shutdownMeterProvider, err = initHTTPMeterProvider(ctx, res, options)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize meter provider: %w", err)
		}
	default:
		tracesConn, connErr := newConn(options.tracesEndpoint)
		if connErr != nil {
			return nil, fmt.Errorf("failed to initialize traces connection: %w", connErr)
		}
		shutdownTracerProvider, err = initGRPCTracerProvider(ctx, res, tracesConn)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
		}
		metricsConn := tracesConn
		if options.metricsEndpoint != options.tracesEndpoint {
			metricsConn, err = newConn(options.metricsEndpoint)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize metrics connection: %w", err)
			}
		}
		shutdownMeterProvider, err = initGRPCMeterProvider(ctx, res, metricsConn)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize meter provider: %w", err)
		}
	}

	clean = func() error {
		var err error
		if tracerErr := shutdownTracerProvider(ctx); tracerErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to shutdown TracerProvider: %w", tracerErr))
		}
		if meterErr := shutdownMeterProvider(ctx); meterErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to shutdown MeterProvider: %w", meterErr))
		}
		return err
	}

	Tracer = otel.Tracer(InstrumentName)
	Meter = otel.Meter(InstrumentName)
	return clean, nil
}

// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc
// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp
func tracesEndpoint(protocol string) string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if protocol == ProtocolHTTP {
		return "localhost:4318"
	}
	return "localhost:4317"
}

// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc
// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp
func metricsEndpoint(protocol string) string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if protocol == ProtocolHTTP {
		return "localhost:4318"
	}
	return "localhost:4317"
}

// Initializes an OTLP gRPC exporter, and configures the corresponding trace provider.
func initGRPCTracerProvider(ctx context.Context, res *resource.Resource, conn *grpc.ClientConn) (func(context.Context) error, error) {
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return setupTracerProvider(res, traceExporter), nil
}

// Initializes an OTLP HTTP exporter, and configures the corresponding trace provider.
func initHTTPTracerProvider(ctx context.Context, res *resource.Resource, opts *options) (func(context.Context) error, error) {
	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(opts.tracesEndpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithHeaders(opts.headers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP trace exporter: %w", err)
	}
	return setupTracerProvider(res, traceExporter), nil
}

// setupTracerProvider registers the exporter behind a batch span processor
// and installs the provider globally.
func setupTracerProvider(res *resource.Resource, traceExporter sdktrace.SpanExporter) func(context.Context) error {
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(tracerProvider)

	// Set global propagator to tracecontext (the default is no-op).
	otel.SetTextMapPropagator(propagation.TraceContext{})

	// Shutdown will flush any remaining spans and shut down the exporter.
	return tracerProvider.Shutdown
}

// Initializes an OTLP gRPC exporter, and configures the corresponding meter provider.
func initGRPCMeterProvider(ctx context.Context, res *resource.Resource, conn *grpc.ClientConn) (func(context.Context) error, error) {
	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}
	return setupMeterProvider(res, metricExporter), nil
}

// Initializes an OTLP HTTP exporter, and configures the corresponding meter provider.
func initHTTPMeterProvider(ctx context.Context, res *resource.Resource, opts *options) (func(context.Context) error, error) {
	metricExporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(opts.metricsEndpoint),
		otlpmetrichttp.WithInsecure(),
		otlpmetrichttp.WithHeaders(opts.headers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics exporter: %w", err)
	}
	return setupMeterProvider(res, metricExporter), nil
}

func setupMeterProvider(res *resource.Resource, metricExporter sdkmetric.Exporter) func(context.Context) error {
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)
	return meterProvider.Shutdown
}

func newConn(endpoint string) (*grpc.ClientConn, error) {
	// The collector connection is lazy; TLS is recommended in production.
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, err
}

// TraceModelCall records one model call on the span.
func TraceModelCall(span trace.Span, invocation *agent.Invocation, req *model.Request, rsp *model.Response) {
	span.SetAttributes(
		attribute.String("gen_ai.system", InstrumentName),
		attribute.String("gen_ai.operation.name", "chat"),
	)
	if invocation != nil {
		span.SetAttributes(
			attribute.String(KeyInvocationID, invocation.InvocationID),
			attribute.String(KeyAgentName, invocation.AgentName),
			attribute.Int(KeyStep, invocation.Step),
		)
		if invocation.Model != nil {
			span.SetAttributes(attribute.String("gen_ai.request.model", invocation.Model.Info().Name))
		}
	}
	if req != nil {
		if bts, err := json.Marshal(req); err == nil {
			span.SetAttributes(attribute.String(KeyModelRequest, string(bts)))
		} else {
			span.SetAttributes(attribute.String(KeyModelRequest, "<not json serializable>"))
		}
	}
	if rsp == nil {
		return
	}
	if rsp.Usage != nil {
		span.SetAttributes(
			attribute.Int("gen_ai.usage.input_tokens", rsp.Usage.PromptTokens),
			attribute.Int("gen_ai.usage.output_tokens", rsp.Usage.CompletionTokens),
		)
	}
	if bts, err := json.Marshal(rsp); err == nil {
		span.SetAttributes(attribute.String(KeyModelResponse, string(bts)))
	} else {
		span.SetAttributes(attribute.String(KeyModelResponse, "<not json serializable>"))
	}
}

// TraceToolCall records one tool dispatch and its result on the span.
func TraceToolCall(span trace.Span, declaration *tool.Declaration, args []byte, result model.Message) {
	span.SetAttributes(
		attribute.String("gen_ai.system", InstrumentName),
		attribute.String("gen_ai.operation.name", "tool.execute"),
	)
	if declaration != nil {
		span.SetAttributes(
			attribute.String("gen_ai.tool.name", declaration.Name),
			attribute.String("gen_ai.tool.description", declaration.Description),
		)
	}
	span.SetAttributes(
		attribute.String(KeyToolID, result.ToolID),
		attribute.String(KeyToolCallArgs, string(args)),
		attribute.String(KeyToolStatus, result.ToolStatus),
		attribute.String(KeyToolResult, result.Content),
	)
}
