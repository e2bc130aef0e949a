package tracer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName identifies annomesh spans.
const InstrumentationName = "github.com/yndnr/annomesh-go"

// Exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config configures tracing.
type Config struct {
	Enabled     bool
	ServiceName string

	// Exporter is ExporterStdout or ExporterNone. With ExporterNone spans
	// are sampled and propagated but not written anywhere.
	Exporter string

	// Output is the file stdout spans are appended to. Empty means stdout.
	Output string

	// SampleRatio is the share of new traces recorded, 0 to 1. Requests
	// that arrive with a sampled parent are always recorded.
	SampleRatio float64
}

// Provider creates spans for annomesh components.
type Provider struct {
	tp       trace.TracerProvider
	tracer   trace.Tracer
	shutdown func(context.Context) error
	enabled  bool
}

// Option configures a Provider.
type Option func(*sdkOptions)

type sdkOptions struct {
	processors []sdktrace.SpanProcessor
}

// WithSpanProcessor adds a processor, e.g. a tracetest.SpanRecorder.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *sdkOptions) {
		o.processors = append(o.processors, sp)
	}
}

// Noop returns a disabled Provider.
func Noop() *Provider {
	tp := noop.NewTracerProvider()
	return &Provider{
		tp:       tp,
		tracer:   tp.Tracer(InstrumentationName),
		shutdown: func(context.Context) error { return nil },
	}
}

// New builds a Provider from cfg. A disabled config yields Noop.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}
	var o sdkOptions
	for _, opt := range opts {
		opt(&o)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "annomesh-server"
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	for _, sp := range o.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(sp))
	}

	var closeOutput func() error
	switch cfg.Exporter {
	case "", ExporterNone:
	case ExporterStdout:
		var w io.Writer = os.Stdout
		if cfg.Output != "" {
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return nil, fmt.Errorf("tracer: open output: %w", err)
			}
			w = f
			closeOutput = f.Close
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			if closeOutput != nil {
				_ = closeOutput()
			}
			return nil, fmt.Errorf("tracer: stdout exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	default:
		return nil, fmt.Errorf("tracer: unknown exporter %q", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	return &Provider{
		tp:      tp,
		tracer:  tp.Tracer(InstrumentationName),
		enabled: true,
		shutdown: func(ctx context.Context) error {
			err := tp.Shutdown(ctx)
			if closeOutput != nil {
				if cerr := closeOutput(); err == nil {
					err = cerr
				}
			}
			return err
		},
	}, nil
}

// Enabled reports whether spans are recorded.
func (p *Provider) Enabled() bool {
	return p != nil && p.enabled
}

// Start starts a span. A nil Provider behaves like Noop.
func (p *Provider) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if p == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// HTTPHandler traces requests to h. Requests for which skip returns true
// are passed through without a span.
func (p *Provider) HTTPHandler(h http.Handler, operation string, skip func(*http.Request) bool) http.Handler {
	if !p.Enabled() {
		return h
	}
	return otelhttp.NewHandler(h, operation,
		otelhttp.WithTracerProvider(p.tp),
		otelhttp.WithPropagators(propagation.TraceContext{}),
		otelhttp.WithFilter(func(r *http.Request) bool { return skip == nil || !skip(r) }),
	)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.shutdown(ctx)
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
