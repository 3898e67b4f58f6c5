// Package otelbridge mirrors recorded interactions, spans, and traces onto
// OpenTelemetry spans so existing tracing backends see AI activity alongside
// the rest of the system.
package otelbridge

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dewdrop-ai/dewdrop-go/telemetry"
)

const (
	tracerName = "github.com/dewdrop-ai/dewdrop-go/contrib/otelbridge"

	attrProvider       = attribute.Key("dewdrop.provider")
	attrModel          = attribute.Key("dewdrop.model")
	attrUserID         = attribute.Key("dewdrop.user_id")
	attrConversationID = attribute.Key("dewdrop.conversation_id")
	attrEvent          = attribute.Key("dewdrop.event")
	attrSpanKind       = attribute.Key("dewdrop.span_kind")
	attrInputTokens    = attribute.Key("dewdrop.tokens.input")
	attrOutputTokens   = attribute.Key("dewdrop.tokens.output")
	attrTotalTokens    = attribute.Key("dewdrop.tokens.total")
)

// Option configures the bridge.
type Option func(*Plugin)

// WithTracerProvider sets the provider the bridge emits through. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Plugin) { p.provider = tp }
}

// Plugin exports telemetry through an OpenTelemetry tracer. Register it on
// the client's plugin list.
type Plugin struct {
	provider trace.TracerProvider
	tracer   trace.Tracer
}

// New creates the bridge plugin.
func New(opts ...Option) *Plugin {
	p := &Plugin{provider: otel.GetTracerProvider()}
	for _, opt := range opts {
		opt(p)
	}
	p.tracer = p.provider.Tracer(tracerName)
	return p
}

func (p *Plugin) Name() string { return "otelbridge" }

// OnInteractionEnd emits the interaction as a span with one child span per
// recorded operation.
func (p *Plugin) OnInteractionEnd(i *telemetry.Interaction) {
	attrs := []attribute.KeyValue{
		attrEvent.String(i.Event),
	}
	if i.UserID != "" {
		attrs = append(attrs, attrUserID.String(i.UserID))
	}
	if i.ConversationID != "" {
		attrs = append(attrs, attrConversationID.String(i.ConversationID))
	}
	if i.Model != "" {
		attrs = append(attrs, attrModel.String(i.Model))
	}

	ctx, parent := p.tracer.Start(context.Background(), i.Event,
		trace.WithTimestamp(i.StartTime),
		trace.WithAttributes(attrs...))

	for _, s := range i.Spans {
		p.emitChild(ctx, s)
	}

	parent.End(trace.WithTimestamp(time.Now()))
}

func (p *Plugin) emitChild(ctx context.Context, s *telemetry.Span) {
	_, child := p.tracer.Start(ctx, fmt.Sprintf("%s:%s", s.Kind, s.Name),
		trace.WithTimestamp(s.StartTime),
		trace.WithAttributes(attrSpanKind.String(string(s.Kind))))
	if s.Error != "" {
		child.SetStatus(codes.Error, s.Error)
	}

	end := s.EndTime
	if end.IsZero() {
		end = s.StartTime
	}
	child.End(trace.WithTimestamp(end))
}

// OnTrace emits a standalone AI call as a single span.
func (p *Plugin) OnTrace(t *telemetry.Trace) {
	attrs := []attribute.KeyValue{
		attrProvider.String(t.Provider),
		attrModel.String(t.Model),
	}
	if t.UserID != "" {
		attrs = append(attrs, attrUserID.String(t.UserID))
	}
	if t.ConversationID != "" {
		attrs = append(attrs, attrConversationID.String(t.ConversationID))
	}
	if t.Tokens != nil {
		attrs = append(attrs,
			attrInputTokens.Int64(t.Tokens.Input),
			attrOutputTokens.Int64(t.Tokens.Output),
			attrTotalTokens.Int64(t.Tokens.Total))
	}

	_, span := p.tracer.Start(context.Background(), "ai_call "+t.Model,
		trace.WithTimestamp(t.StartTime),
		trace.WithAttributes(attrs...))
	if t.Error != "" {
		span.SetStatus(codes.Error, t.Error)
	}

	end := t.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	span.End(trace.WithTimestamp(end))
}

// Flush forces the underlying provider to export, when it supports that.
func (p *Plugin) Flush(ctx context.Context) error {
	if f, ok := p.provider.(interface{ ForceFlush(context.Context) error }); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// Shutdown stops the underlying provider, when the bridge was handed one
// that supports it.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if s, ok := p.provider.(interface{ Shutdown(context.Context) error }); ok {
		return s.Shutdown(ctx)
	}
	return nil
}
