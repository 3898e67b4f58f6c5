// Package dewdrop is the client SDK for the Dewdrop AI-observability
// platform. It records user interactions, the AI calls and tool calls made
// while serving them, and delivers them to the Dewdrop API through a
// buffered, batching transport.
//
// Basic use:
//
//	client, err := dewdrop.New(dewdrop.Config{APIKey: os.Getenv("DEWDROP_API_KEY")})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close(context.Background())
//
//	ctx, in := client.Begin(ctx, telemetry.BeginOptions{Event: "chat", UserID: "user_1"})
//	// ... run AI calls and tools with ctx ...
//	in.Finish(telemetry.FinishOptions{Output: reply})
package dewdrop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dewdrop-ai/dewdrop-go/internal/id"
	"github.com/dewdrop-ai/dewdrop-go/internal/logging"
	"github.com/dewdrop-ai/dewdrop-go/telemetry"
	"github.com/dewdrop-ai/dewdrop-go/transport"
)

// envPrefix is the prefix for environment configuration, e.g.
// DEWDROP_API_KEY or DEWDROP_MAX_QUEUE_SIZE.
const envPrefix = "dewdrop"

// ErrMissingAPIKey is returned by New when no API key is configured and the
// client is not explicitly disabled.
var ErrMissingAPIKey = errors.New("dewdrop: api key is required (set Config.APIKey or DEWDROP_API_KEY)")

// Config configures a Client. Fields left zero fall back to transport
// defaults.
type Config struct {
	APIKey  string `envconfig:"API_KEY"`
	BaseURL string `envconfig:"BASE_URL"`

	// Disabled turns the whole SDK into a no-op. Useful in tests and local
	// development.
	Disabled bool `envconfig:"DISABLED"`

	// Debug enables verbose console logging.
	Debug bool `envconfig:"DEBUG"`

	// RedactPII prepends the built-in redaction plugin to the pipeline.
	RedactPII bool `envconfig:"REDACT_PII"`

	// DefaultUserID is used for events that carry no explicit user.
	DefaultUserID string `envconfig:"DEFAULT_USER_ID"`

	FlushInterval  time.Duration `envconfig:"FLUSH_INTERVAL"`
	MaxQueueSize   int           `envconfig:"MAX_QUEUE_SIZE"`
	MaxRetries     int           `envconfig:"MAX_RETRIES"`
	Timeout        time.Duration `envconfig:"TIMEOUT"`
	SendsPerSecond float64       `envconfig:"SENDS_PER_SECOND"`

	// Plugins run in order on every interaction, span, and trace.
	Plugins []telemetry.Plugin `ignored:"true"`

	// Logger overrides the SDK logger. Defaults to a no-op logger, or a
	// console debug logger when Debug is set.
	Logger *zap.Logger `ignored:"true"`

	// Registry receives the transport's Prometheus metrics. Defaults to a
	// private registry.
	Registry prometheus.Registerer `ignored:"true"`

	// Clock overrides time.Now, for tests.
	Clock func() time.Time `ignored:"true"`
}

// Client is the SDK entry point. It is safe for concurrent use. The caller
// owns the lifecycle: create with New, stop with Close.
type Client struct {
	cfg       Config
	logger    *zap.Logger
	transport *transport.Transport
	pipeline  *pipeline
	clock     func() time.Time

	mu          sync.Mutex
	active      map[string]*Interaction
	userID      string
	lastTraceID string

	closeOnce sync.Once
	closeErr  error
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" && !cfg.Disabled {
		return nil, ErrMissingAPIKey
	}

	logger := cfg.Logger
	if logger == nil {
		if cfg.Debug {
			logger = logging.NewDebug()
		} else {
			logger = logging.NewNop()
		}
	}

	plugins := cfg.Plugins
	if cfg.RedactPII {
		plugins = append([]telemetry.Plugin{NewRedactionPlugin(RedactionOptions{})}, plugins...)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
		transport: transport.New(transport.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Disabled:       cfg.Disabled,
			FlushInterval:  cfg.FlushInterval,
			MaxQueueSize:   cfg.MaxQueueSize,
			MaxRetries:     cfg.MaxRetries,
			Timeout:        cfg.Timeout,
			SendsPerSecond: cfg.SendsPerSecond,
			Logger:         logger,
			Registry:       cfg.Registry,
		}),
		pipeline: newPipeline(plugins, logger),
		clock:    clock,
		active:   make(map[string]*Interaction),
		userID:   cfg.DefaultUserID,
	}

	logger.Debug("client initialized",
		zap.Bool("disabled", cfg.Disabled),
		zap.Int("plugins", len(plugins)))

	return c, nil
}

// FromEnv creates a Client configured entirely from DEWDROP_* environment
// variables.
func FromEnv() (*Client, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("dewdrop: read environment: %w", err)
	}
	return New(cfg)
}

// Recorder accepts completed AI calls. Provider wrappers depend on this
// rather than on the concrete Client.
type Recorder interface {
	RecordAICall(ctx context.Context, trace *telemetry.Trace)
}

// RecordAICall records one completed provider call. Inside a live
// interaction the call becomes a nested AI span; otherwise it is delivered
// as a standalone trace.
func (c *Client) RecordAICall(ctx context.Context, trace *telemetry.Trace) {
	if trace.ID == "" {
		trace.ID = id.NewTraceID()
	}
	if trace.UserID == "" {
		trace.UserID = c.defaultUserID()
	}
	if trace.EndTime.IsZero() {
		trace.EndTime = c.now()
	}
	if trace.LatencyMS == 0 && !trace.StartTime.IsZero() {
		trace.LatencyMS = trace.EndTime.Sub(trace.StartTime).Milliseconds()
	}

	if parent, ok := InteractionFromContext(ctx); ok {
		span := c.aiSpan(trace)
		c.pipeline.span(span)
		if parent.appendSpan(span) {
			parent.setModelIfEmpty(trace.Model)
			return
		}
		// Interaction finished underneath us; fall through to standalone.
	}

	c.sendTrace(trace)
}

// aiSpan projects a provider trace onto the span shape used inside
// interactions.
func (c *Client) aiSpan(trace *telemetry.Trace) *telemetry.Span {
	props := cloneProps(trace.Properties)
	if props == nil {
		props = make(map[string]any, 4)
	}
	props["provider"] = trace.Provider
	if trace.Tokens != nil {
		props["input_tokens"] = trace.Tokens.Input
		props["output_tokens"] = trace.Tokens.Output
		props["total_tokens"] = trace.Tokens.Total
	}

	return &telemetry.Span{
		ID:         id.NewSpanID(),
		Name:       trace.Model,
		Kind:       telemetry.SpanKindAI,
		StartTime:  trace.StartTime,
		EndTime:    trace.EndTime,
		LatencyMS:  trace.LatencyMS,
		Input:      trace.Input,
		Output:     trace.Output,
		Error:      trace.Error,
		Properties: props,
	}
}

// sendTrace runs the plugin pipeline and queues the trace for delivery.
func (c *Client) sendTrace(trace *telemetry.Trace) {
	c.pipeline.trace(trace)
	c.transport.SendTrace(trace)
	c.setLastTraceID(trace.ID)
}

// finishInteraction is called by Interaction.finish after the handle is
// sealed.
func (c *Client) finishInteraction(i *Interaction, errMsg string) {
	c.mu.Lock()
	delete(c.active, i.data.ID)
	c.mu.Unlock()

	c.pipeline.interactionEnd(i.data)
	c.transport.SendInteraction(i.data, c.now(), errMsg)
	c.setLastTraceID(i.data.ID)
}

// Identify records user traits and makes userID the default for subsequent
// events.
func (c *Client) Identify(userID string, traits telemetry.UserTraits) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()

	c.transport.SendIdentify(userID, traits)
}

// Feedback records user feedback against a trace or interaction. An empty
// traceID targets the most recently recorded event.
func (c *Client) Feedback(traceID string, opts telemetry.FeedbackOptions) {
	if traceID == "" {
		traceID = c.LastTraceID()
	}
	if traceID == "" {
		c.logger.Warn("feedback dropped: no trace to attach it to")
		return
	}
	c.transport.SendFeedback(traceID, c.defaultUserID(), opts)
}

// TrackSignal records an arbitrary named signal. An empty EventID targets
// the most recently recorded event.
func (c *Client) TrackSignal(opts telemetry.SignalOptions) {
	if opts.EventID == "" {
		opts.EventID = c.LastTraceID()
	}
	if opts.EventID == "" {
		c.logger.Warn("signal dropped: no trace to attach it to",
			zap.String("signal", opts.Name))
		return
	}
	c.transport.SendSignal(c.defaultUserID(), opts)
}

// LastTraceID returns the ID of the most recently recorded trace or
// interaction, or the empty string.
func (c *Client) LastTraceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTraceID
}

// Flush synchronously drains plugin buffers and the transport queue.
func (c *Client) Flush(ctx context.Context) error {
	if err := c.pipeline.flush(ctx); err != nil {
		return err
	}
	return c.transport.Flush(ctx)
}

// Close flushes everything and shuts the client down. Idempotent; events
// recorded afterwards are dropped.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		var errs []error
		if err := c.pipeline.flush(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := c.transport.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := c.pipeline.shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		c.transport.Close()
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func (c *Client) registerInteraction(i *Interaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[i.data.ID] = i
}

func (c *Client) lookupInteraction(interactionID string) (*Interaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.active[interactionID]
	return i, ok
}

func (c *Client) setLastTraceID(traceID string) {
	c.mu.Lock()
	c.lastTraceID = traceID
	c.mu.Unlock()
}

func (c *Client) defaultUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) now() time.Time {
	return c.clock()
}
