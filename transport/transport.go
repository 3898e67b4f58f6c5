// Package transport implements buffered, batching delivery of telemetry
// events over HTTP. Events are queued in memory, flushed on a debounced
// timer, grouped by endpoint, and sent with bounded retries behind a
// circuit breaker.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dewdrop-ai/dewdrop-go/internal/logging"
	"github.com/dewdrop-ai/dewdrop-go/internal/resilience"
	"github.com/dewdrop-ai/dewdrop-go/telemetry"
)

const (
	eventsPath   = "/v1/events/track"
	signalsPath  = "/v1/signals/track"
	identifyPath = "/v1/users/identify"

	defaultBaseURL       = "https://api.dewdrop.ai"
	defaultFlushInterval = 100 * time.Millisecond
	defaultMaxQueueSize  = 1000
	defaultMaxRetries    = 3
	defaultRetryWaitMin  = 100 * time.Millisecond
	defaultRetryWaitMax  = 2 * time.Second
	defaultTimeout       = 10 * time.Second
)

type eventKind string

const (
	kindTrace       eventKind = "trace"
	kindInteraction eventKind = "interaction"
	kindFeedback    eventKind = "feedback"
	kindSignal      eventKind = "signal"
	kindIdentify    eventKind = "identify"
)

// queuedEvent pairs a formatted payload with its routing kind. Once queued
// the payload is owned exclusively by the transport.
type queuedEvent struct {
	kind       eventKind
	payload    map[string]any
	enqueuedAt time.Time
}

// Config controls queueing and delivery behavior. Zero values fall back to
// the defaults above.
type Config struct {
	APIKey  string
	BaseURL string

	// Disabled turns the transport into a no-op sink.
	Disabled bool

	// FlushInterval is the debounce window between the first enqueued
	// event and the flush that carries it.
	FlushInterval time.Duration

	// MaxQueueSize bounds the in-memory queue. When full, the oldest
	// event is dropped to make room.
	MaxQueueSize int

	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration

	// SendsPerSecond throttles outgoing requests. Zero means unlimited.
	SendsPerSecond float64

	Logger   *zap.Logger
	Registry prometheus.Registerer
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryWaitMin <= 0 {
		c.RetryWaitMin = defaultRetryWaitMin
	}
	if c.RetryWaitMax <= 0 {
		c.RetryWaitMax = defaultRetryWaitMax
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}
}

// Transport is the buffered delivery pipeline. All methods are safe for
// concurrent use.
type Transport struct {
	cfg     Config
	client  *resty.Client
	logger  *zap.Logger
	metrics *Metrics
	breaker *resilience.Breaker
	limiter *rate.Limiter

	mu     sync.Mutex
	queue  []queuedEvent
	timer  *time.Timer
	closed bool

	closeOnce sync.Once
}

// New creates a transport from cfg. The caller owns the lifecycle and must
// call Close to drain the queue.
func New(cfg Config) *Transport {
	cfg.applyDefaults()

	metrics := NewMetrics(cfg.Registry)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.SendsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), 1)
	}

	t := &Transport{
		cfg:     cfg,
		client:  newHTTPClient(cfg, metrics),
		logger:  cfg.Logger,
		metrics: metrics,
	}
	t.breaker = resilience.New(resilience.Settings{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		OnStateChange: func(from, to resilience.State) {
			t.logger.Warn("delivery breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	t.limiter = limiter

	return t
}

// SendTrace queues a standalone trace for delivery.
func (t *Transport) SendTrace(tr *telemetry.Trace) {
	if t.cfg.Disabled {
		return
	}
	t.enqueue(kindTrace, formatTrace(tr))
}

// SendInteraction queues a finished interaction for delivery.
func (t *Transport) SendInteraction(i *telemetry.Interaction, endTime time.Time, errMsg string) {
	if t.cfg.Disabled {
		return
	}
	t.enqueue(kindInteraction, formatInteraction(i, endTime, errMsg))
}

// SendFeedback queues feedback against a previously recorded trace.
func (t *Transport) SendFeedback(traceID, userID string, opts telemetry.FeedbackOptions) {
	if t.cfg.Disabled {
		return
	}
	t.enqueue(kindFeedback, formatFeedback(traceID, userID, opts))
}

// SendSignal queues a named signal.
func (t *Transport) SendSignal(userID string, opts telemetry.SignalOptions) {
	if t.cfg.Disabled {
		return
	}
	t.enqueue(kindSignal, formatSignal(userID, opts))
}

// SendIdentify queues a user-identification event. Identify payloads are
// delivered individually rather than batched.
func (t *Transport) SendIdentify(userID string, traits telemetry.UserTraits) {
	if t.cfg.Disabled {
		return
	}
	t.enqueue(kindIdentify, formatIdentify(userID, traits))
}

// enqueue admits a payload into the queue, enforcing the event size cap and
// the bounded-queue drop-oldest policy, and arms the debounced flush timer.
func (t *Transport) enqueue(kind eventKind, payload map[string]any) {
	if data, err := json.Marshal(payload); err == nil && len(data) > maxEventSize {
		t.metrics.EventsDropped.WithLabelValues(dropOversize).Inc()
		t.logger.Warn("event exceeds size cap, dropping",
			zap.String("type", string(kind)),
			zap.Int("bytes", len(data)))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	if len(t.queue) >= t.cfg.MaxQueueSize {
		t.queue = append(t.queue[:0], t.queue[1:]...)
		t.metrics.EventsDropped.WithLabelValues(dropOverflow).Inc()
		t.logger.Warn("queue full, dropping oldest event",
			zap.Int("capacity", t.cfg.MaxQueueSize))
	} else if len(t.queue) >= t.cfg.MaxQueueSize*4/5 {
		t.metrics.QueueHighWater.Inc()
		t.logger.Warn("queue above 80% capacity",
			zap.Int("depth", len(t.queue)),
			zap.Int("capacity", t.cfg.MaxQueueSize))
	}

	t.queue = append(t.queue, queuedEvent{kind: kind, payload: payload, enqueuedAt: time.Now()})
	t.metrics.EventsQueued.WithLabelValues(string(kind)).Inc()
	t.metrics.QueueDepth.Set(float64(len(t.queue)))

	if t.timer == nil {
		t.timer = time.AfterFunc(t.cfg.FlushInterval, func() {
			t.flushNow(context.Background())
		})
	}
}

// Flush synchronously drains the queue on the caller's goroutine.
func (t *Transport) Flush(ctx context.Context) error {
	t.flushNow(ctx)
	return ctx.Err()
}

// flushNow swaps the queue out under the lock and delivers its contents.
// Events enqueued while delivery is in flight land in a fresh queue and arm
// a fresh timer.
func (t *Transport) flushNow(ctx context.Context) {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	pending := t.queue
	t.queue = nil
	t.mu.Unlock()

	t.metrics.QueueDepth.Set(0)

	if len(pending) == 0 {
		return
	}

	var (
		events     []map[string]any
		signals    []map[string]any
		identifies []map[string]any
	)
	now := time.Now()
	for _, ev := range pending {
		t.metrics.QueueWait.Observe(now.Sub(ev.enqueuedAt).Seconds())
		switch ev.kind {
		case kindFeedback, kindSignal:
			signals = append(signals, ev.payload)
		case kindIdentify:
			identifies = append(identifies, ev.payload)
		default:
			events = append(events, ev.payload)
		}
	}

	var wg sync.WaitGroup
	if len(events) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.send(ctx, eventsPath, events, len(events))
		}()
	}
	if len(signals) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t.send(ctx, signalsPath, signals, len(signals))
		}()
	}
	for _, payload := range identifies {
		t.send(ctx, identifyPath, payload, 1)
	}
	wg.Wait()
}

// send posts one request, recording the outcome with the breaker. A batch
// that exhausts its retries is dropped, never requeued.
func (t *Transport) send(ctx context.Context, path string, body any, count int) {
	if !t.breaker.Allow() {
		t.metrics.EventsDropped.WithLabelValues(dropBreakerOpen).Add(float64(count))
		t.logger.Warn("delivery breaker open, dropping batch",
			zap.String("endpoint", path),
			zap.Int("count", count))
		return
	}

	if err := t.limiter.Wait(ctx); err != nil {
		t.metrics.EventsDropped.WithLabelValues(dropRetryExhausted).Add(float64(count))
		return
	}

	resp, err := t.client.R().SetContext(ctx).SetBody(body).Post(path)
	success := err == nil && resp.IsSuccess()
	t.breaker.Record(success)

	if !success {
		t.metrics.EventsDropped.WithLabelValues(dropRetryExhausted).Add(float64(count))
		fields := []zap.Field{
			zap.String("endpoint", path),
			zap.Int("count", count),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		} else {
			fields = append(fields, zap.Int("status", resp.StatusCode()))
		}
		t.logger.Warn("delivery failed after retries", fields...)
		return
	}

	t.metrics.BatchesSent.WithLabelValues(path).Inc()
	t.logger.Debug("delivered batch",
		zap.String("endpoint", path),
		zap.Int("count", count))
}

// Close flushes pending events and shuts the transport down. Safe to call
// more than once.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		t.flushNow(context.Background())

		t.mu.Lock()
		t.closed = true
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		t.mu.Unlock()

		t.client.GetClient().CloseIdleConnections()
	})
}
