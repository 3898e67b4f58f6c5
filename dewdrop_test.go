package dewdrop

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dewdrop-ai/dewdrop-go/telemetry"
)

// fakeAPI collects the event and signal payloads a test client delivers.
type fakeAPI struct {
	mu      sync.Mutex
	events  []map[string]any
	signals []map[string]any
}

func (f *fakeAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Batch endpoints take a bare JSON array of payloads.
		var batch []map[string]any
		_ = json.NewDecoder(r.Body).Decode(&batch)

		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.URL.Path {
		case "/v1/events/track":
			f.events = append(f.events, batch...)
		case "/v1/signals/track":
			f.signals = append(f.signals, batch...)
		}
	}
}

func (f *fakeAPI) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeAPI) event(i int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[i]
}

func (f *fakeAPI) signal(i int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signals[i]
}

func newTestClient(t *testing.T, mutate func(*Config)) (*Client, *fakeAPI) {
	t.Helper()

	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	cfg := Config{
		APIKey:  "dd_test",
		BaseURL: srv.URL,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	client, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	return client, api
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrMissingAPIKey)

	client, err := New(Config{Disabled: true})
	require.NoError(t, err)
	_ = client.Close(context.Background())
}

func TestCheckoutInteraction(t *testing.T) {
	client, api := newTestClient(t, nil)
	ctx := context.Background()

	ctx, in := client.Begin(ctx, telemetry.BeginOptions{
		Event:  "checkout",
		UserID: "user_7",
		Input:  "buy socks",
	})

	price, err := client.Tool(ctx, "lookup_price", map[string]any{"sku": "sock-01"},
		func(context.Context) (any, error) { return 9.99, nil })
	require.NoError(t, err)
	assert.Equal(t, 9.99, price)

	in.Finish(telemetry.FinishOptions{Output: "order placed"})
	require.NoError(t, client.Flush(ctx))

	require.Equal(t, 1, api.eventCount())
	ev := api.event(0)
	assert.Equal(t, "checkout", ev["event"])
	assert.Equal(t, "user_7", ev["user_id"])

	aiData := ev["ai_data"].(map[string]any)
	assert.Equal(t, "buy socks", aiData["input"])
	assert.Equal(t, "order placed", aiData["output"])

	props := ev["properties"].(map[string]any)
	assert.Equal(t, float64(1), props["span_count"])

	attachments := ev["attachments"].([]any)
	require.Len(t, attachments, 1)
	att := attachments[0].(map[string]any)
	assert.Equal(t, "tool:lookup_price", att["name"])
	assert.Equal(t, "code", att["type"])
}

func TestFinishIsIdempotent(t *testing.T) {
	client, api := newTestClient(t, nil)
	ctx := context.Background()

	_, in := client.Begin(ctx, telemetry.BeginOptions{Event: "chat"})
	in.Finish(telemetry.FinishOptions{Output: "first"})
	in.Finish(telemetry.FinishOptions{Output: "second"})
	in.FinishWithError(errors.New("too late"), telemetry.FinishOptions{})

	require.NoError(t, client.Flush(ctx))

	require.Equal(t, 1, api.eventCount())
	aiData := api.event(0)["ai_data"].(map[string]any)
	assert.Equal(t, "first", aiData["output"])
}

func TestRecordAICallInsideInteraction(t *testing.T) {
	client, api := newTestClient(t, nil)
	ctx := context.Background()

	ctx, in := client.Begin(ctx, telemetry.BeginOptions{Event: "chat"})
	client.RecordAICall(ctx, &telemetry.Trace{
		Provider: "anthropic",
		Model:    "claude-sonnet-4-20250514",
		Input:    "hello",
		Output:   "hi",
		Tokens:   &telemetry.TokenUsage{Input: 3, Output: 2, Total: 5},
	})
	in.Finish(telemetry.FinishOptions{})

	require.NoError(t, client.Flush(ctx))

	// The AI call is folded into the interaction, never sent standalone.
	require.Equal(t, 1, api.eventCount())
	ev := api.event(0)
	assert.Equal(t, "chat", ev["event"])

	// The first nested AI call stamps its model on the interaction.
	aiData := ev["ai_data"].(map[string]any)
	assert.Equal(t, "claude-sonnet-4-20250514", aiData["model"])

	attachments := ev["attachments"].([]any)
	require.Len(t, attachments, 1)
	att := attachments[0].(map[string]any)
	assert.Equal(t, "ai:claude-sonnet-4-20250514", att["name"])

	var span map[string]any
	require.NoError(t, json.Unmarshal([]byte(att["value"].(string)), &span))
	spanProps := span["properties"].(map[string]any)
	assert.Equal(t, "anthropic", spanProps["provider"])
	assert.Equal(t, float64(5), spanProps["total_tokens"])
}

func TestRecordAICallStandalone(t *testing.T) {
	client, api := newTestClient(t, nil)
	ctx := context.Background()

	client.RecordAICall(ctx, &telemetry.Trace{
		Provider: "openai",
		Model:    "gpt-4o",
		Input:    "ping",
		Output:   "pong",
	})
	require.NoError(t, client.Flush(ctx))

	require.Equal(t, 1, api.eventCount())
	ev := api.event(0)
	assert.Equal(t, "ai_interaction", ev["event"])
	assert.Equal(t, ev["event_id"], client.LastTraceID())
}

func TestSpanEndedAfterFinishBecomesTrace(t *testing.T) {
	client, api := newTestClient(t, nil)
	ctx := context.Background()

	ctx, in := client.Begin(ctx, telemetry.BeginOptions{Event: "chat"})
	span := client.StartSpan(ctx, "slow_lookup", telemetry.SpanKindTool)
	in.Finish(telemetry.FinishOptions{})

	span.RecordOutput("eventually")
	span.End()

	require.NoError(t, client.Flush(ctx))

	require.Equal(t, 2, api.eventCount())
	var standalone map[string]any
	for i := 0; i < api.eventCount(); i++ {
		if api.event(i)["event"] == "ai_interaction" {
			standalone = api.event(i)
		}
	}
	require.NotNil(t, standalone)

	props := standalone["properties"].(map[string]any)
	assert.Equal(t, "unknown", props["provider"])
	aiData := standalone["ai_data"].(map[string]any)
	assert.Equal(t, "tool:slow_lookup", aiData["model"])
}

func TestResume(t *testing.T) {
	client, api := newTestClient(t, nil)
	ctx := context.Background()

	_, in := client.Begin(ctx, telemetry.BeginOptions{Event: "support_ticket"})

	// A different request picks the interaction back up by ID.
	resumedCtx, resumed, err := client.Resume(context.Background(), in.ID())
	require.NoError(t, err)
	assert.Equal(t, in.ID(), resumed.ID())

	_, err = client.Tool(resumedCtx, "fetch_history", nil,
		func(context.Context) (any, error) { return "3 tickets", nil })
	require.NoError(t, err)

	in.Finish(telemetry.FinishOptions{})
	require.NoError(t, client.Flush(ctx))

	require.Equal(t, 1, api.eventCount())
	props := api.event(0)["properties"].(map[string]any)
	assert.Equal(t, float64(1), props["span_count"])
}

func TestResumeUnknownID(t *testing.T) {
	client, _ := newTestClient(t, nil)

	_, _, err := client.Resume(context.Background(), "int_missing")
	require.ErrorIs(t, err, ErrInteractionNotFound)
}

func TestWithInteractionRecordsError(t *testing.T) {
	client, api := newTestClient(t, nil)

	wantErr := errors.New("payment declined")
	err := client.WithInteraction(context.Background(), telemetry.BeginOptions{Event: "checkout"},
		func(context.Context, *Interaction) error { return wantErr },
	)
	require.ErrorIs(t, err, wantErr)

	require.NoError(t, client.Flush(context.Background()))

	require.Equal(t, 1, api.eventCount())
	props := api.event(0)["properties"].(map[string]any)
	assert.Equal(t, "payment declined", props["error"])
}

func TestWithInteractionFinalizesOnPanic(t *testing.T) {
	client, api := newTestClient(t, nil)

	require.Panics(t, func() {
		_ = client.WithInteraction(context.Background(), telemetry.BeginOptions{Event: "chat"},
			func(context.Context, *Interaction) error { panic("boom") },
		)
	})

	require.NoError(t, client.Flush(context.Background()))

	require.Equal(t, 1, api.eventCount())
	props := api.event(0)["properties"].(map[string]any)
	assert.Equal(t, "panic: boom", props["error"])
}

func TestConcurrentInteractionsStayIsolated(t *testing.T) {
	client, api := newTestClient(t, nil)

	var wg sync.WaitGroup
	for _, event := range []string{"chat_a", "chat_b", "chat_c"} {
		wg.Add(1)
		go func(event string) {
			defer wg.Done()
			ctx, in := client.Begin(context.Background(), telemetry.BeginOptions{Event: event})
			_, _ = client.Tool(ctx, "work_"+event, nil,
				func(context.Context) (any, error) { return "ok", nil })
			in.Finish(telemetry.FinishOptions{})
		}(event)
	}
	wg.Wait()

	require.NoError(t, client.Flush(context.Background()))
	require.Equal(t, 3, api.eventCount())

	for i := 0; i < 3; i++ {
		ev := api.event(i)
		props := ev["properties"].(map[string]any)
		require.Equal(t, float64(1), props["span_count"], "event %s", ev["event"])

		attachments := ev["attachments"].([]any)
		require.Len(t, attachments, 1)
		name := attachments[0].(map[string]any)["name"].(string)
		assert.Equal(t, "tool:work_"+ev["event"].(string), name)
	}
}

func TestFeedbackDefaultsToLastTrace(t *testing.T) {
	client, api := newTestClient(t, nil)
	ctx := context.Background()

	client.RecordAICall(ctx, &telemetry.Trace{Provider: "openai", Model: "gpt-4o"})
	traceID := client.LastTraceID()
	require.NotEmpty(t, traceID)

	score := 0.9
	client.Feedback("", telemetry.FeedbackOptions{Score: &score})
	require.NoError(t, client.Flush(ctx))

	sig := api.signal(0)
	assert.Equal(t, traceID, sig["event_id"])
	assert.Equal(t, "positive", sig["signal_name"])
	assert.Equal(t, telemetry.SentimentPositive, sig["sentiment"])
}

func TestDisabledClientIsNoOp(t *testing.T) {
	client, api := newTestClient(t, func(c *Config) { c.Disabled = true; c.APIKey = "" })
	ctx := context.Background()

	ctx, in := client.Begin(ctx, telemetry.BeginOptions{Event: "chat"})
	client.RecordAICall(ctx, &telemetry.Trace{Provider: "openai", Model: "gpt-4o"})
	in.Finish(telemetry.FinishOptions{})
	client.Identify("user_1", telemetry.UserTraits{Name: "Ada"})

	require.NoError(t, client.Flush(ctx))
	assert.Equal(t, 0, api.eventCount())
}
