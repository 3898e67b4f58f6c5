package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dewdrop-ai/dewdrop-go/telemetry"
)

func floatPtr(f float64) *float64 { return &f }

func TestFormatFeedbackSentiment(t *testing.T) {
	tests := []struct {
		name          string
		opts          telemetry.FeedbackOptions
		wantName      string
		wantSentiment string
	}{
		{
			name:          "high score is positive",
			opts:          telemetry.FeedbackOptions{Score: floatPtr(0.75)},
			wantName:      "positive",
			wantSentiment: telemetry.SentimentPositive,
		},
		{
			name:          "low score is negative",
			opts:          telemetry.FeedbackOptions{Score: floatPtr(0.3)},
			wantName:      "negative",
			wantSentiment: telemetry.SentimentNegative,
		},
		{
			name:          "boundary score counts as positive",
			opts:          telemetry.FeedbackOptions{Score: floatPtr(0.5)},
			wantName:      "positive",
			wantSentiment: telemetry.SentimentPositive,
		},
		{
			name:          "thumbs up without score",
			opts:          telemetry.FeedbackOptions{Type: "thumbs_up"},
			wantName:      "thumbs_up",
			wantSentiment: telemetry.SentimentPositive,
		},
		{
			name:          "thumbs down without score",
			opts:          telemetry.FeedbackOptions{Type: "thumbs_down"},
			wantName:      "thumbs_down",
			wantSentiment: telemetry.SentimentNegative,
		},
		{
			name:          "empty feedback defaults negative",
			opts:          telemetry.FeedbackOptions{},
			wantName:      "negative",
			wantSentiment: telemetry.SentimentNegative,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := formatFeedback("trace_x", "user_1", tt.opts)
			assert.Equal(t, tt.wantName, payload["signal_name"])
			assert.Equal(t, tt.wantSentiment, payload["sentiment"])
			assert.Equal(t, "feedback", payload["signal_type"])
			assert.Equal(t, "trace_x", payload["event_id"])
		})
	}
}

func TestFormatTraceShape(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	tr := &telemetry.Trace{
		ID:             "trace_shape",
		Provider:       "openai",
		Model:          "gpt-4o",
		Input:          map[string]any{"role": "user"},
		Output:         "done",
		StartTime:      start,
		LatencyMS:      120,
		UserID:         "user_9",
		ConversationID: "convo_3",
		Tokens:         &telemetry.TokenUsage{Input: 10, Output: 5, Total: 15},
		ToolCalls: []telemetry.ToolCall{
			{ID: "call_1", Name: "search", Arguments: `{"q":"weather"}`, Result: "sunny"},
		},
	}

	payload := formatTrace(tr)

	assert.Equal(t, "ai_interaction", payload["event"])
	assert.Equal(t, "2026-03-14T09:26:53Z", payload["timestamp"])

	props := payload["properties"].(map[string]any)
	assert.Equal(t, "openai", props["provider"])
	assert.Equal(t, int64(15), props["total_tokens"])
	require.Contains(t, props, "$context")

	aiData := payload["ai_data"].(map[string]any)
	assert.Equal(t, "gpt-4o", aiData["model"])
	assert.Equal(t, "convo_3", aiData["convo_id"])
	// Non-string input is serialized, not stringified.
	assert.JSONEq(t, `{"role":"user"}`, aiData["input"].(string))

	attachments := payload["attachments"].([]map[string]any)
	require.Len(t, attachments, 1)
	assert.Equal(t, "tool:search", attachments[0]["name"])
	assert.Equal(t, "code", attachments[0]["type"])
}

func TestFormatInteractionFoldsSpans(t *testing.T) {
	start := time.Now().Add(-250 * time.Millisecond)
	in := &telemetry.Interaction{
		ID:        "int_1",
		UserID:    "user_2",
		Event:     "checkout",
		StartTime: start,
		Input:     "buy socks",
		Output:    "order placed",
		Spans: []*telemetry.Span{
			{
				ID:        "span_1",
				Name:      "lookup_price",
				Kind:      telemetry.SpanKindTool,
				LatencyMS: 12,
				Input:     map[string]any{"sku": "sock-01"},
				Output:    9.99,
			},
			{
				ID:        "span_2",
				Name:      "charge",
				Kind:      telemetry.SpanKindTool,
				LatencyMS: 80,
				Error:     "card declined",
			},
		},
	}

	payload := formatInteraction(in, time.Now(), "")

	props := payload["properties"].(map[string]any)
	assert.Equal(t, 2, props["span_count"])
	assert.NotContains(t, props, "error")
	assert.GreaterOrEqual(t, props["latency_ms"].(int64), int64(250))

	attachments := payload["attachments"].([]map[string]any)
	require.Len(t, attachments, 2)
	assert.Equal(t, "tool:lookup_price", attachments[0]["name"])
	assert.Equal(t, "json", attachments[0]["language"])

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(attachments[1]["value"].(string)), &body))
	assert.Equal(t, "span_2", body["spanId"])
	assert.Equal(t, "card declined", body["error"])
}

func TestToAPIString(t *testing.T) {
	assert.Nil(t, toAPIString(nil))
	assert.Equal(t, "plain", toAPIString("plain"))
	assert.JSONEq(t, `{"n":1}`, toAPIString(map[string]any{"n": 1}).(string))
}
