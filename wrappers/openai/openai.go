// Package openai instruments the official OpenAI SDK. Chat completions made
// through the wrapped client are recorded as AI traces: inside a live
// interaction they become nested spans, otherwise they are delivered
// standalone.
package openai

import (
	"context"
	"time"

	sdk "github.com/openai/openai-go"

	"github.com/dewdrop-ai/dewdrop-go/telemetry"
)

const providerName = "openai"

// Recorder receives completed calls. *dewdrop.Client satisfies it.
type Recorder interface {
	RecordAICall(ctx context.Context, trace *telemetry.Trace)
}

// Meta carries optional per-call telemetry fields.
type Meta struct {
	UserID         string
	ConversationID string
	Properties     map[string]any
}

// Client wraps an OpenAI SDK client with telemetry recording.
type Client struct {
	inner    sdk.Client
	recorder Recorder
}

// Wrap instruments client so its calls report to recorder.
func Wrap(client sdk.Client, recorder Recorder) *Client {
	return &Client{inner: client, recorder: recorder}
}

// NewChatCompletion calls Chat.Completions.New and records the result. The
// provider's response and error pass through untouched.
func (c *Client) NewChatCompletion(ctx context.Context, params sdk.ChatCompletionNewParams, meta ...Meta) (*sdk.ChatCompletion, error) {
	start := time.Now()
	completion, err := c.inner.Chat.Completions.New(ctx, params)
	c.recorder.RecordAICall(ctx, buildTrace(params, completion, err, start, first(meta)))
	return completion, err
}

// NewChatCompletionStreaming calls Chat.Completions.NewStreaming and returns
// a stream that accumulates chunks as the caller consumes them. The call is
// recorded when the stream is exhausted or closed; an early Close records
// whatever partial output arrived.
func (c *Client) NewChatCompletionStreaming(ctx context.Context, params sdk.ChatCompletionNewParams, meta ...Meta) *ChatCompletionStream {
	return &ChatCompletionStream{
		ctx:      ctx,
		stream:   c.inner.Chat.Completions.NewStreaming(ctx, params),
		recorder: c.recorder,
		params:   params,
		meta:     first(meta),
		start:    time.Now(),
	}
}

func first(meta []Meta) Meta {
	if len(meta) > 0 {
		return meta[0]
	}
	return Meta{}
}

func buildTrace(params sdk.ChatCompletionNewParams, completion *sdk.ChatCompletion, callErr error, start time.Time, meta Meta) *telemetry.Trace {
	trace := &telemetry.Trace{
		Provider:       providerName,
		Model:          string(params.Model),
		Input:          promptText(params),
		StartTime:      start,
		EndTime:        time.Now(),
		UserID:         meta.UserID,
		ConversationID: meta.ConversationID,
		Properties:     meta.Properties,
	}
	trace.LatencyMS = trace.EndTime.Sub(start).Milliseconds()

	// Partial output recorded before a failure still goes out with the
	// error.
	if callErr != nil {
		trace.Error = callErr.Error()
	}
	if completion == nil {
		return trace
	}

	if completion.Model != "" {
		trace.Model = completion.Model
	}
	if len(completion.Choices) > 0 {
		choice := completion.Choices[0]
		if choice.Message.Content != "" {
			trace.Output = choice.Message.Content
		}
		for _, tc := range choice.Message.ToolCalls {
			trace.ToolCalls = append(trace.ToolCalls, telemetry.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		if choice.FinishReason != "" {
			if trace.Properties == nil {
				trace.Properties = make(map[string]any, 1)
			}
			trace.Properties["finish_reason"] = choice.FinishReason
		}
	}
	if completion.Usage.TotalTokens > 0 {
		trace.Tokens = &telemetry.TokenUsage{
			Input:  completion.Usage.PromptTokens,
			Output: completion.Usage.CompletionTokens,
			Total:  completion.Usage.TotalTokens,
		}
	}

	return trace
}

// promptText extracts the text of the most recent plain-string user message.
func promptText(params sdk.ChatCompletionNewParams) any {
	for i := len(params.Messages) - 1; i >= 0; i-- {
		if user := params.Messages[i].OfUser; user != nil {
			if text := user.Content.OfString.Or(""); text != "" {
				return text
			}
		}
	}
	return nil
}
