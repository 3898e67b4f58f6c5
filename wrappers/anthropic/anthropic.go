// Package anthropic instruments the official Anthropic SDK. Every call made
// through the wrapped client is recorded as an AI trace: inside a live
// interaction it becomes a nested span, otherwise it is delivered standalone.
package anthropic

import (
	"context"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/dewdrop-ai/dewdrop-go/telemetry"
)

const providerName = "anthropic"

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

// Client wraps an Anthropic SDK client with telemetry recording.
type Client struct {
	inner    sdk.Client
	recorder Recorder
}

// Wrap instruments client so its calls report to recorder.
func Wrap(client sdk.Client, recorder Recorder) *Client {
	return &Client{inner: client, recorder: recorder}
}

// NewMessage calls Messages.New and records the result. The provider's
// response and error pass through untouched; recording never fails the
// call.
func (c *Client) NewMessage(ctx context.Context, params sdk.MessageNewParams, meta ...Meta) (*sdk.Message, error) {
	start := time.Now()
	message, err := c.inner.Messages.New(ctx, params)
	c.recorder.RecordAICall(ctx, buildTrace(params, message, err, start, first(meta)))
	return message, err
}

// NewMessageStreaming calls Messages.NewStreaming and returns a stream that
// accumulates events as the caller consumes them. The call is recorded when
// the stream is exhausted or closed; an early Close records whatever partial
// output arrived.
func (c *Client) NewMessageStreaming(ctx context.Context, params sdk.MessageNewParams, meta ...Meta) *MessageStream {
	return &MessageStream{
		ctx:      ctx,
		stream:   c.inner.Messages.NewStreaming(ctx, params),
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

// buildTrace projects a request/response pair onto the telemetry trace
// shape.
func buildTrace(params sdk.MessageNewParams, message *sdk.Message, callErr error, start time.Time, meta Meta) *telemetry.Trace {
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

	// On failure any partial output that already arrived (streaming aborts,
	// mid-stream errors) is still recorded alongside the error.
	if callErr != nil {
		trace.Error = callErr.Error()
	}
	if message == nil {
		return trace
	}

	if message.Model != "" {
		trace.Model = string(message.Model)
	}
	trace.Output = outputText(message)
	trace.ToolCalls = toolCalls(message)
	if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
		trace.Tokens = &telemetry.TokenUsage{
			Input:  message.Usage.InputTokens,
			Output: message.Usage.OutputTokens,
			Total:  message.Usage.InputTokens + message.Usage.OutputTokens,
		}
	}
	if message.StopReason != "" {
		if trace.Properties == nil {
			trace.Properties = make(map[string]any, 1)
		}
		trace.Properties["stop_reason"] = string(message.StopReason)
	}

	return trace
}

// promptText extracts the text of the most recent user message.
func promptText(params sdk.MessageNewParams) any {
	for i := len(params.Messages) - 1; i >= 0; i-- {
		m := params.Messages[i]
		if m.Role != sdk.MessageParamRoleUser {
			continue
		}
		var sb strings.Builder
		for _, block := range m.Content {
			if block.OfText != nil {
				sb.WriteString(block.OfText.Text)
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}
	return nil
}

// outputText concatenates the response's text blocks.
func outputText(message *sdk.Message) any {
	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil
	}
	return sb.String()
}

func toolCalls(message *sdk.Message) []telemetry.ToolCall {
	var calls []telemetry.ToolCall
	for _, block := range message.Content {
		if block.Type == "tool_use" {
			calls = append(calls, telemetry.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	return calls
}
