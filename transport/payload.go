package transport

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/dewdrop-ai/dewdrop-go/telemetry"
)

const (
	sdkName    = "dewdrop-go"
	sdkVersion = "0.1.0"

	// Events larger than this are dropped at enqueue time.
	maxEventSize = 1 << 20

	traceEventName = "ai_interaction"
)

// sdkContext is attached to every event under the $context property so the
// backend can attribute payloads to a library version.
func sdkContext() map[string]any {
	return map[string]any{
		"library": map[string]any{
			"name":    sdkName,
			"version": sdkVersion,
		},
		"metadata": map[string]any{
			"runtime": runtime.Version(),
		},
	}
}

// safeJSONString marshals v, falling back to fmt formatting for values the
// encoder rejects. Delivery never fails on an odd property value.
func safeJSONString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// toAPIString normalizes a model input or output for the wire: nil passes
// through, strings are kept verbatim, everything else is JSON-encoded.
func toAPIString(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return t
	default:
		return safeJSONString(t)
	}
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// spanAttachment serializes a span into the code-attachment shape the events
// endpoint expects on interactions.
func spanAttachment(s *telemetry.Span) map[string]any {
	body := map[string]any{
		"spanId":    s.ID,
		"input":     toAPIString(s.Input),
		"output":    toAPIString(s.Output),
		"latencyMs": s.LatencyMS,
	}
	if s.Error != "" {
		body["error"] = s.Error
	}
	if len(s.Properties) > 0 {
		body["properties"] = s.Properties
	}

	return map[string]any{
		"type":     "code",
		"name":     fmt.Sprintf("%s:%s", s.Kind, s.Name),
		"value":    safeJSONString(body),
		"role":     "output",
		"language": "json",
	}
}

func attachmentMap(a telemetry.Attachment) map[string]any {
	m := map[string]any{
		"type":  a.Type,
		"name":  a.Name,
		"value": a.Value,
		"role":  a.Role,
	}
	if a.Language != "" {
		m["language"] = a.Language
	}
	if a.AttachmentID != "" {
		m["attachment_id"] = a.AttachmentID
	}
	return m
}

// formatTrace builds the events-endpoint payload for a standalone trace.
func formatTrace(t *telemetry.Trace) map[string]any {
	props := map[string]any{
		"$context":        sdkContext(),
		"provider":        t.Provider,
		"conversation_id": emptyToNil(t.ConversationID),
		"latency_ms":      t.LatencyMS,
	}
	if t.Tokens != nil {
		props["input_tokens"] = t.Tokens.Input
		props["output_tokens"] = t.Tokens.Output
		props["total_tokens"] = t.Tokens.Total
	}
	if t.Error != "" {
		props["error"] = t.Error
	}
	for k, v := range t.Properties {
		props[k] = v
	}

	payload := map[string]any{
		"event_id":   t.ID,
		"user_id":    emptyToNil(t.UserID),
		"event":      traceEventName,
		"timestamp":  isoTime(t.StartTime),
		"properties": props,
		"ai_data": map[string]any{
			"model":    t.Model,
			"input":    toAPIString(t.Input),
			"output":   toAPIString(t.Output),
			"convo_id": emptyToNil(t.ConversationID),
		},
	}

	if len(t.ToolCalls) > 0 {
		attachments := make([]map[string]any, 0, len(t.ToolCalls))
		for _, tc := range t.ToolCalls {
			attachments = append(attachments, map[string]any{
				"type": "code",
				"name": fmt.Sprintf("tool:%s", tc.Name),
				"value": safeJSONString(map[string]any{
					"id":        tc.ID,
					"arguments": toAPIString(tc.Arguments),
					"result":    toAPIString(tc.Result),
				}),
				"role":     "output",
				"language": "json",
			})
		}
		payload["attachments"] = attachments
	}

	return payload
}

// formatInteraction builds the events-endpoint payload for a finished
// interaction, folding recorded spans into code attachments.
func formatInteraction(i *telemetry.Interaction, endTime time.Time, errMsg string) map[string]any {
	latency := endTime.Sub(i.StartTime).Milliseconds()

	attachments := make([]map[string]any, 0, len(i.Attachments)+len(i.Spans))
	for _, a := range i.Attachments {
		attachments = append(attachments, attachmentMap(a))
	}
	for _, s := range i.Spans {
		attachments = append(attachments, spanAttachment(s))
	}

	props := map[string]any{
		"$context":   sdkContext(),
		"latency_ms": latency,
		"span_count": len(i.Spans),
	}
	if errMsg != "" {
		props["error"] = errMsg
	}
	for k, v := range i.Properties {
		props[k] = v
	}

	return map[string]any{
		"event_id":    i.ID,
		"user_id":     emptyToNil(i.UserID),
		"event":       i.Event,
		"timestamp":   isoTime(i.StartTime),
		"properties":  props,
		"attachments": attachments,
		"ai_data": map[string]any{
			"input":    emptyToNil(i.Input),
			"output":   emptyToNil(i.Output),
			"model":    emptyToNil(i.Model),
			"convo_id": emptyToNil(i.ConversationID),
		},
	}
}

// formatFeedback builds the signals-endpoint payload for user feedback.
// Scores of 0.5 and above map to positive sentiment, everything below to
// negative. Without a score the feedback type decides: thumbs_up is the only
// positive one.
func formatFeedback(traceID, userID string, opts telemetry.FeedbackOptions) map[string]any {
	var (
		name      string
		sentiment string
	)
	switch {
	case opts.Score != nil:
		if *opts.Score >= 0.5 {
			name, sentiment = "positive", telemetry.SentimentPositive
		} else {
			name, sentiment = "negative", telemetry.SentimentNegative
		}
	case opts.Type != "":
		name = opts.Type
		if opts.Type == "thumbs_up" {
			sentiment = telemetry.SentimentPositive
		} else {
			sentiment = telemetry.SentimentNegative
		}
	default:
		name, sentiment = "negative", telemetry.SentimentNegative
	}

	signalType := opts.SignalType
	if signalType == "" {
		signalType = "feedback"
	}
	timestamp := opts.Timestamp
	if timestamp == "" {
		timestamp = isoTime(time.Now())
	}

	props := map[string]any{
		"score":   opts.Score,
		"comment": emptyToNil(opts.Comment),
	}
	for k, v := range opts.Properties {
		props[k] = v
	}

	payload := map[string]any{
		"event_id":    traceID,
		"user_id":     emptyToNil(userID),
		"signal_name": name,
		"signal_type": signalType,
		"sentiment":   sentiment,
		"timestamp":   timestamp,
		"properties":  props,
	}
	if opts.AttachmentID != "" {
		payload["attachment_id"] = opts.AttachmentID
	}
	return payload
}

// formatSignal builds the signals-endpoint payload for a named signal.
func formatSignal(userID string, opts telemetry.SignalOptions) map[string]any {
	sentiment := opts.Sentiment
	if sentiment == "" {
		sentiment = telemetry.SentimentNegative
	}
	signalType := opts.Type
	if signalType == "" {
		signalType = "default"
	}

	props := map[string]any{}
	if opts.Comment != "" {
		props["comment"] = opts.Comment
	}
	if opts.After != "" {
		props["after"] = opts.After
	}
	for k, v := range opts.Properties {
		props[k] = v
	}

	payload := map[string]any{
		"event_id":    opts.EventID,
		"user_id":     emptyToNil(userID),
		"signal_name": opts.Name,
		"signal_type": signalType,
		"sentiment":   sentiment,
		"timestamp":   isoTime(time.Now()),
		"properties":  props,
	}
	if opts.AttachmentID != "" {
		payload["attachment_id"] = opts.AttachmentID
	}
	return payload
}

// formatIdentify builds the identify-endpoint payload.
func formatIdentify(userID string, traits telemetry.UserTraits) map[string]any {
	return map[string]any{
		"user_id":   userID,
		"traits":    traits.Map(),
		"timestamp": isoTime(time.Now()),
		"$context":  sdkContext(),
	}
}
