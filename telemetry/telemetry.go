// Package telemetry defines the data model shared by the dewdrop SDK core,
// its transport, and its plugins: interactions, spans, standalone traces,
// signals, and user identity.
//
// The types here are plain mutable data. Plugins receive pointers to them and
// are expected to mutate in place (e.g. redaction rewrites Input/Output before
// the data leaves the process).
package telemetry

import "time"

// SpanKind classifies a nested operation inside an interaction.
type SpanKind string

const (
	SpanKindTool SpanKind = "tool"
	SpanKindAI   SpanKind = "ai"
)

// Sentiment values accepted by the signals endpoint.
const (
	SentimentPositive = "POSITIVE"
	SentimentNegative = "NEGATIVE"
)

// Attachment is an auxiliary artifact attached to an event payload.
type Attachment struct {
	Type         string // "code", "text", "image", "iframe"
	Name         string
	Value        string
	Role         string // "input" or "output"
	Language     string
	AttachmentID string // optional, for targeting with signals
}

// TokenUsage carries token counts reported by a provider.
type TokenUsage struct {
	Input  int64
	Output int64
	Total  int64
}

// ToolCall describes a single tool invocation made during an AI call.
type ToolCall struct {
	ID        string
	Name      string
	Arguments any
	Result    any
}

// Span is one nested operation (a tool call or an AI call) inside an
// interaction. ParentID is set when the span is appended to its parent and
// always equals the parent interaction's ID. EndTime stays zero until the
// span is finalized; LatencyMS is EndTime minus StartTime in whole
// milliseconds.
type Span struct {
	ID         string
	ParentID   string
	Name       string
	Kind       SpanKind
	StartTime  time.Time
	EndTime    time.Time
	LatencyMS  int64
	Input      any
	Output     any
	Error      string
	Properties map[string]any
}

// Interaction is one logical user-facing unit of work. Its ID is immutable
// once created. Spans are appended by provider wrappers and tool helpers for
// the interaction's duration.
type Interaction struct {
	ID             string
	UserID         string
	ConversationID string
	StartTime      time.Time
	Input          string
	Output         string
	Model          string
	Event          string
	Properties     map[string]any
	Attachments    []Attachment
	Spans          []*Span
}

// Trace is a standalone traced AI call with no parent interaction. It is
// addressed directly to the transport instead of being nested in an
// interaction payload.
type Trace struct {
	ID             string
	Provider       string
	Model          string
	Input          any
	Output         any
	StartTime      time.Time
	EndTime        time.Time
	LatencyMS      int64
	Tokens         *TokenUsage
	ToolCalls      []ToolCall
	UserID         string
	ConversationID string
	Error          string
	Properties     map[string]any
}

// UserTraits describes a user for identify payloads.
type UserTraits struct {
	Name  string
	Email string
	Plan  string
	Extra map[string]any
}

// Map flattens the traits into the wire representation, omitting empty
// well-known fields.
func (t UserTraits) Map() map[string]any {
	out := make(map[string]any, 3+len(t.Extra))
	if t.Name != "" {
		out["name"] = t.Name
	}
	if t.Email != "" {
		out["email"] = t.Email
	}
	if t.Plan != "" {
		out["plan"] = t.Plan
	}
	for k, v := range t.Extra {
		out[k] = v
	}
	return out
}
