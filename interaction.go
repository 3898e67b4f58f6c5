package dewdrop

import (
	"context"
	"fmt"
	"sync"

	"github.com/dewdrop-ai/dewdrop-go/internal/id"
	"github.com/dewdrop-ai/dewdrop-go/telemetry"
)

// Interaction is a live handle on an in-flight interaction. All methods are
// safe for concurrent use; mutations after Finish are dropped.
type Interaction struct {
	client *Client
	data   *telemetry.Interaction

	mu       sync.Mutex
	finished bool
}

// ID returns the interaction's event ID, usable with Resume and Feedback.
func (i *Interaction) ID() string { return i.data.ID }

// SetInput records the user-facing input.
func (i *Interaction) SetInput(input string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.finished {
		i.data.Input = input
	}
}

// SetOutput records the user-facing output.
func (i *Interaction) SetOutput(output string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.finished {
		i.data.Output = output
	}
}

// SetProperty attaches one custom property.
func (i *Interaction) SetProperty(key string, value any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.finished {
		return
	}
	if i.data.Properties == nil {
		i.data.Properties = make(map[string]any)
	}
	i.data.Properties[key] = value
}

// SetProperties merges custom properties.
func (i *Interaction) SetProperties(props map[string]any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.finished {
		return
	}
	if i.data.Properties == nil {
		i.data.Properties = make(map[string]any, len(props))
	}
	for k, v := range props {
		i.data.Properties[k] = v
	}
}

// AddAttachments appends attachments to the interaction payload.
func (i *Interaction) AddAttachments(attachments ...telemetry.Attachment) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.finished {
		i.data.Attachments = append(i.data.Attachments, attachments...)
	}
}

// Finish finalizes the interaction and queues it for delivery. Only the
// first call has any effect.
func (i *Interaction) Finish(opts telemetry.FinishOptions) {
	i.finish(opts, "")
}

// FinishWithError finalizes the interaction with an error recorded on it.
func (i *Interaction) FinishWithError(err error, opts telemetry.FinishOptions) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	i.finish(opts, msg)
}

func (i *Interaction) finish(opts telemetry.FinishOptions, errMsg string) {
	i.mu.Lock()
	if i.finished {
		i.mu.Unlock()
		return
	}
	i.finished = true

	if opts.Output != "" {
		i.data.Output = opts.Output
	}
	if len(opts.Properties) > 0 {
		if i.data.Properties == nil {
			i.data.Properties = make(map[string]any, len(opts.Properties))
		}
		for k, v := range opts.Properties {
			i.data.Properties[k] = v
		}
	}
	i.data.Attachments = append(i.data.Attachments, opts.Attachments...)
	i.mu.Unlock()

	i.client.finishInteraction(i, errMsg)
}

// appendSpan attaches a completed span. It reports false once the
// interaction has finished, in which case the caller routes the span as a
// standalone trace instead.
func (i *Interaction) appendSpan(s *telemetry.Span) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.finished {
		return false
	}
	s.ParentID = i.data.ID
	i.data.Spans = append(i.data.Spans, s)
	return true
}

// setModelIfEmpty records the first model seen on a nested AI call.
func (i *Interaction) setModelIfEmpty(model string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.finished && i.data.Model == "" {
		i.data.Model = model
	}
}

// Span is a live handle on a nested operation. End or Fail exactly once;
// later calls are no-ops.
type Span struct {
	client *Client
	parent *Interaction // nil when started outside an interaction
	data   *telemetry.Span

	mu    sync.Mutex
	ended bool
}

// ID returns the span's ID.
func (s *Span) ID() string { return s.data.ID }

// RecordInput records the operation's input.
func (s *Span) RecordInput(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.data.Input = v
	}
}

// RecordOutput records the operation's result.
func (s *Span) RecordOutput(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.data.Output = v
	}
}

// SetProperty attaches one custom property.
func (s *Span) SetProperty(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.data.Properties == nil {
		s.data.Properties = make(map[string]any)
	}
	s.data.Properties[key] = value
}

// End finalizes the span as successful.
func (s *Span) End() {
	s.end("")
}

// Fail finalizes the span with an error. Any recorded output is discarded;
// a failed operation has no result.
func (s *Span) Fail(err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	s.end(msg)
}

func (s *Span) end(errMsg string) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true

	s.data.EndTime = s.client.now()
	s.data.LatencyMS = s.data.EndTime.Sub(s.data.StartTime).Milliseconds()
	if errMsg != "" {
		s.data.Error = errMsg
		s.data.Output = nil
	}
	data := s.data
	s.mu.Unlock()

	s.client.pipeline.span(data)

	if s.parent != nil && s.parent.appendSpan(data) {
		return
	}

	// No live parent: promote to a standalone trace so the work is not lost.
	s.client.sendTrace(&telemetry.Trace{
		ID:         id.NewTraceID(),
		Provider:   "unknown",
		Model:      fmt.Sprintf("%s:%s", data.Kind, data.Name),
		Input:      data.Input,
		Output:     data.Output,
		StartTime:  data.StartTime,
		EndTime:    data.EndTime,
		LatencyMS:  data.LatencyMS,
		Error:      data.Error,
		Properties: data.Properties,
	})
}

// StartSpan begins a span of the given kind. If ctx carries a live
// interaction the span attaches to it when ended; otherwise it is delivered
// as a standalone trace.
func (c *Client) StartSpan(ctx context.Context, name string, kind telemetry.SpanKind) *Span {
	parent, _ := InteractionFromContext(ctx)

	data := &telemetry.Span{
		ID:        id.NewSpanID(),
		Name:      name,
		Kind:      kind,
		StartTime: c.now(),
	}
	if parent != nil {
		data.ParentID = parent.ID()
	}

	return &Span{client: c, parent: parent, data: data}
}

// Tool runs fn as an instrumented tool call. The input, result, error, and
// latency are recorded on a tool span.
func (c *Client) Tool(ctx context.Context, name string, input any, fn func(context.Context) (any, error)) (any, error) {
	span := c.StartSpan(ctx, name, telemetry.SpanKindTool)
	span.RecordInput(input)

	out, err := fn(ctx)
	if err != nil {
		span.Fail(err)
		return out, err
	}

	span.RecordOutput(out)
	span.End()
	return out, nil
}

// Task runs fn like Tool but marks the span as a background task.
func (c *Client) Task(ctx context.Context, name string, input any, fn func(context.Context) (any, error)) (any, error) {
	span := c.StartSpan(ctx, name, telemetry.SpanKindTool)
	span.SetProperty("is_task", true)
	span.RecordInput(input)

	out, err := fn(ctx)
	if err != nil {
		span.Fail(err)
		return out, err
	}

	span.RecordOutput(out)
	span.End()
	return out, nil
}
