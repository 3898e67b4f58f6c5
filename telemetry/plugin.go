package telemetry

import "context"

// Plugin is a registered observer invoked at defined lifecycle points to
// mutate or export telemetry before it leaves the process.
//
// Plugin itself only identifies the observer. Capabilities are optional
// interfaces discovered by type assertion, so a plugin implements exactly the
// hooks it cares about:
//
//	type redactor struct{}
//
//	func (redactor) Name() string          { return "redact" }
//	func (redactor) OnSpan(s *Span)        { s.Input = scrub(s.Input) }
//	func (redactor) OnTrace(t *Trace)      { t.Input = scrub(t.Input) }
//
// Hooks run synchronously on the calling chain, in registration order, on
// shared mutable data. A panic inside a hook is recovered by the pipeline and
// never prevents later plugins or the send itself.
type Plugin interface {
	// Name identifies the plugin in diagnostics.
	Name() string
}

// InteractionStartHook is implemented by plugins that observe interaction
// begin.
type InteractionStartHook interface {
	OnInteractionStart(*Interaction)
}

// InteractionEndHook is implemented by plugins that observe (and may mutate)
// an interaction just before it is sent.
type InteractionEndHook interface {
	OnInteractionEnd(*Interaction)
}

// SpanHook is implemented by plugins that observe a completed span before it
// is stored on its parent or sent standalone.
type SpanHook interface {
	OnSpan(*Span)
}

// TraceHook is implemented by plugins that observe a standalone trace before
// it is sent.
type TraceHook interface {
	OnTrace(*Trace)
}

// Flusher is implemented by plugins that buffer their own side-channel
// export. Flush is invoked, and fully drained, before the transport flushes.
type Flusher interface {
	Flush(context.Context) error
}

// Shutdowner is implemented by plugins holding resources. Shutdown runs after
// the final flush and must be idempotent.
type Shutdowner interface {
	Shutdown(context.Context) error
}
