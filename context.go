package dewdrop

import (
	"context"
	"errors"
	"fmt"

	"github.com/dewdrop-ai/dewdrop-go/internal/id"
	"github.com/dewdrop-ai/dewdrop-go/telemetry"
)

// ErrInteractionNotFound is returned by Resume when no active interaction has
// the given ID. It usually means the interaction was already finished.
var ErrInteractionNotFound = errors.New("dewdrop: interaction not found")

type interactionCtxKey struct{}

// ContextWithInteraction returns a context carrying the interaction. Spans
// started from the returned context attach to it.
func ContextWithInteraction(ctx context.Context, i *Interaction) context.Context {
	return context.WithValue(ctx, interactionCtxKey{}, i)
}

// InteractionFromContext extracts the current interaction, if any.
func InteractionFromContext(ctx context.Context) (*Interaction, bool) {
	i, ok := ctx.Value(interactionCtxKey{}).(*Interaction)
	return i, ok
}

// Begin starts an interaction and returns a derived context carrying it.
// The caller must Finish the interaction; unfinished interactions are never
// sent.
func (c *Client) Begin(ctx context.Context, opts telemetry.BeginOptions) (context.Context, *Interaction) {
	eventID := opts.EventID
	if eventID == "" {
		eventID = id.NewInteractionID()
	}
	event := opts.Event
	if event == "" {
		event = "interaction"
	}
	userID := opts.UserID
	if userID == "" {
		userID = c.defaultUserID()
	}

	data := &telemetry.Interaction{
		ID:             eventID,
		UserID:         userID,
		ConversationID: opts.ConversationID,
		StartTime:      c.now(),
		Input:          opts.Input,
		Model:          opts.Model,
		Event:          event,
		Properties:     cloneProps(opts.Properties),
		Attachments:    append([]telemetry.Attachment(nil), opts.Attachments...),
	}

	i := &Interaction{client: c, data: data}
	c.registerInteraction(i)
	c.pipeline.interactionStart(data)

	return ContextWithInteraction(ctx, i), i
}

// Resume looks up a still-active interaction by ID and returns a context
// carrying it, so work arriving on a different goroutine or request can
// attach spans to it.
func (c *Client) Resume(ctx context.Context, interactionID string) (context.Context, *Interaction, error) {
	i, ok := c.lookupInteraction(interactionID)
	if !ok {
		return ctx, nil, fmt.Errorf("%w: %s", ErrInteractionNotFound, interactionID)
	}
	return ContextWithInteraction(ctx, i), i, nil
}

// WithInteraction runs fn inside a fresh interaction and finishes it when fn
// returns. An error from fn, or a panic, is recorded on the interaction
// before it is sent; panics are re-raised after the interaction is
// finalized.
func (c *Client) WithInteraction(ctx context.Context, opts telemetry.BeginOptions, fn func(context.Context, *Interaction) error) error {
	ctx, i := c.Begin(ctx, opts)

	defer func() {
		if r := recover(); r != nil {
			i.FinishWithError(fmt.Errorf("panic: %v", r), telemetry.FinishOptions{})
			panic(r)
		}
	}()

	if err := fn(ctx, i); err != nil {
		i.FinishWithError(err, telemetry.FinishOptions{})
		return err
	}

	i.Finish(telemetry.FinishOptions{})
	return nil
}

func cloneProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
