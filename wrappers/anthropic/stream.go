package anthropic

import (
	"context"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// MessageStream wraps an SDK message stream and accumulates the response as
// events are consumed. It mirrors the SDK stream API: iterate with Next and
// Current, then check Err.
type MessageStream struct {
	ctx      context.Context
	stream   *ssestream.Stream[sdk.MessageStreamEventUnion]
	recorder Recorder
	params   sdk.MessageNewParams
	meta     Meta
	start    time.Time

	acc        sdk.Message
	recordOnce sync.Once
}

// Next advances the stream. The final call, whether the stream ended or
// errored, records the accumulated message.
func (s *MessageStream) Next() bool {
	if s.stream.Next() {
		// Accumulation errors surface through Message(); delivery of the
		// events themselves keeps going.
		_ = s.acc.Accumulate(s.stream.Current())
		return true
	}

	s.record()
	return false
}

// Current returns the event read by the last call to Next.
func (s *MessageStream) Current() sdk.MessageStreamEventUnion {
	return s.stream.Current()
}

// Err returns the terminal stream error, if any.
func (s *MessageStream) Err() error {
	return s.stream.Err()
}

// Message returns the response accumulated so far.
func (s *MessageStream) Message() sdk.Message {
	return s.acc
}

// Close releases the stream. Closing before exhaustion records whatever
// partial output arrived.
func (s *MessageStream) Close() error {
	err := s.stream.Close()
	s.record()
	return err
}

func (s *MessageStream) record() {
	s.recordOnce.Do(func() {
		msg := s.acc
		s.recorder.RecordAICall(s.ctx, buildTrace(s.params, &msg, s.stream.Err(), s.start, s.meta))
	})
}
