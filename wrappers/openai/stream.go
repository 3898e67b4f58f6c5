package openai

import (
	"context"
	"sync"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"
)

// ChatCompletionStream wraps an SDK chat completion stream and accumulates
// the response as chunks are consumed. It mirrors the SDK stream API:
// iterate with Next and Current, then check Err.
type ChatCompletionStream struct {
	ctx      context.Context
	stream   *ssestream.Stream[sdk.ChatCompletionChunk]
	recorder Recorder
	params   sdk.ChatCompletionNewParams
	meta     Meta
	start    time.Time

	acc        sdk.ChatCompletionAccumulator
	recordOnce sync.Once
}

// Next advances the stream. The final call, whether the stream ended or
// errored, records the accumulated completion.
func (s *ChatCompletionStream) Next() bool {
	if s.stream.Next() {
		s.acc.AddChunk(s.stream.Current())
		return true
	}

	s.record()
	return false
}

// Current returns the chunk read by the last call to Next.
func (s *ChatCompletionStream) Current() sdk.ChatCompletionChunk {
	return s.stream.Current()
}

// Err returns the terminal stream error, if any.
func (s *ChatCompletionStream) Err() error {
	return s.stream.Err()
}

// Completion returns the response accumulated so far.
func (s *ChatCompletionStream) Completion() sdk.ChatCompletion {
	return s.acc.ChatCompletion
}

// Close releases the stream. Closing before exhaustion records whatever
// partial output arrived.
func (s *ChatCompletionStream) Close() error {
	err := s.stream.Close()
	s.record()
	return err
}

func (s *ChatCompletionStream) record() {
	s.recordOnce.Do(func() {
		completion := s.acc.ChatCompletion
		s.recorder.RecordAICall(s.ctx, buildTrace(s.params, &completion, s.stream.Err(), s.start, s.meta))
	})
}
