// Package id provides centralized ID generation for the SDK.
//
// IDs are prefixed ULIDs (trace_*, span_*, int_*, att_*): lexicographically
// sortable by creation time and readable in logs and dashboards.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for the ID domains the SDK emits.
const (
	TracePrefix       = "trace"
	SpanPrefix        = "span"
	InteractionPrefix = "int"
	AttachmentPrefix  = "att"
)

// Generator generates prefixed ULIDs.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator backed by crypto/rand.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator(rand.Reader)
	})
	return defaultGenerator
}

// NewGenerator creates a generator with the given entropy source. Tests can
// pass a deterministic reader.
func NewGenerator(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID string.
func (g *Generator) Generate() string {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

// GenerateWithPrefix creates a prefixed ULID string such as
// "trace_01J9XYZ...".
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

// NewTraceID generates a trace ID.
func NewTraceID() string { return Default().GenerateWithPrefix(TracePrefix) }

// NewSpanID generates a span ID.
func NewSpanID() string { return Default().GenerateWithPrefix(SpanPrefix) }

// NewInteractionID generates an interaction ID.
func NewInteractionID() string { return Default().GenerateWithPrefix(InteractionPrefix) }

// NewAttachmentID generates an attachment ID.
func NewAttachmentID() string { return Default().GenerateWithPrefix(AttachmentPrefix) }

// IsValid reports whether the portion after the prefix parses as a ULID.
func IsValid(id string) bool {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '_' {
			id = id[i+1:]
			break
		}
	}
	_, err := ulid.Parse(id)
	return err == nil
}
