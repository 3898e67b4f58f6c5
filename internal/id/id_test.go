package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWithPrefix(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{"trace", NewTraceID, "trace_"},
		{"span", NewSpanID, "span_"},
		{"interaction", NewInteractionID, "int_"},
		{"attachment", NewAttachmentID, "att_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.gen()
			assert.True(t, strings.HasPrefix(id, tt.prefix), "id %q missing prefix %q", id, tt.prefix)
			assert.True(t, IsValid(id))
		})
	}
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewTraceID()
		require.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

func TestIsValidRejectsGarbage(t *testing.T) {
	assert.False(t, IsValid("trace_not-a-ulid"))
	assert.False(t, IsValid(""))
}
