package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		outcomes      []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{FailureThreshold: 3},
			outcomes:      []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name:          "opens after consecutive failures",
			settings:      Settings{FailureThreshold: 3},
			outcomes:      []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name:          "success resets failure streak",
			settings:      Settings{FailureThreshold: 3},
			outcomes:      []bool{false, false, true, false, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.settings)
			for _, success := range tt.outcomes {
				if b.Allow() {
					b.Record(success)
				}
			}
			assert.Equal(t, tt.expectedState, b.State())
		})
	}
}

func TestBreakerOpenRejects(t *testing.T) {
	b := New(Settings{FailureThreshold: 1, Cooldown: time.Minute})

	assert.True(t, b.Allow())
	b.Record(false)

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := New(Settings{FailureThreshold: 1, Cooldown: 5 * time.Millisecond})

	assert.True(t, b.Allow())
	b.Record(false)
	assert.False(t, b.Allow())

	time.Sleep(10 * time.Millisecond)

	// One probe admitted, concurrent sends rejected until it reports.
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())

	b.Record(true)
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Settings{FailureThreshold: 1, Cooldown: 5 * time.Millisecond})

	b.Allow()
	b.Record(false)
	time.Sleep(10 * time.Millisecond)

	assert.True(t, b.Allow())
	b.Record(false)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []State
	b := New(Settings{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		OnStateChange:    func(_, to State) { transitions = append(transitions, to) },
	})

	b.Allow()
	b.Record(false)
	assert.Equal(t, []State{StateOpen}, transitions)
}
