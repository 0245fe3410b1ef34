package seenset_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meshnode/meshnode/internal/seenset"
)

func TestMarkSeen_FirstTimeFalseSecondTimeTrue(t *testing.T) {
	s := seenset.New(10)

	assert.False(t, s.MarkSeen("msg-1"))
	assert.True(t, s.MarkSeen("msg-1"))
}

func TestSeen_ReflectsMarkedState(t *testing.T) {
	s := seenset.New(10)

	assert.False(t, s.Seen("msg-1"))
	s.MarkSeen("msg-1")
	assert.True(t, s.Seen("msg-1"))
}

func TestMarkSeen_EvictsLeastRecentlyMarkedAtCapacity(t *testing.T) {
	s := seenset.New(2)

	s.MarkSeen("a")
	s.MarkSeen("b")
	s.MarkSeen("c") // evicts "a"

	assert.False(t, s.Seen("a"))
	assert.True(t, s.Seen("b"))
	assert.True(t, s.Seen("c"))
}

func TestMarkSeen_RefreshingEntryProtectsItFromEviction(t *testing.T) {
	s := seenset.New(2)

	s.MarkSeen("a")
	s.MarkSeen("b")
	s.MarkSeen("a") // refresh "a" to front, "b" becomes least recent
	s.MarkSeen("c") // evicts "b"

	assert.True(t, s.Seen("a"))
	assert.False(t, s.Seen("b"))
	assert.True(t, s.Seen("c"))
}

func TestNew_NonPositiveCapacityFallsBackToDefault(t *testing.T) {
	s := seenset.New(0)
	for i := 0; i < 100; i++ {
		s.MarkSeen(string(rune('a' + i%26)))
	}
	// Should not panic or misbehave with the default capacity in effect.
	assert.True(t, s.Seen("a"))
}
