package thread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateReusesSameThread(t *testing.T) {
	s := NewStore(10)
	a := s.GetOrCreate("t1")
	b := s.GetOrCreate("t1")
	require.Same(t, a, b)
}

func TestGetReturnsNilForUnknownThread(t *testing.T) {
	s := NewStore(10)
	assert.Nil(t, s.Get("missing"))
	assert.Empty(t, s.GetHistory("missing", 10))
}

func TestAppendTurnAndHistoryOrdering(t *testing.T) {
	s := NewStore(10)
	s.AppendTurn("t1", Turn{Role: RoleUser, Content: "hi", CreatedAt: time.Now()})
	s.AppendTurn("t1", Turn{Role: RoleAssistant, Content: "hello", CreatedAt: time.Now()})

	history := s.GetHistory("t1", 10)
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, RoleAssistant, history[1].Role)
}

func TestEvictionPreservesPairAlignment(t *testing.T) {
	s := NewStore(2) // max 4 turns (2 pairs)
	for i := 0; i < 4; i++ {
		s.AppendTurn("t1", Turn{Role: RoleUser, Content: "u"})
		s.AppendTurn("t1", Turn{Role: RoleAssistant, Content: "a"})
	}

	history := s.GetHistory("t1", 100)
	require.Len(t, history, 4)
	assert.Equal(t, RoleUser, history[0].Role)

	// A lone trailing user turn mid-dispatch must never be evicted until
	// its reply lands.
	s.AppendTurn("t1", Turn{Role: RoleUser, Content: "pending"})
	history = s.GetHistory("t1", 100)
	assert.Equal(t, "pending", history[len(history)-1].Content)
	assert.NotEqual(t, RoleAssistant, history[0].Role, "no: first role stays user")
}

func TestHistoryReturnsLastNTurns(t *testing.T) {
	s := NewStore(50)
	for i := 0; i < 5; i++ {
		s.AppendTurn("t1", Turn{Role: RoleUser, Content: "u"})
	}
	history := s.GetHistory("t1", 2)
	assert.Len(t, history, 2)
}

func TestClearResetsTurns(t *testing.T) {
	s := NewStore(10)
	s.AppendTurn("t1", Turn{Role: RoleUser, Content: "hi"})
	s.Clear("t1")
	assert.Empty(t, s.GetHistory("t1", 10))
}
