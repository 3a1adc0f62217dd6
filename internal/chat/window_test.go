package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-codeai/internal/models"
)

func exchange(i int) []models.ChatMessage {
	return []models.ChatMessage{
		{Role: models.RoleUser, Content: fmt.Sprintf("q%d", i)},
		{Role: models.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
	}
}

func TestWindows_GetReturnsCopy(t *testing.T) {
	w := NewWindows(4)
	w.Append("u1", exchange(1)...)

	got := w.Get("u1")
	require.Len(t, got, 2)

	got[0].Content = "mutated"
	require.Equal(t, "q1", w.Get("u1")[0].Content)
}

func TestWindows_PerUserIsolation(t *testing.T) {
	w := NewWindows(4)
	w.Append("u1", exchange(1)...)
	w.Append("u2", exchange(2)...)

	require.Equal(t, "q1", w.Get("u1")[0].Content)
	require.Equal(t, "q2", w.Get("u2")[0].Content)
	require.Empty(t, w.Get("u3"))
}

func TestWindows_TrimEvictsOldestPairs(t *testing.T) {
	w := NewWindows(2)

	for i := 1; i <= 5; i++ {
		w.Append("u1", exchange(i)...)
	}

	got := w.Get("u1")
	require.Len(t, got, 4)
	// Остались две последние пары.
	require.Equal(t, "q4", got[0].Content)
	require.Equal(t, "a5", got[3].Content)
}

func TestWindows_SystemMessageSurvivesTrim(t *testing.T) {
	w := NewWindows(2)

	w.Append("u1", models.ChatMessage{Role: models.RoleSystem, Content: "be helpful"})
	for i := 1; i <= 10; i++ {
		w.Append("u1", exchange(i)...)
	}

	got := w.Get("u1")
	require.Len(t, got, 5) // system + 2 пары
	require.Equal(t, models.RoleSystem, got[0].Role)
	require.Equal(t, "be helpful", got[0].Content)
	require.Equal(t, "q9", got[1].Content)
	require.Equal(t, "a10", got[4].Content)
}

func TestWindows_Clear(t *testing.T) {
	w := NewWindows(4)
	w.Append("u1", exchange(1)...)

	w.Clear("u1")
	require.Empty(t, w.Get("u1"))
}

func TestWindows_ConcurrentAppend(t *testing.T) {
	w := NewWindows(8)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w.Append("u1", exchange(i)...)
			_ = w.Get("u1")
		}(i)
	}
	wg.Wait()

	require.Len(t, w.Get("u1"), 16)
}
