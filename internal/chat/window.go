// chat хранит ограниченные окна диалогов per-user для продолжения
// контекста между запросами. Окно — оптимизация контекста, а не журнал:
// постоянный аудит ведёт storage.HistoryStorage.
package chat

import (
	"sync"

	"github.com/pribylovaa/go-codeai/internal/models"
)

// DefaultMaxExchanges — максимум пар «вопрос-ответ», удерживаемых в окне.
const DefaultMaxExchanges = 64

// Windows — потокобезопасное хранилище окон диалога, ключ — идентификатор
// пользователя. Ведущая system-инструкция, если есть, не вытесняется.
type Windows struct {
	mu           sync.Mutex
	byUser       map[string][]models.ChatMessage
	maxExchanges int
}

// NewWindows создаёт хранилище окон. maxExchanges <= 0 заменяется на
// DefaultMaxExchanges.
func NewWindows(maxExchanges int) *Windows {
	if maxExchanges <= 0 {
		maxExchanges = DefaultMaxExchanges
	}

	return &Windows{
		byUser:       make(map[string][]models.ChatMessage),
		maxExchanges: maxExchanges,
	}
}

// Get возвращает копию окна пользователя (может быть пустой).
func (w *Windows) Get(userID string) []models.ChatMessage {
	w.mu.Lock()
	defer w.mu.Unlock()

	src := w.byUser[userID]
	out := make([]models.ChatMessage, len(src))
	copy(out, src)

	return out
}

// Append добавляет сообщения в окно пользователя и усекает его до лимита.
func (w *Windows) Append(userID string, msgs ...models.ChatMessage) {
	if len(msgs) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	window := append(w.byUser[userID], msgs...)
	w.byUser[userID] = trim(window, w.maxExchanges)
}

// Clear удаляет окно пользователя.
func (w *Windows) Clear(userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.byUser, userID)
}

// trim усекает окно до max пар сообщений, вытесняя старейшие записи.
// Ведущее system-сообщение сохраняется всегда.
func trim(window []models.ChatMessage, maxExchanges int) []models.ChatMessage {
	limit := maxExchanges * 2

	hasSystem := len(window) > 0 && window[0].Role == models.RoleSystem
	if hasSystem {
		limit++
	}

	if len(window) <= limit {
		return window
	}

	excess := len(window) - limit
	if hasSystem {
		// Системную инструкцию не трогаем, вырезаем следом за ней.
		return append(window[:1:1], window[1+excess:]...)
	}

	return window[excess:]
}
