package models

import (
	"time"

	"github.com/google/uuid"
)

// GenKind — вид задачи генерации.
type GenKind string

const (
	KindCompletion GenKind = "autoComplete"
	KindChat       GenKind = "chat"
	KindDocs       GenKind = "docs"
)

// GenerationJob — неизменяемое сообщение-задача генерации.
// Публикуется ровно один раз и коррелируется по RequestID
// с единственным GenerationResult.
type GenerationJob struct {
	RequestID   uuid.UUID
	Kind        GenKind
	Prompt      string
	Context     string
	Language    string
	Temperature float64
	MaxTokens   int
	UserID      string
	History     []ChatMessage
}

// GenerationResult — ответ на задачу генерации.
type GenerationResult struct {
	RequestID   uuid.UUID `json:"request_id"`
	Completion  string    `json:"completion"`
	GeneratedAt time.Time `json:"generated_at"`
}
