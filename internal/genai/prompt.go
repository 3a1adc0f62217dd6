package genai

import (
	"fmt"
	"strings"

	"github.com/pribylovaa/go-codeai/internal/models"
)

// SystemMessage возвращает стартовую system-инструкцию диалога.
func SystemMessage(language string) models.ChatMessage {
	return models.ChatMessage{
		Role: models.RoleSystem,
		Content: fmt.Sprintf(
			"You are an expert %s coding assistant. Answer precisely and use idiomatic %s.",
			language, language,
		),
	}
}

// UserMessage оборачивает запрос пользователя вместе с контекстом кода.
func UserMessage(prompt, ctx, language string) models.ChatMessage {
	var sb strings.Builder
	sb.WriteString(prompt)
	if ctx != "" {
		sb.WriteString("\n\nContext:\n```")
		sb.WriteString(language)
		sb.WriteString("\n")
		sb.WriteString(ctx)
		sb.WriteString("\n```")
	}

	return models.ChatMessage{Role: models.RoleUser, Content: sb.String()}
}

// buildPrompt собирает текст промпта для backend-а по виду задачи.
// Для autocomplete используется FIM-шаблон (raw=true), для docs —
// instruct-шаблон, для чата — транскрипт окна диалога.
func buildPrompt(job *models.GenerationJob) (prompt string, raw bool) {
	switch job.Kind {
	case models.KindCompletion:
		var sb strings.Builder
		sb.WriteString("<|fim_prefix|>")
		sb.WriteString("```")
		sb.WriteString(job.Language)
		sb.WriteString("\n")
		if job.Context != "" {
			sb.WriteString(job.Context)
		}
		sb.WriteString(job.Prompt)
		sb.WriteString("<|fim_suffix|><|fim_middle|>")
		return sb.String(), true

	case models.KindDocs:
		var sb strings.Builder
		fmt.Fprintf(&sb, "[INST] Add or update documentation comments for this %s code. Return only the changed fragment, no explanations.\n", job.Language)
		sb.WriteString(job.Prompt)
		sb.WriteString("\n```")
		sb.WriteString(job.Language)
		sb.WriteString("\n")
		if job.Context != "" {
			sb.WriteString(job.Context)
			sb.WriteString("\n")
		}
		sb.WriteString("``` [/INST]")
		return sb.String(), false

	default: // models.KindChat
		return renderTranscript(job), false
	}
}

// renderTranscript превращает окно диалога + текущий запрос в один промпт.
func renderTranscript(job *models.GenerationJob) string {
	var sb strings.Builder

	history := job.History
	if len(history) == 0 || history[0].Role != models.RoleSystem {
		sys := SystemMessage(job.Language)
		sb.WriteString(sys.Content)
		sb.WriteString("\n\n")
	}

	for _, m := range history {
		switch m.Role {
		case models.RoleSystem:
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		case models.RoleAssistant:
			sb.WriteString("Assistant: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		default:
			sb.WriteString("User: ")
			sb.WriteString(m.Content)
			sb.WriteString("\n")
		}
	}

	user := UserMessage(job.Prompt, job.Context, job.Language)
	sb.WriteString("User: ")
	sb.WriteString(user.Content)
	sb.WriteString("\nAssistant:")

	return sb.String()
}
