package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-codeai/internal/genai"
	"github.com/pribylovaa/go-codeai/internal/models"
	"github.com/pribylovaa/go-codeai/internal/pkg/log"
)

// persistTimeout — дедлайн на фиксацию итогов стрима (окно + журнал)
// отдельным контекстом: отмена клиента не откатывает частичную запись.
const persistTimeout = 5 * time.Second

// StreamChat ведёт стриминговый чат: каждый фрагмент ответа backend-а
// передаётся emit немедленно, без буферизации сверх одного фрагмента.
// Параллельно фрагменты накапливаются в полный ответ; по завершении
// (нормальном или по отмене клиента) ответ — пусть и частичный —
// попадает в окно диалога и журнал.
//
// Ошибка возвращается только если не удалось отдать ни одного фрагмента
// (тогда транспорт ещё может выставить статус 502).
func (s *Service) StreamChat(ctx context.Context, userID string, req *GenerateRequest, emit func(chunk string) error) error {
	const op = "service.stream.StreamChat"

	lg := log.From(ctx)

	if err := req.Validate(); err != nil {
		return err
	}

	job := &models.GenerationJob{
		RequestID:   uuid.New(),
		Kind:        models.KindChat,
		Prompt:      req.Prompt,
		Context:     req.Context,
		Language:    req.Language,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		UserID:      userID,
		History:     s.chatHistory(userID, req.Language),
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, errs := s.gen.Stream(streamCtx, job)

	var sb strings.Builder
	emitted := 0

relay:
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				break relay
			}
			sb.WriteString(chunk)
			if err := emit(chunk); err != nil {
				// Клиент ушёл: прекращаем ретрансляцию, накопленное сохраняем.
				lg.Info("stream_client_gone",
					slog.String("op", op),
					slog.String("request_id", job.RequestID.String()),
				)
				cancel()
				break relay
			}
			emitted++
		case <-ctx.Done():
			cancel()
			break relay
		}
	}

	// Дожидаемся исхода генератора, чтобы не утёк консьюмер-горутина.
	genErr := <-errs

	answer := sb.String()
	if answer == "" && emitted == 0 {
		if genErr != nil {
			lg.Error("stream_failed",
				slog.String("op", op),
				slog.String("request_id", job.RequestID.String()),
				slog.String("err", genErr.Error()),
			)
			return fmt.Errorf("%s: %w", op, ErrUpstreamUnavailable)
		}
		// Пустой, но успешный ответ — фиксируем как обычно.
	}

	// Фиксация на свежем контексте: отмена запроса не мешает записи.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), persistTimeout)
	defer persistCancel()
	persistCtx = log.Into(persistCtx, lg)

	s.windows.Append(userID,
		genai.UserMessage(req.Prompt, req.Context, req.Language),
		models.ChatMessage{Role: models.RoleAssistant, Content: answer},
	)
	s.saveHistory(persistCtx, userID, req.Prompt, answer)

	return nil
}
