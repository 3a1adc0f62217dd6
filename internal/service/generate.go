package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/pribylovaa/go-codeai/internal/genai"
	"github.com/pribylovaa/go-codeai/internal/models"
	"github.com/pribylovaa/go-codeai/internal/pkg/log"
)

// Границы валидации запроса генерации.
const (
	minPromptLen  = 4
	maxPromptLen  = 2048
	maxContextLen = 100_000
	minMaxTokens  = 16
	maxMaxTokens  = 4096
)

var languageRe = regexp.MustCompile(`^[a-z0-9+#]+$`)

// GenerateRequest — параметры одной задачи генерации.
type GenerateRequest struct {
	Prompt      string
	Context     string
	Language    string
	Temperature float64
	MaxTokens   int
}

// Validate проверяет запрос. Невалидный запрос никогда не диспетчеризуется
// и не ретраится.
func (r *GenerateRequest) Validate() error {
	const op = "service.generate.Validate"

	n := utf8.RuneCountInString(r.Prompt)
	if n < minPromptLen || n > maxPromptLen {
		return fmt.Errorf("%s: prompt length %d: %w", op, n, ErrInvalidRequest)
	}

	if utf8.RuneCountInString(r.Context) > maxContextLen {
		return fmt.Errorf("%s: context too large: %w", op, ErrInvalidRequest)
	}

	if !languageRe.MatchString(r.Language) {
		return fmt.Errorf("%s: language %q: %w", op, r.Language, ErrInvalidRequest)
	}

	if r.Temperature < 0 || r.Temperature > 1 {
		return fmt.Errorf("%s: temperature %v: %w", op, r.Temperature, ErrInvalidRequest)
	}

	if r.MaxTokens < minMaxTokens || r.MaxTokens > maxMaxTokens {
		return fmt.Errorf("%s: max_tokens %d: %w", op, r.MaxTokens, ErrInvalidRequest)
	}

	return nil
}

// fingerprint — детерминированный ключ мемоизации по семантически значимым
// полям запроса.
func fingerprint(kind models.GenKind, r *GenerateRequest) string {
	h := sha256.New()
	h.Write([]byte(string(kind)))
	h.Write([]byte{0})
	h.Write([]byte(r.Language))
	h.Write([]byte{0})
	h.Write([]byte(r.Prompt))
	h.Write([]byte{0})
	h.Write([]byte(r.Context))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(r.MaxTokens)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(r.Temperature, 'g', -1, 64)))

	return string(kind) + ":" + r.Language + ":" + base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// Dispatch выполняет задачу генерации:
// кэш → публикация задачи → ожидание коррелированного ответа → кэш+журнал.
// Попадание в кэш ничего не публикует; журнал пишется в любом случае.
// Таймаут ожидания или отказ backend-а → ErrUpstreamUnavailable, кэш не
// затронут.
func (s *Service) Dispatch(ctx context.Context, kind models.GenKind, userID string, req *GenerateRequest) (*models.GenerationResult, error) {
	const op = "service.generate.Dispatch"

	lg := log.From(ctx)

	if err := req.Validate(); err != nil {
		return nil, err
	}

	key := fingerprint(kind, req)
	if cached, ok, err := s.results.GetResult(ctx, key); err != nil {
		// Потеря кэша не влияет на корректность — только на стоимость.
		lg.Warn("result_cache_get_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	} else if ok {
		// Ответ из кэша — полноправная реплика диалога: без записи в окно
		// следующие вопросы чата потеряли бы этот обмен из контекста.
		if kind == models.KindChat {
			s.chatHistory(userID, req.Language)
			s.windows.Append(userID,
				genai.UserMessage(req.Prompt, req.Context, req.Language),
				models.ChatMessage{Role: models.RoleAssistant, Content: cached.Completion},
			)
		}
		s.saveHistory(ctx, userID, req.Prompt, cached.Completion)
		return cached, nil
	}

	job := &models.GenerationJob{
		RequestID:   uuid.New(),
		Kind:        kind,
		Prompt:      req.Prompt,
		Context:     req.Context,
		Language:    req.Language,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		UserID:      userID,
	}

	if kind == models.KindChat {
		job.History = s.chatHistory(userID, req.Language)
	}

	lg.Info("job_published",
		slog.String("op", op),
		slog.String("kind", string(kind)),
		slog.String("request_id", job.RequestID.String()),
	)

	waitCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()

	res, err := s.bus.Request(waitCtx, job)
	if err != nil {
		lg.Warn("job_failed",
			slog.String("op", op),
			slog.String("request_id", job.RequestID.String()),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrUpstreamUnavailable)
	}

	if err := s.results.SetResult(ctx, key, res, s.genCfg.CacheTTL); err != nil {
		lg.Warn("result_cache_set_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}

	if kind == models.KindChat {
		s.windows.Append(userID,
			genai.UserMessage(req.Prompt, req.Context, req.Language),
			models.ChatMessage{Role: models.RoleAssistant, Content: res.Completion},
		)
	}

	return res, nil
}

// ConsumeJob — обработчик консьюмера шины: вызывает backend генерации,
// пишет журнал и возвращает коррелированный результат. Вызывающая сторона
// может уже не ждать ответа — это нормально, результат просто не будет
// потреблён.
func (s *Service) ConsumeJob(ctx context.Context, job *models.GenerationJob) (*models.GenerationResult, error) {
	const op = "service.generate.ConsumeJob"

	completion, err := s.gen.Generate(ctx, job)
	if err != nil {
		log.From(ctx).Error("generation_failed",
			slog.String("op", op),
			slog.String("request_id", job.RequestID.String()),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.saveHistory(ctx, job.UserID, job.Prompt, completion)

	return &models.GenerationResult{
		RequestID:   job.RequestID,
		Completion:  completion,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// chatHistory возвращает окно диалога пользователя, при первом обращении
// сея ведущую system-инструкцию (она никогда не вытесняется из окна).
func (s *Service) chatHistory(userID, language string) []models.ChatMessage {
	history := s.windows.Get(userID)
	if len(history) == 0 {
		sys := genai.SystemMessage(language)
		s.windows.Append(userID, sys)
		history = append(history, sys)
	}

	return history
}

// saveHistory пишет запись аудита. Ошибка журнала логируется, но не
// прерывает ответ пользователю.
func (s *Service) saveHistory(ctx context.Context, userID, prompt, response string) {
	const op = "service.generate.saveHistory"

	rec := &models.QueryHistory{
		ID:        uuid.New(),
		Prompt:    prompt,
		Response:  response,
		CreatedAt: time.Now().UTC(),
	}

	if uid, err := uuid.Parse(userID); err == nil {
		rec.UserID = uuid.NullUUID{UUID: uid, Valid: true}
	}

	if err := s.storage.SaveHistory(ctx, rec); err != nil {
		log.From(ctx).Error("history_save_failed",
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}
}
