package handlers

import (
	"fmt"
	"net/http"

	"github.com/pribylovaa/go-codeai/internal/models"
	"github.com/pribylovaa/go-codeai/internal/pkg/log"
	"github.com/pribylovaa/go-codeai/internal/server/http/httperr"
	"github.com/pribylovaa/go-codeai/internal/server/http/middleware"
	"github.com/pribylovaa/go-codeai/internal/service"
)

// Значения по умолчанию для необязательных полей запроса.
const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2048
)

// codeRequest — тело запроса генерации. Temperature и MaxTokens — указатели,
// чтобы отличать "не передано" от нулевого значения.
type codeRequest struct {
	Prompt      string   `json:"prompt"`
	Context     string   `json:"context,omitempty"`
	Language    string   `json:"language"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// codeResponse — тело успешного ответа генерации.
type codeResponse struct {
	Code string `json:"code"`
}

func (c *codeRequest) toService() *service.GenerateRequest {
	req := &service.GenerateRequest{
		Prompt:      c.Prompt,
		Context:     c.Context,
		Language:    c.Language,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}

	if c.Temperature != nil {
		req.Temperature = *c.Temperature
	}
	if c.MaxTokens != nil {
		req.MaxTokens = *c.MaxTokens
	}

	return req
}

// Complete — POST /code/autoComplete.
func (h *Handlers) Complete(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, models.KindCompletion)
}

// Chat — POST /code/chat.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, models.KindChat)
}

// Docs — POST /code/docs.
func (h *Handlers) Docs(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, models.KindDocs)
}

func (h *Handlers) generate(w http.ResponseWriter, r *http.Request, kind models.GenKind) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		httperr.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	var body codeRequest
	if err := decodeStrict(r, &body); err != nil {
		httperr.WriteError(w, r, fmt.Errorf("decode request: %w", service.ErrInvalidRequest))
		return
	}

	res, err := h.svc.Dispatch(r.Context(), kind, identity.UserID.String(), body.toService())
	if err != nil {
		httperr.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, codeResponse{Code: res.Completion})
}

// ChatStream — POST /code/chat/stream.
//
// Отдаёт ответ модели инкрементально в формате Server-Sent Events:
// каждый фрагмент — кадр `data: <chunk>`, завершение — `event: done`
// с телом [DONE]. Частичный ответ при обрыве клиента всё равно
// попадает в окно диалога и журнал.
func (h *Handlers) ChatStream(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		httperr.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	var body codeRequest
	if err := decodeStrict(r, &body); err != nil {
		httperr.WriteError(w, r, fmt.Errorf("decode request: %w", service.ErrInvalidRequest))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		log.From(r.Context()).Error("response writer does not support flushing")
		httperr.WriteError(w, r, service.ErrUpstreamUnavailable)
		return
	}

	started := false
	startStream := func() {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		started = true
	}

	emit := func(chunk string) error {
		if !started {
			startStream()
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", chunk); err != nil {
			return err
		}
		flusher.Flush()

		return nil
	}

	if err := h.svc.StreamChat(r.Context(), identity.UserID.String(), body.toService(), emit); err != nil {
		// До первого кадра ещё можно ответить обычной ошибкой.
		if !started {
			httperr.WriteError(w, r, err)
		}
		return
	}

	if !started {
		startStream()
	}
	_, _ = fmt.Fprint(w, "event: done\ndata: [DONE]\n\n")
	flusher.Flush()
}
