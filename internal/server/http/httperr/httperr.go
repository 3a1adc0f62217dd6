// httperr стандартизирует ответы об ошибках HTTP-слоя.
// На вход он принимает ошибку доменного слоя (сентинелы пакета service),
// а на выход даёт:
//   - корректный HTTP-статус;
//   - краткое безопасное message без утечки деталей.
package httperr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pribylovaa/go-codeai/internal/service"
)

// APIError — единый формат ошибки для клиента.
// Code — короткий стабильный код для машиночитаемой обработки.
// Message — безопасное человекочитаемое описание.
// RequestID — прокидывается из X-Request-Id, если есть (для трассировки).
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse — корневой объект в ответе.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// ToHTTP конвертирует доменную ошибку в HTTP-статус и унифицированный ответ.
//
// Маппинг:
//   - ErrInvalidRequest -> 400 (не ретраится);
//   - ErrInvalidToken/ErrTokenExpired/ErrTokenRevoked/ErrExternalAuth -> 401;
//   - ErrRateLimited -> 429 (ретрай позже безопасен, очереди нет);
//   - ErrUpstreamUnavailable -> 502 (ретрай безопасен, кэш не тронут);
//   - прочее -> 500/internal (без утечки деталей).
func ToHTTP(err error) (int, ErrorResponse) {
	status, code, msg := base(err)
	return status, ErrorResponse{
		Error: APIError{
			Code:    code,
			Message: msg,
		},
	}
}

// WriteError — хелпер для HTTP-хендлеров.
// Пишет корректный статус/тело, добавляет request_id из заголовка, если он есть.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := ToHTTP(err)

	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.Error.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func base(err error) (int, string, string) {
	switch {
	case err == nil:
		// Программная ошибка вызова: не маскируем баг как успех.
		return http.StatusInternalServerError, "internal", "internal error"
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request", "invalid request"
	case errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrTokenExpired),
		errors.Is(err, service.ErrTokenRevoked),
		errors.Is(err, service.ErrExternalAuth):
		return http.StatusUnauthorized, "unauthenticated", "unauthenticated"
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", "too many requests"
	case errors.Is(err, service.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable", "generation backend unavailable"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}
