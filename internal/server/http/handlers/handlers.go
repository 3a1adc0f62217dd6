package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pribylovaa/go-codeai/internal/config"
	"github.com/pribylovaa/go-codeai/internal/service"
)

// Handlers агрегирует зависимости HTTP-слоя.
type Handlers struct {
	svc     *service.Service
	authCfg config.AuthConfig
}

// New создаёт набор хендлеров поверх сервисного слоя.
func New(svc *service.Service, authCfg config.AuthConfig) *Handlers {
	return &Handlers{svc: svc, authCfg: authCfg}
}

// writeJSON — единый ответ JSON с нужным Content-Type.
// Ошибки выводим через httperr.WriteError.
func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// decodeStrict — строгий JSON-декодер: запрещаем неизвестные поля.
func decodeStrict(r *http.Request, value any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(value)
}
