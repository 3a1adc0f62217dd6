package agent

import (
	"errors"
	"net/http"
)

// Transport — http.RoundTripper, прикрепляющий Bearer-токен агента к каждому
// запросу. На 401 выполняется одна ротация и один повтор; если ротация
// не удалась по любой причине, вызывающему возвращается исходный 401, а
// локальная сессия сбрасывается — пользователь явно разлогинен, а не
// застрял с нерабочими токенами.
type Transport struct {
	Agent *Agent
	// Base — нижележащий транспорт; nil — http.DefaultTransport.
	Base http.RoundTripper
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip реализует http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := t.Agent.AccessToken()

	first := cloneWithToken(req, token)
	resp, err := t.base().RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// Повтор возможен только если тело запроса воспроизводимо.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	fresh, rerr := t.Agent.Refresh(req.Context(), token)
	if rerr != nil {
		// Отказ ротации Refresh сбрасывает сам; транспортный сбой
		// на реактивном пути тоже означает конец сессии.
		if !errors.Is(rerr, ErrRefreshRejected) {
			t.Agent.dropSession()
		}
		return resp, nil
	}

	retry := cloneWithToken(req, fresh)
	if req.GetBody != nil {
		body, berr := req.GetBody()
		if berr != nil {
			return resp, nil
		}
		retry.Body = body
	}

	_ = resp.Body.Close()

	return t.base().RoundTrip(retry)
}

func cloneWithToken(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}
	return out
}
