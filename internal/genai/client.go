// genai — клиент backend-а генерации (Ollama HTTP API).
// Пакет знает только интерфейсную границу: generate(prompt, ...) -> text
// и стриминговый вариант, отдающий конечную последовательность фрагментов.
package genai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pribylovaa/go-codeai/internal/config"
	"github.com/pribylovaa/go-codeai/internal/models"
	"github.com/pribylovaa/go-codeai/internal/pkg/log"
)

// Generator — контракт backend-а генерации.
type Generator interface {
	// Generate синхронно возвращает полный ответ на задачу.
	Generate(ctx context.Context, job *models.GenerationJob) (string, error)
	// Stream отдаёт фрагменты ответа по мере генерации. Канал фрагментов
	// закрывается по окончании; затем errs отдаёт ровно одно значение
	// (nil при нормальном завершении).
	Stream(ctx context.Context, job *models.GenerationJob) (<-chan string, <-chan error)
}

// Client — HTTP-клиент Ollama.
type Client struct {
	cfg  config.GeneratorConfig
	http *http.Client
}

var _ Generator = (*Client)(nil)

// NewClient создаёт клиент backend-а генерации.
func NewClient(cfg config.GeneratorConfig) *Client {
	return &Client{
		cfg: cfg,
		// Таймаут на весь вызов задаётся контекстом per-request;
		// клиентский Timeout оставляем нулевым, иначе он оборвёт стрим.
		http: &http.Client{},
	}
}

// generateRequest — тело запроса /api/generate.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Raw     bool            `json:"raw,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

// generateChunk — один JSON-объект потока /api/generate.
type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// model выбирает модель по виду задачи: FIM-модель для autocomplete,
// instruct-модель для остального.
func (c *Client) model(kind models.GenKind) string {
	if kind == models.KindCompletion {
		return c.cfg.Model
	}

	return c.cfg.ModelInstruct
}

// Generate синхронно возвращает полный ответ backend-а.
func (c *Client) Generate(ctx context.Context, job *models.GenerationJob) (string, error) {
	const op = "genai.Generate"

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	prompt, raw := buildPrompt(job)
	resp, err := c.send(ctx, &generateRequest{
		Model:  c.model(job.Kind),
		Prompt: prompt,
		Raw:    raw,
		Stream: false,
		Options: generateOptions{
			Temperature: job.Temperature,
			NumPredict:  job.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	var chunk generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", op, err)
	}

	return strings.TrimSpace(chunk.Response), nil
}

// Stream отдаёт фрагменты ответа по мере генерации (JSON lines backend-а).
func (c *Client) Stream(ctx context.Context, job *models.GenerationJob) (<-chan string, <-chan error) {
	const op = "genai.Stream"

	chunks := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)

		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		prompt, raw := buildPrompt(job)
		resp, err := c.send(ctx, &generateRequest{
			Model:  c.model(job.Kind),
			Prompt: prompt,
			Raw:    raw,
			Stream: true,
			Options: generateOptions{
				Temperature: job.Temperature,
				NumPredict:  job.MaxTokens,
			},
		})
		if err != nil {
			errs <- fmt.Errorf("%s: %w", op, err)
			return
		}
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}

			var chunk generateChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				log.From(ctx).Warn("genai_stream_bad_chunk",
					slog.String("op", op),
					slog.String("err", err.Error()),
				)
				continue
			}

			if chunk.Response != "" {
				select {
				case chunks <- chunk.Response:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}

			if chunk.Done {
				break
			}
		}

		if err := sc.Err(); err != nil {
			errs <- fmt.Errorf("%s: read stream: %w", op, err)
			return
		}

		errs <- nil
	}()

	return chunks, errs
}

// send выполняет POST /api/generate и проверяет статус ответа.
func (c *Client) send(ctx context.Context, reqBody *generateRequest) (*http.Response, error) {
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return resp, nil
}
