package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/go-codeai/internal/config"
	"github.com/pribylovaa/go-codeai/internal/models"
)

func testClient(baseURL string) *Client {
	return NewClient(config.GeneratorConfig{
		BaseURL:       baseURL,
		Model:         "fim-model",
		ModelInstruct: "instruct-model",
		Timeout:       5 * time.Second,
	})
}

func TestClient_Generate(t *testing.T) {
	var gotReq generateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_ = json.NewEncoder(w).Encode(generateChunk{Response: "  full answer \n", Done: true})
	}))
	defer srv.Close()

	c := testClient(srv.URL)

	out, err := c.Generate(context.Background(), &models.GenerationJob{
		Kind:        models.KindCompletion,
		Prompt:      "func main(",
		Language:    "go",
		Temperature: 0.3,
		MaxTokens:   128,
	})
	require.NoError(t, err)
	require.Equal(t, "full answer", out)

	// Autocomplete идёт в FIM-модель, сырым промптом, без стрима.
	require.Equal(t, "fim-model", gotReq.Model)
	require.True(t, gotReq.Raw)
	require.False(t, gotReq.Stream)
	require.Equal(t, 0.3, gotReq.Options.Temperature)
	require.Equal(t, 128, gotReq.Options.NumPredict)
}

func TestClient_Generate_ChatUsesInstructModel(t *testing.T) {
	var gotReq generateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(generateChunk{Response: "ok", Done: true})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), &models.GenerationJob{
		Kind:   models.KindChat,
		Prompt: "hi",
	})
	require.NoError(t, err)
	require.Equal(t, "instruct-model", gotReq.Model)
	require.False(t, gotReq.Raw)
}

func TestClient_Generate_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), &models.GenerationJob{
		Kind:   models.KindChat,
		Prompt: "hi",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 404")
}

func TestClient_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.True(t, req.Stream)

		flusher := w.(http.Flusher)
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, `{"response":%q,"done":false}`+"\n", part)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer srv.Close()

	chunks, errs := testClient(srv.URL).Stream(context.Background(), &models.GenerationJob{
		Kind:   models.KindChat,
		Prompt: "say hello",
	})

	var got []string
	for c := range chunks {
		got = append(got, c)
	}
	require.NoError(t, <-errs)
	require.Equal(t, []string{"Hel", "lo"}, got)
}

func TestClient_Stream_SkipsMalformedLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"response":"good","done":false}`)
		fmt.Fprintln(w, `not json at all`)
		fmt.Fprintln(w, `{"response":"chunk","done":true}`)
	}))
	defer srv.Close()

	chunks, errs := testClient(srv.URL).Stream(context.Background(), &models.GenerationJob{
		Kind:   models.KindChat,
		Prompt: "hi",
	})

	var got []string
	for c := range chunks {
		got = append(got, c)
	}
	require.NoError(t, <-errs)
	require.Equal(t, []string{"good", "chunk"}, got)
}

func TestClient_Stream_BackendErrorDeliveredOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	chunks, errs := testClient(srv.URL).Stream(context.Background(), &models.GenerationJob{
		Kind:   models.KindChat,
		Prompt: "hi",
	})

	for range chunks {
		t.Fatal("no chunks expected")
	}
	require.Error(t, <-errs)
}
