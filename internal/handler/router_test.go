package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/chunker"
	"github.com/xxxsen/docrag/internal/config"
	"github.com/xxxsen/docrag/internal/filestore"
	"github.com/xxxsen/docrag/internal/handler"
	"github.com/xxxsen/docrag/internal/index"
	"github.com/xxxsen/docrag/internal/metrics"
	"github.com/xxxsen/docrag/internal/middleware"
	"github.com/xxxsen/docrag/internal/pkg/errcode"
	"github.com/xxxsen/docrag/internal/service"
)

const runbook = "Restart the ingress controller when requests time out. " +
	"Check the node pool for disk pressure before scaling. " +
	"Rotate the TLS certificates every ninety days."

type staticGenerator struct {
	answer string
	err    error
}

func (g staticGenerator) Generate(_ context.Context, _ string) (string, error) {
	return g.answer, g.err
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T, gen ai.IGenerator) (http.Handler, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p, err := ai.NewEmbedProvider("hashing", map[string]interface{}{"dim": 128})
	require.NoError(t, err)
	m := metrics.New()
	pipeline := service.NewPipeline(
		index.NewMemoryIndex(index.MetricCosine),
		ai.NewEmbedder(p, ""),
		service.WithChunker(chunker.New(chunker.WithMaxTokens(12), chunker.WithOverlapTokens(3))),
		service.WithMetrics(m),
	)
	answers := service.NewAnswerService(pipeline, gen, 0, m)

	dir := t.TempDir()
	store, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": dir},
	})
	require.NoError(t, err)

	deps := handler.RouterDeps{
		RAG:     handler.NewRAGHandler(pipeline, answers, store, 1024),
		Metrics: m,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.Observe(m),
		),
	)
	require.NoError(t, err)
	return engine, dir
}

func do(t *testing.T, router http.Handler, req *http.Request) envelope {
	t.Helper()
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var out envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func uploadRequest(t *testing.T, name, content string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func jsonRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestUploadThenQuery(t *testing.T) {
	router, dir := setupRouter(t, staticGenerator{answer: "Restart the ingress controller."})

	out := do(t, router, uploadRequest(t, "runbook.txt", runbook))
	require.Equal(t, 0, out.Code)
	var result struct {
		Status      string   `json:"status"`
		AddedChunks int      `json:"added_chunks"`
		IDs         []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &result))
	require.Equal(t, "added", result.Status)
	require.NotEmpty(t, result.IDs)
	require.Equal(t, "runbook_chunk_0", result.IDs[0])

	saved, err := os.ReadFile(filepath.Join(dir, "runbook.txt"))
	require.NoError(t, err)
	require.Equal(t, runbook, string(saved))

	out = do(t, router, uploadRequest(t, "runbook.txt", runbook))
	require.NoError(t, json.Unmarshal(out.Data, &result))
	require.Equal(t, "skipped", result.Status)

	out = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/records", nil))
	var records struct {
		Count     int      `json:"count"`
		IDs       []string `json:"ids"`
		Documents []string `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &records))
	require.Equal(t, len(records.IDs), records.Count)
	require.Len(t, records.Documents, records.Count)

	out = do(t, router, jsonRequest("/api/v1/search", `{"prompt":"ingress timeout"}`))
	var search struct {
		Query   string `json:"query"`
		Matches []struct {
			ID string `json:"id"`
		} `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &search))
	require.Equal(t, "ingress timeout", search.Query)
	require.NotEmpty(t, search.Matches)
	require.LessOrEqual(t, len(search.Matches), service.DefaultSearchK)

	out = do(t, router, jsonRequest("/api/v1/rag", `{"prompt":"what do I restart?"}`))
	require.Equal(t, 0, out.Code)
	var answer struct {
		Query   string   `json:"query"`
		Context string   `json:"context"`
		Sources []string `json:"sources"`
		Answer  string   `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &answer))
	require.Equal(t, "Restart the ingress controller.", answer.Answer)
	require.NotEmpty(t, answer.Context)
	require.LessOrEqual(t, len(answer.Sources), service.DefaultRetrieveK)
}

func TestUploadRejected(t *testing.T) {
	router, _ := setupRouter(t, staticGenerator{answer: "ok"})

	tests := []struct {
		name    string
		req     *http.Request
		errCode int
	}{
		{name: "missing file", req: jsonRequest("/api/v1/upload", `{}`), errCode: errcode.ErrInvalidFile},
		{name: "empty file", req: uploadRequest(t, "empty.txt", ""), errCode: errcode.ErrInvalidFile},
		{name: "not utf-8", req: uploadRequest(t, "latin1.txt", "caf\xe9 menu\xff"), errCode: errcode.ErrInvalidFile},
		{name: "blank file", req: uploadRequest(t, "blank.txt", "  \n\n "), errCode: errcode.ErrInvalidFile},
		{name: "too large", req: uploadRequest(t, "big.txt", string(bytes.Repeat([]byte("a "), 1024))), errCode: errcode.ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := do(t, router, tt.req)
			require.Equal(t, tt.errCode, out.Code)
		})
	}
}

func TestRAGErrors(t *testing.T) {
	router, _ := setupRouter(t, staticGenerator{err: ai.ErrUnavailable})

	out := do(t, router, jsonRequest("/api/v1/rag", `{"prompt":"   "}`))
	require.Equal(t, errcode.ErrInvalid, out.Code)

	out = do(t, router, jsonRequest("/api/v1/rag", `{"prompt":"anything"}`))
	require.Equal(t, errcode.ErrNoContext, out.Code)

	do(t, router, uploadRequest(t, "runbook.txt", runbook))
	out = do(t, router, jsonRequest("/api/v1/rag", `{"prompt":"ingress"}`))
	require.Equal(t, errcode.ErrAIUnavailable, out.Code)
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := setupRouter(t, nil)

	out := do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/", nil))
	require.Equal(t, 0, out.Code)

	out = do(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	require.Equal(t, 0, out.Code)
	var ready struct {
		Entries int `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &ready))
	require.Equal(t, 0, ready.Entries)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), "docrag_")
}
