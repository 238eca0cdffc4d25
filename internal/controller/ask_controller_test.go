package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"curriculum-qa-be/internal/dto"
	"curriculum-qa-be/internal/pkg/logger"
	"curriculum-qa-be/internal/pkg/serverutils"
	"curriculum-qa-be/internal/repository/memory"
	"curriculum-qa-be/internal/service"
	"curriculum-qa-be/pkg/rag/pipeline"
	"curriculum-qa-be/pkg/rag/prompt"
	"curriculum-qa-be/pkg/rag/ragtest"
	"curriculum-qa-be/pkg/rag/session"
	"curriculum-qa-be/pkg/retrieval"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	stub := ragtest.NewLLM().
		On(prompt.Enhance, ragtest.JSON(map[string]any{"enhanced_query": "cloud engineering duration", "intent": "duration"})).
		On(prompt.Relevance, ragtest.JSON(map[string]any{"score": 0.9})).
		On(prompt.CoverageClassify, ragtest.JSON(map[string]any{"is_coverage_question": false})).
		On(prompt.Generate, ragtest.JSON(map[string]any{"answer": "The program runs sixteen weeks.", "evidence_sufficient": true})).
		On(prompt.Verify, ragtest.JSON(map[string]any{"faithfulness_score": 0.95, "is_grounded": true}))
	r := ragtest.NewRetriever([]retrieval.Chunk{
		{Content: "Sixteen weeks.", SourceID: "cloud-engineering-syllabus.pdf", Score: 0.8},
		{Content: "Labs.", SourceID: "cloud-engineering-labs.pdf", Score: 0.7},
	})

	log := logger.NewNopLogger()
	sessions := session.NewManager(memory.NewSessionRepository(time.Hour), log, 0)
	cfg := pipeline.DefaultConfig()
	cfg.FineFilter = false
	p, err := pipeline.New(pipeline.Deps{LLM: stub, Retriever: r, Sessions: sessions, Logger: log}, cfg)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: serverutils.ErrorHandler})
	api := app.Group("/api")
	NewAskController(service.NewAskService(p, sessions, log)).RegisterRoutes(api, serverutils.NewJwtMiddleware(""))
	return app
}

func post(t *testing.T, app *fiber.App, path string, body any) (int, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func TestAskEndpoint(t *testing.T) {
	app := newTestApp(t)

	code, body := post(t, app, "/api/ask/v1?debug=true", dto.AskRequest{ThreadID: "web-1", Question: "How long is the cloud engineering program?"})
	require.Equal(t, fiber.StatusOK, code, string(body))

	var res serverutils.Response[dto.AskResponse]
	require.NoError(t, json.Unmarshal(body, &res))
	assert.True(t, res.Success)
	assert.Equal(t, "web-1", res.Data.ThreadID)
	assert.Equal(t, "The program runs sixteen weeks.", res.Data.Answer)
	assert.Equal(t, "verified", res.Data.Path)
	assert.Equal(t, "duration", res.Data.Intent)
	assert.NotEmpty(t, res.Data.Trace)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/ask/v1/sessions/web-1", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var sess serverutils.Response[dto.SessionResponse]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	assert.Len(t, sess.Data.Turns, 2)
	assert.Equal(t, []string{"cloud-engineering"}, sess.Data.LastPrograms)

	resp, err = app.Test(httptest.NewRequest("DELETE", "/api/ask/v1/sessions/web-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/ask/v1/sessions/web-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestAskStartsThreadWhenMissing(t *testing.T) {
	code, body := post(t, newTestApp(t), "/api/ask/v1", dto.AskRequest{Question: "How long is the cloud engineering program?"})
	require.Equal(t, fiber.StatusOK, code)

	var res serverutils.Response[dto.AskResponse]
	require.NoError(t, json.Unmarshal(body, &res))
	assert.NotEmpty(t, res.Data.ThreadID)
	assert.Empty(t, res.Data.Trace)
}

func TestAskRejectsInvalidBody(t *testing.T) {
	app := newTestApp(t)

	code, body := post(t, app, "/api/ask/v1", dto.AskRequest{Question: ""})
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Contains(t, string(body), "question is required")

	req := httptest.NewRequest("POST", "/api/ask/v1", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	NewHealthController(5, map[string]HealthCheck{
		"redis": func(ctx context.Context) error { return nil },
	}).RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	app = fiber.New()
	NewHealthController(5, map[string]HealthCheck{
		"database": func(ctx context.Context) error { return errors.New("connection refused") },
	}).RegisterRoutes(app)

	resp, err = app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	var res dto.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "connection refused", res.Checks["database"])
}
