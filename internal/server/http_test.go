package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ximass/lumnia/internal/config"
	"github.com/ximass/lumnia/internal/database"
	"github.com/ximass/lumnia/internal/llm"
	"github.com/ximass/lumnia/internal/model"
	"github.com/ximass/lumnia/internal/rag"
	"github.com/ximass/lumnia/internal/service"
)

type fixedChatProvider struct {
	answer string
}

func (p *fixedChatProvider) Generate(_ context.Context, _ []llm.Message, _ ...llm.GenerateOption) (string, error) {
	return p.answer, nil
}

func (p *fixedChatProvider) GenerateStream(_ context.Context, _ []llm.Message, _ ...llm.GenerateOption) (<-chan string, <-chan error, error) {
	contentCh := make(chan string, 2)
	errCh := make(chan error, 1)
	contentCh <- p.answer[:len(p.answer)/2]
	contentCh <- p.answer[len(p.answer)/2:]
	close(contentCh)
	close(errCh)
	return contentCh, errCh, nil
}

func (p *fixedChatProvider) Model() string { return "fixed" }

func newTestServer(t *testing.T) (*HTTPGinServer, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))

	cfg := &config.Config{}
	cfg.Server.HTTP.Debug = false
	cfg.Storage.SourcesDir = t.TempDir()
	cfg.Chat.Streaming.Enabled = true
	cfg.Chat.Context.Enabled = true
	cfg.Chat.Context.Limit = 10

	kbs := service.NewKnowledgeBaseService(db)
	sources := service.NewSourceService(db)
	chats := service.NewChatService(db)
	personas := service.NewPersonaService(db)

	provider := &fixedChatProvider{answer: "Resposta de teste."}
	dispatcher := rag.NewDispatcher(chats, sources, nil, provider, cfg.Chat)

	return NewHTTPGinServer(cfg, kbs, sources, chats, personas, nil, dispatcher, nil), db
}

func doJSON(t *testing.T, s *HTTPGinServer, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Username", "tester")

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var resp struct {
		Code    int            `json:"code"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	assert.Equal(t, "healthy", data["status"])
}

func TestKnowledgeBaseCRUD(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/knowledge-bases", gin.H{
		"name":        "Manual de soldagem",
		"description": "Procedimentos internos",
	})
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	kbID, _ := data["id"].(string)
	require.NotEmpty(t, kbID)

	w = doJSON(t, s, http.MethodGet, "/api/v1/knowledge-bases/"+kbID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/knowledge-bases", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	data = decodeData(t, w)
	assert.Equal(t, float64(1), data["total"])

	w = doJSON(t, s, http.MethodDelete, "/api/v1/knowledge-bases/"+kbID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/knowledge-bases/"+kbID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSourceUploadPersistsFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/knowledge-bases", gin.H{"name": "KB"})
	require.Equal(t, http.StatusOK, w.Code)
	kbID := decodeData(t, w)["id"].(string)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "manual.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("conteudo do manual de procedimentos"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/knowledge-bases/%s/sources", kbID), &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	sourceID := data["id"].(string)
	assert.Equal(t, "text", data["source_type"])
	assert.Equal(t, model.SourceStatusUploaded, data["status"])

	stored, err := os.ReadFile(filepath.Join(s.config.Storage.SourcesDir, sourceID))
	require.NoError(t, err)
	assert.Equal(t, "conteudo do manual de procedimentos", string(stored))

	w = doJSON(t, s, http.MethodGet, "/api/v1/sources/"+sourceID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeData(t, w)
	assert.Equal(t, float64(0), status["chunk_count"])
}

func TestSourceUploadRejectsMissingFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/knowledge-bases", gin.H{"name": "KB"})
	require.Equal(t, http.StatusOK, w.Code)
	kbID := decodeData(t, w)["id"].(string)

	w = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/knowledge-bases/%s/sources", kbID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatMessageNonStreaming(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/chats", gin.H{"name": "Dúvidas"})
	require.Equal(t, http.StatusOK, w.Code)
	chatID := decodeData(t, w)["id"].(float64)

	w = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/chats/%.0f/messages", chatID), gin.H{
		"text": "Como faço solda TIG?",
	})
	require.Equal(t, http.StatusOK, w.Code)

	data := decodeData(t, w)
	assert.Equal(t, "Resposta de teste.", data["answer"])

	w = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/v1/chats/%.0f/messages", chatID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeData(t, w)
	assert.Equal(t, float64(1), list["total"])
}

func TestChatMessageStreaming(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/chats", gin.H{"name": "Dúvidas"})
	require.Equal(t, http.StatusOK, w.Code)
	chatID := decodeData(t, w)["id"].(float64)

	w = doJSON(t, s, http.MethodPost, fmt.Sprintf("/api/v1/chats/%.0f/messages", chatID), gin.H{
		"text":   "Como faço solda TIG?",
		"stream": true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "data: [DONE]"))

	var types []string
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") || line == "data: [DONE]" {
			continue
		}
		var event rag.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		types = append(types, event.Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, "start", types[0])
	assert.Equal(t, "complete", types[len(types)-1])
}

func TestChatOwnershipEnforced(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/chats", gin.H{"name": "Privado"})
	require.Equal(t, http.StatusOK, w.Code)
	chatID := decodeData(t, w)["id"].(float64)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/chats/%.0f", chatID), nil)
	req.Header.Set("X-Username", "intruso")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPersonaLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/personas", gin.H{
		"name":         "Formal",
		"instructions": "Responda formalmente.",
	})
	require.Equal(t, http.StatusOK, w.Code)
	personaID := decodeData(t, w)["id"].(float64)

	w = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/v1/personas/%.0f", personaID), gin.H{
		"name":         "Formal",
		"instructions": "Responda formalmente.",
		"active":       false,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeData(t, w)["active"])

	w = doJSON(t, s, http.MethodGet, "/api/v1/personas?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decodeData(t, w)["total"])

	w = doJSON(t, s, http.MethodPut, "/api/v1/users/tester/persona", gin.H{"persona_id": personaID})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/api/v1/users/tester/persona", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodDelete, fmt.Sprintf("/api/v1/personas/%.0f", personaID), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
