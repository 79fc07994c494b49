package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/app"
	"docchat/internal/model"
	"docchat/internal/transport/http/response"
)

type fakeDocuments struct {
	ingested map[string][]byte
	err      error
	force    bool
}

func (f *fakeDocuments) Ingest(_ context.Context, name string, content []byte, source string) (*model.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.ingested == nil {
		f.ingested = map[string][]byte{}
	}
	f.ingested[name] = content
	return &model.Document{Name: name, Source: source, ChunkCount: 1}, nil
}

func (f *fakeDocuments) IngestText(ctx context.Context, name, text string) (*model.Document, error) {
	return f.Ingest(ctx, name, []byte(text), model.SourceUpload)
}

func (f *fakeDocuments) List(context.Context) ([]model.Document, error) {
	return []model.Document{{Name: "a.txt"}}, f.err
}

func (f *fakeDocuments) Get(_ context.Context, name string) (*model.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Document{Name: name}, nil
}

func (f *fakeDocuments) Delete(context.Context, string) error { return f.err }

func (f *fakeDocuments) IndexDirectory(_ context.Context, force bool) (*app.IndexReport, error) {
	f.force = force
	return &app.IndexReport{Indexed: []string{"a.txt"}}, f.err
}

type fakeChat struct {
	err      error
	lastAsk  app.AskInput
	lastFind app.SearchInput
	saved    []model.ChatTurn
	chunks   []string
}

func (f *fakeChat) Search(_ context.Context, input app.SearchInput) ([]model.RetrievedChunk, error) {
	f.lastFind = input
	if f.err != nil {
		return nil, f.err
	}
	return []model.RetrievedChunk{{Chunk: model.Chunk{Document: "a.txt", Text: "hit"}, Distance: 0.1}}, nil
}

func (f *fakeChat) Ask(_ context.Context, input app.AskInput) (*app.AskResult, error) {
	f.lastAsk = input
	if f.err != nil {
		return nil, f.err
	}
	return &app.AskResult{Answer: "yes"}, nil
}

func (f *fakeChat) StreamAsk(_ context.Context, input app.AskInput, onChunk func(string) error) (*app.AskResult, error) {
	f.lastAsk = input
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return nil, err
		}
	}
	return &app.AskResult{Answer: strings.Join(f.chunks, "")}, nil
}

func (f *fakeChat) History(context.Context, string) ([]model.ChatTurn, error) {
	return f.saved, f.err
}

func (f *fakeChat) SaveHistory(_ context.Context, _ string, turns []model.ChatTurn) ([]model.ChatTurn, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.saved = turns
	return turns, nil
}

func (f *fakeChat) ClearHistory(context.Context, string) error { return f.err }

func newTestRouter(docs DocumentService, chat ChatService, maxUpload int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	dh := NewDocumentHandler(docs, maxUpload)
	ch := NewChatHandler(chat)
	r.POST("/documents", dh.Upload)
	r.POST("/documents/text", dh.CreateText)
	r.POST("/documents/reindex", dh.Reindex)
	r.GET("/documents", dh.List)
	r.GET("/documents/:name", dh.Get)
	r.DELETE("/documents/:name", dh.Delete)
	r.POST("/search", ch.Search)
	r.POST("/chat", ch.Ask)
	r.POST("/chat/stream", ch.Stream)
	r.GET("/history/:name", ch.GetHistory)
	r.PUT("/history/:name", ch.SaveHistory)
	r.DELETE("/history/:name", ch.ClearHistory)
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.APIResponse {
	t.Helper()
	var resp response.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	docs := &fakeDocuments{}
	r := newTestRouter(docs, &fakeChat{}, 1<<20)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, "notes.txt", []byte("hello world")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeOK, decode(t, w).Code)
	assert.Equal(t, []byte("hello world"), docs.ingested["notes.txt"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadTooLarge(t *testing.T) {
	r := newTestRouter(&fakeDocuments{}, &fakeChat{}, 4)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartUpload(t, "big.txt", []byte("more than four bytes")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, response.CodePayloadTooLarge, decode(t, w).Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   int
	}{
		{app.ErrInvalidInput, http.StatusBadRequest, response.CodeBadRequest},
		{app.ErrDocumentNotFound, http.StatusNotFound, response.CodeDocumentNotFound},
		{app.ErrEmptyDocument, http.StatusUnprocessableEntity, response.CodeEmptyDocument},
		{app.ErrUnreadableDocument, http.StatusUnprocessableEntity, response.CodeUnreadableDocument},
		{app.ErrVectorStoreUnavailable, http.StatusServiceUnavailable, response.CodeVectorStoreUnavailable},
		{app.ErrLLMUnavailable, http.StatusBadGateway, response.CodeLLMUnavailable},
		{app.ErrEmbeddingFailed, http.StatusBadGateway, response.CodeEmbeddingFailed},
		{errors.New("disk on fire"), http.StatusInternalServerError, response.CodeInternalServer},
	}
	for _, tc := range cases {
		wrapped := errors.Join(tc.err, errors.New("detail"))
		r := newTestRouter(&fakeDocuments{err: wrapped}, &fakeChat{err: wrapped}, 0)

		w := doJSON(r, http.MethodGet, "/documents/a.txt", "")
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		assert.Equal(t, tc.code, decode(t, w).Code)

		w = doJSON(r, http.MethodPost, "/chat", `{"document":"a.txt","question":"q"}`)
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
	}

	r := newTestRouter(&fakeDocuments{err: errors.New("disk on fire")}, &fakeChat{}, 0)
	w := doJSON(r, http.MethodGet, "/documents", "")
	assert.Equal(t, "list documents failed", decode(t, w).Message)
}

func TestAskTopK(t *testing.T) {
	chat := &fakeChat{}
	r := newTestRouter(&fakeDocuments{}, chat, 0)

	w := doJSON(r, http.MethodPost, "/chat", `{"document":"a.txt","question":"q"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, -1, chat.lastAsk.TopK)

	w = doJSON(r, http.MethodPost, "/chat", `{"document":"a.txt","question":"q","top_k":0,"scope":"all"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, chat.lastAsk.TopK)
	assert.Equal(t, app.ScopeAll, chat.lastAsk.Scope)

	w = doJSON(r, http.MethodPost, "/search", `{"document":"a.txt","question":"find","top_k":5}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, app.SearchInput{Document: "a.txt", Query: "find", TopK: 5}, chat.lastFind)

	w = doJSON(r, http.MethodPost, "/chat", `{"document":"a.txt","question":"q","scope":"galaxy"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(r, http.MethodPost, "/chat", `{"document":"a.txt"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStream(t *testing.T) {
	chat := &fakeChat{chunks: []string{"Hel", "lo\n"}}
	r := newTestRouter(&fakeDocuments{}, chat, 0)

	w := doJSON(r, http.MethodPost, "/chat/stream", `{"document":"a.txt","question":"q"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "data: \"Hel\"\n\n")
	assert.Contains(t, body, "data: \"lo\\n\"\n\n")
	assert.Contains(t, body, "event: done\ndata: {\"answer\":\"Hello\\n\"")

	chat.err = app.ErrLLMUnavailable
	w = doJSON(r, http.MethodPost, "/chat/stream", `{"document":"a.txt","question":"q"}`)
	assert.Contains(t, w.Body.String(), "event: error\ndata: \"llm unavailable\"")
}

func TestHistoryEndpoints(t *testing.T) {
	chat := &fakeChat{}
	r := newTestRouter(&fakeDocuments{}, chat, 0)

	w := doJSON(r, http.MethodPut, "/history/a.txt",
		`{"turns":[{"role":"user","content":"hi","created_at":"2024-01-02T03:04:05Z"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, chat.saved, 1)
	assert.Equal(t, "hi", chat.saved[0].Content)
	assert.True(t, chat.saved[0].CreatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	w = doJSON(r, http.MethodGet, "/history/a.txt", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"content":"hi"`)

	w = doJSON(r, http.MethodDelete, "/history/a.txt", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPut, "/history/a.txt", `{"turns":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReindexAndText(t *testing.T) {
	docs := &fakeDocuments{}
	r := newTestRouter(docs, &fakeChat{}, 0)

	w := doJSON(r, http.MethodPost, "/documents/reindex", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, docs.force)

	w = doJSON(r, http.MethodPost, "/documents/reindex", `{"force":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, docs.force)

	w = doJSON(r, http.MethodPost, "/documents/text", `{"name":"pasted","content":"some text"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []byte("some text"), docs.ingested["pasted"])

	w = doJSON(r, http.MethodPost, "/documents/text", `{"content":"no name"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler("docchat", "test", time.Now(), map[string]CheckFunc{
		"vector_store": func(context.Context) error { return nil },
		"redis":        func(context.Context) error { return errors.New("connection refused") },
	})
	r := gin.New()
	r.GET("/healthz", h.Check)

	w := doJSON(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		App          string                      `json:"app"`
		Dependencies map[string]dependencyStatus `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "docchat", body.App)
	assert.True(t, body.Dependencies["vector_store"].OK)
	assert.False(t, body.Dependencies["redis"].OK)
	assert.Equal(t, "connection refused", body.Dependencies["redis"].Message)
}
