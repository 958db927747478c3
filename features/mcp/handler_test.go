package mcp

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docqa/features/chat"
	"docqa/features/document"
	"docqa/internal/domain"
)

type MockDocuments struct{ mock.Mock }

func (m *MockDocuments) List(ctx context.Context, f document.ListFilter) ([]domain.Document, int, error) {
	args := m.Called(ctx, f)
	docs, _ := args.Get(0).([]domain.Document)
	return docs, args.Int(1), args.Error(2)
}

type MockAssistant struct{ mock.Mock }

func (m *MockAssistant) Search(ctx context.Context, documentID, query string, topK int) ([]domain.ScoredChunk, error) {
	args := m.Called(ctx, documentID, query, topK)
	res, _ := args.Get(0).([]domain.ScoredChunk)
	return res, args.Error(1)
}

func (m *MockAssistant) Ask(ctx context.Context, documentID, question string, topK int) (*chat.Answer, error) {
	args := m.Called(ctx, documentID, question, topK)
	a, _ := args.Get(0).(*chat.Answer)
	return a, args.Error(1)
}

func (m *MockAssistant) Timestamps(ctx context.Context, documentID, query string, topK int) ([]domain.RankedTimestamp, error) {
	args := m.Called(ctx, documentID, query, topK)
	res, _ := args.Get(0).([]domain.RankedTimestamp)
	return res, args.Error(1)
}

func call(t *testing.T, h *Handler, tool string, arguments interface{}) *JSONRPCResponse {
	t.Helper()
	raw, err := json.Marshal(arguments)
	require.NoError(t, err)
	params, err := json.Marshal(CallParams{Name: tool, Arguments: raw})
	require.NoError(t, err)
	return h.processRequest(context.Background(), JSONRPCRequest{JSONRPC: "2.0", Method: "tools/call", Params: params, ID: 1})
}

func resultText(t *testing.T, resp *JSONRPCResponse) (string, bool) {
	t.Helper()
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	res, ok := resp.Result.(ToolResult)
	require.True(t, ok)
	require.Len(t, res.Content, 1)
	return res.Content[0].Text, res.IsError
}

func errorCode(t *testing.T, resp *JSONRPCResponse) int {
	t.Helper()
	require.NotNil(t, resp)
	e, ok := resp.Error.(map[string]interface{})
	require.True(t, ok)
	return e["code"].(int)
}

func TestProcessRequest_Protocol(t *testing.T) {
	h := NewHandler(nil, nil)

	resp := h.processRequest(context.Background(), JSONRPCRequest{Method: "initialize", ID: 1})
	require.NotNil(t, resp)
	info := resp.Result.(map[string]interface{})["serverInfo"].(map[string]interface{})
	assert.Equal(t, "docqa-mcp", info["name"])

	assert.Nil(t, h.processRequest(context.Background(), JSONRPCRequest{Method: "notifications/initialized"}))

	resp = h.processRequest(context.Background(), JSONRPCRequest{Method: "tools/list", ID: 2})
	list := resp.Result.(ListToolsResult)
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"docqa_list_documents", "docqa_search_document", "docqa_ask_document", "docqa_find_timestamps"}, names)

	resp = h.processRequest(context.Background(), JSONRPCRequest{Method: "resources/list", ID: 3})
	assert.Equal(t, ErrMethodNotFound, errorCode(t, resp))
}

func TestCallTool_Validation(t *testing.T) {
	h := NewHandler(nil, nil)
	zero := 0

	tests := []struct {
		name string
		tool string
		args interface{}
		code int
	}{
		{"unknown tool", "docqa_delete", map[string]string{}, ErrMethodNotFound},
		{"missing document", "docqa_search_document", DocumentQueryArgs{Query: "q"}, ErrInvalidParams},
		{"blank query", "docqa_ask_document", DocumentQueryArgs{DocumentID: "doc-1", Query: "  "}, ErrInvalidParams},
		{"limit out of range", "docqa_find_timestamps", DocumentQueryArgs{DocumentID: "doc-1", Query: "q", Limit: &zero}, ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, errorCode(t, call(t, h, tt.tool, tt.args)))
		})
	}

	params := json.RawMessage(`{"name": 5}`)
	resp := h.processRequest(context.Background(), JSONRPCRequest{Method: "tools/call", Params: params, ID: 1})
	assert.Equal(t, ErrInvalidParams, errorCode(t, resp))
}

func TestCallTool_ListDocuments(t *testing.T) {
	docs := new(MockDocuments)
	h := NewHandler(docs, nil)

	docs.On("List", mock.Anything, document.ListFilter{Status: domain.StatusCompleted, Page: 1, PageSize: listLimit}).
		Return([]domain.Document{{ID: "doc-1", OriginalFilename: "talk.mp3", Type: domain.TypeAudio, Status: domain.StatusCompleted}}, 101, nil)

	text, isErr := resultText(t, call(t, h, "docqa_list_documents", ListArgs{Status: "completed"}))
	assert.False(t, isErr)
	assert.Contains(t, text, `"id": "doc-1"`)
	assert.Contains(t, text, `"name": "talk.mp3"`)
	assert.Contains(t, text, "Showing 1 of 101 documents.")

	empty := new(MockDocuments)
	empty.On("List", mock.Anything, mock.Anything).Return([]domain.Document{}, 0, nil)
	text, _ = resultText(t, call(t, NewHandler(empty, nil), "docqa_list_documents", map[string]string{}))
	assert.Equal(t, "No documents found.", text)
}

func TestCallTool_Search(t *testing.T) {
	a := new(MockAssistant)
	h := NewHandler(nil, a)
	start, end := 65.0, 70.0

	a.On("Search", mock.Anything, "doc-1", "pricing", defaultLimit).Return([]domain.ScoredChunk{
		{Chunk: domain.Chunk{Text: "we discussed pricing", StartTime: &start, EndTime: &end}, Score: 0.91},
	}, nil)

	text, isErr := resultText(t, call(t, h, "docqa_search_document", DocumentQueryArgs{DocumentID: "doc-1", Query: "pricing"}))
	assert.False(t, isErr)
	assert.Contains(t, text, "Result 1 (Score: 0.91)")
	assert.Contains(t, text, "Time: 01:05 - 01:10")
	assert.Contains(t, text, "we discussed pricing")

	a.On("Search", mock.Anything, "doc-2", "pricing", defaultLimit).Return([]domain.ScoredChunk{}, nil)
	text, _ = resultText(t, call(t, h, "docqa_search_document", DocumentQueryArgs{DocumentID: "doc-2", Query: "pricing"}))
	assert.True(t, strings.HasPrefix(text, "No results found."))

	// A document still being indexed is reported, not searched.
	a.On("Search", mock.Anything, "doc-3", "pricing", defaultLimit).Return(nil, fmt.Errorf("%w: status processing", chat.ErrNotReady))
	text, isErr = resultText(t, call(t, h, "docqa_search_document", DocumentQueryArgs{DocumentID: "doc-3", Query: "pricing"}))
	assert.True(t, isErr)
	assert.Equal(t, "Error: document is not ready, processing has not completed", text)
}

func TestCallTool_Ask(t *testing.T) {
	a := new(MockAssistant)
	h := NewHandler(nil, a)
	limit := 3

	a.On("Ask", mock.Anything, "doc-1", "what?", 3).Return(&chat.Answer{
		Message:    "The answer.",
		Sources:    []chat.Source{{Text: "source text", Score: 0.8}},
		Timestamps: []domain.RankedTimestamp{{Start: 3725, End: 3730, Text: "here", RelevanceScore: 0.7}},
	}, nil)

	text, isErr := resultText(t, call(t, h, "docqa_ask_document", DocumentQueryArgs{DocumentID: "doc-1", Query: "what?", Limit: &limit}))
	assert.False(t, isErr)
	assert.True(t, strings.HasPrefix(text, "The answer."))
	assert.Contains(t, text, "[1] (Score: 0.80) source text")
	assert.Contains(t, text, "1:02:05 - 1:02:10 (Score: 0.70): here")
}

func TestCallTool_Errors(t *testing.T) {
	a := new(MockAssistant)
	h := NewHandler(nil, a)

	a.On("Ask", mock.Anything, "missing", "q", defaultLimit).Return(nil, sql.ErrNoRows)
	a.On("Timestamps", mock.Anything, "pending", "q", defaultLimit).Return(nil, chat.ErrNotReady)
	a.On("Timestamps", mock.Anything, "broken", "q", defaultLimit).Return(nil, errors.New("embedder down"))

	text, isErr := resultText(t, call(t, h, "docqa_ask_document", DocumentQueryArgs{DocumentID: "missing", Query: "q"}))
	assert.True(t, isErr)
	assert.Equal(t, "Error: document not found", text)

	text, isErr = resultText(t, call(t, h, "docqa_find_timestamps", DocumentQueryArgs{DocumentID: "pending", Query: "q"}))
	assert.True(t, isErr)
	assert.Contains(t, text, "not ready")

	text, isErr = resultText(t, call(t, h, "docqa_find_timestamps", DocumentQueryArgs{DocumentID: "broken", Query: "q"}))
	assert.True(t, isErr)
	assert.Equal(t, "Error: embedder down", text)
}

func TestServeHTTP(t *testing.T) {
	h := NewHandler(nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":7}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":{},"id":7}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{bad`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":-32700`)
}

func TestHandleMessage(t *testing.T) {
	h := NewHandler(nil, nil)

	rec := httptest.NewRecorder()
	h.HandleMessage(rec, httptest.NewRequest(http.MethodPost, "/mcp/messages", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")

	rec = httptest.NewRecorder()
	h.HandleMessage(rec, httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId=unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ch := make(chan string, 1)
	h.sessions["s-1"] = ch

	rec = httptest.NewRecorder()
	h.HandleMessage(rec, httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId=s-1", bytes.NewBufferString("{invalid")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_JSON")

	rec = httptest.NewRecorder()
	h.HandleMessage(rec, httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId=s-1", bytes.NewBufferString(`{"jsonrpc":"2.0","method":"ping","id":1}`)))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"jsonrpc":"2.0","result":{},"id":1}`, msg)
	case <-time.After(time.Second):
		t.Fatal("response not delivered to session")
	}
}

func TestHandleSSE(t *testing.T) {
	h := NewHandler(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/mcp/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.HandleSSE(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		h.sessionsLock.RLock()
		defer h.sessionsLock.RUnlock()
		return len(h.sessions) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: endpoint\ndata: http://example.com/mcp/messages?sessionId=")
	assert.Empty(t, h.sessions)
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "00:00", formatSeconds(0))
	assert.Equal(t, "01:05", formatSeconds(65.4))
	assert.Equal(t, "1:00:00", formatSeconds(3600))
}
