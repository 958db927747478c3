package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docqa/features/chat"
	"docqa/features/document"
	"docqa/internal/domain"
	"docqa/internal/middleware"
)

const (
	defaultLimit = 5
	maxLimit     = 50
	listLimit    = 100
)

type Documents interface {
	List(ctx context.Context, f document.ListFilter) ([]domain.Document, int, error)
}

// Assistant serves completed documents only; other states fail with
// chat.ErrNotReady.
type Assistant interface {
	Search(ctx context.Context, documentID, query string, topK int) ([]domain.ScoredChunk, error)
	Ask(ctx context.Context, documentID, question string, topK int) (*chat.Answer, error)
	Timestamps(ctx context.Context, documentID, query string, topK int) ([]domain.RankedTimestamp, error)
}

// Handler exposes document retrieval as MCP tools over JSON-RPC, either as
// plain POST or through an SSE session.
type Handler struct {
	docs         Documents
	assistant    Assistant
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
}

func NewHandler(d Documents, a Assistant) *Handler {
	return &Handler{
		docs:      d,
		assistant: a,
		sessions:  make(map[string]chan string),
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ListArgs struct {
	Status string `json:"status,omitempty"`
}

type DocumentQueryArgs struct {
	DocumentID string `json:"document_id"`
	Query      string `json:"query"`
	Limit      *int   `json:"limit,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

func documentQuerySchema(queryDesc string) map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"document_id": map[string]string{
				"type":        "string",
				"description": "The ID of a completed document",
			},
			"query": map[string]string{
				"type":        "string",
				"description": queryDesc,
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max results to return (default 5).",
				"minimum":     1,
				"maximum":     maxLimit,
			},
		},
		"required": []string{"document_id", "query"},
	}
}

var tools = []Tool{
	{
		Name: "docqa_list_documents",
		Description: `Discovery tool. Lists uploaded documents (PDF, audio, video) with their processing status. Only completed documents can be searched.

USAGE EXAMPLE:
docqa_list_documents(status="completed")`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"status": map[string]interface{}{
					"type": "string",
					"enum": []string{"pending", "processing", "completed", "failed"},
				},
			},
		},
	},
	{
		Name: "docqa_search_document",
		Description: `Search tool. Returns the chunks of one document most similar to the query, best first.

USAGE EXAMPLE:
docqa_search_document(document_id="...", query="refund policy", limit=5)`,
		InputSchema: documentQuerySchema("The search query"),
	},
	{
		Name: "docqa_ask_document",
		Description: `Question answering tool. Answers a question from one document's content and cites the supporting passages. Audio and video answers include the most relevant timestamps.

USAGE EXAMPLE:
docqa_ask_document(document_id="...", query="What was decided about the launch date?")`,
		InputSchema: documentQuerySchema("The question to answer"),
	},
	{
		Name: "docqa_find_timestamps",
		Description: `Navigation tool for audio and video. Ranks transcript segments by relevance to the query so you can point at the moment something is discussed.

USAGE EXAMPLE:
docqa_find_timestamps(document_id="...", query="pricing discussion", limit=3)`,
		InputSchema: documentQuerySchema("What to look for in the transcript"),
	},
}

// processRequest returns nil for notifications.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "docqa-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "ping":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		return h.callTool(ctx, req)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *Handler) callTool(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		slog.WarnContext(ctx, "invalid params structure", "error", err)
		resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		return &resp
	}

	if params.Name == "docqa_list_documents" {
		var args ListArgs
		if len(params.Arguments) > 0 {
			if err := json.Unmarshal(params.Arguments, &args); err != nil {
				resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid arguments")
				return &resp
			}
		}
		return h.listDocuments(ctx, req.ID, args)
	}

	var handle func(context.Context, DocumentQueryArgs, int) (string, error)
	switch params.Name {
	case "docqa_search_document":
		handle = h.search
	case "docqa_ask_document":
		handle = h.ask
	case "docqa_find_timestamps":
		handle = h.findTimestamps
	default:
		slog.WarnContext(ctx, "tool not found", "tool", params.Name)
		resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
		return &resp
	}

	var args DocumentQueryArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		slog.WarnContext(ctx, "invalid tool arguments", "tool", params.Name, "error", err)
		resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid arguments")
		return &resp
	}
	if args.DocumentID == "" {
		resp := makeErrorResponse(req.ID, ErrInvalidParams, "document_id is required")
		return &resp
	}
	if strings.TrimSpace(args.Query) == "" {
		resp := makeErrorResponse(req.ID, ErrInvalidParams, "query is required")
		return &resp
	}
	limit := defaultLimit
	if args.Limit != nil {
		if *args.Limit < 1 || *args.Limit > maxLimit {
			resp := makeErrorResponse(req.ID, ErrInvalidParams, fmt.Sprintf("limit must be between 1 and %d", maxLimit))
			return &resp
		}
		limit = *args.Limit
	}

	text, err := handle(ctx, args, limit)
	if err != nil {
		slog.ErrorContext(ctx, "tool execution failed", "tool", params.Name, "document_id", args.DocumentID, "error", err)
		return toolError(req.ID, err)
	}
	slog.InfoContext(ctx, "tool execution completed", "tool", params.Name, "document_id", args.DocumentID)
	return toolText(req.ID, text)
}

func (h *Handler) listDocuments(ctx context.Context, id interface{}, args ListArgs) *JSONRPCResponse {
	docs, total, err := h.docs.List(ctx, document.ListFilter{Status: domain.Status(args.Status), Page: 1, PageSize: listLimit})
	if err != nil {
		slog.ErrorContext(ctx, "list_documents failed", "error", err)
		return toolError(id, err)
	}
	if len(docs) == 0 {
		return toolText(id, "No documents found.")
	}

	type simpleDocument struct {
		ID     string              `json:"id"`
		Name   string              `json:"name"`
		Type   domain.DocumentType `json:"type"`
		Status domain.Status       `json:"status"`
	}
	out := make([]simpleDocument, len(docs))
	for i, d := range docs {
		out[i] = simpleDocument{ID: d.ID, Name: d.OriginalFilename, Type: d.Type, Status: d.Status}
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return toolError(id, err)
	}
	text := string(b)
	if total > len(docs) {
		text += fmt.Sprintf("\n\nShowing %d of %d documents.", len(docs), total)
	}
	return toolText(id, text)
}

func (h *Handler) search(ctx context.Context, args DocumentQueryArgs, limit int) (string, error) {
	results, err := h.assistant.Search(ctx, args.DocumentID, args.Query, limit)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "Result %d (Score: %.2f):\n", i+1, res.Score)
		if res.StartTime != nil && res.EndTime != nil {
			fmt.Fprintf(&b, "Time: %s - %s\n", formatSeconds(*res.StartTime), formatSeconds(*res.EndTime))
		}
		fmt.Fprintf(&b, "Content:\n%s\n\n---\n", res.Text)
	}
	b.WriteString("\nUse docqa_ask_document(document_id=\"...\", query=\"...\") for a synthesized answer.\n")
	return b.String(), nil
}

func (h *Handler) ask(ctx context.Context, args DocumentQueryArgs, limit int) (string, error) {
	answer, err := h.assistant.Ask(ctx, args.DocumentID, args.Query, limit)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(answer.Message)
	if len(answer.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for i, s := range answer.Sources {
			fmt.Fprintf(&b, "[%d] (Score: %.2f) %s\n", i+1, s.Score, s.Text)
		}
	}
	if len(answer.Timestamps) > 0 {
		b.WriteString("\nRelevant moments:\n")
		writeTimestamps(&b, answer.Timestamps)
	}
	return b.String(), nil
}

func (h *Handler) findTimestamps(ctx context.Context, args DocumentQueryArgs, limit int) (string, error) {
	ranked, err := h.assistant.Timestamps(ctx, args.DocumentID, args.Query, limit)
	if err != nil {
		return "", err
	}
	if len(ranked) == 0 {
		return "No timestamps found. Only audio and video documents have transcripts.", nil
	}
	var b strings.Builder
	writeTimestamps(&b, ranked)
	return b.String(), nil
}

func writeTimestamps(b *strings.Builder, ranked []domain.RankedTimestamp) {
	for _, t := range ranked {
		fmt.Fprintf(b, "%s - %s (Score: %.2f): %s\n", formatSeconds(t.Start), formatSeconds(t.End), t.RelevanceScore, t.Text)
	}
}

// formatSeconds renders an offset as [h:]mm:ss.
func formatSeconds(s float64) string {
	d := time.Duration(s * float64(time.Second)).Round(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	sec := int(d%time.Minute) / int(time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

func toolText(id interface{}, text string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: text}}},
	}
}

func toolError(id interface{}, err error) *JSONRPCResponse {
	msg := "Error: " + err.Error()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		msg = "Error: document not found"
	case errors.Is(err, chat.ErrNotReady):
		msg = "Error: document is not ready, processing has not completed"
	}
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: ToolResult{
			Content: []ToolContent{{Type: "text", Text: msg}},
			IsError: true,
		},
	}
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.InfoContext(r.Context(), "mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// HandleSSE opens a session and streams its JSON-RPC responses until the
// client disconnects.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeHTTPError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported", middleware.GetCorrelationID(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		h.sessionsLock.Unlock()
		close(msgChan)
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)

	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	fmt.Fprintf(w, "event: id\ndata: %s\n\n", html.EscapeString(sessionID))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts a JSON-RPC message for an open session. The response
// is delivered on the session's SSE stream.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		h.writeHTTPError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()
	if !exists {
		slog.WarnContext(r.Context(), "session not found", "session_id", sessionID)
		h.writeHTTPError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeHTTPError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// Keeps the correlation id once the request is gone.
	ctx := context.WithoutCancel(r.Context())

	go func() {
		resp := h.processRequest(ctx, req)
		if resp == nil {
			return
		}
		b, err := json.Marshal(resp)
		if err != nil {
			slog.ErrorContext(ctx, "failed to marshal response", "error", err)
			return
		}
		h.deliver(ctx, sessionID, string(b))
	}()
}

// deliver holds the read lock while sending so the session cannot close
// its channel underneath.
func (h *Handler) deliver(ctx context.Context, sessionID, msg string) {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	ch, ok := h.sessions[sessionID]
	if !ok {
		slog.WarnContext(ctx, "session closed before response", "session_id", sessionID)
		return
	}
	select {
	case ch <- msg:
	default:
		slog.WarnContext(ctx, "session channel full, dropping message", "session_id", sessionID)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	// JSON-RPC over HTTP reports errors in the body with 200 OK.
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(makeErrorResponse(id, code, message))
}

func (h *Handler) writeHTTPError(w http.ResponseWriter, status int, code, message, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	})
}
