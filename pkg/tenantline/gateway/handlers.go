package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"time"

	"github.com/tenantline/tenantline/pkg/tenantline/agent"
	"github.com/tenantline/tenantline/pkg/tenantline/memstore"
)

// errorResponse is the consistent error format.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, code int) {
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.Code = code
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusForTurnError maps orchestration errors to HTTP codes. AlreadyDecided
// gets its own 409 so clients can treat it as "someone else already acted".
func (g *Gateway) statusForTurnError(err error) int {
	var validation *agent.ValidationError
	switch {
	case errors.Is(err, agent.ErrAlreadyDecided):
		return http.StatusConflict
	case errors.Is(err, agent.ErrConversationNotFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case agent.IsGenerationFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(g.startedAt).Round(time.Second).String(),
	})
}

// ---------- Inbound turn triggers ----------

type smsWebhookRequest struct {
	From string `json:"from"`
	Text string `json:"text"`
}

// handleSMSWebhook accepts an inbound SMS event from the external SMS
// provider and runs the turn. The reply text goes back in the response for
// the provider to deliver.
func (g *Gateway) handleSMSWebhook(w http.ResponseWriter, r *http.Request) {
	var req smsWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	result, err := g.orch.StartTurn(r.Context(), agent.ModalitySMS, req.From, req.Text)
	if err != nil {
		g.writeError(w, err.Error(), g.statusForTurnError(err))
		return
	}
	g.writeJSON(w, http.StatusOK, result)
}

type emailWebhookRequest struct {
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
}

func (g *Gateway) handleEmailWebhook(w http.ResponseWriter, r *http.Request) {
	var req emailWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	result, err := g.orch.StartTurn(r.Context(), agent.ModalityEmail, req.ThreadID, req.Text)
	if err != nil {
		g.writeError(w, err.Error(), g.statusForTurnError(err))
		return
	}
	g.writeJSON(w, http.StatusOK, result)
}

type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text"`
}

// handleChat runs a web_chat turn. Omitting conversation_id starts a fresh
// conversation; the minted UUID comes back in the result.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	result, err := g.orch.StartTurn(r.Context(), agent.ModalityWebChat, req.ConversationID, req.Text)
	if err != nil {
		g.writeError(w, err.Error(), g.statusForTurnError(err))
		return
	}
	g.writeJSON(w, http.StatusOK, result)
}

// ---------- Conversations and approvals ----------

func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv := g.orch.Conversation(id)
	if conv == nil {
		g.writeError(w, "conversation not found", http.StatusNotFound)
		return
	}
	g.writeJSON(w, http.StatusOK, conv)
}

type approveRequest struct {
	Decisions []agent.ApprovalDecision `json:"decisions"`
}

// handleApprove applies a batch of approval decisions. Decisions apply in
// order; the response carries the last turn result plus per-decision errors.
func (g *Gateway) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(req.Decisions) == 0 {
		g.writeError(w, "no decisions in body", http.StatusBadRequest)
		return
	}

	var (
		lastResult *agent.TurnResult
		failures   []map[string]string
	)
	for _, d := range req.Decisions {
		result, err := g.orch.Decide(r.Context(), id, d)
		if err != nil {
			if len(req.Decisions) == 1 {
				g.writeError(w, err.Error(), g.statusForTurnError(err))
				return
			}
			failures = append(failures, map[string]string{
				"tool_call_id": d.ToolCallID,
				"error":        err.Error(),
			})
			continue
		}
		lastResult = result
	}

	if lastResult == nil {
		g.writeError(w, fmt.Sprintf("all %d decisions failed", len(req.Decisions)), http.StatusConflict)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"result":   lastResult,
		"failures": failures,
	})
}

// ---------- Memory admin surface ----------

func (g *Gateway) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	entries, err := g.memory.List(r.URL.Query().Get("path"))
	if err != nil {
		g.writeError(w, err.Error(), memoryErrorStatus(err))
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (g *Gateway) handleMemoryRead(w http.ResponseWriter, r *http.Request) {
	result, err := g.memory.Read(r.URL.Query().Get("path"))
	if err != nil {
		g.writeError(w, err.Error(), memoryErrorStatus(err))
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"content":   result.Content,
		"truncated": result.Truncated,
		"size":      result.TotalSize,
	})
}

type memoryWriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append,omitempty"`
}

func (g *Gateway) handleMemoryWrite(w http.ResponseWriter, r *http.Request) {
	var req memoryWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	var err error
	if req.Append {
		err = g.memory.Append(req.Path, req.Content)
	} else {
		err = g.memory.Write(req.Path, req.Content)
	}
	if err != nil {
		g.writeError(w, err.Error(), memoryErrorStatus(err))
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	if err := g.memory.Delete(r.URL.Query().Get("path")); err != nil {
		g.writeError(w, err.Error(), memoryErrorStatus(err))
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type mkdirRequest struct {
	Path string `json:"path"`
}

func (g *Gateway) handleMemoryMkdir(w http.ResponseWriter, r *http.Request) {
	var req mkdirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := g.memory.Mkdir(req.Path); err != nil {
		g.writeError(w, err.Error(), memoryErrorStatus(err))
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleMemoryDownload(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	data, err := g.memory.Download(path)
	if err != nil {
		g.writeError(w, err.Error(), memoryErrorStatus(err))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	w.Write(data)
}

// memoryErrorStatus maps store errors: path validation failures are the
// caller's fault, everything else is a server problem.
func memoryErrorStatus(err error) int {
	var pathErr *memstore.PathError
	if errors.As(err, &pathErr) {
		return http.StatusBadRequest
	}
	if errors.Is(err, fs.ErrNotExist) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
