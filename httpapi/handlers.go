package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/relaymesh/chatmesh/chatmerr"
	"github.com/relaymesh/chatmesh/convstore"
	"github.com/relaymesh/chatmesh/orchestrator"
)

// Handlers holds every dependency the route table needs. Every method is a
// plain http.HandlerFunc-compatible method; Router wires them onto a
// http.ServeMux, but nothing here depends on *ServeMux itself.
type Handlers struct {
	Orchestrator   *orchestrator.Orchestrator
	Conversations  convstore.Store
	Models         []string
	TriageAgents   []string
	DynamicAgents  []string
	ShowFuncResult bool
	// DefaultReactMode is the react_mode used when a POST message request
	// omits the field (DYNAMIC_PLAN configuration).
	DefaultReactMode bool
	Log              *slog.Logger
}

func (h *Handlers) log() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// statusForError maps a chatmerr.Kind onto HTTP status codes:
// NotFound -> 404, Permanent -> 500, everything else -> 500 (no layer
// below retries a Transient/Timeout error, so it is reported as a failure
// the first time it reaches this layer).
func statusForError(err error) int {
	switch chatmerr.KindOf(err) {
	case chatmerr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) handleError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.log().Error("httpapi: request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

// GetUser handles GET /api/user.
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, UserResponse{
		UserID:          u.UserID,
		UserName:        u.UserName,
		FirstName:       u.FirstName,
		PrincipalName:   u.PrincipalName,
		IsAuthenticated: u.Authenticated,
		Mode:            u.Mode,
	})
}

// GetModels handles GET /api/models.
func (h *Handlers) GetModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModelsResponse{Models: h.Models})
}

// GetAgents handles GET /api/agents?react_mode={false|true}.
func (h *Handlers) GetAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.TriageAgents
	if r.URL.Query().Get("react_mode") == "true" {
		agents = h.DynamicAgents
	}
	writeJSON(w, http.StatusOK, AgentsResponse{Agents: agents})
}

// GetSettings handles GET /api/settings.
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SettingsResponse{ShowFuncResult: h.ShowFuncResult})
}

// ListConversations handles GET /api/conversations.
func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	metas, err := h.Conversations.ListConversations(r.Context(), u.UserID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	out := make([]ConversationMetaDTO, len(metas))
	for i, m := range metas {
		out[i] = toMetaDTO(m)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateConversation handles POST /api/conversations.
func (h *Handlers) CreateConversation(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	now := time.Now()
	meta := convstore.ConversationMeta{
		ConversationID: uuid.NewString(),
		UserClientID:   u.UserID,
		Title:          convstore.DefaultTitle,
		Model:          req.Model,
		CreatedAt:      now,
		LastModified:   now,
	}
	if err := h.Conversations.CreateConversation(r.Context(), meta); err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMetaDTO(meta))
}

// GetConversation handles GET /api/conversations/{id}.
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	id := r.PathValue("id")
	conv, err := h.Conversations.GetConversation(r.Context(), u.UserID, id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationDTO(conv))
}

// UpdateConversation handles PUT /api/conversations/{id}.
func (h *Handlers) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	id := r.PathValue("id")
	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	conv, err := h.Conversations.GetConversation(r.Context(), u.UserID, id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	meta := conv.Meta
	if req.Title != nil {
		meta.Title = *req.Title
	}
	if req.Model != nil {
		meta.Model = *req.Model
	}
	if req.AgentLevelLLMOverwrite != nil {
		meta.AgentLevelLLMOverwrite = req.AgentLevelLLMOverwrite
	}
	meta.LastModified = time.Now()
	if err := h.Conversations.UpdateConversationMeta(r.Context(), meta); err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMetaDTO(meta))
}

// DeleteConversation handles DELETE /api/conversations/{id}.
func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	id := r.PathValue("id")
	if err := h.Conversations.DeleteConversation(r.Context(), u.UserID, id); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostMessage handles POST /api/conversations/{id}/messages, the SSE
// streaming endpoint. Client disconnect cancels r.Context(), which
// Orchestrator.Handle propagates into the workflow run during a client
// disconnect.
func (h *Handlers) PostMessage(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	id := r.PathValue("id")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	sw, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	orchReq := orchestrator.Request{
		UserClientID:      u.UserID,
		ConversationID:    id,
		Message:           req.Message,
		WorkflowModel:     req.WorkflowModel,
		AgentModelMapping: req.AgentModelMapping,
		MemoryEnabled:     req.MemoryEnabled,
		ReactMode:         h.DefaultReactMode,
	}
	if req.ReactMode != nil {
		orchReq.ReactMode = *req.ReactMode
	}

	events, err := h.Orchestrator.Handle(r.Context(), orchReq)
	if err != nil {
		// No SSE record has been written yet (newSSEWriter only sets
		// headers), so the response is still a plain JSON error.
		h.handleError(w, err)
		return
	}

	for ev := range events {
		more, err := sw.writeEvent(ev)
		if err != nil {
			// Write failed, almost always because the client disconnected;
			// stop draining and let the orchestrator's own ctx.Done()
			// propagation unwind the background run.
			return
		}
		if !more {
			return
		}
	}
}

// SetEvaluation handles PATCH /api/conversations/{id}/messages/{seq}/evaluation.
func (h *Handlers) SetEvaluation(w http.ResponseWriter, r *http.Request) {
	h.setEvaluation(w, r, true)
}

// ClearEvaluation handles PATCH .../evaluation/clear.
func (h *Handlers) ClearEvaluation(w http.ResponseWriter, r *http.Request) {
	h.setEvaluation(w, r, false)
}

func (h *Handlers) setEvaluation(w http.ResponseWriter, r *http.Request, set bool) {
	u := UserFromContext(r.Context())
	id := r.PathValue("id")
	seq, err := parseSeq(r.PathValue("seq"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sequence number")
		return
	}

	var isSatisfy *bool
	var comment *string
	if set {
		var req EvaluationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		v := req.IsSatisfy
		isSatisfy = &v
		comment = req.Comment
	}

	if err := h.Conversations.SetEvaluation(r.Context(), u.UserID, id, seq, isSatisfy, comment); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseSeq(s string) (int, error) {
	return strconv.Atoi(s)
}

func toMetaDTO(m convstore.ConversationMeta) ConversationMetaDTO {
	return ConversationMetaDTO{
		ConversationID:         m.ConversationID,
		Title:                  m.Title,
		Model:                  m.Model,
		AgentLevelLLMOverwrite: m.AgentLevelLLMOverwrite,
		CreatedAt:              m.CreatedAt,
		LastModified:           m.LastModified,
	}
}

func toConversationDTO(c convstore.Conversation) ConversationDTO {
	messages := make([]MessageDTO, len(c.Messages))
	for i, m := range c.Messages {
		messages[i] = MessageDTO{
			SequenceNumber: m.SequenceNumber,
			Role:           string(m.Role),
			Content:        m.Content,
			Timestamp:      m.Timestamp,
			IsSatisfy:      m.IsSatisfy,
			Comment:        m.Comment,
		}
	}
	return ConversationDTO{ConversationMetaDTO: toMetaDTO(c.Meta), Messages: messages}
}
