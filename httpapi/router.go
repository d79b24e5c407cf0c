package httpapi

import "net/http"

// NewRouter mounts h's handlers on a fresh http.ServeMux using Go's
// method+pattern route syntax (net/http.ServeMux since Go 1.22), which is
// sufficient for a fixed route table without an external router
// dependency. AuthMiddleware wraps every route so UserFromContext resolves
// consistently across handlers.
func NewRouter(h *Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/user", h.GetUser)
	mux.HandleFunc("GET /api/models", h.GetModels)
	mux.HandleFunc("GET /api/agents", h.GetAgents)
	mux.HandleFunc("GET /api/settings", h.GetSettings)

	mux.HandleFunc("GET /api/conversations", h.ListConversations)
	mux.HandleFunc("POST /api/conversations", h.CreateConversation)
	mux.HandleFunc("GET /api/conversations/{id}", h.GetConversation)
	mux.HandleFunc("PUT /api/conversations/{id}", h.UpdateConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.DeleteConversation)

	mux.HandleFunc("POST /api/conversations/{id}/messages", h.PostMessage)
	mux.HandleFunc("PATCH /api/conversations/{id}/messages/{seq}/evaluation", h.SetEvaluation)
	mux.HandleFunc("PATCH /api/conversations/{id}/messages/{seq}/evaluation/clear", h.ClearEvaluation)

	return AuthMiddleware(mux)
}
