package httpapi

import "time"

// UserResponse is GET /api/user's payload.
type UserResponse struct {
	UserID          string `json:"user_id"`
	UserName        string `json:"user_name"`
	FirstName       string `json:"first_name,omitempty"`
	PrincipalName   string `json:"principal_name,omitempty"`
	IsAuthenticated bool   `json:"is_authenticated"`
	Mode            string `json:"mode"`
}

// ModelsResponse is GET /api/models's payload.
type ModelsResponse struct {
	Models []string `json:"models"`
}

// AgentsResponse is GET /api/agents's payload.
type AgentsResponse struct {
	Agents []string `json:"agents"`
}

// SettingsResponse is GET /api/settings's payload.
type SettingsResponse struct {
	ShowFuncResult bool `json:"show_func_result"`
}

// ConversationMetaDTO is the wire shape of a conversation's metadata.
type ConversationMetaDTO struct {
	ConversationID         string            `json:"conversation_id"`
	Title                  string            `json:"title"`
	Model                  string            `json:"model"`
	AgentLevelLLMOverwrite map[string]string `json:"agent_level_llm_overwrite,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	LastModified           time.Time         `json:"last_modified"`
}

// MessageDTO is the wire shape of one message.
type MessageDTO struct {
	SequenceNumber int       `json:"sequence_number"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	IsSatisfy      *bool     `json:"is_satisfy,omitempty"`
	Comment        *string   `json:"comment,omitempty"`
}

// ConversationDTO is GET /api/conversations/{id}'s payload.
type ConversationDTO struct {
	ConversationMetaDTO
	Messages []MessageDTO `json:"messages"`
}

// CreateConversationRequest is POST /api/conversations's body.
type CreateConversationRequest struct {
	Model string `json:"model"`
}

// UpdateConversationRequest is PUT /api/conversations/{id}'s body.
type UpdateConversationRequest struct {
	Title                  *string           `json:"title,omitempty"`
	Model                  *string           `json:"model,omitempty"`
	AgentLevelLLMOverwrite map[string]string `json:"agent_level_llm_overwrite,omitempty"`
}

// PostMessageRequest is POST /api/conversations/{id}/messages's body.
type PostMessageRequest struct {
	Message           string            `json:"message"`
	ReactMode         *bool             `json:"react_mode,omitempty"`
	WorkflowModel     string            `json:"workflow_model,omitempty"`
	AgentModelMapping map[string]string `json:"agent_model_mapping,omitempty"`
	MemoryEnabled     *bool             `json:"memory_enabled,omitempty"`
}

// EvaluationRequest is the PATCH .../evaluation body.
type EvaluationRequest struct {
	IsSatisfy bool    `json:"is_satisfy"`
	Comment   *string `json:"comment,omitempty"`
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
