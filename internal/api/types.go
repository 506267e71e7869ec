package api

import (
	"github.com/satriahrh/arunika/client/domain/entities"
)

// TextRequest is the body of POST /api/v1/conversation/text
type TextRequest struct {
	Text string `json:"text"`
}

// SourceRequest is the body of POST /api/v1/playback/source
type SourceRequest struct {
	URI      string `json:"uri"`
	AutoPlay bool   `json:"auto_play"`
}

// URLRequest is the body of PUT /api/v1/config/url and POST /api/v1/config/test
type URLRequest struct {
	URL string `json:"url"`
}

// ModelRequest is the body of the model endpoints
type ModelRequest struct {
	Model string `json:"model"`
}

// ConversationResponse is the conversation screen state
type ConversationResponse struct {
	Messages        []entities.Message `json:"messages"`
	SessionID       string             `json:"session_id,omitempty"`
	ShowInstruction bool               `json:"show_instruction"`
}

// ConfigResponse is the settings screen state
type ConfigResponse struct {
	BackendURL string `json:"backend_url"`
	Model      string `json:"model"`
	Loaded     bool   `json:"loaded"`
	Platform   string `json:"platform"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
