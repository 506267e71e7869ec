package domain

import (
	"fmt"
	"strings"
)

// AskResponse is the body returned by both ask endpoints of the backend.
type AskResponse struct {
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	AudioURL    string `json:"audio_url"`
	AudioFormat string `json:"audio_format"`
	SessionID   string `json:"session_id"`
}

// Validate checks that every field the client relies on is present.
func (r *AskResponse) Validate() error {
	var missing []string
	if r.Question == "" {
		missing = append(missing, "question")
	}
	if r.Answer == "" {
		missing = append(missing, "answer")
	}
	if r.AudioURL == "" {
		missing = append(missing, "audio_url")
	}
	if r.AudioFormat == "" {
		missing = append(missing, "audio_format")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedResponse, strings.Join(missing, ", "))
	}
	return nil
}

// TextRequest is the JSON body of a text turn.
type TextRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

// ModelRequest is the JSON body used to select the backend model.
type ModelRequest struct {
	Model string `json:"model"`
}

// StatusResponse is the body of the backend health endpoint.
type StatusResponse struct {
	Status string `json:"status"`
}

// OK reports whether the backend declared itself healthy.
func (s StatusResponse) OK() bool {
	return s.Status == "ok"
}
