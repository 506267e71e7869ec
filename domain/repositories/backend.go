package repositories

import (
	"context"

	"github.com/satriahrh/arunika/client/domain"
)

// AskResult is a validated backend answer together with the playable
// reference its audio_url resolved to
type AskResult struct {
	Response domain.AskResponse
	AudioURI string
}

// AssistantBackend abstracts the remote voice assistant
type AssistantBackend interface {
	// SendAudio uploads a recording and returns the transcribed question, the
	// answer and its synthesized speech.
	SendAudio(ctx context.Context, audioURI, sessionID, model string) (*AskResult, error)
	// SendText sends a typed question.
	SendText(ctx context.Context, text, sessionID, model string) (*AskResult, error)
	// SetModel selects the backend model. Failures are reported as false.
	SetModel(ctx context.Context, model string) bool
	// CheckStatus probes the health endpoint of the backend at baseURL.
	CheckStatus(ctx context.Context, baseURL string) error
}
