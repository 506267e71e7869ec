package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every layer of the client.
var (
	// ErrInvalidURL is returned when a user supplied backend URL cannot be parsed
	// as an absolute URL.
	ErrInvalidURL = errors.New("invalid backend url")

	// ErrStorageRead is returned when the durable store cannot be read.
	ErrStorageRead = errors.New("storage read failed")

	// ErrStorageWrite is returned when the durable store cannot be written.
	ErrStorageWrite = errors.New("storage write failed")

	// ErrEmptyModel is returned when a blank model name is saved.
	ErrEmptyModel = errors.New("model name is required")

	// ErrMalformedResponse is returned when the backend answers with a body
	// that cannot be decoded or lacks required fields.
	ErrMalformedResponse = errors.New("malformed backend response")

	// ErrAudioResolution matches every failure to turn an audio_url into a
	// playable resource.
	ErrAudioResolution = errors.New("audio resolution failed")

	// ErrEmptyAudio is returned when the synthesized audio has zero length.
	ErrEmptyAudio = fmt.Errorf("%w: audio is empty", ErrAudioResolution)

	// ErrUnreachableAudio is returned when the audio pre-flight check fails.
	ErrUnreachableAudio = fmt.Errorf("%w: audio is unreachable", ErrAudioResolution)

	// ErrUnhealthy is returned when the backend health endpoint answers but
	// does not report status "ok".
	ErrUnhealthy = errors.New("backend reported an invalid status")

	// ErrPermissionDenied is returned when microphone access was refused.
	ErrPermissionDenied = errors.New("microphone permission denied")
)

// APIError is returned when the backend answers an ask request with a non-2xx
// status code.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.StatusCode)
}

// StatusCodeOf returns the HTTP status carried by err, or 0 when err is not an
// APIError.
func StatusCodeOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
