package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType defines the type of an outbound event
type EventType string

// Outbound events
const (
	EventMessageAppended  EventType = "message_appended"
	EventSessionStarted   EventType = "session_started"
	EventTurnFailed       EventType = "turn_failed"
	EventPlaybackChanged  EventType = "playback_changed"
	EventRecordingChanged EventType = "recording_changed"
	EventConfigChanged    EventType = "config_changed"
	EventPong             EventType = "pong"
	EventError            EventType = "error"
)

// CommandType defines the type of an inbound command
type CommandType string

// Inbound commands
const (
	CommandPing           CommandType = "ping"
	CommandSendText       CommandType = "send_text"
	CommandRecordStart    CommandType = "record_start"
	CommandRecordStop     CommandType = "record_stop"
	CommandPlaybackToggle CommandType = "playback_toggle"
	CommandPlaybackStop   CommandType = "playback_stop"
	CommandPlaybackSource CommandType = "playback_source"
)

// Event is a JSON text frame sent to every connected client
type Event struct {
	Type      EventType `json:"type"`
	Timestamp string    `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// NewEvent stamps payload with the current time
func NewEvent(t EventType, payload any) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now().Format(time.RFC3339),
		Payload:   payload,
	}
}

// SessionStartedPayload is the payload of EventSessionStarted
type SessionStartedPayload struct {
	SessionID string `json:"session_id"`
}

// TurnFailedPayload is the payload of EventTurnFailed
type TurnFailedPayload struct {
	InputType string `json:"input_type"`
	Message   string `json:"message"`
}

// ErrorPayload is the payload of EventError
type ErrorPayload struct {
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

// Command is a control message received from a client
type Command struct {
	Type     CommandType `json:"type"`
	Text     string      `json:"text,omitempty"`
	URI      string      `json:"uri,omitempty"`
	AutoPlay bool        `json:"auto_play,omitempty"`
}

// ParseCommand decodes and validates an inbound frame
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch cmd.Type {
	case CommandPing, CommandRecordStart, CommandRecordStop, CommandPlaybackToggle, CommandPlaybackStop:
		return cmd, nil
	case CommandSendText:
		if strings.TrimSpace(cmd.Text) == "" {
			return Command{}, fmt.Errorf("text is required")
		}
		return cmd, nil
	case CommandPlaybackSource:
		// An empty uri unloads the player
		return cmd, nil
	case "":
		return Command{}, fmt.Errorf("type is required")
	default:
		return Command{}, fmt.Errorf("unsupported command type: %s", cmd.Type)
	}
}

// CreateErrorEvent creates a standardized error event
func CreateErrorEvent(code, message string) Event {
	return NewEvent(EventError, ErrorPayload{Code: code, Message: message})
}
