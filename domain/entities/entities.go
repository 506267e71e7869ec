package entities

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType tells who authored a message
type MessageType string

const (
	MessageTypeUser MessageType = "user"
	MessageTypeBot  MessageType = "bot"
)

// InputType records how the user turn that triggered a message was produced
type InputType string

const (
	InputTypeAudio InputType = "audio"
	InputTypeText  InputType = "text"
)

// Message represents a single turn in the conversation. Messages are values and
// never change after creation.
type Message struct {
	ID        string      `json:"id" yaml:"id"`
	Type      MessageType `json:"type" yaml:"type"`
	Content   string      `json:"content" yaml:"content"`
	AudioURI  string      `json:"audio_uri,omitempty" yaml:"audio_uri,omitempty"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
	InputType InputType   `json:"input_type,omitempty" yaml:"input_type,omitempty"`
}

// NewUserMessage creates a user message with a fresh identifier
func NewUserMessage(content string, input InputType) Message {
	return Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeUser,
		Content:   content,
		Timestamp: time.Now(),
		InputType: input,
	}
}

// NewBotMessage creates a bot message carrying the resolved audio reference
func NewBotMessage(content, audioURI string, input InputType) Message {
	return Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeBot,
		Content:   content,
		AudioURI:  audioURI,
		Timestamp: time.Now(),
		InputType: input,
	}
}

// HasAudio reports whether the message can be played back
func (m Message) HasAudio() bool {
	return m.Type == MessageTypeBot && m.AudioURI != ""
}

// Validate validates the message data
func (m Message) Validate() error {
	if m.ID == "" {
		return errors.New("id is required")
	}
	if m.Type != MessageTypeUser && m.Type != MessageTypeBot {
		return fmt.Errorf("invalid message type %q", m.Type)
	}
	if m.AudioURI != "" && m.Type != MessageTypeBot {
		return errors.New("only bot messages carry audio")
	}
	return nil
}

// AutoPlayScope selects which bot replies play without user interaction
type AutoPlayScope string

const (
	AutoPlayAudio AutoPlayScope = "audio"
	AutoPlayText  AutoPlayScope = "text"
	AutoPlayAll   AutoPlayScope = "all"
	AutoPlayNone  AutoPlayScope = "none"
)

// ParseAutoPlayScope converts a user supplied value into a scope
func ParseAutoPlayScope(s string) (AutoPlayScope, error) {
	switch scope := AutoPlayScope(s); scope {
	case AutoPlayAudio, AutoPlayText, AutoPlayAll, AutoPlayNone:
		return scope, nil
	}
	return "", fmt.Errorf("invalid auto-play scope %q, expected one of audio, text, all, none", s)
}

// Allows reports whether a reply triggered by the given input may auto-play
func (s AutoPlayScope) Allows(input InputType) bool {
	switch s {
	case AutoPlayAll:
		return true
	case AutoPlayAudio:
		return input == InputTypeAudio
	case AutoPlayText:
		return input == InputTypeText
	}
	return false
}

// AutoPlayCandidate returns the message whose audio should auto-play. Only the
// most recent bot message of the log is eligible, and only when the scope
// allows the input type of its triggering turn.
func AutoPlayCandidate(messages []Message, scope AutoPlayScope) (Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Type != MessageTypeBot {
			continue
		}
		m := messages[i]
		if !m.HasAudio() || !scope.Allows(m.InputType) {
			return Message{}, false
		}
		return m, true
	}
	return Message{}, false
}
