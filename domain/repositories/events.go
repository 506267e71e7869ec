package repositories

import "github.com/satriahrh/arunika/client/domain/entities"

// ConversationNotifier is told about every change of the conversation log
type ConversationNotifier interface {
	MessageAppended(msg entities.Message)
	SessionStarted(sessionID string)
	TurnFailed(input entities.InputType, message string)
}
