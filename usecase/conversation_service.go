package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/domain/entities"
	"github.com/satriahrh/arunika/client/domain/repositories"
	"github.com/satriahrh/arunika/client/internal/metrics"
)

// ErrEmptyText is returned when a blank text turn is submitted
var ErrEmptyText = errors.New("message text is empty")

// ConfigSource provides the model sent with every request
type ConfigSource interface {
	Current() (entities.BackendConfig, bool)
}

// TurnError is the user-facing failure of a conversation turn
type TurnError struct {
	Input entities.InputType
	Err   error
}

func (e *TurnError) Error() string {
	if e.Input == entities.InputTypeAudio {
		return "could not process audio: " + e.Err.Error()
	}
	return "could not send message: " + e.Err.Error()
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// Turn is a user message and the bot reply it produced
type Turn struct {
	User entities.Message `json:"user" yaml:"user"`
	Bot  entities.Message `json:"bot" yaml:"bot"`
}

// ConversationService owns the conversation log and the backend session.
// Messages are appended in the order their requests complete.
type ConversationService struct {
	mu       sync.RWMutex
	messages []entities.Message
	session  *entities.Session

	backend  repositories.AssistantBackend
	config   ConfigSource
	notifier repositories.ConversationNotifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewConversationService creates a new conversation service. notifier and
// m may be nil.
func NewConversationService(
	backend repositories.AssistantBackend,
	config ConfigSource,
	notifier repositories.ConversationNotifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ConversationService {
	return &ConversationService{
		session:  entities.NewSession(),
		backend:  backend,
		config:   config,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// HandleRecordingComplete sends a finished recording to the backend and
// appends the transcribed question and the answer together. On failure the
// log is left exactly as it was.
func (s *ConversationService) HandleRecordingComplete(ctx context.Context, audioURI string) (*Turn, error) {
	s.logger.Info("Processing recording", zap.String("audioURI", audioURI))

	result, err := s.backend.SendAudio(ctx, audioURI, s.session.ID(), s.model())
	if err != nil {
		return nil, s.fail(entities.InputTypeAudio, err)
	}

	s.assignSession(result.Response.SessionID)

	turn := &Turn{
		User: entities.NewUserMessage(result.Response.Question, entities.InputTypeAudio),
		Bot:  entities.NewBotMessage(result.Response.Answer, result.AudioURI, entities.InputTypeAudio),
	}
	s.append(turn.User, turn.Bot)
	s.metrics.RecordTurn(string(entities.InputTypeAudio), nil)

	s.logger.Info("Audio turn completed",
		zap.String("sessionID", s.session.ID()),
		zap.String("question", turn.User.Content))
	return turn, nil
}

// HandleTextSubmit appends the user message immediately, then sends it to
// the backend. On failure the user message stays in the log and no reply is
// appended.
func (s *ConversationService) HandleTextSubmit(ctx context.Context, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	user := entities.NewUserMessage(text, entities.InputTypeText)
	s.append(user)

	result, err := s.backend.SendText(ctx, text, s.session.ID(), s.model())
	if err != nil {
		return nil, s.fail(entities.InputTypeText, err)
	}

	s.assignSession(result.Response.SessionID)

	bot := entities.NewBotMessage(result.Response.Answer, result.AudioURI, entities.InputTypeText)
	s.append(bot)
	s.metrics.RecordTurn(string(entities.InputTypeText), nil)

	s.logger.Info("Text turn completed", zap.String("sessionID", s.session.ID()))
	return &Turn{User: user, Bot: bot}, nil
}

// Messages returns a copy of the log
func (s *ConversationService) Messages() []entities.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entities.Message(nil), s.messages...)
}

// SessionID returns the backend session, empty until the first response
// that carried one
func (s *ConversationService) SessionID() string {
	return s.session.ID()
}

// ShowInstruction reports whether the log is still empty
func (s *ConversationService) ShowInstruction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages) == 0
}

// LastInteraction returns the last two messages of the log, normally the
// latest user message and its reply
func (s *ConversationService) LastInteraction() []entities.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.messages)
	if n > 2 {
		n = 2
	}
	return append([]entities.Message(nil), s.messages[len(s.messages)-n:]...)
}

// AutoPlayCandidate returns the newest bot message when its audio may play
// under scope
func (s *ConversationService) AutoPlayCandidate(scope entities.AutoPlayScope) (entities.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entities.AutoPlayCandidate(s.messages, scope)
}

func (s *ConversationService) model() string {
	if s.config == nil {
		return ""
	}
	cfg, _ := s.config.Current()
	return cfg.Model
}

func (s *ConversationService) append(msgs ...entities.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msgs...)
	s.mu.Unlock()

	for _, m := range msgs {
		s.metrics.RecordMessage(string(m.Type))
		if s.notifier != nil {
			s.notifier.MessageAppended(m)
		}
	}
}

func (s *ConversationService) assignSession(id string) {
	if !s.session.Assign(id) {
		return
	}
	s.logger.Info("Session started", zap.String("sessionID", id))
	if s.notifier != nil {
		s.notifier.SessionStarted(id)
	}
}

func (s *ConversationService) fail(input entities.InputType, err error) error {
	turnErr := &TurnError{Input: input, Err: err}
	s.metrics.RecordTurn(string(input), err)
	s.logger.Error("Conversation turn failed",
		zap.String("inputType", string(input)),
		zap.Error(err))
	if s.notifier != nil {
		s.notifier.TurnFailed(input, turnErr.Error())
	}
	return turnErr
}
