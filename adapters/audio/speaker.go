package audio

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPlayerCommand plays {input} from {offset} seconds without a window
var DefaultPlayerCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-ss", "{offset}", "{input}"}

// CommandSpeaker renders audio by running an external player process
type CommandSpeaker struct {
	mu      sync.Mutex
	command []string
	proc    *exec.Cmd
	done    chan struct{}
	logger  *zap.Logger
}

// Ensure CommandSpeaker implements the Speaker interface
var _ Speaker = (*CommandSpeaker)(nil)

// NewCommandSpeaker creates a speaker. command may use the {input} and
// {offset} placeholders.
func NewCommandSpeaker(command []string, logger *zap.Logger) (*CommandSpeaker, error) {
	if len(command) == 0 {
		command = DefaultPlayerCommand
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return nil, fmt.Errorf("player %q not available: %w", command[0], err)
	}
	return &CommandSpeaker{command: command, logger: logger}, nil
}

// Play starts the player, stopping the previous one first
func (s *CommandSpeaker) Play(input string, offset time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	replacer := strings.NewReplacer(
		"{input}", localInput(input),
		"{offset}", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64),
	)
	args := make([]string, len(s.command))
	for i, arg := range s.command {
		args[i] = replacer.Replace(arg)
	}

	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start player: %w", err)
	}

	done := make(chan struct{})
	go func() {
		if err := cmd.Wait(); err != nil {
			s.logger.Debug("Player exited", zap.Error(err))
		}
		close(done)
	}()

	s.proc = cmd
	s.done = done
	s.logger.Debug("Player started",
		zap.String("input", input),
		zap.Duration("offset", offset))
	return nil
}

// Stop terminates the running player, if any
func (s *CommandSpeaker) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *CommandSpeaker) stopLocked() error {
	if s.proc == nil {
		return nil
	}
	proc, done := s.proc, s.done
	s.proc, s.done = nil, nil

	select {
	case <-done:
		return nil
	default:
	}

	if err := proc.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		proc.Process.Kill()
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		proc.Process.Kill()
		<-done
	}
	return nil
}

// localInput turns file:// URIs into paths; players take URLs and paths
func localInput(input string) string {
	if path, ok := strings.CutPrefix(input, "file://"); ok {
		return path
	}
	return input
}
