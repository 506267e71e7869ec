package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/domain/repositories"
)

// DefaultRecorderCommand captures 16 kHz mono PCM into a WAV file
var DefaultRecorderCommand = []string{"arecord", "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "wav", "{output}"}

const stopGracePeriod = 3 * time.Second

// CommandMicrophone captures audio by running an external recorder process
// that writes to {output} and finalizes the file on SIGINT
type CommandMicrophone struct {
	command []string
	dir     string
	logger  *zap.Logger
}

// Ensure CommandMicrophone implements the Microphone interface
var _ repositories.Microphone = (*CommandMicrophone)(nil)

// NewCommandMicrophone creates a microphone recording into dir
func NewCommandMicrophone(command []string, dir string, logger *zap.Logger) *CommandMicrophone {
	if len(command) == 0 {
		command = DefaultRecorderCommand
	}
	return &CommandMicrophone{command: command, dir: dir, logger: logger}
}

// RequestPermission reports whether the recorder can be run and the
// recordings directory is writable
func (m *CommandMicrophone) RequestPermission(_ context.Context) (bool, error) {
	if _, err := exec.LookPath(m.command[0]); err != nil {
		m.logger.Warn("Recorder not available", zap.String("command", m.command[0]), zap.Error(err))
		return false, nil
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create recordings directory: %w", err)
	}
	return true, nil
}

// Start launches the recorder into a new file
func (m *CommandMicrophone) Start(_ context.Context) (repositories.Capture, error) {
	path := filepath.Join(m.dir, uuid.New().String()+".wav")

	args := make([]string, len(m.command))
	for i, arg := range m.command {
		args[i] = strings.ReplaceAll(arg, "{output}", path)
	}

	// Not tied to ctx: the recording outlives the request that started it
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start recorder: %w", err)
	}

	capture := &commandCapture{
		cmd:    cmd,
		path:   path,
		done:   make(chan error, 1),
		logger: m.logger,
	}
	go func() {
		capture.done <- cmd.Wait()
	}()

	m.logger.Info("Recording started", zap.String("path", path))
	return capture, nil
}

type commandCapture struct {
	cmd    *exec.Cmd
	path   string
	done   chan error
	logger *zap.Logger
}

// Stop interrupts the recorder, waits for it to finalize the file and
// returns its file:// URI
func (c *commandCapture) Stop(ctx context.Context) (string, error) {
	if err := c.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.logger.Warn("Failed to interrupt recorder", zap.Error(err))
	}

	var waitErr error
	select {
	case waitErr = <-c.done:
	case <-ctx.Done():
		c.cmd.Process.Kill()
		<-c.done
		return "", fmt.Errorf("recorder did not stop: %w", ctx.Err())
	case <-time.After(stopGracePeriod):
		c.cmd.Process.Kill()
		waitErr = <-c.done
	}

	info, err := os.Stat(c.path)
	if err != nil {
		return "", fmt.Errorf("recording not written: %w", errors.Join(err, waitErr))
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("recording is empty")
	}
	if waitErr != nil {
		// Interrupted recorders commonly exit non-zero
		c.logger.Debug("Recorder exited", zap.Error(waitErr))
	}

	c.logger.Info("Recording stopped",
		zap.String("path", c.path),
		zap.Int64("bytes", info.Size()))
	return "file://" + c.path, nil
}
