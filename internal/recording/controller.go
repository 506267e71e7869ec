// Package recording drives the microphone through its idle/recording cycle
package recording

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/domain"
	"github.com/satriahrh/arunika/client/domain/repositories"
	"github.com/satriahrh/arunika/client/internal/metrics"
)

// CompleteFunc receives the URI of every finished recording
type CompleteFunc func(ctx context.Context, audioURI string) error

// State of the controller
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

// Status is a snapshot of the controller
type Status struct {
	State      State `json:"state" yaml:"state"`
	Permission bool  `json:"permission" yaml:"permission"`
}

// Controller owns the microphone. Permission is requested once by Init;
// without it Start does nothing.
type Controller struct {
	mu         sync.Mutex
	state      State
	permission bool
	requested  bool
	capture    repositories.Capture
	listeners  []func(Status)

	mic        repositories.Microphone
	onComplete CompleteFunc
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewController creates an idle controller. onComplete may be nil.
func NewController(mic repositories.Microphone, onComplete CompleteFunc, m *metrics.Metrics, logger *zap.Logger) *Controller {
	return &Controller{
		state:      StateIdle,
		mic:        mic,
		onComplete: onComplete,
		metrics:    m,
		logger:     logger,
	}
}

// Init requests microphone permission. It only asks once; a denial is
// returned as domain.ErrPermissionDenied the first time and remembered.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.requested {
		c.mu.Unlock()
		return nil
	}
	c.requested = true
	c.mu.Unlock()

	granted, err := c.mic.RequestPermission(ctx)

	c.mu.Lock()
	c.permission = granted && err == nil
	c.mu.Unlock()
	c.emit()

	if err != nil {
		c.logger.Error("Failed to request microphone permission", zap.Error(err))
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	}
	if !granted {
		c.logger.Warn("Microphone permission denied")
		return domain.ErrPermissionDenied
	}
	c.logger.Info("Microphone permission granted")
	return nil
}

// Start begins a recording. Without permission, or while already recording,
// it logs and does nothing.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.permission {
		c.mu.Unlock()
		c.logger.Warn("Recording not started, microphone permission missing")
		return nil
	}
	if c.state == StateRecording {
		c.mu.Unlock()
		c.logger.Debug("Recording already in progress")
		return nil
	}

	capture, err := c.mic.Start(ctx)
	if err != nil {
		c.mu.Unlock()
		c.logger.Error("Failed to start recording", zap.Error(err))
		return fmt.Errorf("failed to start recording: %w", err)
	}
	c.capture = capture
	c.state = StateRecording
	c.mu.Unlock()

	c.emit()
	return nil
}

// Stop finalizes the active recording, returns to idle and hands the
// recording to the completion callback, whose error is returned. It is a
// no-op when idle.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil
	}
	capture := c.capture
	onComplete := c.onComplete
	c.capture = nil
	c.state = StateIdle
	c.mu.Unlock()

	uri, err := capture.Stop(ctx)
	c.metrics.RecordRecording(err)
	c.emit()
	if err != nil {
		c.logger.Error("Failed to finalize recording", zap.Error(err))
		return fmt.Errorf("failed to stop recording: %w", err)
	}

	c.logger.Info("Recording complete", zap.String("audioURI", uri))
	if onComplete == nil {
		return nil
	}
	return onComplete(ctx, uri)
}

// SetOnComplete replaces the completion callback
func (c *Controller) SetOnComplete(fn CompleteFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// Status returns a snapshot of the controller
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Permission: c.permission}
}

// OnChange registers fn to be called after every transition
func (c *Controller) OnChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) emit() {
	c.mu.Lock()
	status := Status{State: c.state, Permission: c.permission}
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}
