// Package playback holds the single current answer sound and its
// unloaded/loading/loaded state machine.
package playback

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/domain/repositories"
	"github.com/satriahrh/arunika/client/internal/metrics"
)

var (
	// ErrSuperseded is returned by SetSource when a newer SetSource or Close
	// happened while the load was in flight
	ErrSuperseded = errors.New("playback: load superseded by a newer source")

	// ErrClosed is returned by SetSource after Close
	ErrClosed = errors.New("playback: controller is closed")
)

// ReplayTolerance is how close to the end a paused sound must be for
// PlayPause to restart it from the beginning
const ReplayTolerance = time.Second

// State of the controller
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
)

// Status is a snapshot of the controller
type Status struct {
	State      State         `json:"state" yaml:"state"`
	Source     string        `json:"source,omitempty" yaml:"source,omitempty"`
	Generation uint64        `json:"generation" yaml:"generation"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Position   time.Duration `json:"position" yaml:"position"`
	Playing    bool          `json:"playing" yaml:"playing"`
	// Ended is set once the current sound reached its natural end and
	// cleared when it plays again
	Ended      bool          `json:"ended" yaml:"ended"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Controller owns at most one loaded sound. Every SetSource bumps a
// generation counter; a load that completes under an older generation is
// discarded, so the latest request always wins.
type Controller struct {
	mu         sync.Mutex
	state      State
	source     string
	generation uint64
	sound      repositories.Sound
	loadErr    error
	ended      bool
	closed     bool

	listeners    []listener
	nextListener uint64

	loader  repositories.SoundLoader
	metrics *metrics.Metrics
	logger  *zap.Logger
}

type listener struct {
	id uint64
	fn func(Status)
}

// NewController creates an unloaded controller
func NewController(loader repositories.SoundLoader, m *metrics.Metrics, logger *zap.Logger) *Controller {
	return &Controller{
		state:   StateUnloaded,
		loader:  loader,
		metrics: m,
		logger:  logger,
	}
}

// SetSource replaces the current sound with uri and blocks until the load
// settles. An empty uri releases the current sound. Setting the source that
// is already loaded is a no-op. When autoPlay is set, playback starts as soon
// as the load is confirmed current.
func (c *Controller) SetSource(ctx context.Context, uri string, autoPlay bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if uri != "" && uri == c.source && c.state == StateLoaded {
		c.mu.Unlock()
		return nil
	}

	c.generation++
	gen := c.generation
	previous := c.sound
	c.sound = nil
	c.source = uri
	c.loadErr = nil
	c.ended = false
	c.state = StateLoading
	if uri == "" {
		c.state = StateUnloaded
	}
	c.mu.Unlock()

	c.release(previous)
	c.emit()

	if uri == "" {
		return nil
	}

	c.logger.Debug("Loading sound", zap.String("uri", uri), zap.Uint64("generation", gen))
	sound, err := c.loader.Load(ctx, uri, func() { c.handleFinish(gen) })

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.release(sound)
		c.metrics.RecordPlaybackLoad("superseded")
		c.logger.Debug("Discarding superseded load", zap.String("uri", uri), zap.Uint64("generation", gen))
		return ErrSuperseded
	}
	if err != nil {
		c.state = StateUnloaded
		c.loadErr = err
		c.mu.Unlock()
		c.metrics.RecordPlaybackLoad("error")
		c.logger.Error("Failed to load sound", zap.String("uri", uri), zap.Error(err))
		c.emit()
		return fmt.Errorf("failed to load %s: %w", uri, err)
	}

	c.sound = sound
	c.state = StateLoaded
	if autoPlay {
		if err := sound.Play(); err != nil {
			c.logger.Warn("Auto-play failed", zap.String("uri", uri), zap.Error(err))
		}
	}
	c.mu.Unlock()

	c.metrics.RecordPlaybackLoad("loaded")
	c.emit()
	return nil
}

// PlayPause toggles playback. A paused sound within ReplayTolerance of its
// end restarts from the beginning. It is a no-op unless a sound is loaded.
func (c *Controller) PlayPause() error {
	c.mu.Lock()
	if c.state != StateLoaded {
		c.mu.Unlock()
		c.logger.Debug("PlayPause ignored, nothing loaded")
		return nil
	}

	var err error
	if c.sound.Status().Playing {
		err = c.sound.Pause()
	} else {
		err = c.playLocked()
	}
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to toggle playback: %w", err)
	}
	c.emit()
	return nil
}

// Play starts the loaded sound unless it is already playing, with the same
// replay rule as PlayPause. It is a no-op unless a sound is loaded.
func (c *Controller) Play() error {
	c.mu.Lock()
	if c.state != StateLoaded || c.sound.Status().Playing {
		c.mu.Unlock()
		return nil
	}
	err := c.playLocked()
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	c.emit()
	return nil
}

func (c *Controller) playLocked() error {
	status := c.sound.Status()
	if status.Position >= status.Duration-ReplayTolerance {
		if err := c.sound.Seek(0); err != nil {
			return err
		}
	}
	if err := c.sound.Play(); err != nil {
		return err
	}
	c.ended = false
	return nil
}

// Stop halts playback and rewinds to the start. It is a no-op unless a
// sound is loaded.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != StateLoaded {
		c.mu.Unlock()
		return nil
	}
	err := c.sound.Stop()
	c.ended = false
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to stop playback: %w", err)
	}
	c.emit()
	return nil
}

// Close releases the current sound and invalidates any load in flight
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.generation++
	sound := c.sound
	c.sound = nil
	c.source = ""
	c.state = StateUnloaded
	c.mu.Unlock()

	c.release(sound)
	c.emit()
	return nil
}

// Status returns a snapshot of the controller
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	status := Status{
		State:      c.state,
		Source:     c.source,
		Generation: c.generation,
		Ended:      c.ended,
	}
	if c.loadErr != nil {
		status.Error = c.loadErr.Error()
	}
	if c.state == StateLoaded && c.sound != nil {
		s := c.sound.Status()
		status.Duration = s.Duration
		status.Position = s.Position
		status.Playing = s.Playing
	}
	return status
}

// OnChange registers fn to be called with a snapshot after every
// transition. The returned func removes it.
func (c *Controller) OnChange(fn func(Status)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextListener++
	id := c.nextListener
	c.listeners = append(c.listeners, listener{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.listeners = slices.DeleteFunc(c.listeners, func(l listener) bool { return l.id == id })
	}
}

// handleFinish runs when a sound reaches its natural end. The sound keeps
// its position so PlayPause can detect the replay case.
func (c *Controller) handleFinish(gen uint64) {
	c.mu.Lock()
	current := gen == c.generation && c.state == StateLoaded
	if current {
		c.ended = true
	}
	c.mu.Unlock()

	if current {
		c.logger.Debug("Playback finished", zap.Uint64("generation", gen))
		c.emit()
	}
}

func (c *Controller) release(sound repositories.Sound) {
	if sound == nil {
		return
	}
	if err := sound.Unload(); err != nil {
		c.logger.Warn("Failed to unload sound", zap.Error(err))
	}
}

func (c *Controller) emit() {
	c.mu.Lock()
	status := c.statusLocked()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l.fn(status)
	}
}
