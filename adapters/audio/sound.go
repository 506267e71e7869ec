package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/domain/repositories"
)

// ErrUnloaded is returned by every operation on an unloaded sound
var ErrUnloaded = errors.New("audio: sound is unloaded")

// Speaker renders audio. Play starts input from offset, replacing whatever
// was playing.
type Speaker interface {
	Play(input string, offset time.Duration) error
	Stop() error
}

// ClockSound is a Sound whose position is derived from a clock. The end of
// the media is detected with a timer, so it works with or without a Speaker.
type ClockSound struct {
	mu sync.Mutex

	clock    clock.Clock
	duration time.Duration
	input    string
	speaker  Speaker
	onFinish func()
	logger   *zap.Logger

	position  time.Duration
	playing   bool
	startedAt time.Time
	timer     *clock.Timer
	// epoch invalidates end timers that fire after a pause, seek or unload
	epoch    int
	unloaded bool
}

// Ensure ClockSound implements the Sound interface
var _ repositories.Sound = (*ClockSound)(nil)

// NewClockSound creates a sound of the given duration. speaker may be nil.
func NewClockSound(clk clock.Clock, duration time.Duration, input string, speaker Speaker, onFinish func(), logger *zap.Logger) *ClockSound {
	if onFinish == nil {
		onFinish = func() {}
	}
	return &ClockSound{
		clock:    clk,
		duration: duration,
		input:    input,
		speaker:  speaker,
		onFinish: onFinish,
		logger:   logger,
	}
}

func (s *ClockSound) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unloaded {
		return ErrUnloaded
	}
	if s.playing {
		return nil
	}
	if s.position >= s.duration {
		s.position = s.duration
	}
	return s.startLocked()
}

func (s *ClockSound) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unloaded {
		return ErrUnloaded
	}
	if !s.playing {
		return nil
	}
	s.position = s.positionLocked()
	return s.haltLocked()
}

func (s *ClockSound) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unloaded {
		return ErrUnloaded
	}
	var err error
	if s.playing {
		err = s.haltLocked()
	}
	s.position = 0
	return err
}

func (s *ClockSound) Seek(position time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unloaded {
		return ErrUnloaded
	}
	if position < 0 {
		position = 0
	}
	if position > s.duration {
		position = s.duration
	}

	if !s.playing {
		s.position = position
		return nil
	}
	if err := s.haltLocked(); err != nil {
		return err
	}
	s.position = position
	return s.startLocked()
}

func (s *ClockSound) Status() repositories.SoundStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return repositories.SoundStatus{
		Duration: s.duration,
		Position: s.positionLocked(),
		Playing:  s.playing,
	}
}

func (s *ClockSound) Unload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unloaded {
		return nil
	}
	var err error
	if s.playing {
		err = s.haltLocked()
	}
	s.unloaded = true
	return err
}

func (s *ClockSound) startLocked() error {
	if s.speaker != nil {
		if err := s.speaker.Play(s.input, s.position); err != nil {
			return err
		}
	}

	s.epoch++
	epoch := s.epoch
	s.playing = true
	s.startedAt = s.clock.Now()
	s.timer = s.clock.AfterFunc(s.duration-s.position, func() {
		s.finish(epoch)
	})
	return nil
}

func (s *ClockSound) haltLocked() error {
	s.epoch++
	s.playing = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.speaker != nil {
		return s.speaker.Stop()
	}
	return nil
}

func (s *ClockSound) positionLocked() time.Duration {
	if !s.playing {
		return s.position
	}
	p := s.position + s.clock.Since(s.startedAt)
	if p > s.duration {
		p = s.duration
	}
	return p
}

// finish handles the end timer. Stale timers are ignored.
func (s *ClockSound) finish(epoch int) {
	s.mu.Lock()
	if s.unloaded || !s.playing || epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.epoch++
	s.playing = false
	s.position = s.duration
	s.timer = nil
	if s.speaker != nil {
		if err := s.speaker.Stop(); err != nil {
			s.logger.Debug("Failed to stop speaker at end of media", zap.Error(err))
		}
	}
	onFinish := s.onFinish
	s.mu.Unlock()

	onFinish()
}
