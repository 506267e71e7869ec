package repositories

import (
	"context"
	"time"
)

// Microphone abstracts the audio capture device
type Microphone interface {
	// RequestPermission reports whether the device may be used for capture
	RequestPermission(ctx context.Context) (bool, error)
	// Start begins capturing into a new recording
	Start(ctx context.Context) (Capture, error)
}

// Capture is a single in-progress recording
type Capture interface {
	// Stop finalizes the recording and returns a URI addressing it
	Stop(ctx context.Context) (string, error)
}

// SoundStatus is a snapshot of a loaded sound
type SoundStatus struct {
	Duration time.Duration
	Position time.Duration
	Playing  bool
}

// Sound is a decoded, playable audio resource
type Sound interface {
	Play() error
	Pause() error
	// Stop halts playback and rewinds to the start
	Stop() error
	Seek(position time.Duration) error
	Status() SoundStatus
	// Unload releases the resource; the sound is unusable afterwards
	Unload() error
}

// SoundLoader turns an audio URI into a Sound. onFinish is called each time
// playback reaches the natural end of the media.
type SoundLoader interface {
	Load(ctx context.Context, uri string, onFinish func()) (Sound, error)
}
