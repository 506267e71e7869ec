// Package audio implements the capture and playback devices of the client
// on top of external recorder and player commands.
package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/domain/repositories"
)

// Loader reads audio from http(s) URLs, file:// URIs or plain paths and
// wraps it in a ClockSound
type Loader struct {
	clock      clock.Clock
	speaker    Speaker
	httpClient *http.Client
	logger     *zap.Logger
}

// Ensure Loader implements the SoundLoader interface
var _ repositories.SoundLoader = (*Loader)(nil)

// NewLoader creates a loader. speaker may be nil for silent playback.
func NewLoader(clk clock.Clock, speaker Speaker, httpClient *http.Client, logger *zap.Logger) *Loader {
	if clk == nil {
		clk = clock.New()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Loader{clock: clk, speaker: speaker, httpClient: httpClient, logger: logger}
}

// Load reads uri, probes its duration and returns a sound ready to play
func (l *Loader) Load(ctx context.Context, uri string, onFinish func()) (repositories.Sound, error) {
	data, err := l.read(ctx, uri)
	if err != nil {
		return nil, err
	}

	duration, err := ProbeDuration(data)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", uri, err)
	}

	l.logger.Debug("Sound loaded",
		zap.String("uri", uri),
		zap.Duration("duration", duration),
		zap.Int("bytes", len(data)))

	return NewClockSound(l.clock, duration, uri, l.speaker, onFinish, l.logger), nil
}

func (l *Loader) read(ctx context.Context, uri string) ([]byte, error) {
	if !strings.Contains(uri, "://") {
		return os.ReadFile(uri)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid audio URI %q: %w", uri, err)
	}

	switch u.Scheme {
	case "file":
		return os.ReadFile(u.Path)
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP request: %w", err)
		}
		resp, err := l.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch audio: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("failed to fetch audio: status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
	return nil, fmt.Errorf("unsupported audio URI scheme %q", u.Scheme)
}
