// Package app wires the voice client together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/adapters/audio"
	"github.com/satriahrh/arunika/client/adapters/backend"
	"github.com/satriahrh/arunika/client/adapters/kv"
	"github.com/satriahrh/arunika/client/domain/entities"
	"github.com/satriahrh/arunika/client/domain/repositories"
	"github.com/satriahrh/arunika/client/internal/config"
	"github.com/satriahrh/arunika/client/internal/janitor"
	"github.com/satriahrh/arunika/client/internal/metrics"
	"github.com/satriahrh/arunika/client/internal/playback"
	"github.com/satriahrh/arunika/client/internal/recording"
	"github.com/satriahrh/arunika/client/internal/websocket"
	"github.com/satriahrh/arunika/client/usecase"
)

// Options replace the default adapters. Zero values select the real ones.
type Options struct {
	Store      repositories.KeyValueStore
	HTTPClient *http.Client
	Microphone repositories.Microphone
	Loader     repositories.SoundLoader
}

// App holds every long-lived component of the client.
type App struct {
	Settings     *config.Settings
	Store        repositories.KeyValueStore
	Backend      *backend.Client
	Config       *usecase.BackendConfigService
	Conversation *usecase.ConversationService
	Playback     *playback.Controller
	Recording    *recording.Controller
	Hub          *websocket.Hub
	Metrics      *metrics.Metrics
	Janitor      *janitor.CleanupService

	autoPlay      entities.AutoPlayScope
	// autoPlayMu orders picks so the queue only ever holds the newest one
	autoPlayMu    sync.Mutex
	autoPlayQueue chan entities.Message
	stopAutoPlay  context.CancelFunc
	wg            sync.WaitGroup
	logger        *zap.Logger
}

// Ensure App implements the CommandHandler interface
var _ websocket.CommandHandler = (*App)(nil)

// New builds the client from settings. Stored backend settings are loaded
// before New returns; a storage read failure is logged and the defaults are
// used.
func New(ctx context.Context, settings *config.Settings, logger *zap.Logger, opts Options) (*App, error) {
	for _, dir := range []string{settings.DataDir, settings.CacheDir(), settings.RecordingsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	m := metrics.NewMetrics()

	store := opts.Store
	if store == nil {
		badgerStore, err := kv.NewBadgerStore(kv.BadgerOptions{Dir: settings.StoreDir(), Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to open settings store: %w", err)
		}
		store = badgerStore
	}

	platform := settings.PlatformValue()
	client, err := backend.NewClient(backend.Config{
		BaseURL:          entities.DefaultBackendURL(platform),
		ResolveMode:      settings.ResolveModeValue(),
		CacheDir:         settings.CacheDir(),
		RequestTimeout:   settings.RequestTimeout,
		PreflightTimeout: settings.PreflightTimeout,
		StatusTimeout:    settings.StatusTimeout,
		HTTPClient:       opts.HTTPClient,
		Metrics:          m,
	}, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	hub := websocket.NewHub(m, logger)
	hub.SetOriginPolicy(settings.OriginAllowed)

	configService := usecase.NewBackendConfigService(store, client, platform, logger)
	configService.Subscribe(func(cfg entities.BackendConfig) {
		client.SetBaseURL(cfg.BackendURL)
		hub.Publish(websocket.EventConfigChanged, cfg)
	})

	cfg, err := configService.Load(ctx)
	if err != nil {
		logger.Warn("Using default backend settings", zap.Error(err))
	}
	client.SetBaseURL(cfg.BackendURL)

	conversation := usecase.NewConversationService(client, configService, hub, m, logger)

	loader := opts.Loader
	if loader == nil {
		var speaker audio.Speaker
		commandSpeaker, err := audio.NewCommandSpeaker(settings.PlayerArgs(), logger)
		if err != nil {
			logger.Warn("Audio output unavailable, playback will be silent", zap.Error(err))
		} else {
			speaker = commandSpeaker
		}
		loader = audio.NewLoader(nil, speaker, opts.HTTPClient, logger)
	}
	player := playback.NewController(loader, m, logger)
	player.OnChange(func(s playback.Status) {
		hub.Publish(websocket.EventPlaybackChanged, s)
	})

	mic := opts.Microphone
	if mic == nil {
		mic = audio.NewCommandMicrophone(settings.RecorderArgs(), settings.RecordingsDir(), logger)
	}

	a := &App{
		Settings:      settings,
		Store:         store,
		Backend:       client,
		Config:        configService,
		Conversation:  conversation,
		Playback:      player,
		Hub:           hub,
		Metrics:       m,
		autoPlay:      settings.AutoPlayScope(),
		autoPlayQueue: make(chan entities.Message, 1),
		logger:        logger,
	}

	a.Recording = recording.NewController(mic, a.SubmitRecording, m, logger)
	a.Recording.OnChange(func(s recording.Status) {
		hub.Publish(websocket.EventRecordingChanged, s)
	})

	a.Janitor = janitor.NewCleanupService(
		[]string{settings.CacheDir(), settings.RecordingsDir()},
		settings.CacheMaxAge,
		settings.CacheSweepInterval,
		nil,
		logger,
	)

	hub.SetCommandHandler(a)

	workerCtx, cancel := context.WithCancel(context.Background())
	a.stopAutoPlay = cancel
	a.wg.Add(1)
	go a.autoPlayWorker(workerCtx)
	return a, nil
}

// SubmitText runs a text turn and auto-plays the reply when allowed
func (a *App) SubmitText(ctx context.Context, text string) (*usecase.Turn, error) {
	turn, err := a.Conversation.HandleTextSubmit(ctx, text)
	if err != nil {
		return nil, err
	}
	a.autoPlayLatest()
	return turn, nil
}

// SubmitAudio runs an audio turn for a recording and auto-plays the reply
// when allowed
func (a *App) SubmitAudio(ctx context.Context, audioURI string) (*usecase.Turn, error) {
	turn, err := a.Conversation.HandleRecordingComplete(ctx, audioURI)
	if err != nil {
		return nil, err
	}
	a.autoPlayLatest()
	return turn, nil
}

// SubmitRecording is the completion callback of the recorder
func (a *App) SubmitRecording(ctx context.Context, audioURI string) error {
	_, err := a.SubmitAudio(ctx, audioURI)
	return err
}

// autoPlayLatest queues the newest eligible reply for playback. A pick that
// was not loaded yet is replaced, so replies never play out of order.
func (a *App) autoPlayLatest() {
	a.autoPlayMu.Lock()
	defer a.autoPlayMu.Unlock()

	msg, ok := a.Conversation.AutoPlayCandidate(a.autoPlay)
	if !ok {
		return
	}
	select {
	case <-a.autoPlayQueue:
	default:
	}
	a.autoPlayQueue <- msg
}

// autoPlayWorker loads queued replies one at a time until ctx is done
func (a *App) autoPlayWorker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.autoPlayQueue:
			err := a.Playback.SetSource(ctx, msg.AudioURI, true)
			if err != nil && ctx.Err() == nil && !errors.Is(err, playback.ErrSuperseded) && !errors.Is(err, playback.ErrClosed) {
				a.logger.Warn("Auto-play failed", zap.String("messageID", msg.ID), zap.Error(err))
			}
		}
	}
}

// HandleCommand executes a command received from a companion client
func (a *App) HandleCommand(ctx context.Context, cmd websocket.Command) error {
	switch cmd.Type {
	case websocket.CommandSendText:
		_, err := a.SubmitText(ctx, cmd.Text)
		return err
	case websocket.CommandRecordStart:
		return a.Recording.Start(ctx)
	case websocket.CommandRecordStop:
		return a.Recording.Stop(ctx)
	case websocket.CommandPlaybackToggle:
		return a.Playback.PlayPause()
	case websocket.CommandPlaybackStop:
		return a.Playback.Stop()
	case websocket.CommandPlaybackSource:
		err := a.Playback.SetSource(ctx, cmd.URI, cmd.AutoPlay)
		if errors.Is(err, playback.ErrSuperseded) {
			return nil
		}
		return err
	}
	return fmt.Errorf("unsupported command type: %s", cmd.Type)
}

// Close stops auto-play and releases the player, the janitor and the store
func (a *App) Close() error {
	a.stopAutoPlay()
	a.wg.Wait()
	a.Playback.Close()
	a.Janitor.Stop()
	return a.Store.Close()
}

// PlayAndWait loads uri, plays it and returns once it reaches its end.
// Cancelling ctx stops playback.
func (a *App) PlayAndWait(ctx context.Context, uri string) error {
	// A sound that already ended only counts once it has played again
	var armed atomic.Bool
	finished := make(chan struct{}, 1)
	unsubscribe := a.Playback.OnChange(func(s playback.Status) {
		if s.Source != uri {
			return
		}
		if !s.Ended {
			armed.Store(true)
			return
		}
		if armed.Load() {
			select {
			case finished <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := a.Playback.SetSource(ctx, uri, false); err != nil {
		return err
	}
	if s := a.Playback.Status(); s.Source == uri && !s.Ended {
		armed.Store(true)
	}
	if err := a.Playback.Play(); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		a.Playback.Stop()
		return ctx.Err()
	}
}
