package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/domain"
	"github.com/satriahrh/arunika/client/domain/entities"
	"github.com/satriahrh/arunika/client/domain/repositories"
)

// Storage keys of the persisted backend settings
var (
	BackendURLKey = repositories.StoreKey{"config", "backend_url"}
	ModelKey      = repositories.StoreKey{"config", "model"}
)

// ConnectionResult is the user-facing outcome of a connection test or a
// remote model update
type ConnectionResult struct {
	Success bool   `json:"success" yaml:"success"`
	Message string `json:"message" yaml:"message"`
}

// BackendConfigService owns the backend URL and model name. Values are held
// in memory and mirrored to a durable store.
type BackendConfigService struct {
	mu          sync.RWMutex
	config      entities.BackendConfig
	loaded      bool
	subscribers []func(entities.BackendConfig)

	store    repositories.KeyValueStore
	backend  repositories.AssistantBackend
	platform entities.Platform
	logger   *zap.Logger
}

// NewBackendConfigService creates a config service. Until Load completes,
// Current reports the platform defaults as not loaded.
func NewBackendConfigService(
	store repositories.KeyValueStore,
	backend repositories.AssistantBackend,
	platform entities.Platform,
	logger *zap.Logger,
) *BackendConfigService {
	return &BackendConfigService{
		config:   entities.DefaultBackendConfig(platform),
		store:    store,
		backend:  backend,
		platform: platform,
		logger:   logger,
	}
}

// Load reads the persisted settings, falling back to the platform defaults
// for anything absent. A storage failure still leaves the service loaded
// with defaults; the error is returned wrapped in domain.ErrStorageRead.
func (s *BackendConfigService) Load(ctx context.Context) (entities.BackendConfig, error) {
	cfg := entities.DefaultBackendConfig(s.platform)

	backendURL, urlErr := s.read(ctx, BackendURLKey)
	model, modelErr := s.read(ctx, ModelKey)
	readErr := errors.Join(urlErr, modelErr)

	if readErr != nil {
		s.logger.Error("Failed to load backend config, using defaults", zap.Error(readErr))
	} else {
		if backendURL != "" {
			cfg.BackendURL = backendURL
		}
		if model != "" {
			cfg.Model = model
		}
	}

	s.mu.Lock()
	s.config = cfg
	s.loaded = true
	s.mu.Unlock()

	s.logger.Info("Backend config loaded",
		zap.String("backendURL", cfg.BackendURL),
		zap.String("model", cfg.Model))
	s.notify(cfg)

	if readErr != nil {
		return cfg, fmt.Errorf("%w: %w", domain.ErrStorageRead, readErr)
	}
	return cfg, nil
}

func (s *BackendConfigService) read(ctx context.Context, key repositories.StoreKey) (string, error) {
	value, err := s.store.Get(ctx, key)
	if errors.Is(err, repositories.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return strings.TrimSpace(string(value)), nil
}

// Current returns the in-memory settings. The second result is false until
// Load has completed.
func (s *BackendConfigService) Current() (entities.BackendConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config, s.loaded
}

// Platform returns the platform the defaults are derived from
func (s *BackendConfigService) Platform() entities.Platform {
	return s.platform
}

// SaveURL validates and persists a new backend URL. The in-memory value only
// changes when the write succeeds.
func (s *BackendConfigService) SaveURL(ctx context.Context, rawURL string) error {
	backendURL, err := entities.NormalizeBackendURL(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}

	s.mu.Lock()
	if err := s.store.Set(ctx, BackendURLKey, []byte(backendURL)); err != nil {
		s.mu.Unlock()
		s.logger.Error("Failed to save backend URL", zap.Error(err))
		return fmt.Errorf("%w: %w", domain.ErrStorageWrite, err)
	}
	s.config.BackendURL = backendURL
	cfg := s.config
	s.mu.Unlock()

	s.logger.Info("Backend URL saved", zap.String("backendURL", backendURL))
	s.notify(cfg)
	return nil
}

// SaveModelLocally persists the model name without telling the backend
func (s *BackendConfigService) SaveModelLocally(ctx context.Context, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return domain.ErrEmptyModel
	}

	s.mu.Lock()
	if err := s.store.Set(ctx, ModelKey, []byte(model)); err != nil {
		s.mu.Unlock()
		s.logger.Error("Failed to save model", zap.Error(err))
		return fmt.Errorf("%w: %w", domain.ErrStorageWrite, err)
	}
	s.config.Model = model
	cfg := s.config
	s.mu.Unlock()

	s.logger.Info("Model saved locally", zap.String("model", model))
	s.notify(cfg)
	return nil
}

// TestConnection probes the health endpoint of rawURL, or of the current
// backend URL when rawURL is empty. Failures are described in the result,
// never returned as errors.
func (s *BackendConfigService) TestConnection(ctx context.Context, rawURL string) ConnectionResult {
	if strings.TrimSpace(rawURL) == "" {
		cfg, _ := s.Current()
		rawURL = cfg.BackendURL
	}

	backendURL, err := entities.NormalizeBackendURL(rawURL)
	if err != nil {
		return ConnectionResult{Message: fmt.Sprintf("Invalid URL: %v", err)}
	}

	err = s.backend.CheckStatus(ctx, backendURL)
	result := connectionResult(err)
	s.logger.Info("Tested backend connection",
		zap.String("backendURL", backendURL),
		zap.Bool("success", result.Success),
		zap.String("message", result.Message))
	return result
}

func connectionResult(err error) ConnectionResult {
	if err == nil {
		return ConnectionResult{Success: true, Message: "Connection successful"}
	}

	var apiErr *domain.APIError
	switch {
	case errors.As(err, &apiErr):
		return ConnectionResult{Message: fmt.Sprintf("Server error: %d %s", apiErr.StatusCode, http.StatusText(apiErr.StatusCode))}
	case errors.Is(err, domain.ErrUnhealthy):
		return ConnectionResult{Message: "Server responded but the status is not valid"}
	default:
		return ConnectionResult{Message: fmt.Sprintf("Could not connect: %v", err)}
	}
}

// UpdateModelRemotely selects the model on the backend and, when the backend
// accepts it, saves it locally as well
func (s *BackendConfigService) UpdateModelRemotely(ctx context.Context, model string) ConnectionResult {
	model = strings.TrimSpace(model)
	if model == "" {
		return ConnectionResult{Message: "Please enter a valid model name"}
	}

	if !s.backend.SetModel(ctx, model) {
		return ConnectionResult{Message: "Could not update the model on the server"}
	}

	if err := s.SaveModelLocally(ctx, model); err != nil {
		return ConnectionResult{Message: fmt.Sprintf("Model updated on the server but not saved locally: %v", err)}
	}
	return ConnectionResult{Success: true, Message: "Model updated on the server"}
}

// Subscribe registers fn to be called with the new settings after every
// successful Load or save
func (s *BackendConfigService) Subscribe(fn func(entities.BackendConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *BackendConfigService) notify(cfg entities.BackendConfig) {
	s.mu.RLock()
	subscribers := slices.Clone(s.subscribers)
	s.mu.RUnlock()

	for _, fn := range subscribers {
		fn(cfg)
	}
}
