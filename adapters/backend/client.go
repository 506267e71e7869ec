package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/domain"
	"github.com/satriahrh/arunika/client/domain/repositories"
	"github.com/satriahrh/arunika/client/internal/metrics"
)

const (
	defaultRequestTimeout   = 60 * time.Second // Ask requests include STT, LLM and TTS on the backend
	defaultPreflightTimeout = 5 * time.Second
	defaultStatusTimeout    = 5 * time.Second
	defaultRecordingExt     = "wav"
	maxErrorBody            = 4096
)

// Endpoint paths of the assistant backend
const (
	askPath    = "/api/ask/"
	textPath   = "/api/tts/"
	modelPath  = "/api/model/"
	statusPath = "/status"
	// legacyStatusPath is probed when statusPath answers 404
	legacyStatusPath = "/api/status"
)

// ResolveMode selects how an audio_url is turned into a playable URI
type ResolveMode string

const (
	// ResolveBuffered downloads the audio into the local cache and returns a
	// file:// URI
	ResolveBuffered ResolveMode = "buffered"
	// ResolveDirect checks the audio with a HEAD request and returns the
	// remote URL as is
	ResolveDirect ResolveMode = "direct"
)

// ParseResolveMode parses a resolve mode name
func ParseResolveMode(s string) (ResolveMode, error) {
	switch ResolveMode(strings.ToLower(strings.TrimSpace(s))) {
	case ResolveBuffered:
		return ResolveBuffered, nil
	case ResolveDirect:
		return ResolveDirect, nil
	}
	return "", fmt.Errorf("unknown resolve mode %q", s)
}

// Config holds configuration for the backend Client
type Config struct {
	BaseURL          string           // Required: e.g. http://localhost:8000
	ResolveMode      ResolveMode      // Optional: defaults to buffered
	CacheDir         string           // Required for buffered mode: where answers are downloaded
	RequestTimeout   time.Duration    // Optional: overall timeout of ask requests
	PreflightTimeout time.Duration    // Optional: timeout of the HEAD audio check
	StatusTimeout    time.Duration    // Optional: timeout of the health check
	HTTPClient       *http.Client     // Optional: defaults to a client with RequestTimeout
	Metrics          *metrics.Metrics // Optional
}

// Client talks to the voice assistant backend over HTTP
type Client struct {
	mu      sync.RWMutex
	baseURL string

	mode             ResolveMode
	cacheDir         string
	preflightTimeout time.Duration
	statusTimeout    time.Duration
	httpClient       *http.Client
	metrics          *metrics.Metrics
	logger           *zap.Logger
}

// Ensure Client implements the AssistantBackend interface
var _ repositories.AssistantBackend = (*Client)(nil)

// NewClient creates a new backend client
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}

	mode := config.ResolveMode
	if mode == "" {
		mode = ResolveBuffered
	}
	if mode == ResolveBuffered && config.CacheDir == "" {
		return nil, fmt.Errorf("cache directory is required in %s mode", ResolveBuffered)
	}

	requestTimeout := config.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = defaultRequestTimeout
	}
	preflightTimeout := config.PreflightTimeout
	if preflightTimeout == 0 {
		preflightTimeout = defaultPreflightTimeout
	}
	statusTimeout := config.StatusTimeout
	if statusTimeout == 0 {
		statusTimeout = defaultStatusTimeout
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	logger.Info("Creating backend client",
		zap.String("baseURL", config.BaseURL),
		zap.String("resolveMode", string(mode)))

	return &Client{
		baseURL:          trimBase(config.BaseURL),
		mode:             mode,
		cacheDir:         config.CacheDir,
		preflightTimeout: preflightTimeout,
		statusTimeout:    statusTimeout,
		httpClient:       httpClient,
		metrics:          config.Metrics,
		logger:           logger,
	}, nil
}

// BaseURL returns the URL requests are currently sent to
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL rebinds the client to another backend. Requests already in
// flight keep the URL they started with.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	c.baseURL = trimBase(baseURL)
	c.mu.Unlock()
	c.logger.Info("Updated backend base URL", zap.String("baseURL", baseURL))
}

// SendAudio uploads a recording to the ask endpoint
func (c *Client) SendAudio(ctx context.Context, audioURI, sessionID, model string) (*repositories.AskResult, error) {
	path, err := localPath(audioURI)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}

	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		ext = defaultRecordingExt
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "recording."+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	if sessionID != "" {
		if err := writer.WriteField("session_id", sessionID); err != nil {
			return nil, fmt.Errorf("failed to write session id: %w", err)
		}
	}
	if model != "" {
		if err := writer.WriteField("model", model); err != nil {
			return nil, fmt.Errorf("failed to write model: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	baseURL := c.BaseURL()
	c.logger.Info("Sending audio to backend",
		zap.String("url", baseURL+askPath),
		zap.Int("audioBytes", len(data)),
		zap.String("sessionID", sessionID),
		zap.String("model", model))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+askPath, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	return c.ask(ctx, httpReq, baseURL, "ask")
}

// SendText sends a typed question to the text endpoint
func (c *Client) SendText(ctx context.Context, text, sessionID, model string) (*repositories.AskResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	requestBody, err := json.Marshal(domain.TextRequest{
		Text:      text,
		SessionID: sessionID,
		Model:     model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := c.BaseURL()
	c.logger.Info("Sending text to backend",
		zap.String("url", baseURL+textPath),
		zap.String("sessionID", sessionID),
		zap.String("model", model))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+textPath, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return c.ask(ctx, httpReq, baseURL, "tts")
}

// ask executes an ask request, validates the answer and resolves its audio
func (c *Client) ask(ctx context.Context, httpReq *http.Request, baseURL, endpoint string) (*repositories.AskResult, error) {
	resp, err := c.do(httpReq, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("Backend returned error",
			zap.String("endpoint", endpoint),
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(errorBody)))
		return nil, &domain.APIError{StatusCode: resp.StatusCode, Body: string(errorBody)}
	}

	var answer domain.AskResponse
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	if err := answer.Validate(); err != nil {
		return nil, err
	}

	audioURI, err := c.resolveAudio(ctx, baseURL, answer)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Received answer from backend",
		zap.String("endpoint", endpoint),
		zap.String("sessionID", answer.SessionID),
		zap.String("audioURI", audioURI))

	return &repositories.AskResult{Response: answer, AudioURI: audioURI}, nil
}

// SetModel selects the model used by the backend. Failures are logged and
// reported as false.
func (c *Client) SetModel(ctx context.Context, model string) bool {
	requestBody, err := json.Marshal(domain.ModelRequest{Model: model})
	if err != nil {
		c.logger.Error("Failed to marshal model request", zap.Error(err))
		return false
	}

	baseURL := c.BaseURL()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+modelPath, bytes.NewReader(requestBody))
	if err != nil {
		c.logger.Error("Failed to create HTTP request", zap.Error(err))
		return false
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.do(httpReq, "model")
	if err != nil {
		c.logger.Error("Network error while setting model", zap.String("model", model), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Failed to set model",
			zap.String("model", model),
			zap.Int("statusCode", resp.StatusCode))
		return false
	}

	c.logger.Info("Model set on backend", zap.String("model", model))
	return true
}

// CheckStatus probes the health endpoint of the backend at baseURL, which may
// differ from the URL the client is bound to
func (c *Client) CheckStatus(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	baseURL = trimBase(baseURL)
	statusCode, status, err := c.getStatus(ctx, baseURL+statusPath)
	if err == nil && statusCode == http.StatusNotFound {
		c.logger.Debug("Status endpoint not found, trying legacy path", zap.String("baseURL", baseURL))
		statusCode, status, err = c.getStatus(ctx, baseURL+legacyStatusPath)
	}
	if err != nil {
		return err
	}
	if statusCode != http.StatusOK {
		return &domain.APIError{StatusCode: statusCode}
	}
	if !status.OK() {
		return fmt.Errorf("%w: %q", domain.ErrUnhealthy, status.Status)
	}
	return nil
}

func (c *Client) getStatus(ctx context.Context, statusURL string) (int, domain.StatusResponse, error) {
	var status domain.StatusResponse

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return 0, status, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.do(httpReq, "status")
	if err != nil {
		return 0, status, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return resp.StatusCode, status, fmt.Errorf("%w: %v", domain.ErrUnhealthy, err)
		}
	}
	return resp.StatusCode, status, nil
}

// resolveAudio turns the audio_url of an answer into a playable URI
func (c *Client) resolveAudio(ctx context.Context, baseURL string, answer domain.AskResponse) (string, error) {
	audioURL, err := absoluteAudioURL(baseURL, answer.AudioURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}

	if c.mode == ResolveDirect {
		return audioURL, c.preflight(ctx, audioURL)
	}
	return c.download(ctx, audioURL, answer.AudioFormat)
}

// preflight checks that the audio is reachable and non-empty
func (c *Client) preflight(ctx context.Context, audioURL string) error {
	ctx, cancel := context.WithTimeout(ctx, c.preflightTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, audioURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnreachableAudio, err)
	}

	resp, err := c.do(httpReq, "audio")
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnreachableAudio, err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", domain.ErrUnreachableAudio, resp.StatusCode)
	}
	if resp.ContentLength == 0 {
		return domain.ErrEmptyAudio
	}
	return nil
}

// download fetches the audio into the cache directory
func (c *Client) download(ctx context.Context, audioURL, format string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnreachableAudio, err)
	}

	resp, err := c.do(httpReq, "audio")
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnreachableAudio, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", domain.ErrUnreachableAudio, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnreachableAudio, err)
	}
	if len(data) == 0 {
		return "", domain.ErrEmptyAudio
	}

	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create audio cache: %w", err)
	}
	ext := strings.TrimPrefix(strings.ToLower(format), ".")
	if ext == "" {
		ext = "mp3"
	}
	path := filepath.Join(c.cacheDir, uuid.New().String()+"."+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write audio cache: %w", err)
	}

	c.logger.Debug("Downloaded answer audio",
		zap.String("audioURL", audioURL),
		zap.String("path", path),
		zap.Int("bytes", len(data)))

	return (&url.URL{Scheme: "file", Path: path}).String(), nil
}

// do executes a request and records it in metrics
func (c *Client) do(httpReq *http.Request, endpoint string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	status := 0
	if err == nil {
		status = resp.StatusCode
	}
	c.metrics.RecordBackendRequest(endpoint, status, time.Since(start))
	return resp, err
}

// absoluteAudioURL returns raw when it already carries an http(s) scheme and
// appends it to baseURL otherwise. A path prefix of baseURL is kept.
func absoluteAudioURL(baseURL, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid audio_url %q: %w", raw, err)
	}
	if ref.Scheme == "http" || ref.Scheme == "https" {
		return ref.String(), nil
	}
	if ref.Scheme != "" || ref.Host != "" {
		return "", fmt.Errorf("invalid audio_url %q: unsupported scheme", raw)
	}
	base := trimBase(baseURL)
	if _, err := url.Parse(base); err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return base + raw, nil
}

// localPath converts a file:// URI or plain path into a filesystem path
func localPath(uri string) (string, error) {
	if !strings.Contains(uri, "://") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid recording URI %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported recording URI scheme %q", u.Scheme)
	}
	return u.Path, nil
}

func trimBase(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}
