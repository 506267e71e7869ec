package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/client/domain"
	"github.com/satriahrh/arunika/client/internal/app"
	"github.com/satriahrh/arunika/client/internal/playback"
	"github.com/satriahrh/arunika/client/internal/websocket"
	"github.com/satriahrh/arunika/client/usecase"
)

// maxUploadSize bounds recordings posted to the audio endpoint
const maxUploadSize = 32 << 20

type handlers struct {
	app    *app.App
	logger *zap.Logger
}

// InitRoutes initializes all companion API routes
func InitRoutes(e *echo.Echo, a *app.App, logger *zap.Logger) {
	h := &handlers{app: a, logger: logger}

	// Browsers only reach the API from allowed origins
	e.Use(originGuard(a.Settings.OriginAllowed, logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOriginFunc: func(origin string) (bool, error) {
			return a.Settings.OriginAllowed(origin), nil
		},
	}))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "voiceclient",
		})
	})

	e.GET("/metrics", echo.WrapHandler(a.Metrics.Handler()))

	v1 := e.Group("/api/v1")

	// Conversation
	v1.GET("/conversation", h.getConversation)
	v1.POST("/conversation/text", h.postText)
	v1.POST("/conversation/audio", h.postAudio)

	// Microphone
	v1.POST("/recording/start", h.startRecording)
	v1.POST("/recording/stop", h.stopRecording)

	// Player
	v1.GET("/playback", h.getPlayback)
	v1.POST("/playback/toggle", h.togglePlayback)
	v1.POST("/playback/stop", h.stopPlayback)
	v1.POST("/playback/source", h.setSource)

	// Settings
	v1.GET("/config", h.getConfig)
	v1.PUT("/config/url", h.putURL)
	v1.PUT("/config/model", h.putModel)
	v1.POST("/config/model/remote", h.pushModel)
	v1.POST("/config/test", h.testConnection)

	e.GET("/ws", func(c echo.Context) error {
		return websocket.HandleWebSocket(a.Hub, c, logger)
	})
}

// originGuard rejects requests whose Origin header is not allowed. CORS alone
// does not stop simple cross-site POSTs from reaching a handler.
func originGuard(allowed func(origin string) bool, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			origin := c.Request().Header.Get(echo.HeaderOrigin)
			if origin != "" && !allowed(origin) {
				logger.Warn("Rejected request origin",
					zap.String("origin", origin),
					zap.String("path", c.Request().URL.Path))
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "forbidden_origin",
					Message: "Origin " + origin + " is not allowed",
				})
			}
			return next(c)
		}
	}
}

func (h *handlers) getConversation(c echo.Context) error {
	conv := h.app.Conversation
	return c.JSON(http.StatusOK, ConversationResponse{
		Messages:        conv.Messages(),
		SessionID:       conv.SessionID(),
		ShowInstruction: conv.ShowInstruction(),
	})
}

func (h *handlers) postText(c echo.Context) error {
	var req TextRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request format")
	}

	turn, err := h.app.SubmitText(c.Request().Context(), req.Text)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, turn)
}

func (h *handlers) postAudio(c echo.Context) error {
	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxUploadSize)

	file, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "missing_file", "A recording is required in the file field")
	}

	path, err := h.saveUpload(file)
	if err != nil {
		h.logger.Error("Failed to store uploaded recording", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "upload_failed",
			Message: "Could not store the recording",
		})
	}

	turn, err := h.app.SubmitAudio(c.Request().Context(), "file://"+path)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, turn)
}

func (h *handlers) saveUpload(file *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext == "" {
		ext = ".wav"
	}

	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	path := filepath.Join(h.app.Settings.RecordingsDir(), uuid.New().String()+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	return path, dst.Close()
}

func (h *handlers) startRecording(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.app.Recording.Init(ctx); err != nil {
		return h.fail(c, err)
	}
	if err := h.app.Recording.Start(ctx); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, h.app.Recording.Status())
}

func (h *handlers) stopRecording(c echo.Context) error {
	if err := h.app.Recording.Stop(c.Request().Context()); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, h.app.Recording.Status())
}

func (h *handlers) getPlayback(c echo.Context) error {
	return c.JSON(http.StatusOK, h.app.Playback.Status())
}

func (h *handlers) togglePlayback(c echo.Context) error {
	if err := h.app.Playback.PlayPause(); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, h.app.Playback.Status())
}

func (h *handlers) stopPlayback(c echo.Context) error {
	if err := h.app.Playback.Stop(); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, h.app.Playback.Status())
}

func (h *handlers) setSource(c echo.Context) error {
	var req SourceRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request format")
	}

	if err := h.app.Playback.SetSource(c.Request().Context(), req.URI, req.AutoPlay); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, h.app.Playback.Status())
}

func (h *handlers) getConfig(c echo.Context) error {
	cfg, loaded := h.app.Config.Current()
	return c.JSON(http.StatusOK, ConfigResponse{
		BackendURL: cfg.BackendURL,
		Model:      cfg.Model,
		Loaded:     loaded,
		Platform:   string(h.app.Config.Platform()),
	})
}

func (h *handlers) putURL(c echo.Context) error {
	var req URLRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request format")
	}
	if err := h.app.Config.SaveURL(c.Request().Context(), req.URL); err != nil {
		return h.fail(c, err)
	}
	return h.getConfig(c)
}

func (h *handlers) putModel(c echo.Context) error {
	var req ModelRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request format")
	}
	if err := h.app.Config.SaveModelLocally(c.Request().Context(), req.Model); err != nil {
		return h.fail(c, err)
	}
	return h.getConfig(c)
}

func (h *handlers) pushModel(c echo.Context) error {
	var req ModelRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request format")
	}
	return c.JSON(http.StatusOK, h.app.Config.UpdateModelRemotely(c.Request().Context(), req.Model))
}

func (h *handlers) testConnection(c echo.Context) error {
	var req URLRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid_request", "Invalid request format")
	}
	return c.JSON(http.StatusOK, h.app.Config.TestConnection(c.Request().Context(), req.URL))
}

// fail maps domain errors onto HTTP responses
func (h *handlers) fail(c echo.Context, err error) error {
	var turnErr *usecase.TurnError
	switch {
	case errors.Is(err, usecase.ErrEmptyText):
		return badRequest(c, "empty_text", err.Error())
	case errors.Is(err, domain.ErrInvalidURL):
		return badRequest(c, "invalid_url", err.Error())
	case errors.Is(err, domain.ErrEmptyModel):
		return badRequest(c, "empty_model", err.Error())
	case errors.Is(err, domain.ErrPermissionDenied):
		return c.JSON(http.StatusForbidden, ErrorResponse{Error: "permission_denied", Message: err.Error()})
	case errors.Is(err, playback.ErrSuperseded):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "superseded", Message: err.Error()})
	case errors.As(err, &turnErr):
		return c.JSON(http.StatusBadGateway, ErrorResponse{Error: "turn_failed", Message: err.Error()})
	}

	h.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: fmt.Sprintf("%v", err),
	})
}

func badRequest(c echo.Context, code, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: code, Message: message})
}
