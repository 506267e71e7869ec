package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/arunika/client/domain"
	"github.com/satriahrh/arunika/client/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the companion HTTP and WebSocket server",
	Long: `Run the client headless and expose it over HTTP.

The REST API under /api/v1 drives the conversation, the microphone, the
player and the backend settings. /ws streams conversation, playback,
recording and settings events, and /metrics exposes Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Recording.Init(ctx); err != nil {
			if errors.Is(err, domain.ErrPermissionDenied) {
				logger.Warn("Microphone unavailable, recording disabled", zap.Error(err))
			} else {
				return err
			}
		}
		a.Janitor.Start()

		e := echo.New()
		e.HideBanner = true
		e.HidePort = true

		// Middleware
		e.Use(middleware.Logger())
		e.Use(middleware.Recover())

		api.InitRoutes(e, a, logger)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.Hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			logger.Info("Server started", zap.String("addr", settings.ListenAddr))
			if err := e.Start(settings.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("Server is shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		})

		err = g.Wait()
		logger.Info("Server exited")
		return err
	},
}

func init() {
	serveCmd.Flags().String("listen-addr", "", "address of the companion server (default 127.0.0.1:8787)")
	serveCmd.Flags().StringSlice("allowed-origins", nil, "browser origins allowed to use the server (default loopback pages only)")
	rootCmd.AddCommand(serveCmd)
}
