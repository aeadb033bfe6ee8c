// Package api exposes the engine over HTTP for the firm's internal
// dashboard. All routes are JSON; errors from the engine's taxonomy map
// onto HTTP status codes in one place.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/clearbrief/datahub/internal/config"
	"github.com/clearbrief/datahub/internal/engine"
)

// New builds the HTTP server. The caller owns startup and shutdown.
func New(cfg *config.Config, eng *engine.Engine, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(requestLogger(logger))

	e.HTTPErrorHandler = errorHandler(logger)

	h := &handler{engine: eng, logger: logger}
	registerRoutes(e, h)

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           e,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

func registerRoutes(e *echo.Echo, h *handler) {
	e.GET("/healthz", h.health)

	e.POST("/sync", h.sync)
	e.GET("/log", h.log)

	datasets := e.Group("/datasets/:dataset")
	datasets.GET("/status", h.status)
	datasets.GET("/audit", h.audit)
	datasets.POST("/backfill", h.backfill)

	e.POST("/drift", h.drift)
	e.POST("/abort", h.abort)
	e.POST("/resume", h.resume)
}

// requestLogger logs one line per request through the shared logger.
func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("http request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)

			return nil
		},
	})
}

// errorHandler maps engine errors onto HTTP statuses. Anything outside
// the taxonomy is a 500 with a generic message.
func errorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError

		switch {
		case errors.Is(err, engine.ErrInvalidRequest):
			status = http.StatusBadRequest
		case errors.Is(err, engine.ErrOperationInFlight):
			status = http.StatusConflict
		case errors.Is(err, engine.ErrAborted):
			status = http.StatusConflict
		case errors.Is(err, engine.ErrDeepRateLimited):
			status = http.StatusTooManyRequests
		case errors.Is(err, engine.ErrProviderFetch):
			status = http.StatusBadGateway
		}

		message := err.Error()

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Code
			message = fmt.Sprintf("%v", httpErr.Message)
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("uri", c.Request().RequestURI),
				slog.String("error", err.Error()),
			)

			message = "internal error"
		}

		if writeErr := c.JSON(status, errorResponse{Error: message}); writeErr != nil {
			logger.Error("failed to write error response",
				slog.String("error", writeErr.Error()),
			)
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}
