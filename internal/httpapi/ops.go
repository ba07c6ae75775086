package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	hpprof "net/http/pprof"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"weatherbot/internal/broadcast"
	"weatherbot/internal/task/scheduler"
)

// Broadcaster starts an out-of-schedule run.
type Broadcaster interface {
	RunNow(ctx context.Context) (broadcast.Report, error)
}

// StatusFunc reports process health. healthy=false answers 503.
type StatusFunc func(ctx context.Context) (body any, healthy bool)

// OpsHandler serves /healthz plus the token-guarded manual broadcast and
// profiling endpoints.
type OpsHandler struct {
	status     StatusFunc
	runner     Broadcaster
	adminToken string
	profiling  bool
}

// NewOpsHandler registers /broadcast/run only when both runner and
// adminToken are set.
func NewOpsHandler(status StatusFunc, runner Broadcaster, adminToken string) *OpsHandler {
	return &OpsHandler{status: status, runner: runner, adminToken: adminToken}
}

// WithProfiling mounts /debug/pprof. It has no effect without an admin token.
func (h *OpsHandler) WithProfiling(on bool) *OpsHandler {
	h.profiling = on
	return h
}

func (h *OpsHandler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	if h.adminToken == "" {
		return
	}
	auth := middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(h.adminToken)) == 1, nil
		},
	})
	if h.runner != nil {
		e.POST("/broadcast/run", h.RunBroadcast, auth)
	}
	if h.profiling {
		g := e.Group("/debug/pprof", auth)
		g.GET("/cmdline", echo.WrapHandler(http.HandlerFunc(hpprof.Cmdline)))
		g.GET("/profile", echo.WrapHandler(http.HandlerFunc(hpprof.Profile)))
		g.GET("/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
		g.POST("/symbol", echo.WrapHandler(http.HandlerFunc(hpprof.Symbol)))
		g.GET("/trace", echo.WrapHandler(http.HandlerFunc(hpprof.Trace)))
		// Index serves named profiles (heap, goroutine, ...) from the path.
		g.GET("/*", echo.WrapHandler(http.HandlerFunc(hpprof.Index)))
	}
}

func (h *OpsHandler) Health(c echo.Context) error {
	if h.status == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
	body, healthy := h.status(c.Request().Context())
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, body)
}

func (h *OpsHandler) RunBroadcast(c echo.Context) error {
	// A dropped client connection must not abort a half-sent broadcast.
	rep, err := h.runner.RunNow(context.WithoutCancel(c.Request().Context()))
	switch {
	case errors.Is(err, scheduler.ErrRunning):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rep)
}
