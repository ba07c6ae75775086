// Package httpapi exposes the webhook, subscriber and operator endpoints
// over echo.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	logx "weatherbot/pkg/logx"
)

const DefaultAddr = ":8080"

// Handler registers routes on the Echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

// Server is the echo HTTP server for the webhook and JSON API.
type Server struct {
	echo *echo.Echo
	addr string
	log  logx.Logger
}

// NewServer builds the echo instance with panic recovery, request logging
// and the given handlers. Nil handlers are skipped.
func NewServer(log logx.Logger, addr string, handlers ...Handler) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	log = log.With(logx.String("comp", "http"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logx.Field{
				logx.String("method", v.Method),
				logx.String("uri", v.URI),
				logx.Int("status", v.Status),
				logx.Duration("latency", v.Latency),
				logx.String("remote_ip", c.RealIP()),
			}
			switch {
			case v.Error != nil || v.Status >= 500:
				log.Warn("request", append(fields, logx.Err(v.Error))...)
			default:
				log.Debug("request", fields...)
			}
			return nil
		},
	}))

	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}
	return &Server{echo: e, addr: addr, log: log}
}

func (s *Server) Addr() string { return s.addr }

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.echo.ServeHTTP(w, r) }

// Start listens until Stop. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.echo.Server.ReadHeaderTimeout = 10 * time.Second
	s.log.Info("http listening", logx.String("addr", s.addr))
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server using the given context.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
