package httpapi

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"weatherbot/internal/transport"
	logx "weatherbot/pkg/logx"
)

const (
	WebhookPath        = "/telegram/webhook"
	SecretTokenHeader  = "X-Telegram-Bot-Api-Secret-Token"
	maxWebhookBodySize = 1 << 20
)

// WebhookHandler acknowledges provider pushes. The payload is handed to the
// gateway, which queues it for the dispatcher, so the reply never waits on
// command handling.
type WebhookHandler struct {
	gw     transport.InboundGateway
	secret string
	log    logx.Logger
}

// NewWebhookHandler hands webhook bodies to gw. An empty secret disables
// the header check.
func NewWebhookHandler(gw transport.InboundGateway, secret string, log logx.Logger) *WebhookHandler {
	return &WebhookHandler{gw: gw, secret: secret, log: log.With(logx.String("comp", "webhook"))}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST(WebhookPath, h.Receive)
	e.POST("/telegram", h.Receive)
}

// Receive always answers 200 once the secret matches so the provider does
// not redeliver.
func (h *WebhookHandler) Receive(c echo.Context) error {
	if h.secret != "" {
		got := c.Request().Header.Get(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.log.Warn("webhook secret mismatch", logx.String("remote_ip", c.RealIP()))
			return echo.NewHTTPError(http.StatusUnauthorized, "bad secret token")
		}
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBodySize))
	if err != nil {
		h.log.Warn("webhook body read failed", logx.Err(err))
		return c.String(http.StatusOK, "OK")
	}
	// Malformed payloads are still acknowledged; the provider would
	// otherwise redeliver them forever.
	if err := h.gw.Deliver(raw); err != nil {
		h.log.Warn("webhook payload rejected", logx.Err(err), logx.Int("bytes", len(raw)))
	}
	return c.String(http.StatusOK, "OK")
}
