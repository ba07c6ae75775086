package httpapi

import (
	"errors"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"

	"weatherbot/internal/subscriber"
)

// UsersHandler mirrors the chat commands for operators and integrations.
// Responses are the stored record, or JSON null when no record exists.
type UsersHandler struct {
	svc *subscriber.Service
}

// NewUsersHandler serves the /users JSON endpoints.
func NewUsersHandler(svc *subscriber.Service) *UsersHandler {
	return &UsersHandler{svc: svc}
}

func (h *UsersHandler) Register(e *echo.Echo) {
	g := e.Group("/users")
	g.POST("/subscribe", h.Subscribe)
	g.POST("/unsubscribe", h.Unsubscribe)
	g.POST("/setcity", h.SetCity)
}

type userRequest struct {
	TelegramID int64  `json:"telegramId"`
	City       string `json:"city,omitempty"`
}

func (r userRequest) validate(needCity bool) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TelegramID, validation.Required, validation.Min(int64(1))),
		validation.Field(&r.City, validation.When(needCity, validation.Required, validation.RuneLength(1, subscriber.MaxLocationRunes))),
	)
}

func bindUser(c echo.Context, needCity bool) (userRequest, error) {
	var req userRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := req.validate(needCity); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return req, nil
}

// respond maps service results onto HTTP. A missing record is not an error.
func respond(c echo.Context, rec subscriber.Subscriber, err error) error {
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, rec)
	case errors.Is(err, subscriber.ErrNotFound):
		return c.JSON(http.StatusOK, nil)
	case errors.Is(err, subscriber.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "storage unavailable")
	}
}

func (h *UsersHandler) Subscribe(c echo.Context) error {
	req, err := bindUser(c, false)
	if err != nil {
		return err
	}
	rec, _, err := h.svc.Subscribe(c.Request().Context(), req.TelegramID)
	return respond(c, rec, err)
}

func (h *UsersHandler) Unsubscribe(c echo.Context) error {
	req, err := bindUser(c, false)
	if err != nil {
		return err
	}
	rec, _, err := h.svc.Unsubscribe(c.Request().Context(), req.TelegramID)
	return respond(c, rec, err)
}

func (h *UsersHandler) SetCity(c echo.Context) error {
	req, err := bindUser(c, true)
	if err != nil {
		return err
	}
	rec, err := h.svc.SetLocation(c.Request().Context(), req.TelegramID, req.City)
	return respond(c, rec, err)
}
