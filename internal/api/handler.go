// Package api exposes the quiz session over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	qerrors "candle-quiz/internal/errors"
	"candle-quiz/internal/logging"
	"candle-quiz/internal/models"
	"candle-quiz/internal/notify"
	"candle-quiz/internal/resilience"
	"candle-quiz/internal/session"
	"candle-quiz/internal/stream"
)

// StartRequest is the body of POST /api/session/start and the query of
// GET /api/generate.
type StartRequest struct {
	Difficulty string `json:"difficulty" query:"difficulty" default:"Medium" validate:"oneof=Easy Medium Hard"`
	Candles    int    `json:"candles" query:"candles" default:"3" validate:"min=2,max=5"`
	Horizon    int    `json:"horizon" query:"horizon" default:"3" validate:"oneof=1 3"`
}

// Settings converts the request into session settings.
func (r StartRequest) Settings() models.Settings {
	return models.Settings{
		Difficulty: models.Difficulty(r.Difficulty),
		Candles:    r.Candles,
		Horizon:    r.Horizon,
	}.Normalized()
}

// Handler serves the session endpoints.
type Handler struct {
	ctrl     *session.Controller
	feed     *notify.Feed
	gatherer prometheus.Gatherer
	hub      *stream.Hub
	breaker  *resilience.CircuitBreaker
	logger   zerolog.Logger
	started  time.Time
}

// NewHandler creates a Handler. feed and gatherer may be nil.
func NewHandler(ctrl *session.Controller, feed *notify.Feed, gatherer prometheus.Gatherer, logger zerolog.Logger) *Handler {
	return &Handler{
		ctrl:     ctrl,
		feed:     feed,
		gatherer: gatherer,
		logger:   logger.With().Str("component", "api").Logger(),
		started:  time.Now(),
	}
}

// SetEventHub enables GET /api/events.
func (h *Handler) SetEventHub(hub *stream.Hub) {
	h.hub = hub
}

// SetBreaker exposes the external generator's circuit in /healthz.
func (h *Handler) SetBreaker(cb *resilience.CircuitBreaker) {
	h.breaker = cb
}

// RegisterRoutes mounts the endpoints on e.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/session/start", h.Start)
	g.GET("/session/next", h.Next)
	g.GET("/session/stats", h.Stats)
	g.POST("/session/reset", h.Reset)
	g.GET("/notifications", h.Notifications)
	g.GET("/events", h.Events)
	g.GET("/generate", h.Generate)

	e.GET("/healthz", h.Health)
	if h.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}
}

// Start opens or resumes a session and returns its first item.
func (h *Handler) Start(c echo.Context) error {
	var req StartRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}

	item, err := h.ctrl.Start(c.Request().Context(), req.Settings())
	if err != nil {
		return h.fail(c, err)
	}
	return SuccessResponse(c, item)
}

// Next serves the next queued item.
func (h *Handler) Next(c echo.Context) error {
	item, err := h.ctrl.Next(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return SuccessResponse(c, item)
}

// Stats reports session counters.
func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.ctrl.Stats(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return SuccessResponse(c, stats)
}

// Reset drops the active session.
func (h *Handler) Reset(c echo.Context) error {
	h.ctrl.Reset(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

// Generate returns one item outside the session, from the external
// generator when available.
func (h *Handler) Generate(c echo.Context) error {
	var req StartRequest
	if errs := ReadAndValidateRequest(c, &req); errs != nil {
		return BadRequestResponse(c, errs)
	}

	item, err := h.ctrl.FetchSingle(c.Request().Context(), req.Settings())
	if err != nil {
		if qerrors.Is(err, qerrors.ErrExternalUnavailable) || qerrors.Is(err, qerrors.ErrMissingAPIKey) {
			return ErrorResponse(c, http.StatusServiceUnavailable, err)
		}
		return h.fail(c, err)
	}
	return SuccessResponse(c, item)
}

// Events streams session events as server-sent events until the client
// goes away. ?type= may be repeated to filter.
func (h *Handler) Events(c echo.Context) error {
	if h.hub == nil {
		return ErrorResponse(c, http.StatusNotFound, fmt.Errorf("event stream disabled"))
	}

	var types []stream.EventType
	for _, t := range c.QueryParams()["type"] {
		types = append(types, stream.EventType(t))
	}
	sub := h.hub.Subscribe(c.RealIP(), types...)
	defer h.hub.Unsubscribe(sub)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Channel:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

// Notifications lists notifications that have not expired.
func (h *Handler) Notifications(c echo.Context) error {
	if h.feed == nil {
		return SuccessResponse(c, []notify.Notification{})
	}
	return SuccessResponse(c, h.feed.Active())
}

// Health reports liveness.
func (h *Handler) Health(c echo.Context) error {
	body := map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.breaker != nil {
		body["external"] = h.breaker.Stats()
	}
	if h.hub != nil {
		body["events"] = h.hub.Metrics()
	}
	return SuccessResponse(c, body)
}

func (h *Handler) fail(c echo.Context, err error) error {
	switch {
	case qerrors.Is(err, qerrors.ErrNoSession):
		return ErrorResponse(c, http.StatusNotFound, err)
	case qerrors.Is(err, qerrors.ErrPullInProgress):
		return ErrorResponse(c, http.StatusConflict, err)
	}
	l := logging.FromContext(c.Request().Context(), h.logger)
	l.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	return ErrorResponse(c, http.StatusInternalServerError, err)
}
