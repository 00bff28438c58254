package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/eleven-am/voice-intake/internal/dto"
	"github.com/eleven-am/voice-intake/internal/session"
	"github.com/eleven-am/voice-intake/internal/shared"
	"github.com/eleven-am/voice-intake/internal/ticket"
	"github.com/eleven-am/voice-intake/internal/voicesession"
	"github.com/labstack/echo/v4"
)

// Engine is the part of the session manager the HTTP surface drives.
type Engine interface {
	Start(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Snapshot() voicesession.Snapshot
	Subscribe() (<-chan voicesession.Snapshot, func())
}

type TicketLister interface {
	List(ctx context.Context, limit int) ([]*ticket.Ticket, error)
}

type SessionHistory interface {
	ListRecent(ctx context.Context, limit int) ([]*session.Session, error)
	GetSession(ctx context.Context, id string) (*session.Session, error)
	GetStats(ctx context.Context, hours int) ([]*session.Stats, error)
}

type Handler struct {
	engine  Engine
	tickets TicketLister
	history SessionHistory
	limiter echo.MiddlewareFunc
	logger  *slog.Logger
}

func NewHandler(engine Engine, tickets TicketLister, history SessionHistory, limiter RateLimiterConfig, logger *slog.Logger) *Handler {
	return &Handler{
		engine:  engine,
		tickets: tickets,
		history: history,
		limiter: RateLimiter(limiter),
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/session", h.StartSession, h.limiter)
	g.DELETE("/session", h.EndSession)
	g.GET("/session", h.GetSession)
	g.GET("/session/events", h.StreamEvents)
	g.GET("/ticket", h.GetTicket)
	g.GET("/tickets", h.ListTickets)
	g.GET("/sessions", h.ListSessions)
	g.GET("/sessions/:id", h.GetSessionRecord)
	g.GET("/stats", h.GetStats)
}

// StartSession godoc
// @Summary      Start an intake session
// @Description  Opens the microphone and the speaker and connects to the live service
// @Tags         session
// @Produce      json
// @Success      202  {object}  dto.SessionStateResponse
// @Failure      409  {object}  shared.APIError  "A session is already active"
// @Failure      502  {object}  shared.APIError  "Microphone, speaker or live service unavailable"
// @Router       /session [post]
func (h *Handler) StartSession(c echo.Context) error {
	err := h.engine.Start(c.Request().Context())
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, snapshotToResponse(h.engine.Snapshot()))
	case errors.Is(err, voicesession.ErrSessionActive):
		return shared.Conflict("session_active", "a session is already active")
	case errors.Is(err, voicesession.ErrConnectAborted):
		return shared.Conflict("connect_aborted", "the session was ended while connecting")
	case errors.Is(err, voicesession.ErrAcquisition):
		h.logger.Error("session start failed", "error", err)
		return shared.BadGateway("acquisition_failed", voicesession.MessageAcquisitionFailed)
	case errors.Is(err, voicesession.ErrManagerClosed):
		return shared.ServiceUnavailable("shutting_down", "the service is shutting down")
	default:
		h.logger.Error("session start failed", "error", err)
		return shared.InternalError("start_failed", "failed to start session")
	}
}

// EndSession godoc
// @Summary      End the intake session
// @Tags         session
// @Produce      json
// @Success      200  {object}  dto.SessionStateResponse
// @Router       /session [delete]
func (h *Handler) EndSession(c echo.Context) error {
	if err := h.engine.Disconnect(c.Request().Context()); err != nil {
		if errors.Is(err, voicesession.ErrManagerClosed) {
			return shared.ServiceUnavailable("shutting_down", "the service is shutting down")
		}
		h.logger.Error("session end failed", "error", err)
		return shared.InternalError("end_failed", "failed to end session")
	}
	return c.JSON(http.StatusOK, snapshotToResponse(h.engine.Snapshot()))
}

// GetSession godoc
// @Summary      Current session state
// @Tags         session
// @Produce      json
// @Success      200  {object}  dto.SessionStateResponse
// @Router       /session [get]
func (h *Handler) GetSession(c echo.Context) error {
	return c.JSON(http.StatusOK, snapshotToResponse(h.engine.Snapshot()))
}

// GetTicket godoc
// @Summary      Ticket of the current session
// @Tags         tickets
// @Produce      json
// @Success      200  {object}  dto.TicketResponse
// @Failure      404  {object}  shared.APIError
// @Router       /ticket [get]
func (h *Handler) GetTicket(c echo.Context) error {
	t := h.engine.Snapshot().Ticket
	if t == nil {
		return shared.NotFound("ticket_not_found", "no ticket has been created in this session")
	}
	return c.JSON(http.StatusOK, ticketToResponse(t))
}

// ListTickets godoc
// @Summary      Recently created tickets
// @Tags         tickets
// @Produce      json
// @Param        limit  query     int  false  "Maximum number of tickets"  default(20)
// @Success      200    {object}  dto.TicketListResponse
// @Router       /tickets [get]
func (h *Handler) ListTickets(c echo.Context) error {
	limit := queryInt(c, "limit", 20, 100)

	var tickets []*ticket.Ticket
	if h.tickets != nil {
		var err error
		tickets, err = h.tickets.List(c.Request().Context(), limit)
		if err != nil {
			h.logger.Error("failed to list tickets", "error", err)
			return shared.InternalError("list_failed", "failed to list tickets")
		}
	}

	resp := dto.TicketListResponse{Tickets: make([]dto.TicketResponse, len(tickets))}
	for i, t := range tickets {
		resp.Tickets[i] = *ticketToResponse(t)
	}
	resp.Total = len(resp.Tickets)
	return c.JSON(http.StatusOK, resp)
}

// ListSessions godoc
// @Summary      Recent intake sessions
// @Tags         sessions
// @Produce      json
// @Param        limit  query     int  false  "Maximum number of sessions"  default(20)
// @Success      200    {object}  dto.SessionListResponse
// @Router       /sessions [get]
func (h *Handler) ListSessions(c echo.Context) error {
	if h.history == nil {
		return c.JSON(http.StatusOK, dto.SessionListResponse{Sessions: []dto.SessionResponse{}})
	}

	sessions, err := h.history.ListRecent(c.Request().Context(), queryInt(c, "limit", 20, 100))
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		return shared.InternalError("list_failed", "failed to list sessions")
	}

	resp := dto.SessionListResponse{Sessions: make([]dto.SessionResponse, len(sessions)), Total: len(sessions)}
	for i, s := range sessions {
		resp.Sessions[i] = sessionToResponse(s)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetSessionRecord godoc
// @Summary      Journal entry of one session
// @Tags         sessions
// @Produce      json
// @Param        id   path      string  true  "Session ID"
// @Success      200  {object}  dto.SessionResponse
// @Failure      404  {object}  shared.APIError
// @Router       /sessions/{id} [get]
func (h *Handler) GetSessionRecord(c echo.Context) error {
	if h.history == nil {
		return shared.NotFound("session_not_found", "session not found")
	}

	s, err := h.history.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("session_not_found", "session not found")
		}
		h.logger.Error("failed to get session", "error", err, "session_id", c.Param("id"))
		return shared.InternalError("get_failed", "failed to get session")
	}
	return c.JSON(http.StatusOK, sessionToResponse(s))
}

// GetStats godoc
// @Summary      Hourly intake counters
// @Tags         sessions
// @Produce      json
// @Param        hours  query     int  false  "Hours to look back (1-168)"  default(24)
// @Success      200    {object}  dto.StatsListResponse
// @Router       /stats [get]
func (h *Handler) GetStats(c echo.Context) error {
	hours := queryInt(c, "hours", 24, 168)
	resp := dto.StatsListResponse{Hours: hours, Stats: []dto.StatsResponse{}}
	if h.history == nil {
		return c.JSON(http.StatusOK, resp)
	}

	stats, err := h.history.GetStats(c.Request().Context(), hours)
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		return shared.InternalError("get_stats_failed", "failed to get stats")
	}
	for _, s := range stats {
		resp.Stats = append(resp.Stats, dto.StatsResponse{
			Date:     s.Date,
			Hour:     s.Hour,
			Sessions: s.Sessions,
			Tickets:  s.Tickets,
			Errors:   s.Errors,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// queryInt reads a positive integer parameter. Missing, malformed or out of
// range values fall back to def.
func queryInt(c echo.Context, name string, def, max int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= max {
		return v
	}
	return def
}

func snapshotToResponse(s voicesession.Snapshot) dto.SessionStateResponse {
	resp := dto.SessionStateResponse{
		State:     string(s.State),
		Error:     s.Error,
		Speaking:  s.Speaking,
		SessionID: s.SessionID,
	}
	if s.Ticket != nil {
		resp.Ticket = ticketToResponse(s.Ticket)
	}
	return resp
}

func ticketToResponse(t *ticket.Ticket) *dto.TicketResponse {
	return &dto.TicketResponse{
		ID:           t.ID,
		SessionID:    t.SessionID,
		Number:       t.Number,
		Name:         t.Name,
		Email:        t.Email,
		Municipality: t.Municipality,
		Area:         t.Area,
		Module:       t.Module,
		Problem:      t.Problem,
		CreatedAt:    formatTime(t.CreatedAt),
	}
}

func sessionToResponse(s *session.Session) dto.SessionResponse {
	resp := dto.SessionResponse{
		ID:            s.ID,
		LiveSessionID: s.LiveSessionID,
		Model:         s.Model,
		Status:        string(s.Status),
		TicketID:      s.TicketID,
		ErrorMessage:  s.ErrorMessage,
		StartedAt:     formatTime(s.StartedAt),
	}
	if s.EndedAt != nil {
		resp.EndedAt = formatTime(*s.EndedAt)
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
