package http

import (
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notification-scheduler/internal/domain/model"
	repo "github.com/ilindan-dev/notification-scheduler/internal/domain/repository"
	"github.com/ilindan-dev/notification-scheduler/internal/service"
	"github.com/rs/zerolog"
	"net/http"
	"strconv"
)

type Handlers struct {
	service *service.NotificationService
	logger  zerolog.Logger
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(service *service.NotificationService, logger *zerolog.Logger) *Handlers {
	return &Handlers{
		service: service,
		logger:  logger.With().Str("layer", "http_handler").Logger(),
	}
}

// RegisterRoutes sets up the routing for the notification API.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/notifications/reminders", h.ScheduleReminder)
		api.POST("/notifications/follow-ups", h.ScheduleFollowUp)
		api.POST("/notifications/feedback", h.ScheduleFeedback)
		api.POST("/notifications/marketing", h.ScheduleMarketing)

		api.GET("/notifications", h.ListNotifications)
		api.GET("/notifications/stats", h.GetStats)
		api.GET("/notifications/:id", h.GetNotificationByID)
		api.DELETE("/notifications/:id", h.CancelNotification)
	}
}

// ScheduleReminder handles POST /notifications/reminders.
func (h *Handlers) ScheduleReminder(c *gin.Context) {
	var req ReminderRequest
	if !h.bind(c, &req) {
		return
	}

	id, err := h.service.ScheduleReminder(c.Request.Context(), req.Recipient.toModel(), req.Event.toModel(), *req.HoursBefore)
	if err != nil {
		h.writeError(c, err, "failed to schedule reminder")
		return
	}
	c.JSON(http.StatusCreated, ScheduledResponse{ID: id})
}

// ScheduleFollowUp handles POST /notifications/follow-ups.
func (h *Handlers) ScheduleFollowUp(c *gin.Context) {
	var req FollowUpRequest
	if !h.bind(c, &req) {
		return
	}

	id, err := h.service.ScheduleFollowUp(c.Request.Context(), req.Recipient.toModel(), req.Event.toModel(), *req.HoursAfter)
	if err != nil {
		h.writeError(c, err, "failed to schedule follow-up")
		return
	}
	c.JSON(http.StatusCreated, ScheduledResponse{ID: id})
}

// ScheduleFeedback handles POST /notifications/feedback.
func (h *Handlers) ScheduleFeedback(c *gin.Context) {
	var req FeedbackRequest
	if !h.bind(c, &req) {
		return
	}

	id, err := h.service.ScheduleFeedback(c.Request.Context(), req.Recipient.toModel(), req.Event.toModel(), req.At, req.FeedbackURL)
	if err != nil {
		h.writeError(c, err, "failed to schedule feedback request")
		return
	}
	c.JSON(http.StatusCreated, ScheduledResponse{ID: id})
}

// ScheduleMarketing handles POST /notifications/marketing, single or bulk.
func (h *Handlers) ScheduleMarketing(c *gin.Context) {
	var req MarketingRequest
	if !h.bind(c, &req) {
		return
	}
	ctx := c.Request.Context()

	if len(req.Recipients) > 0 {
		recipients := make([]model.Recipient, len(req.Recipients))
		for i, r := range req.Recipients {
			recipients[i] = r.toModel()
		}

		result, err := h.service.ScheduleBulkMarketing(ctx, recipients, req.Template, req.At, req.Data)
		if err != nil {
			h.writeError(c, err, "failed to schedule bulk marketing")
			return
		}

		resp := BulkResponse{Scheduled: result.Scheduled, Failed: make([]BulkFailureDTO, 0, len(result.Failed))}
		if resp.Scheduled == nil {
			resp.Scheduled = []uuid.UUID{}
		}
		for _, f := range result.Failed {
			resp.Failed = append(resp.Failed, BulkFailureDTO{Address: f.Recipient.Address, Error: f.Err.Error()})
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	if req.Recipient == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "recipient or recipients is required"})
		return
	}

	id, err := h.service.ScheduleMarketing(ctx, req.Recipient.toModel(), req.Template, req.At, req.Data)
	if err != nil {
		h.writeError(c, err, "failed to schedule marketing")
		return
	}
	c.JSON(http.StatusCreated, ScheduledResponse{ID: id})
}

// ListNotifications handles GET /notifications?status=&kind=&limit=.
func (h *Handlers) ListNotifications(c *gin.Context) {
	var filter model.Filter

	if raw := c.Query("status"); raw != "" {
		status := model.Status(raw)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown status: " + raw})
			return
		}
		filter.Status = &status
	}
	if raw := c.Query("kind"); raw != "" {
		kind := model.Kind(raw)
		if !kind.Valid() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown kind: " + raw})
			return
		}
		filter.Kind = &kind
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	list, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err, "failed to list notifications")
		return
	}

	resp := make([]NotificationResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toNotificationResponse(&list[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// GetStats handles GET /notifications/stats.
func (h *Handlers) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "failed to compute stats")
		return
	}
	c.JSON(http.StatusOK, toStatsResponse(stats))
}

// GetNotificationByID handles the HTTP request to retrieve a notification.
func (h *Handlers) GetNotificationByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	notification, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "failed to retrieve notification")
		return
	}
	c.JSON(http.StatusOK, toNotificationResponse(notification))
}

// CancelNotification handles the HTTP request to cancel a notification.
func (h *Handlers) CancelNotification(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	cancelled, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err, "failed to cancel notification")
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "notification is already being dispatched or no longer pending"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Warn().Err(err).Msg("invalid request body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return false
	}
	return true
}

// writeError maps domain errors to status codes; anything unknown is a 500 with a generic message.
func (h *Handlers) writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, repo.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, repo.ErrDuplicateRecord):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	default:
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msg})
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid notification ID format"})
		return uuid.Nil, false
	}
	return id, true
}
