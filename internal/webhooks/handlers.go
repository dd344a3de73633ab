package webhooks

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/agentbroker/internal/brokererr"
)

// Handler adapts the Webhook Delivery Engine's operations to the transport
// surface. The transport itself is an external collaborator; this handler
// only marshals/unmarshals and calls the engine.
type Handler struct {
	service *Service
}

// NewHandler creates a webhooks HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts webhook endpoints on r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/subscriptions", h.Subscribe)
	r.GET("/webhooks/subscriptions/:id", h.Get)
	r.DELETE("/webhooks/subscriptions/:id", h.Unsubscribe)
	r.POST("/webhooks/subscriptions/:id/test", h.Test)
	r.GET("/webhooks/subscriptions/:id/deliveries", h.ListDeliveries)
	r.GET("/agents/:id/webhooks", h.ListByOwner)
	r.GET("/webhooks/events", h.ListEvents)
}

type subscribeRequest struct {
	OwnerID    string      `json:"ownerId" binding:"required"`
	URL        string      `json:"url" binding:"required"`
	EventTypes []EventType `json:"eventTypes"`
}

// subscribeResponse surfaces the generated secret once, alongside the
// subscription record (whose own Secret field is never marshaled).
type subscribeResponse struct {
	*Subscription
	Secret string `json:"secret"`
}

func (h *Handler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	sub, secret, err := h.service.Subscribe(c.Request.Context(), req.OwnerID, req.URL, req.EventTypes)
	if err != nil {
		writeResult(c, http.StatusCreated, nil, err)
		return
	}
	writeResult(c, http.StatusCreated, &subscribeResponse{Subscription: sub, Secret: secret}, nil)
}

func (h *Handler) Get(c *gin.Context) {
	sub, err := h.service.Get(c.Request.Context(), c.Param("id"))
	writeResult(c, http.StatusOK, sub, err)
}

type unsubscribeRequest struct {
	OwnerID string `json:"ownerId" binding:"required"`
}

func (h *Handler) Unsubscribe(c *gin.Context) {
	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	err := h.service.Unsubscribe(c.Request.Context(), c.Param("id"), req.OwnerID)
	writeResult(c, http.StatusOK, gin.H{"status": "deactivated"}, err)
}

func (h *Handler) Test(c *gin.Context) {
	err := h.service.TestWebhook(c.Request.Context(), c.Param("id"))
	writeResult(c, http.StatusOK, gin.H{"status": "sent"}, err)
}

func (h *Handler) ListDeliveries(c *gin.Context) {
	limit := 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	deliveries, err := h.service.ListDeliveries(c.Request.Context(), c.Param("id"), limit)
	writeResult(c, http.StatusOK, gin.H{"deliveries": deliveries}, err)
}

func (h *Handler) ListByOwner(c *gin.Context) {
	subs, err := h.service.ListByOwner(c.Request.Context(), c.Param("id"))
	writeResult(c, http.StatusOK, gin.H{"subscriptions": subs}, err)
}

func (h *Handler) ListEvents(c *gin.Context) {
	limit := 100
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	events, err := h.service.ListEvents(c.Request.Context(), limit)
	writeResult(c, http.StatusOK, gin.H{"events": events}, err)
}

func writeResult(c *gin.Context, okStatus int, body any, err error) {
	if err == nil {
		c.JSON(okStatus, body)
		return
	}

	var be *brokererr.Error
	if errors.As(err, &be) {
		status := http.StatusInternalServerError
		switch be.Kind {
		case brokererr.InvalidInput:
			status = http.StatusBadRequest
		case brokererr.Unauthorized:
			status = http.StatusForbidden
		case brokererr.PreconditionViolated:
			status = http.StatusConflict
		case brokererr.NotFound:
			status = http.StatusNotFound
		case brokererr.InvalidEventType, brokererr.NoValidEventTypes:
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": be.Kind.String(), "message": be.Message, "state": be.State})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
}
