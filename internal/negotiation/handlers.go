package negotiation

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/escrow"
	"github.com/mbd888/agentbroker/internal/money"
)

// Handler adapts the Negotiation Engine's operations to the transport
// surface. The transport itself is an external collaborator; this handler
// only marshals/unmarshals and calls the engine.
type Handler struct {
	service *Service
}

// NewHandler creates a negotiation HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts negotiation endpoints on r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/quotes", h.Create)
	r.GET("/quotes/:id", h.Get)
	r.GET("/agents/:id/quotes", h.ListByParty)
	r.POST("/quotes/:id/accept", h.Accept)
	r.POST("/quotes/:id/accept-counter", h.AcceptCounter)
	r.POST("/quotes/:id/reject", h.Reject)
	r.POST("/quotes/:id/counter", h.CounterOffer)
	r.POST("/quotes/:id/delivered", h.MarkDelivered)
	r.POST("/quotes/:id/confirm", h.ConfirmDelivery)
}

type createQuoteRequest struct {
	Requester       string      `json:"requester" binding:"required"`
	Provider        string      `json:"provider" binding:"required"`
	Amount          string      `json:"amount" binding:"required"`
	Description     string      `json:"description"`
	Token           money.Token `json:"token" binding:"required"`
	ExpiresInMinutes int        `json:"expiresInMinutes"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	expiry := time.Duration(req.ExpiresInMinutes) * time.Minute
	q, err := h.service.CreateQuote(c.Request.Context(), req.Requester, req.Provider, req.Amount, req.Description, req.Token, expiry)
	writeResult(c, http.StatusCreated, q, err)
}

func (h *Handler) Get(c *gin.Context) {
	q, err := h.service.Get(c.Request.Context(), c.Param("id"))
	writeResult(c, http.StatusOK, q, err)
}

func (h *Handler) ListByParty(c *gin.Context) {
	list, err := h.service.ListByParty(c.Request.Context(), c.Param("id"), 50)
	writeResult(c, http.StatusOK, gin.H{"quotes": list}, err)
}

type acceptRequest struct {
	CallerID       string            `json:"callerId" binding:"required"`
	Conditions     escrow.Conditions `json:"conditions"`
	TimeoutMinutes int               `json:"timeoutMinutes"`
}

func (h *Handler) Accept(c *gin.Context) {
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	q, err := h.service.Accept(c.Request.Context(), c.Param("id"), req.CallerID, req.Conditions, req.TimeoutMinutes)
	writeResult(c, http.StatusOK, q, err)
}

func (h *Handler) AcceptCounter(c *gin.Context) {
	var req acceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	q, err := h.service.AcceptCounter(c.Request.Context(), c.Param("id"), req.CallerID, req.Conditions, req.TimeoutMinutes)
	writeResult(c, http.StatusOK, q, err)
}

type callerRequest struct {
	CallerID string `json:"callerId" binding:"required"`
}

func (h *Handler) Reject(c *gin.Context) {
	var req callerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	q, err := h.service.Reject(c.Request.Context(), c.Param("id"), req.CallerID)
	writeResult(c, http.StatusOK, q, err)
}

type counterRequest struct {
	CallerID string `json:"callerId" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Note     string `json:"note"`
}

func (h *Handler) CounterOffer(c *gin.Context) {
	var req counterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	q, err := h.service.CounterOffer(c.Request.Context(), c.Param("id"), req.CallerID, req.Amount, req.Note)
	writeResult(c, http.StatusOK, q, err)
}

type deliveredRequest struct {
	CallerID  string `json:"callerId" binding:"required"`
	DataB64   string `json:"data"`
	Signature string `json:"signature"`
}

func (h *Handler) MarkDelivered(c *gin.Context) {
	var req deliveredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	q, err := h.service.MarkDelivered(c.Request.Context(), c.Param("id"), req.CallerID, []byte(req.DataB64), req.Signature)
	writeResult(c, http.StatusOK, q, err)
}

type confirmRequest struct {
	CallerID string `json:"callerId" binding:"required"`
	Reason   string `json:"reason"`
}

func (h *Handler) ConfirmDelivery(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	q, err := h.service.ConfirmDelivery(c.Request.Context(), c.Param("id"), req.CallerID, req.Reason)
	writeResult(c, http.StatusOK, q, err)
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
		}
		c.JSON(status, gin.H{"error": be.Kind.String(), "message": be.Message, "state": be.State})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
}
