package escrow

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/money"
)

// Handler adapts the Escrow Engine's operations to the transport surface
// named in spec §6. The transport itself is an external collaborator per
// spec §1 — this handler only marshals/unmarshals and calls the engine.
type Handler struct {
	service *Service
}

// NewHandler creates an escrow HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts escrow endpoints on r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.Create)
	r.GET("/escrows/:id", h.Get)
	r.GET("/agents/:id/escrows", h.ListByParty)
	r.POST("/escrows/:id/fund", h.Fund)
	r.POST("/escrows/:id/approve", h.Approve)
	r.POST("/escrows/:id/delivery", h.SubmitDelivery)
	r.POST("/escrows/:id/release", h.Release)
	r.POST("/escrows/:id/refund", h.Refund)
	r.POST("/escrows/:id/dispute", h.Dispute)
	r.POST("/escrows/:id/resolve", h.ResolveDispute)
}

type createRequest struct {
	Payer          string     `json:"payer" binding:"required"`
	Payee          string     `json:"payee" binding:"required"`
	Amount         string     `json:"amount" binding:"required"`
	Purpose        string     `json:"purpose"`
	Token          money.Token `json:"token" binding:"required"`
	Conditions     Conditions `json:"conditions"`
	TimeoutMinutes int        `json:"timeoutMinutes"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	e, err := h.service.Create(c.Request.Context(), req.Payer, req.Payee, req.Amount, req.Purpose, req.Token, req.Conditions, req.TimeoutMinutes)
	writeResult(c, http.StatusCreated, e, err)
}

func (h *Handler) Get(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	writeResult(c, http.StatusOK, e, err)
}

func (h *Handler) ListByParty(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	list, err := h.service.ListByParty(c.Request.Context(), c.Param("id"), limit)
	writeResult(c, http.StatusOK, gin.H{"escrows": list}, err)
}

type fundRequest struct {
	ExternalHash string `json:"externalHash" binding:"required"`
}

func (h *Handler) Fund(c *gin.Context) {
	var req fundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	e, err := h.service.Fund(c.Request.Context(), c.Param("id"), req.ExternalHash)
	writeResult(c, http.StatusOK, e, err)
}

type approveRequest struct {
	ApproverID string `json:"approverId" binding:"required"`
}

func (h *Handler) Approve(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	e, err := h.service.Approve(c.Request.Context(), c.Param("id"), req.ApproverID)
	writeResult(c, http.StatusOK, e, err)
}

type deliveryRequest struct {
	Submitter string `json:"submitter" binding:"required"`
	DataB64   string `json:"data"`
	Signature string `json:"signature"`
}

func (h *Handler) SubmitDelivery(c *gin.Context) {
	var req deliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	data, _ := base64.StdEncoding.DecodeString(req.DataB64)
	e, err := h.service.SubmitDelivery(c.Request.Context(), c.Param("id"), req.Submitter, data, req.Signature)
	writeResult(c, http.StatusOK, e, err)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Release(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)
	e, err := h.service.Release(c.Request.Context(), c.Param("id"), req.Reason)
	writeResult(c, http.StatusOK, e, err)
}

func (h *Handler) Refund(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)
	e, err := h.service.Refund(c.Request.Context(), c.Param("id"), req.Reason)
	writeResult(c, http.StatusOK, e, err)
}

type disputeRequest struct {
	DisputerID string `json:"disputerId" binding:"required"`
	Reason     string `json:"reason"`
}

func (h *Handler) Dispute(c *gin.Context) {
	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	e, err := h.service.Dispute(c.Request.Context(), c.Param("id"), req.DisputerID, req.Reason)
	writeResult(c, http.StatusOK, e, err)
}

type resolveRequest struct {
	Decision  string `json:"decision" binding:"required"`
	ArbiterID string `json:"arbiterId" binding:"required"`
}

func (h *Handler) ResolveDispute(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	e, err := h.service.ResolveDispute(c.Request.Context(), c.Param("id"), req.Decision, req.ArbiterID)
	writeResult(c, http.StatusOK, e, err)
}

// writeResult maps the shared error taxonomy (brokererr.Kind) to HTTP
// status codes for this package's handlers. Each handler package has its
// own writeResult.
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
