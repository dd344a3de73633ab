package tipping

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/agentbroker/internal/brokererr"
	"github.com/mbd888/agentbroker/internal/money"
)

// Handler adapts the Tipping Engine's operations to the transport surface.
// The transport itself is an external collaborator; this handler only
// marshals/unmarshals and calls the engine.
type Handler struct {
	service *Service
	factory EscrowFactory
}

// NewHandler creates a tipping HTTP handler. factory may be nil for
// deployments that drive createEscrow from an internal caller instead of
// the HTTP surface; the endpoint then reports PreconditionViolated.
func NewHandler(service *Service, factory EscrowFactory) *Handler {
	return &Handler{service: service, factory: factory}
}

// RegisterRoutes mounts tipping endpoints on r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tips", h.Create)
	r.GET("/tips/:id", h.Get)
	r.GET("/repos/:owner/:name/tips", h.ListByRepo)
	r.GET("/agents/:id/tips", h.ListByTipper)
	r.POST("/tips/:id/create-escrow", h.CreateEscrow)
	r.POST("/tips/:id/fund", h.FundEscrow)
	r.POST("/tips/:id/lock", h.LockEscrow)
	r.POST("/tips/:id/release", h.Release)
	r.POST("/tips/:id/cancel", h.Cancel)
	r.GET("/repos/:owner/:name/tips/stats", h.RepoStats)
	r.GET("/agents/:id/tips/stats", h.TipperStats)
	r.GET("/tips/stats/global", h.GlobalStats)
	r.GET("/tips/batch", h.ProcessBatch)
}

type createTipRequest struct {
	RepoRef   string      `json:"repoRef" binding:"required"`
	Tipper    string      `json:"tipper" binding:"required"`
	Recipient string      `json:"recipient" binding:"required"`
	Amount    string      `json:"amount" binding:"required"`
	Token     money.Token `json:"token" binding:"required"`
	Message   string      `json:"message"`
	IssueURL  string      `json:"issueUrl"`
	CommitRef string      `json:"commitRef"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createTipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	t, err := h.service.CreateTip(c.Request.Context(), CreateTipRequest{
		RepoRef:   req.RepoRef,
		Tipper:    req.Tipper,
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Token:     req.Token,
		Message:   req.Message,
		IssueURL:  req.IssueURL,
		CommitRef: req.CommitRef,
	})
	writeResult(c, http.StatusCreated, t, err)
}

func (h *Handler) Get(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), c.Param("id"))
	writeResult(c, http.StatusOK, t, err)
}

func (h *Handler) ListByRepo(c *gin.Context) {
	repoRef := c.Param("owner") + "/" + c.Param("name")
	list, err := h.service.ListByRepo(c.Request.Context(), repoRef, 50)
	writeResult(c, http.StatusOK, gin.H{"tips": list}, err)
}

func (h *Handler) ListByTipper(c *gin.Context) {
	list, err := h.service.ListByTipper(c.Request.Context(), c.Param("id"), 50)
	writeResult(c, http.StatusOK, gin.H{"tips": list}, err)
}

func (h *Handler) CreateEscrow(c *gin.Context) {
	if h.factory == nil {
		writeResult(c, http.StatusOK, nil, brokererr.New(brokererr.PreconditionViolated, "no escrow factory configured for this deployment"))
		return
	}
	t, err := h.service.CreateEscrow(c.Request.Context(), c.Param("id"), h.factory)
	writeResult(c, http.StatusOK, t, err)
}

type fundRequest struct {
	ExternalHash string `json:"externalHash" binding:"required"`
}

func (h *Handler) FundEscrow(c *gin.Context) {
	var req fundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	t, err := h.service.FundEscrow(c.Request.Context(), c.Param("id"), req.ExternalHash)
	writeResult(c, http.StatusOK, t, err)
}

func (h *Handler) LockEscrow(c *gin.Context) {
	t, err := h.service.LockEscrow(c.Request.Context(), c.Param("id"))
	writeResult(c, http.StatusOK, t, err)
}

type releaseRequest struct {
	ExternalHash string `json:"externalHash" binding:"required"`
	BlockNumber  uint64 `json:"blockNumber"`
	Gas          uint64 `json:"gas"`
}

func (h *Handler) Release(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	t, err := h.service.ReleaseTip(c.Request.Context(), c.Param("id"), req.ExternalHash, req.BlockNumber, req.Gas)
	writeResult(c, http.StatusOK, t, err)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c *gin.Context) {
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)
	t, err := h.service.CancelTip(c.Request.Context(), c.Param("id"), req.Reason)
	writeResult(c, http.StatusOK, t, err)
}

func (h *Handler) RepoStats(c *gin.Context) {
	repoRef := c.Param("owner") + "/" + c.Param("name")
	stats, err := h.service.RepoStats(c.Request.Context(), repoRef)
	writeResult(c, http.StatusOK, stats, err)
}

func (h *Handler) TipperStats(c *gin.Context) {
	stats, err := h.service.TipperStats(c.Request.Context(), c.Param("id"), 10)
	writeResult(c, http.StatusOK, stats, err)
}

func (h *Handler) GlobalStats(c *gin.Context) {
	stats, err := h.service.GlobalStats(c.Request.Context())
	writeResult(c, http.StatusOK, stats, err)
}

func (h *Handler) ProcessBatch(c *gin.Context) {
	filter := BatchFilter{
		RepoRef: c.Query("repoRef"),
		Token:   money.Token(c.Query("token")),
	}
	tips, sum, err := h.service.ProcessBatch(c.Request.Context(), filter)
	if err != nil {
		writeResult(c, http.StatusOK, nil, err)
		return
	}
	sumDisplay := "0"
	if filter.Token != "" {
		sumDisplay = money.Format(sum, filter.Token)
	}
	writeResult(c, http.StatusOK, gin.H{"tips": tips, "sum": sumDisplay}, nil)
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
