package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/atikaazri/BirthdayCongrat/internal/ledger"
	"github.com/atikaazri/BirthdayCongrat/internal/token"
	"github.com/atikaazri/BirthdayCongrat/internal/voucher"
)

// VoucherService is satisfied by voucher.Service.
// Decoupled here so handler tests can use a mock.
type VoucherService interface {
	Issue(ctx context.Context, employeeID, employeeName string) (*voucher.Issued, error)
	ForceIssue(ctx context.Context, employeeID, employeeName string) (*voucher.Issued, error)
	Redeem(ctx context.Context, scanned string) (*voucher.Receipt, error)
	Status(ctx context.Context, code string) (*ledger.VoucherState, error)
	List(ctx context.Context) (map[string]*ledger.VoucherState, error)
	History(ctx context.Context) ([]ledger.Event, error)
	Stats(ctx context.Context) (*voucher.Stats, error)
}

// Handler wires up all voucher routes onto a Gin engine.
type Handler struct {
	svc VoucherService
	log *zap.Logger
}

func NewHandler(svc VoucherService, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Register mounts all routes. The redemption route is open to the till with
// its own rate limiting; everything that mints or lists is admin-only, so
// adminAuth should already be applied to admin.
func (h *Handler) Register(rg *gin.RouterGroup, admin *gin.RouterGroup) {
	rg.POST("/redeem", h.handleRedeem)

	admin.POST("/vouchers", h.handleIssue)
	admin.GET("/vouchers", h.handleList)
	admin.GET("/vouchers/:code", h.handleStatus)
	admin.GET("/history", h.handleHistory)
	admin.GET("/stats", h.handleStats)
}

type issueRequest struct {
	EmployeeID   string `json:"employee_id" binding:"required"`
	EmployeeName string `json:"employee_name" binding:"required"`
	Force        bool   `json:"force"`
}

func (h *Handler) handleIssue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "employee_id and employee_name are required"})
		return
	}

	var (
		issued *voucher.Issued
		err    error
	)
	if req.Force {
		issued, err = h.svc.ForceIssue(c.Request.Context(), req.EmployeeID, req.EmployeeName)
	} else {
		issued, err = h.svc.Issue(c.Request.Context(), req.EmployeeID, req.EmployeeName)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, issued)
}

type redeemRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) handleRedeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	receipt, err := h.svc.Redeem(c.Request.Context(), req.Code)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h *Handler) handleStatus(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) handleList(c *gin.Context) {
	states, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, states)
}

func (h *Handler) handleHistory(c *gin.Context) {
	events, err := h.svc.History(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) handleStats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// writeError maps the error taxonomy onto HTTP statuses. Tamper and format
// failures get their own messages so abuse is never reported to the till as
// a benign lifecycle state.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, token.ErrTampered):
		h.log.Warn("tampered token presented", zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature - code may be tampered"})
	case errors.Is(err, token.ErrBadFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid code format"})
	case errors.Is(err, voucher.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "voucher not found"})
	case errors.Is(err, voucher.ErrAlreadyRedeemed):
		c.JSON(http.StatusConflict, gin.H{"error": "voucher already redeemed"})
	case errors.Is(err, voucher.ErrExpired), errors.Is(err, token.ErrExpired):
		c.JSON(http.StatusGone, gin.H{"error": "voucher expired"})
	case errors.Is(err, voucher.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many validation attempts, try again later"})
	case errors.Is(err, ledger.ErrStorage):
		h.log.Error("ledger storage failure", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporary storage failure, retry"})
	default:
		h.log.Error("unhandled service error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
