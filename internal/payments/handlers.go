package payments

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cashxhq/cashx/internal/exchange"
	"github.com/cashxhq/cashx/internal/gateway"
	"github.com/cashxhq/cashx/internal/users"
	"github.com/cashxhq/cashx/internal/validation"
)

// Handler provides HTTP endpoints for escrow payments.
type Handler struct {
	service *Service
}

// NewHandler creates a new payments handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payment routes. All require a caller identity.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments/escrow", h.InitiateEscrow)
	r.POST("/payments/card", h.InitiateCard)
	r.POST("/payments/:reference/finalize", h.Finalize)
	r.POST("/payments/:reference/reverse", h.Reverse)
	r.GET("/payments", h.List)
	r.GET("/payments/accounts/resolve", h.ResolveAccount)
}

// EscrowRequest is the body for POST /v1/payments/escrow
type EscrowRequest struct {
	RequestID string `json:"request_id"`
	PIN       string `json:"pin"`
}

// InitiateEscrow handles POST /v1/payments/escrow
func (h *Handler) InitiateEscrow(c *gin.Context) {
	var req EscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("request_id", req.RequestID),
		validation.ValidPIN("pin", req.PIN),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	payment, err := h.service.InitiateEscrow(c.Request.Context(), validation.CallerID(c), req.RequestID, req.PIN)
	if err != nil {
		h.initiateError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": payment})
}

// CardRequest is the body for POST /v1/payments/card
type CardRequest struct {
	RequestID string       `json:"request_id"`
	Card      gateway.Card `json:"card"`
}

// InitiateCard handles POST /v1/payments/card
func (h *Handler) InitiateCard(c *gin.Context) {
	var req CardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("request_id", req.RequestID),
		validation.Required("card.number", req.Card.Number),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	payment, err := h.service.InitiateCard(c.Request.Context(), validation.CallerID(c), req.RequestID, req.Card)
	if err != nil {
		h.initiateError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": payment})
}

func (h *Handler) initiateError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, exchange.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No transaction for this request",
		})
	case errors.Is(err, ErrNotYourPayment):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Only the customer can fund this transaction",
		})
	case errors.Is(err, exchange.ErrNotInProgress):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_in_progress",
			"message": "Transaction is already closed",
		})
	case errors.Is(err, ErrAlreadyInitiated):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_initiated",
			"message": "A payment is already held for this transaction",
		})
	case errors.Is(err, users.ErrWrongPIN), errors.Is(err, users.ErrNoPIN):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "pin_rejected",
			"message": "Transaction PIN was not accepted",
		})
	case errors.Is(err, ErrNoBankDetails):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "no_bank_details",
			"message": "No bank account linked to this profile",
		})
	case errors.Is(err, gateway.ErrInvalidAccount):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_account",
			"message": "Linked bank account could not be resolved",
		})
	case errors.Is(err, gateway.ErrDeclined):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":   "declined",
			"message": "The payment was declined",
		})
	case errors.Is(err, ErrNoEscrowAccount):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "escrow_unavailable",
			"message": "No escrow account available, retry later",
		})
	case errors.Is(err, gateway.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "gateway_unavailable",
			"message": "Payment service unavailable, retry later",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "payment_failed",
			"message": "Failed to initiate payment",
		})
	}
}

// Finalize handles POST /v1/payments/:reference/finalize
func (h *Handler) Finalize(c *gin.Context) {
	payment, err := h.service.Finalize(c.Request.Context(), validation.CallerID(c), c.Param("reference"))
	if err != nil {
		h.settleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": payment})
}

// Reverse handles POST /v1/payments/:reference/reverse
func (h *Handler) Reverse(c *gin.Context) {
	payment, err := h.service.Reverse(c.Request.Context(), validation.CallerID(c), c.Param("reference"))
	if err != nil {
		h.settleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": payment})
}

func (h *Handler) settleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Payment not found",
		})
	case errors.Is(err, ErrNotYourPayment):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Payment belongs to another user",
		})
	case errors.Is(err, ErrNotInEscrow):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_in_escrow",
			"message": "Payment is not held in escrow",
		})
	case errors.Is(err, ErrAlreadyCompleted):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_completed",
			"message": "Payment has already been completed",
		})
	case errors.Is(err, ErrAlreadyReversed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_reversed",
			"message": "Payment has already been reversed",
		})
	case errors.Is(err, ErrNoEscrowAccount):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "escrow_unavailable",
			"message": "No escrow account available, retry later",
		})
	case errors.Is(err, ErrNoBankDetails):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "no_bank_details",
			"message": "Counterparty has no linked bank account",
		})
	case errors.Is(err, gateway.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "gateway_unavailable",
			"message": "Payment service unavailable, retry later",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "settlement_failed",
			"message": "Failed to settle payment",
		})
	}
}

// List handles GET /v1/payments
func (h *Handler) List(c *gin.Context) {
	payments, err := h.service.Payments(c.Request.Context(), validation.CallerID(c), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// ResolveAccount handles GET /v1/payments/accounts/resolve
func (h *Handler) ResolveAccount(c *gin.Context) {
	accountNumber := c.Query("account_number")
	bankCode := c.Query("bank_code")
	if errs := validation.Validate(
		validation.ValidAccountNumber("account_number", accountNumber),
		validation.ValidBankCode("bank_code", bankCode),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	account, err := h.service.LookupBankAccount(c.Request.Context(), accountNumber, bankCode)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidAccount):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "invalid_account",
				"message": "Account could not be resolved",
			})
		case errors.Is(err, gateway.ErrUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "gateway_unavailable",
				"message": "Bank service unavailable, retry later",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "lookup_failed",
				"message": "Failed to resolve account",
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}
