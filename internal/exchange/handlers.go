package exchange

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cashxhq/cashx/internal/matching"
	"github.com/cashxhq/cashx/internal/routing"
	"github.com/cashxhq/cashx/internal/validation"
)

// Handler provides HTTP endpoints for the exchange lifecycle.
type Handler struct {
	service  *Service
	realtime *Realtime
}

// NewHandler creates a new exchange handler.
func NewHandler(service *Service, realtime *Realtime) *Handler {
	return &Handler{service: service, realtime: realtime}
}

// RegisterRoutes sets up exchange routes. All require a caller identity.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/exchange/requests", h.Dispatch)
	r.GET("/exchange/requests/:requestID", h.GetRequest)
	r.POST("/exchange/requests/:requestID/react", h.React)
	r.GET("/exchange/requests", h.PendingRequests)
	r.GET("/exchange/transactions", h.Transactions)
	r.POST("/exchange/transactions/:transactionID/cancel", h.Cancel)
	r.POST("/exchange/transactions/:transactionID/rate", h.Rate)
}

// RegisterWS mounts the realtime endpoint.
func (h *Handler) RegisterWS(r *gin.RouterGroup) {
	r.GET("/ws/transactions/:requestID", h.realtime.HandleWS)
}

// DispatchRequest is the body for POST /v1/exchange/requests
type DispatchRequest struct {
	AgentID  string `json:"agent_id"`
	SearchID string `json:"search_id"`
}

// Dispatch handles POST /v1/exchange/requests
func (h *Handler) Dispatch(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("agent_id", req.AgentID),
		validation.Required("search_id", req.SearchID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	request, err := h.service.Dispatch(c.Request.Context(), validation.CallerID(c), req.AgentID, req.SearchID)
	if err != nil {
		switch {
		case errors.Is(err, matching.ErrSearchNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "search_not_found",
				"message": "Search not found or expired",
			})
		case errors.Is(err, ErrNotYourRequest):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "not_a_candidate",
				"message": "Agent was not part of this search",
			})
		case errors.Is(err, ErrDuplicateDispatch):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_dispatch",
				"message": "Request already dispatched to this agent",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "dispatch_failed",
				"message": "Failed to dispatch request",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"request": request})
}

// GetRequest handles GET /v1/exchange/requests/:requestID
func (h *Handler) GetRequest(c *gin.Context) {
	request, err := h.service.GetRequest(c.Request.Context(), validation.CallerID(c), c.Param("requestID"))
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) || errors.Is(err, ErrNotYourRequest) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Request not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": request})
}

// ReactRequest is the body for POST /v1/exchange/requests/:requestID/react
type ReactRequest struct {
	Decision    Decision            `json:"decision"`
	Coordinates routing.Coordinates `json:"coordinates"`
}

// React handles POST /v1/exchange/requests/:requestID/react
func (h *Handler) React(c *gin.Context) {
	var req ReactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.Decision != DecisionAccept && req.Decision != DecisionDecline {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_decision",
			"message": "Decision must be ACCEPTED or DECLINED",
		})
		return
	}

	txn, err := h.service.React(c.Request.Context(), validation.CallerID(c), c.Param("requestID"), req.Decision, req.Coordinates)
	if err != nil {
		switch {
		case errors.Is(err, ErrRequestNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Request not found",
			})
		case errors.Is(err, ErrNotYourRequest):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Request belongs to another agent",
			})
		case errors.Is(err, ErrNotPending):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "not_pending",
				"message": "Request has already been reacted to",
			})
		case errors.Is(err, ErrCustomerBusy):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "customer_busy",
				"message": "Customer already has a transaction in progress",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "reaction_failed",
				"message": "Failed to process reaction",
			})
		}
		return
	}

	if txn == nil {
		c.JSON(http.StatusOK, gin.H{"status": RequestDeclined})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": txn})
}

// PendingRequests handles GET /v1/exchange/requests
func (h *Handler) PendingRequests(c *gin.Context) {
	requests, err := h.service.PendingRequests(c.Request.Context(), validation.CallerID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

// Transactions handles GET /v1/exchange/transactions
func (h *Handler) Transactions(c *gin.Context) {
	views, err := h.service.Transactions(c.Request.Context(), validation.CallerID(c), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": views})
}

// CancelRequest is the body for POST /v1/exchange/transactions/:transactionID/cancel
type CancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel handles POST /v1/exchange/transactions/:transactionID/cancel
func (h *Handler) Cancel(c *gin.Context) {
	var req CancelRequest
	_ = c.ShouldBindJSON(&req)

	txn, err := h.service.Cancel(c.Request.Context(), validation.CallerID(c), c.Param("transactionID"), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrTransactionNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Transaction not found",
			})
		case errors.Is(err, ErrNotAParty):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You are not a party to this transaction",
			})
		case errors.Is(err, ErrNotInProgress):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "not_in_progress",
				"message": "Transaction is already closed",
			})
		case errors.Is(err, ErrPaymentHeld):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "payment_in_escrow",
				"message": "Payment is in escrow; finalize or reverse it first",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "cancel_failed",
				"message": "Failed to cancel transaction",
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// RateRequest is the body for POST /v1/exchange/transactions/:transactionID/rate
type RateRequest struct {
	Score int `json:"score"`
}

// Rate handles POST /v1/exchange/transactions/:transactionID/rate
func (h *Handler) Rate(c *gin.Context) {
	var req RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	rating, err := h.service.Rate(c.Request.Context(), validation.CallerID(c), c.Param("transactionID"), req.Score)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRating):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_rating",
				"message": "Rating must be between 1 and 5",
			})
		case errors.Is(err, ErrTransactionNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Transaction not found",
			})
		case errors.Is(err, ErrNotAParty):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You are not a party to this transaction",
			})
		case errors.Is(err, ErrNotCompleted):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "not_completed",
				"message": "Only completed transactions can be rated",
			})
		case errors.Is(err, ErrAlreadyRated):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_rated",
				"message": "You have already rated this transaction",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "rating_failed",
				"message": "Failed to record rating",
			})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rating": rating})
}
