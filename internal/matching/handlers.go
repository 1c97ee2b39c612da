package matching

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cashxhq/cashx/internal/routing"
	"github.com/cashxhq/cashx/internal/validation"
)

// Handler provides HTTP endpoints for fee quotes and agent searches.
type Handler struct {
	service *Service
}

// NewHandler creates a new matching handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up matching routes. All of them require a caller identity.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/exchange/fees", h.QuoteFee)
	r.POST("/exchange/search", h.Search)
	r.GET("/exchange/search/:searchID", h.GetSearch)
}

// FeeRequest is the body for POST /v1/exchange/fees
type FeeRequest struct {
	AmountKobo int64 `json:"amount"`
}

// QuoteFee handles POST /v1/exchange/fees
func (h *Handler) QuoteFee(c *gin.Context) {
	var req FeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	fee, err := FeeFor(req.AmountKobo)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "amount_out_of_range",
			"message": "Amount must be between 5,000.00 and 50,000.00",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"amount": req.AmountKobo,
		"fee":    fee,
		"total":  req.AmountKobo + fee,
	})
}

// SearchRequest is the body for POST /v1/exchange/search
type SearchRequest struct {
	AmountKobo  int64               `json:"amount"`
	Destination routing.Coordinates `json:"destination"`
}

// Search handles POST /v1/exchange/search
func (h *Handler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.PositiveAmount("amount", req.AmountKobo),
		validation.ValidCoordinates("destination", req.Destination.Latitude, req.Destination.Longitude),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	result, err := h.service.Search(c.Request.Context(), validation.CallerID(c), req.Destination, req.AmountKobo)
	if err != nil {
		switch {
		case errors.Is(err, ErrAmountOutOfRange):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "amount_out_of_range",
				"message": "Amount must be between 5,000.00 and 50,000.00",
			})
		case errors.Is(err, ErrNoAgents):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "no_agents",
				"message": "No agents available near this destination",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "search_failed",
				"message": "Failed to search for agents",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"search": result})
}

// GetSearch handles GET /v1/exchange/search/:searchID
func (h *Handler) GetSearch(c *gin.Context) {
	result, err := h.service.Lookup(c.Request.Context(), c.Param("searchID"))
	if err != nil {
		if errors.Is(err, ErrSearchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Search not found or expired",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"search": result})
}
