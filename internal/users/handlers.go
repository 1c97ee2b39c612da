package users

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cashxhq/cashx/internal/validation"
)

// Handler provides HTTP endpoints for user profiles.
type Handler struct {
	service *Service
}

// NewHandler creates a new users handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes mounts registration, which precedes any identity.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/users", h.Register)
}

// RegisterRoutes sets up profile routes. All require a caller identity.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/me", h.Me)
	r.PUT("/users/me/device-token", h.SetDeviceToken)
	r.PUT("/users/me/bank", h.SetBankDetails)
	r.PUT("/users/me/location", h.UpdateLocation)
	r.PUT("/users/me/pin", h.SetPIN)
	r.PUT("/users/me/agent", h.SetAgent)
}

// RegisterRequest is the body for POST /v1/users
type RegisterRequest struct {
	PhoneNumber string `json:"phone_number"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	IsAgent     bool   `json:"is_agent"`
}

// Register handles POST /v1/users
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	user, err := h.service.Register(c.Request.Context(), req.PhoneNumber, req.FirstName, req.LastName, req.IsAgent)
	if err != nil {
		switch {
		case errors.Is(err, ErrPhoneTaken):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "phone_taken",
				"message": "Phone number is already registered",
			})
		case errors.Is(err, ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "registration_failed",
				"message": "Failed to register user",
			})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// Me handles GET /v1/users/me
func (h *Handler) Me(c *gin.Context) {
	user, err := h.service.Get(c.Request.Context(), validation.CallerID(c))
	if err != nil {
		h.userError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// DeviceTokenRequest is the body for PUT /v1/users/me/device-token
type DeviceTokenRequest struct {
	DeviceToken string `json:"device_token"`
}

// SetDeviceToken handles PUT /v1/users/me/device-token
func (h *Handler) SetDeviceToken(c *gin.Context) {
	var req DeviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	user, err := h.service.SetDeviceToken(c.Request.Context(), validation.CallerID(c), req.DeviceToken)
	if err != nil {
		h.userError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// BankDetailsRequest is the body for PUT /v1/users/me/bank
type BankDetailsRequest struct {
	BankCode  string `json:"bank_code"`
	AccountNo string `json:"account_number"`
}

// SetBankDetails handles PUT /v1/users/me/bank
func (h *Handler) SetBankDetails(c *gin.Context) {
	var req BankDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.ValidBankCode("bank_code", req.BankCode),
		validation.ValidAccountNumber("account_number", req.AccountNo),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	user, err := h.service.SetBankDetails(c.Request.Context(), validation.CallerID(c), req.BankCode, req.AccountNo)
	if err != nil {
		h.userError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// LocationRequest is the body for PUT /v1/users/me/location
type LocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// UpdateLocation handles PUT /v1/users/me/location
func (h *Handler) UpdateLocation(c *gin.Context) {
	var req LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.ValidCoordinates("location", req.Latitude, req.Longitude),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	user, err := h.service.UpdateLocation(c.Request.Context(), validation.CallerID(c), req.Latitude, req.Longitude)
	if err != nil {
		h.userError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// PINRequest is the body for PUT /v1/users/me/pin
type PINRequest struct {
	PIN string `json:"pin"`
}

// SetPIN handles PUT /v1/users/me/pin
func (h *Handler) SetPIN(c *gin.Context) {
	var req PINRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(validation.ValidPIN("pin", req.PIN)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if err := h.service.SetPIN(c.Request.Context(), validation.CallerID(c), req.PIN); err != nil {
		h.userError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pin_set"})
}

// AgentRequest is the body for PUT /v1/users/me/agent
type AgentRequest struct {
	IsAgent bool `json:"is_agent"`
}

// SetAgent handles PUT /v1/users/me/agent
func (h *Handler) SetAgent(c *gin.Context) {
	var req AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	user, err := h.service.SetAgent(c.Request.Context(), validation.CallerID(c), req.IsAgent)
	if err != nil {
		h.userError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) userError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "User not found",
		})
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to update user",
		})
	}
}
