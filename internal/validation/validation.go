// Package validation provides input validation middleware for the CashX API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// pinRegex validates 4-digit transaction PINs
	pinRegex = regexp.MustCompile(`^\d{4}$`)
	// bankCodeRegex validates 6-character bank sort codes
	bankCodeRegex = regexp.MustCompile(`^\d{6}$`)
	// accountNumberRegex validates 10-digit bank account numbers
	accountNumberRegex = regexp.MustCompile(`^\d{10}$`)
	// idRegex validates internal resource IDs (prefix + hex or UUID-like)
	idRegex = regexp.MustCompile(`^[a-z]*_?[a-f0-9-]{24,36}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidPIN checks if a string is a valid 4-digit PIN
func IsValidPIN(s string) bool {
	return pinRegex.MatchString(s)
}

// IsValidBankCode checks if a string is a valid 6-digit bank code
func IsValidBankCode(s string) bool {
	return bankCodeRegex.MatchString(s)
}

// IsValidAccountNumber checks if a string is a valid 10-digit account number
func IsValidAccountNumber(s string) bool {
	return accountNumberRegex.MatchString(s)
}

// IsValidID checks if a string looks like an internal resource ID
func IsValidID(s string) bool {
	return idRegex.MatchString(s)
}

// IsValidCoordinate checks latitude/longitude bounds.
func IsValidCoordinate(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ValidCoordinates checks latitude and longitude bounds together.
func ValidCoordinates(field string, lat, lon float64) func() *ValidationError {
	return func() *ValidationError {
		if !IsValidCoordinate(lat, lon) {
			return &ValidationError{Field: field, Message: "latitude must be in [-90, 90] and longitude in [-180, 180]"}
		}
		return nil
	}
}

// PositiveAmount checks that an amount in kobo is greater than zero.
func PositiveAmount(field string, amount int64) func() *ValidationError {
	return func() *ValidationError {
		if amount <= 0 {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		return nil
	}
}

// ValidPIN checks that a field is a 4-digit PIN
func ValidPIN(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidPIN(value) {
			return &ValidationError{Field: field, Message: "must be a 4-digit PIN"}
		}
		return nil
	}
}

// ValidBankCode checks that a field is a 6-digit bank code
func ValidBankCode(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidBankCode(value) {
			return &ValidationError{Field: field, Message: "must be a 6-digit bank code"}
		}
		return nil
	}
}

// ValidAccountNumber checks that a field is a 10-digit account number
func ValidAccountNumber(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidAccountNumber(value) {
			return &ValidationError{Field: field, Message: "must be a 10-digit account number"}
		}
		return nil
	}
}

// UserIDMiddleware requires a caller identity on routes that act on behalf
// of a user. The identity arrives as X-User-ID, set by the edge after auth.
func UserIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_identity",
				"message": "X-User-ID header is required",
			})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

// CallerID returns the authenticated user ID placed by UserIDMiddleware.
func CallerID(c *gin.Context) string {
	return c.GetString("userID")
}
