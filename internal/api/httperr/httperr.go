// Package httperr maps domain error codes onto HTTP status codes at the
// API boundary so services never import net/http.
package httperr

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trustwork/trustwork-core/internal/domain"
)

// statusByCode is the single mapping from domain codes to HTTP statuses.
var statusByCode = map[domain.Code]int{
	domain.CodeUnauthorized:           http.StatusForbidden,
	domain.CodeNotFound:               http.StatusNotFound,
	domain.CodeIllegalTransition:      http.StatusConflict,
	domain.CodePreconditionFailed:     http.StatusConflict,
	domain.CodeValidationFailed:       http.StatusBadRequest,
	domain.CodeAlreadyCompleted:       http.StatusConflict,
	domain.CodeCooldownActive:         http.StatusTooManyRequests,
	domain.CodeUnlockNotMet:           http.StatusForbidden,
	domain.CodeInsufficientFunds:      http.StatusPaymentRequired,
	domain.CodeVoucherExpired:         http.StatusConflict,
	domain.CodeVoucherAlreadyRedeemed: http.StatusConflict,
	domain.CodeVoucherNotOwned:        http.StatusForbidden,
	domain.CodeRevisionsExhausted:     http.StatusConflict,
	domain.CodeIntegrityVoided:        http.StatusConflict,
	domain.CodeCancelled:              http.StatusBadRequest,
}

// Status returns the HTTP status for an error.
func Status(err error) int {
	if status, mapped := statusByCode[domain.CodeOf(err)]; mapped {
		return status
	}
	return http.StatusInternalServerError
}

// Write sends a standardized error response carrying the domain code.
func Write(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	status := Status(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
		code = domain.CodeInternal
	}

	c.JSON(status, gin.H{
		"error":     message,
		"code":      string(code),
		"timestamp": time.Now().UTC(),
	})
}

// BadRequest sends a validation-style error for malformed request bodies.
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":     message,
		"code":      string(domain.CodeValidationFailed),
		"timestamp": time.Now().UTC(),
	})
}
