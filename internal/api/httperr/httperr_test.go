package httperr

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/trustwork/trustwork-core/internal/domain"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		code domain.Code
		want int
	}{
		{domain.CodeNotFound, http.StatusNotFound},
		{domain.CodeUnauthorized, http.StatusForbidden},
		{domain.CodeValidationFailed, http.StatusBadRequest},
		{domain.CodeIllegalTransition, http.StatusConflict},
		{domain.CodeCooldownActive, http.StatusTooManyRequests},
		{domain.CodeUnlockNotMet, http.StatusForbidden},
		{domain.CodeInsufficientFunds, http.StatusPaymentRequired},
		{domain.CodeVoucherAlreadyRedeemed, http.StatusConflict},
		{domain.CodeRevisionsExhausted, http.StatusConflict},
		{domain.CodeIntegrityVoided, http.StatusConflict},
	}
	for _, tc := range cases {
		if got := Status(domain.E(tc.code, "boom")); got != tc.want {
			t.Errorf("Status(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}

	if got := Status(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("Status(plain error) = %d, want 500", got)
	}
}

func TestWriteMasksInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Write(c, errors.New("sql: connection refused"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "internal error") {
		t.Errorf("Expected masked message, got %s", body)
	}
	if strings.Contains(body, "connection refused") {
		t.Errorf("Expected cause hidden from the response, got %s", body)
	}
}

func TestWriteKeepsCodedMessages(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Write(c, domain.E(domain.CodeCooldownActive, "cooldown active until tomorrow"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "cooldown active until tomorrow") {
		t.Errorf("Expected coded message in body, got %s", w.Body.String())
	}
}
