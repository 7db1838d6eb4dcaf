package assessments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustwork/trustwork-core/internal/api/middleware"
	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/internal/service/assessment"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

type mockAssessmentService struct {
	eligibility  *assessment.Eligibility
	startOutcome *assessment.StartOutcome
	startErr     error
	submitResult *assessment.Result
	submitErr    error
	answerErr    error
}

func (m *mockAssessmentService) CanAttempt(ctx context.Context, userID, templateID string) (*assessment.Eligibility, error) {
	return m.eligibility, nil
}

func (m *mockAssessmentService) Start(ctx context.Context, userID, templateID string, assignmentID, voucherID *string) (*assessment.StartOutcome, error) {
	return m.startOutcome, m.startErr
}

func (m *mockAssessmentService) Answer(ctx context.Context, actorID, attemptID string, questionIndex int, letter string) error {
	return m.answerErr
}

func (m *mockAssessmentService) SignalIntegrityEvent(ctx context.Context, actorID, attemptID, kind string) (*models.Attempt, error) {
	return &models.Attempt{ID: attemptID, State: models.AttemptVoidedForIntegrity}, nil
}

func (m *mockAssessmentService) Submit(ctx context.Context, actorID, attemptID string) (*assessment.Result, error) {
	return m.submitResult, m.submitErr
}

func (m *mockAssessmentService) Get(ctx context.Context, actorID, attemptID string) (*models.Attempt, error) {
	return &models.Attempt{ID: attemptID, UserID: actorID, State: models.AttemptInProgress}, nil
}

func (m *mockAssessmentService) CanApply(ctx context.Context, userID, assignmentID string) (*assessment.Decision, error) {
	return &assessment.Decision{Allowed: true, Reason: assessment.ReasonOK}, nil
}

type mockLedgerService struct {
	balance  *models.CreditBalance
	entries  []models.CreditEntry
	vouchers []models.Voucher
}

func (m *mockLedgerService) Balance(ctx context.Context, userID string) (*models.CreditBalance, error) {
	return m.balance, nil
}

func (m *mockLedgerService) Entries(ctx context.Context, userID string) ([]models.CreditEntry, error) {
	return m.entries, nil
}

func (m *mockLedgerService) Vouchers(ctx context.Context, userID string) ([]models.Voucher, error) {
	return m.vouchers, nil
}

func setupRouter(svc AssessmentService, wallet LedgerService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ActorKey, "user-1")
	})
	handler := NewHandlerWithInterfaces(svc, wallet, logger.NewNop())
	handler.Register(router.Group("/api/v1"))
	return router
}

func TestGetEligibility(t *testing.T) {
	next := time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC)
	router := setupRouter(&mockAssessmentService{
		eligibility: &assessment.Eligibility{Allowed: false, Reason: assessment.ReasonCooldownActive, NextAllowedAt: &next},
	}, &mockLedgerService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates/tmpl-1/eligibility", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body assessment.Eligibility
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Allowed)
	assert.Equal(t, assessment.ReasonCooldownActive, body.Reason)
	require.NotNil(t, body.NextAllowedAt)
}

func TestStartAttempt(t *testing.T) {
	router := setupRouter(&mockAssessmentService{
		startOutcome: &assessment.StartOutcome{
			Attempt: &models.Attempt{ID: "att-1", State: models.AttemptInProgress},
			Charged: 7,
		},
	}, &mockLedgerService{})

	payload, _ := json.Marshal(map[string]string{"template_id": "tmpl-1"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var body assessment.StartOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "att-1", body.Attempt.ID)
	assert.Equal(t, 7, body.Charged)
}

func TestStartAttemptValidatesBody(t *testing.T) {
	router := setupRouter(&mockAssessmentService{}, &mockLedgerService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStartAttemptErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"cooldown", domain.E(domain.CodeCooldownActive, "cooldown"), http.StatusTooManyRequests},
		{"unlock", domain.E(domain.CodeUnlockNotMet, "locked"), http.StatusForbidden},
		{"funds", domain.E(domain.CodeInsufficientFunds, "broke"), http.StatusPaymentRequired},
		{"voucher reuse", domain.E(domain.CodeVoucherAlreadyRedeemed, "used"), http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := setupRouter(&mockAssessmentService{startErr: tc.err}, &mockLedgerService{})

			payload, _ := json.Marshal(map[string]string{"template_id": "tmpl-1"})
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts", bytes.NewReader(payload))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestSaveAnswerAcceptsIndexZero(t *testing.T) {
	router := setupRouter(&mockAssessmentService{}, &mockLedgerService{})

	payload, _ := json.Marshal(map[string]interface{}{"question_index": 0, "letter": "A"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/att-1/answers", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitAttemptTerminal(t *testing.T) {
	router := setupRouter(&mockAssessmentService{
		submitErr: domain.E(domain.CodeAlreadyCompleted, "done"),
	}, &mockLedgerService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/att-1/submit", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetWallet(t *testing.T) {
	router := setupRouter(&mockAssessmentService{}, &mockLedgerService{
		balance:  &models.CreditBalance{UserID: "user-1", Balance: 3},
		vouchers: []models.Voucher{{ID: "v-1", UserID: "user-1", Percent: 30}},
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallet", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Balance  int              `json:"balance"`
		Vouchers []models.Voucher `json:"vouchers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Balance)
	require.Len(t, body.Vouchers, 1)
	assert.Equal(t, 30, body.Vouchers[0].Percent)
}
