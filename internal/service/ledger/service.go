// Package ledger provides the assessment credit economy: balance debits and
// credits with an append-only audit trail, and single-use discount vouchers.
package ledger

import (
	"context"
	"time"

	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/metrics"
	"github.com/trustwork/trustwork-core/internal/models"
	"github.com/trustwork/trustwork-core/internal/repository"
	"github.com/trustwork/trustwork-core/pkg/clock"
	"github.com/trustwork/trustwork-core/pkg/logger"
)

// Service handles credit and voucher operations.
type Service struct {
	db      *repository.DB
	credits *repository.CreditRepository
	clock   clock.Clock
	idGen   clock.IDGen
	log     *logger.Logger
}

// NewService creates a new ledger service.
func NewService(db *repository.DB, credits *repository.CreditRepository, clk clock.Clock, idGen clock.IDGen, log *logger.Logger) *Service {
	return &Service{db: db, credits: credits, clock: clk, idGen: idGen, log: log}
}

// Debit removes credits from a user's balance in its own transaction.
func (s *Service) Debit(ctx context.Context, userID string, amount int, reason string) (int, error) {
	var balance int
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		var err error
		balance, err = s.DebitTx(tx, userID, amount, reason)
		return err
	})
	return balance, err
}

// DebitTx removes credits inside an existing transaction. Fails with
// InsufficientFunds when the balance cannot cover the amount; the balance is
// never driven negative.
func (s *Service) DebitTx(tx *repository.DB, userID string, amount int, reason string) (int, error) {
	if amount < 0 {
		return 0, domain.E(domain.CodeValidationFailed, "debit amount must not be negative")
	}

	credits := s.credits.WithTx(tx)
	balance, err := credits.GetBalance(userID)
	if err != nil {
		return 0, err
	}
	if balance.Balance < amount {
		return 0, domain.E(domain.CodeInsufficientFunds,
			"balance %d cannot cover debit of %d", balance.Balance, amount)
	}

	balance.Balance -= amount
	if err := credits.UpdateBalanceWithVersion(balance); err != nil {
		return 0, err
	}
	if err := credits.CreateEntry(&models.CreditEntry{
		ID:           s.idGen.NewID(),
		UserID:       userID,
		Delta:        -amount,
		Reason:       reason,
		BalanceAfter: balance.Balance,
		CreatedAt:    s.clock.Now(),
	}); err != nil {
		return 0, err
	}

	metrics.CreditDebitsTotal.WithLabelValues(reason).Inc()
	s.log.Info().
		Str("user", userID).
		Int("amount", amount).
		Str("reason", reason).
		Int("balance", balance.Balance).
		Msg("Debited credits")
	return balance.Balance, nil
}

// Credit adds credits to a user's balance in its own transaction.
func (s *Service) Credit(ctx context.Context, userID string, amount int, reason string) (int, error) {
	var balance int
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		var err error
		balance, err = s.CreditTx(tx, userID, amount, reason)
		return err
	})
	return balance, err
}

// CreditTx adds credits inside an existing transaction.
func (s *Service) CreditTx(tx *repository.DB, userID string, amount int, reason string) (int, error) {
	if amount < 0 {
		return 0, domain.E(domain.CodeValidationFailed, "credit amount must not be negative")
	}

	credits := s.credits.WithTx(tx)
	balance, err := credits.GetBalance(userID)
	if err != nil {
		return 0, err
	}
	balance.Balance += amount
	if err := credits.UpdateBalanceWithVersion(balance); err != nil {
		return 0, err
	}
	if err := credits.CreateEntry(&models.CreditEntry{
		ID:           s.idGen.NewID(),
		UserID:       userID,
		Delta:        amount,
		Reason:       reason,
		BalanceAfter: balance.Balance,
		CreatedAt:    s.clock.Now(),
	}); err != nil {
		return 0, err
	}
	return balance.Balance, nil
}

// IssueVoucher issues a percentage discount voucher in its own transaction.
func (s *Service) IssueVoucher(ctx context.Context, userID string, percent int, ttl time.Duration) (*models.Voucher, error) {
	var voucher *models.Voucher
	err := s.db.WithTransaction(ctx, func(tx *repository.DB) error {
		var err error
		voucher, err = s.IssueVoucherTx(tx, userID, percent, ttl)
		return err
	})
	return voucher, err
}

// IssueVoucherTx issues a voucher inside an existing transaction.
func (s *Service) IssueVoucherTx(tx *repository.DB, userID string, percent int, ttl time.Duration) (*models.Voucher, error) {
	if percent <= 0 || percent > 100 {
		return nil, domain.E(domain.CodeValidationFailed, "voucher percent %d out of range", percent)
	}

	now := s.clock.Now()
	voucher := &models.Voucher{
		ID:        s.idGen.NewID(),
		UserID:    userID,
		Percent:   percent,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.credits.WithTx(tx).CreateVoucher(voucher); err != nil {
		return nil, err
	}

	metrics.VouchersIssuedTotal.Inc()
	s.log.Info().
		Str("user", userID).
		Int("percent", percent).
		Time("expires", voucher.ExpiresAt).
		Msg("Issued voucher")
	return voucher, nil
}

// RedeemAndDebitTx redeems a voucher and debits the discounted amount as one
// atomic step inside an existing transaction. When voucherID is nil the full
// amount is debited. The discount uses integer arithmetic: the discounted
// charge is amount - floor(amount*percent/100).
func (s *Service) RedeemAndDebitTx(tx *repository.DB, userID string, voucherID *string, amount int, reason string) (charged int, balance int, err error) {
	charged = amount
	if voucherID != nil {
		credits := s.credits.WithTx(tx)
		voucher, err := credits.GetVoucher(*voucherID)
		if err != nil {
			return 0, 0, err
		}
		if voucher.UserID != userID {
			return 0, 0, domain.E(domain.CodeVoucherNotOwned, "voucher %s is not held by %s", voucher.ID, userID)
		}
		if voucher.Redeemed() {
			return 0, 0, domain.E(domain.CodeVoucherAlreadyRedeemed, "voucher %s was already redeemed", voucher.ID)
		}
		if voucher.ExpiredAt(s.clock.Now()) {
			return 0, 0, domain.E(domain.CodeVoucherExpired, "voucher %s expired at %s", voucher.ID, voucher.ExpiresAt)
		}
		if err := credits.MarkVoucherRedeemed(voucher.ID, s.clock.Now()); err != nil {
			return 0, 0, err
		}
		charged = amount - amount*voucher.Percent/100
		metrics.VouchersRedeemedTotal.Inc()
	}

	balance, err = s.DebitTx(tx, userID, charged, reason)
	if err != nil {
		return 0, 0, err
	}
	return charged, balance, nil
}

// Balance returns a user's current credit balance.
func (s *Service) Balance(ctx context.Context, userID string) (*models.CreditBalance, error) {
	return s.credits.GetBalance(userID)
}

// Entries returns a user's credit audit trail.
func (s *Service) Entries(ctx context.Context, userID string) ([]models.CreditEntry, error) {
	return s.credits.ListEntries(userID)
}

// Vouchers returns a user's vouchers.
func (s *Service) Vouchers(ctx context.Context, userID string) ([]models.Voucher, error) {
	return s.credits.ListVouchersByHolder(userID)
}
