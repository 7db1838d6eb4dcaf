package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/trustwork/trustwork-core/internal/domain"
	"github.com/trustwork/trustwork-core/internal/models"
)

// CreditRepository handles credit balance, audit entries and vouchers.
type CreditRepository struct {
	db *DB
}

// NewCreditRepository creates a new credit repository.
func NewCreditRepository(db *DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *CreditRepository) WithTx(tx *DB) *CreditRepository {
	return &CreditRepository{db: tx}
}

// GetBalance retrieves a user's credit balance, creating a zero balance row
// on first touch.
func (r *CreditRepository) GetBalance(userID string) (*models.CreditBalance, error) {
	var balance models.CreditBalance
	err := r.db.First(&balance, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		balance = models.CreditBalance{UserID: userID, Balance: 0, Version: 1}
		if err := r.db.Create(&balance).Error; err != nil {
			return nil, fmt.Errorf("failed to create balance for %s: %w", userID, err)
		}
		return &balance, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance for %s: %w", userID, err)
	}
	return &balance, nil
}

// UpdateBalanceWithVersion persists a balance change guarded by the
// optimistic version token.
func (r *CreditRepository) UpdateBalanceWithVersion(balance *models.CreditBalance) error {
	expected := balance.Version
	balance.Version = expected + 1

	res := r.db.Model(&models.CreditBalance{}).
		Where("user_id = ? AND version = ?", balance.UserID, expected).
		Updates(map[string]interface{}{
			"balance": balance.Balance,
			"version": balance.Version,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update balance for %s: %w", balance.UserID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.CodePreconditionFailed, "balance of %s version %d is stale", balance.UserID, expected)
	}
	return nil
}

// CreateEntry appends one row to the credit audit trail.
func (r *CreditRepository) CreateEntry(entry *models.CreditEntry) error {
	if err := r.db.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create credit entry: %w", err)
	}
	return nil
}

// ListEntries returns the audit trail for a user, newest first.
func (r *CreditRepository) ListEntries(userID string) ([]models.CreditEntry, error) {
	var entries []models.CreditEntry
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list credit entries for %s: %w", userID, err)
	}
	return entries, nil
}

// CreateVoucher persists a freshly issued voucher.
func (r *CreditRepository) CreateVoucher(voucher *models.Voucher) error {
	if err := r.db.Create(voucher).Error; err != nil {
		return fmt.Errorf("failed to create voucher: %w", err)
	}
	return nil
}

// GetVoucher retrieves a voucher by id.
func (r *CreditRepository) GetVoucher(id string) (*models.Voucher, error) {
	var voucher models.Voucher
	err := r.db.First(&voucher, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.E(domain.CodeNotFound, "voucher %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get voucher %s: %w", id, err)
	}
	return &voucher, nil
}

// ListVouchersByHolder lists a user's vouchers, newest first.
func (r *CreditRepository) ListVouchersByHolder(userID string) ([]models.Voucher, error) {
	var vouchers []models.Voucher
	err := r.db.Where("user_id = ?", userID).
		Order("issued_at DESC").
		Find(&vouchers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list vouchers for %s: %w", userID, err)
	}
	return vouchers, nil
}

// MarkVoucherRedeemed stamps redeemed-at exactly once. A second redemption
// finds zero unredeemed rows and fails VoucherAlreadyRedeemed.
func (r *CreditRepository) MarkVoucherRedeemed(id string, at time.Time) error {
	res := r.db.Model(&models.Voucher{}).
		Where("id = ? AND redeemed_at IS NULL", id).
		Update("redeemed_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to redeem voucher %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.E(domain.CodeVoucherAlreadyRedeemed, "voucher %s was already redeemed", id)
	}
	return nil
}
