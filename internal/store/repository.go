package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/referralops/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("unique constraint violated")
)

// Constraint names shared by the Postgres schema and the in-memory store.
const (
	ConstraintReferredUnique = "referrals_referred_id_key"
	ConstraintCodeUnique     = "referral_codes_code_key"
	ConstraintCodeUserUnique = "referral_codes_user_id_key"
	ConstraintAccountUnique  = "accounts_user_id_currency_key"
)

// ConflictError reports which uniqueness constraint rejected a write.
type ConflictError struct {
	Constraint string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("unique constraint %q violated", e.Constraint)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// IsConflictOn reports whether err is a conflict on the named constraint.
func IsConflictOn(err error, constraint string) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Constraint == constraint
}

// Repository is the persistence contract of the referral engine.
// Implementations must enforce the unique constraints above at write time.
type Repository interface {
	GetReferralCodeByUser(ctx context.Context, userID string) (*domain.ReferralCode, error)
	GetReferralCodeByCode(ctx context.Context, code string) (*domain.ReferralCode, error)
	CreateReferralCode(ctx context.Context, rc *domain.ReferralCode) error
	IncrementCodeUsage(ctx context.Context, codeID string) error

	CreateReferral(ctx context.Context, r *domain.Referral) error
	GetReferralByReferred(ctx context.Context, referredID string) (*domain.Referral, error)
	GetActiveReferralByReferred(ctx context.Context, referredID string) (*domain.Referral, error)
	// MarkFirstTransaction stamps first_transaction_at only if it is still null.
	// It reports whether this call performed the stamp.
	MarkFirstTransaction(ctx context.Context, referralID string, at time.Time) (bool, error)
	ListReferralsByReferrer(ctx context.Context, referrerID string) ([]domain.ReferralView, error)

	GetActiveCampaign(ctx context.Context, at time.Time) (*domain.Campaign, error)
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	ListCampaigns(ctx context.Context) ([]domain.Campaign, error)

	CreateReward(ctx context.Context, r *domain.Reward) error
	GetReward(ctx context.Context, id string) (*domain.Reward, error)
	// GetRewardForUpdate locks the row until the surrounding transaction ends.
	GetRewardForUpdate(ctx context.Context, id string) (*domain.Reward, error)
	UpdateReward(ctx context.Context, r *domain.Reward) error
	ListRewards(ctx context.Context, f domain.RewardFilter) ([]domain.Reward, error)
	// RewardTotals returns the number of rewards of a user and the sum of the PAID ones.
	RewardTotals(ctx context.Context, userID string) (int, decimal.Decimal, error)

	GetOrCreateAccount(ctx context.Context, userID, currency string) (*domain.Account, error)
	GetAccountForUpdate(ctx context.Context, id string) (*domain.Account, error)
	UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal) error
	CreateLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error)

	UpsertUser(ctx context.Context, u domain.UserProfile) error

	// InTx runs fn against a transactional view. Either every write made
	// through that view commits or none does. Nested calls join the outer transaction.
	InTx(ctx context.Context, fn func(tx Repository) error) error
}
