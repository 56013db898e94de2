package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier is the distance between the rewarded referrer and the user who signed up.
type Tier string

const (
	Tier1 Tier = "TIER_1"
	Tier2 Tier = "TIER_2"
	Tier3 Tier = "TIER_3"
)

type RewardType string

const (
	RewardSignupBonus      RewardType = "SIGNUP_BONUS"
	RewardFirstTransaction RewardType = "FIRST_TRANSACTION"
)

// RewardStatus only moves forward: PENDING -> APPROVED -> PAID.
type RewardStatus string

const (
	RewardPending  RewardStatus = "PENDING"
	RewardApproved RewardStatus = "APPROVED"
	RewardPaid     RewardStatus = "PAID"
)

func (s RewardStatus) Valid() bool {
	switch s {
	case RewardPending, RewardApproved, RewardPaid:
		return true
	}
	return false
}

const EntryCredit = "CREDIT"

// ReferralCode is issued lazily, at most one per user.
type ReferralCode struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Code       string     `json:"code"`
	IsActive   bool       `json:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	UsageCount int        `json:"usage_count"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Referral is the directed edge referrer -> referred. ReferredID is unique.
type Referral struct {
	ID                 string     `json:"id"`
	ReferrerID         string     `json:"referrer_id"`
	ReferredID         string     `json:"referred_id"`
	ReferralCodeID     string     `json:"referral_code_id"`
	Tier               Tier       `json:"tier"`
	IsActive           bool       `json:"is_active"`
	FirstTransactionAt *time.Time `json:"first_transaction_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Campaign holds the bonus configuration for a time window.
// Percentages are fractions of SignupBonus expressed in 0..100.
type Campaign struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	IsActive         bool                `json:"is_active"`
	StartDate        time.Time           `json:"start_date"`
	EndDate          *time.Time          `json:"end_date,omitempty"`
	SignupBonus      decimal.NullDecimal `json:"signup_bonus"`
	SignupCurrency   string              `json:"signup_currency,omitempty"`
	Tier2Percentage  decimal.NullDecimal `json:"tier2_percentage"`
	Tier3Percentage  decimal.NullDecimal `json:"tier3_percentage"`
	FirstTxBonus     decimal.NullDecimal `json:"first_tx_bonus"`
	FirstTxCurrency  string              `json:"first_tx_currency,omitempty"`
	FirstTxMinAmount decimal.NullDecimal `json:"first_tx_min_amount"`
	CreatedAt        time.Time           `json:"created_at"`
}

// ActiveAt reports whether the campaign window contains t.
func (c Campaign) ActiveAt(t time.Time) bool {
	if !c.IsActive || c.StartDate.After(t) {
		return false
	}
	return c.EndDate == nil || !c.EndDate.Before(t)
}

// TierPercentage returns the configured percentage for Tier2 or Tier3.
func (c Campaign) TierPercentage(t Tier) decimal.NullDecimal {
	switch t {
	case Tier2:
		return c.Tier2Percentage
	case Tier3:
		return c.Tier3Percentage
	}
	return decimal.NullDecimal{}
}

type Reward struct {
	ID         string          `json:"id"`
	ReferralID string          `json:"referral_id"`
	UserID     string          `json:"user_id"`
	RewardType RewardType      `json:"reward_type"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Tier       Tier            `json:"tier"`
	Status     RewardStatus    `json:"status"`
	AccountID  *string         `json:"account_id,omitempty"`
	ApprovedBy *string         `json:"approved_by,omitempty"`
	ApprovedAt *time.Time      `json:"approved_at,omitempty"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Account is a per-user, per-currency balance.
type Account struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// LedgerEntry is append-only. BalanceAfter is the account balance right after Amount was applied.
type LedgerEntry struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Type         string          `json:"type"`
	Description  string          `json:"description"`
	ReferenceID  string          `json:"reference_id"`
	CreatedAt    time.Time       `json:"created_at"`
}

// UserProfile is the public part of a user record.
type UserProfile struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// ReferralView is a referral joined with the referred user's profile.
type ReferralView struct {
	Referral
	ReferredUser *UserProfile `json:"referred_user,omitempty"`
}

type ReferralStats struct {
	TotalReferrals  int             `json:"total_referrals"`
	ActiveReferrals int             `json:"active_referrals"`
	TotalRewards    int             `json:"total_rewards"`
	TotalEarned     decimal.Decimal `json:"total_earned"`
	Referrals       []ReferralView  `json:"referrals"`
}

// RewardFilter narrows admin reward listings. Zero values match everything.
type RewardFilter struct {
	Status RewardStatus
	UserID string
	Limit  int
}
