package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/referralops/internal/domain"
)

// ProcessReferralRequest is sent by the registration flow.
type ProcessReferralRequest struct {
	ReferredUserID string `json:"referredUserId"`
	ReferralCode   string `json:"referralCode"`
}

// TransactionCompletedRequest is sent by the payments subsystem.
// Amount accepts a JSON number or a quoted decimal string. It is nullable so
// a missing amount can be told apart from zero.
type TransactionCompletedRequest struct {
	UserID   string              `json:"userId"`
	Amount   decimal.NullDecimal `json:"amount"`
	Currency string              `json:"currency"`
}

type TransactionCompletedResponse struct {
	Accepted bool   `json:"accepted"`
	Outcome  string `json:"outcome"`
}

type CodeResponse struct {
	Code string `json:"code"`
}

// CreateCampaignRequest mirrors the campaign form of the admin dashboard.
type CreateCampaignRequest struct {
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
}

func (r CreateCampaignRequest) Campaign() domain.Campaign {
	return domain.Campaign{
		Name:             r.Name,
		IsActive:         r.IsActive,
		StartDate:        r.StartDate,
		EndDate:          r.EndDate,
		SignupBonus:      r.SignupBonus,
		SignupCurrency:   r.SignupCurrency,
		Tier2Percentage:  r.Tier2Percentage,
		Tier3Percentage:  r.Tier3Percentage,
		FirstTxBonus:     r.FirstTxBonus,
		FirstTxCurrency:  r.FirstTxCurrency,
		FirstTxMinAmount: r.FirstTxMinAmount,
	}
}

type RewardListResponse struct {
	Rewards []domain.Reward `json:"rewards"`
	Count   int             `json:"count"`
}

type CampaignListResponse struct {
	Campaigns []domain.Campaign `json:"campaigns"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
