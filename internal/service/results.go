package service

import "github.com/punchamoorthee/referralops/internal/domain"

// ReferralResult is the soft-fail outcome of ProcessReferral.
type ReferralResult struct {
	Success    bool   `json:"success"`
	ReferrerID string `json:"referrerId,omitempty"`
	Error      string `json:"error,omitempty"`
}

type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ApprovalResult carries the paid reward and its ledger entry on success.
type ApprovalResult struct {
	Success     bool                `json:"success"`
	Reward      *domain.Reward      `json:"reward,omitempty"`
	LedgerEntry *domain.LedgerEntry `json:"ledgerEntry,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// FirstTransactionOutcome reports what the first-transaction hook did.
// Callers are free to ignore it.
type FirstTransactionOutcome string

const (
	OutcomeRewarded         FirstTransactionOutcome = "rewarded"
	OutcomeNoReferral       FirstTransactionOutcome = "no_referral"
	OutcomeAlreadyProcessed FirstTransactionOutcome = "already_processed"
	OutcomeNoBonus          FirstTransactionOutcome = "no_bonus"
	OutcomeBelowMinimum     FirstTransactionOutcome = "below_minimum"
	OutcomeFailed           FirstTransactionOutcome = "failed"
)

// User-facing messages. Internal error detail never goes into these.
const (
	MsgInvalidCode      = "Invalid referral code"
	MsgSelfReferral     = "Cannot refer yourself"
	MsgAlreadyReferred  = "User already has a referrer"
	MsgReferralFailed   = "Failed to process referral"
	MsgCodeInactive     = "Referral code is inactive"
	MsgCodeExpired      = "Referral code has expired"
	MsgValidationFailed = "Failed to validate referral code"
	MsgInvalidReward    = "Invalid reward"
	MsgApprovalFailed   = "Failed to approve reward"
)
