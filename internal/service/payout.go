package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/punchamoorthee/referralops/internal/domain"
	"github.com/punchamoorthee/referralops/internal/store"
)

var errRewardNotPending = errors.New("reward is not pending")

// ApproveAndPayReward moves a PENDING reward to PAID and credits the
// beneficiary's account in one transaction.
func (s *ReferralService) ApproveAndPayReward(ctx context.Context, rewardID, approvedBy string) ApprovalResult {
	ctx, span := s.tracer.Start(ctx, "ReferralService.ApproveAndPayReward",
		trace.WithAttributes(attribute.String("reward.id", rewardID)))
	defer span.End()

	reward, err := s.repo.GetReward(ctx, rewardID)
	if errors.Is(err, store.ErrNotFound) {
		return ApprovalResult{Error: MsgInvalidReward}
	}
	if err != nil {
		return s.approvalFailed(span, rewardID, fmt.Errorf("lookup reward: %w", err))
	}
	if reward.Status != domain.RewardPending {
		return ApprovalResult{Error: MsgInvalidReward}
	}

	// 1. Resolve the credited account outside the transaction
	account, err := s.repo.GetOrCreateAccount(ctx, reward.UserID, reward.Currency)
	if err != nil {
		return s.approvalFailed(span, rewardID, fmt.Errorf("resolve account: %w", err))
	}

	var (
		paid  *domain.Reward
		entry *domain.LedgerEntry
	)
	err = s.repo.InTx(ctx, func(tx store.Repository) error {
		// 2. Lock the reward and re-check its state; only one approver sees PENDING
		locked, err := tx.GetRewardForUpdate(ctx, rewardID)
		if err != nil {
			return fmt.Errorf("lock reward: %w", err)
		}
		if locked.Status != domain.RewardPending {
			return errRewardNotPending
		}

		now := s.now()
		locked.Status = domain.RewardApproved
		locked.AccountID = &account.ID
		locked.ApprovedBy = &approvedBy
		locked.ApprovedAt = &now
		if err := tx.UpdateReward(ctx, locked); err != nil {
			return fmt.Errorf("approve reward: %w", err)
		}

		// 3. Lock the account and credit it
		acc, err := tx.GetAccountForUpdate(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		newBalance := acc.Balance.Add(locked.Amount)
		if err := tx.UpdateAccountBalance(ctx, acc.ID, newBalance); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		// 4. Ledger entry records the balance right after the credit
		entry = &domain.LedgerEntry{
			AccountID:    acc.ID,
			Amount:       locked.Amount,
			BalanceAfter: newBalance,
			Type:         domain.EntryCredit,
			Description:  fmt.Sprintf("Referral reward %s (%s)", locked.RewardType, locked.Tier),
			ReferenceID:  locked.ID,
		}
		if err := tx.CreateLedgerEntry(ctx, entry); err != nil {
			return fmt.Errorf("ledger entry failed: %w", err)
		}

		// 5. Finalize
		locked.Status = domain.RewardPaid
		locked.PaidAt = &now
		if err := tx.UpdateReward(ctx, locked); err != nil {
			return fmt.Errorf("mark reward paid: %w", err)
		}
		paid = locked
		return nil
	})
	if errors.Is(err, errRewardNotPending) {
		return ApprovalResult{Error: MsgInvalidReward}
	}
	if err != nil {
		return s.approvalFailed(span, rewardID, err)
	}

	rewardsPaid.WithLabelValues(paid.Currency).Inc()
	s.invalidateStats(ctx, paid.UserID)
	s.log.Info("reward paid",
		zap.String("reward_id", paid.ID),
		zap.String("user_id", paid.UserID),
		zap.String("approved_by", approvedBy),
		zap.String("amount", paid.Amount.String()),
		zap.String("balance_after", entry.BalanceAfter.String()))

	return ApprovalResult{Success: true, Reward: paid, LedgerEntry: entry}
}

func (s *ReferralService) approvalFailed(span trace.Span, rewardID string, err error) ApprovalResult {
	span.RecordError(err)
	span.SetStatus(codes.Error, "approval failed")
	s.log.Error("failed to approve reward", zap.String("reward_id", rewardID), zap.Error(err))
	return ApprovalResult{Error: MsgApprovalFailed}
}
