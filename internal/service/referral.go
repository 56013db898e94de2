package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/punchamoorthee/referralops/internal/cache"
	"github.com/punchamoorthee/referralops/internal/domain"
	"github.com/punchamoorthee/referralops/internal/store"
)

var (
	ErrCodeGenerationExhausted = errors.New("unable to generate a unique referral code")
	ErrInvalidCampaign         = errors.New("invalid campaign")
)

const (
	maxCodeAttempts = 10
	statsKeyPrefix  = "referral:stats:"
)

// cascadeTiers lists the ancestor tiers rewarded after the direct referrer.
// Nothing beyond TIER_3 is ever paid.
var cascadeTiers = []domain.Tier{domain.Tier2, domain.Tier3}

var hundred = decimal.NewFromInt(100)

// rejection aborts a referral transaction with a message safe to return to callers.
type rejection string

func (r rejection) Error() string { return string(r) }

type ReferralService struct {
	repo     store.Repository
	log      *zap.Logger
	cache    cache.Cache
	cacheTTL time.Duration
	now      func() time.Time
	newCode  func() (string, error)
	tracer   trace.Tracer

	// statsEpoch advances on every eviction. A stats read only fills the
	// cache if no eviction happened while it was reading.
	statsEpoch atomic.Uint64
}

type Option func(*ReferralService)

func WithClock(now func() time.Time) Option {
	return func(s *ReferralService) { s.now = now }
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *ReferralService) { s.newCode = gen }
}

// WithCache caches referral stats for ttl. Writes that change a user's stats evict them.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *ReferralService) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func NewReferralService(repo store.Repository, log *zap.Logger, opts ...Option) *ReferralService {
	s := &ReferralService{
		repo:    repo,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		newCode: randomCode,
		tracer:  otel.Tracer("github.com/punchamoorthee/referralops/internal/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// randomCode returns 8 uppercase hex characters drawn from crypto/rand.
func randomCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// GenerateReferralCode returns the user's code, issuing one on first call.
func (s *ReferralService) GenerateReferralCode(ctx context.Context, userID string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "ReferralService.GenerateReferralCode",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	existing, err := s.repo.GetReferralCodeByUser(ctx, userID)
	if err == nil {
		return existing.Code, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("lookup referral code: %w", err)
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		codeGenerationAttempts.Inc()

		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("draw referral code: %w", err)
		}

		_, err = s.repo.GetReferralCodeByCode(ctx, code)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("check referral code: %w", err)
		}

		rc := &domain.ReferralCode{UserID: userID, Code: code, IsActive: true}
		err = s.repo.CreateReferralCode(ctx, rc)
		switch {
		case err == nil:
			s.log.Info("referral code issued", zap.String("user_id", userID), zap.Int("attempt", attempt))
			return rc.Code, nil
		case store.IsConflictOn(err, store.ConstraintCodeUserUnique):
			// A concurrent request issued this user's code first.
			winner, err := s.repo.GetReferralCodeByUser(ctx, userID)
			if err != nil {
				return "", fmt.Errorf("reload referral code: %w", err)
			}
			return winner.Code, nil
		case store.IsConflictOn(err, store.ConstraintCodeUnique):
			continue
		default:
			return "", fmt.Errorf("create referral code: %w", err)
		}
	}

	span.SetStatus(codes.Error, "code space exhausted")
	s.log.Error("referral code generation exhausted", zap.String("user_id", userID), zap.Int("attempts", maxCodeAttempts))
	return "", ErrCodeGenerationExhausted
}

// ProcessReferral attributes referredUserID to the owner of code and grants
// the signup rewards. It never returns an error; failures are reported in the result.
func (s *ReferralService) ProcessReferral(ctx context.Context, referredUserID, code string) ReferralResult {
	ctx, span := s.tracer.Start(ctx, "ReferralService.ProcessReferral",
		trace.WithAttributes(attribute.String("user.id", referredUserID)))
	defer span.End()

	var (
		referrerID string
		touched    []string
	)
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		rc, err := tx.GetReferralCodeByCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return rejection(MsgInvalidCode)
		}
		if err != nil {
			return fmt.Errorf("lookup code: %w", err)
		}
		if !rc.IsActive {
			return rejection(MsgInvalidCode)
		}
		if rc.UserID == referredUserID {
			return rejection(MsgSelfReferral)
		}

		_, err = tx.GetReferralByReferred(ctx, referredUserID)
		if err == nil {
			return rejection(MsgAlreadyReferred)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("lookup existing referral: %w", err)
		}

		referral := &domain.Referral{
			ReferrerID:     rc.UserID,
			ReferredID:     referredUserID,
			ReferralCodeID: rc.ID,
			Tier:           domain.Tier1,
			IsActive:       true,
		}
		if err := tx.CreateReferral(ctx, referral); err != nil {
			return fmt.Errorf("create referral: %w", err)
		}
		if err := tx.IncrementCodeUsage(ctx, rc.ID); err != nil {
			return fmt.Errorf("increment code usage: %w", err)
		}

		campaign, err := s.activeCampaign(ctx, tx)
		if err != nil {
			return err
		}

		if campaign != nil && campaign.SignupBonus.Valid && campaign.SignupBonus.Decimal.IsPositive() {
			err := s.createReward(ctx, tx, &domain.Reward{
				ReferralID: referral.ID,
				UserID:     rc.UserID,
				RewardType: domain.RewardSignupBonus,
				Amount:     campaign.SignupBonus.Decimal,
				Currency:   campaign.SignupCurrency,
				Tier:       domain.Tier1,
			})
			if err != nil {
				return err
			}
		}

		ancestors, err := s.cascade(ctx, tx, rc.UserID, campaign)
		if err != nil {
			return err
		}

		referrerID = rc.UserID
		touched = append(ancestors, rc.UserID)
		return nil
	})

	if err != nil {
		var rej rejection
		switch {
		case errors.As(err, &rej):
			referralsProcessed.WithLabelValues("rejected").Inc()
			return ReferralResult{Error: string(rej)}
		case store.IsConflictOn(err, store.ConstraintReferredUnique):
			referralsProcessed.WithLabelValues("rejected").Inc()
			return ReferralResult{Error: MsgAlreadyReferred}
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "referral failed")
			referralsProcessed.WithLabelValues("failed").Inc()
			s.log.Error("failed to process referral",
				zap.String("referred_user_id", referredUserID),
				zap.String("code", code),
				zap.Error(err))
			return ReferralResult{Error: MsgReferralFailed}
		}
	}

	referralsProcessed.WithLabelValues("success").Inc()
	s.invalidateStats(ctx, touched...)
	s.log.Info("referral processed",
		zap.String("referrer_id", referrerID),
		zap.String("referred_user_id", referredUserID))
	return ReferralResult{Success: true, ReferrerID: referrerID}
}

// cascade walks up to two ancestors above referrerID and rewards each one a
// percentage of the campaign signup bonus. Every tier is computed from the
// same base amount. It returns the users that received a reward.
func (s *ReferralService) cascade(ctx context.Context, tx store.Repository, referrerID string, campaign *domain.Campaign) ([]string, error) {
	if campaign == nil || !campaign.SignupBonus.Valid {
		return nil, nil
	}
	base := campaign.SignupBonus.Decimal

	var rewarded []string
	child := referrerID
	for _, tier := range cascadeTiers {
		parent, err := tx.GetActiveReferralByReferred(ctx, child)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("lookup %s parent: %w", tier, err)
		}

		pct := campaign.TierPercentage(tier)
		if !pct.Valid || !pct.Decimal.IsPositive() {
			break
		}

		amount := base.Mul(pct.Decimal).Div(hundred)
		if !amount.IsPositive() {
			break
		}

		err = s.createReward(ctx, tx, &domain.Reward{
			ReferralID: parent.ID,
			UserID:     parent.ReferrerID,
			RewardType: domain.RewardSignupBonus,
			Amount:     amount,
			Currency:   campaign.SignupCurrency,
			Tier:       tier,
		})
		if err != nil {
			return nil, err
		}

		rewarded = append(rewarded, parent.ReferrerID)
		child = parent.ReferrerID
	}
	return rewarded, nil
}

// createReward inserts a PENDING reward.
func (s *ReferralService) createReward(ctx context.Context, tx store.Repository, r *domain.Reward) error {
	r.Status = domain.RewardPending
	if err := tx.CreateReward(ctx, r); err != nil {
		return fmt.Errorf("create %s reward for %s: %w", r.Tier, r.UserID, err)
	}
	rewardsCreated.WithLabelValues(string(r.RewardType), string(r.Tier)).Inc()
	s.log.Info("reward created",
		zap.String("reward_id", r.ID),
		zap.String("user_id", r.UserID),
		zap.String("type", string(r.RewardType)),
		zap.String("tier", string(r.Tier)),
		zap.String("amount", r.Amount.String()),
		zap.String("currency", r.Currency))
	return nil
}

// activeCampaign returns nil without error when no campaign is running.
func (s *ReferralService) activeCampaign(ctx context.Context, repo store.Repository) (*domain.Campaign, error) {
	c, err := repo.GetActiveCampaign(ctx, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup active campaign: %w", err)
	}
	return c, nil
}

// ProcessFirstTransaction grants the first-transaction bonus to the referrer
// of userID. It is safe to call for every completed transaction: at most one
// reward is ever created per referred user, and failures are only logged.
func (s *ReferralService) ProcessFirstTransaction(ctx context.Context, userID string, amount decimal.Decimal, currency string) (outcome FirstTransactionOutcome) {
	ctx, span := s.tracer.Start(ctx, "ReferralService.ProcessFirstTransaction",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("first transaction hook panicked", zap.String("user_id", userID), zap.Any("panic", r))
			outcome = OutcomeFailed
		}
	}()

	var referrerID string
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		ref, err := tx.GetReferralByReferred(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			outcome = OutcomeNoReferral
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup referral: %w", err)
		}
		if ref.FirstTransactionAt != nil {
			outcome = OutcomeAlreadyProcessed
			return nil
		}

		campaign, err := s.activeCampaign(ctx, tx)
		if err != nil {
			return err
		}
		if campaign == nil || !campaign.FirstTxBonus.Valid || !campaign.FirstTxBonus.Decimal.IsPositive() {
			outcome = OutcomeNoBonus
			return nil
		}
		if campaign.FirstTxMinAmount.Valid && amount.LessThan(campaign.FirstTxMinAmount.Decimal) {
			outcome = OutcomeBelowMinimum
			return nil
		}

		stamped, err := tx.MarkFirstTransaction(ctx, ref.ID, s.now())
		if err != nil {
			return fmt.Errorf("stamp first transaction: %w", err)
		}
		if !stamped {
			outcome = OutcomeAlreadyProcessed
			return nil
		}

		rewardCurrency := campaign.FirstTxCurrency
		if rewardCurrency == "" {
			rewardCurrency = currency
		}
		err = s.createReward(ctx, tx, &domain.Reward{
			ReferralID: ref.ID,
			UserID:     ref.ReferrerID,
			RewardType: domain.RewardFirstTransaction,
			Amount:     campaign.FirstTxBonus.Decimal,
			Currency:   rewardCurrency,
			Tier:       domain.Tier1,
		})
		if err != nil {
			return err
		}

		referrerID = ref.ReferrerID
		outcome = OutcomeRewarded
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "first transaction failed")
		s.log.Error("failed to process first transaction",
			zap.String("user_id", userID),
			zap.String("amount", amount.String()),
			zap.String("currency", currency),
			zap.Error(err))
		return OutcomeFailed
	}

	if outcome == OutcomeRewarded {
		s.invalidateStats(ctx, referrerID)
	}
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	return outcome
}

// ValidateReferralCode checks existence, then activity, then expiry.
func (s *ReferralService) ValidateReferralCode(ctx context.Context, code string) ValidationResult {
	ctx, span := s.tracer.Start(ctx, "ReferralService.ValidateReferralCode")
	defer span.End()

	rc, err := s.repo.GetReferralCodeByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return ValidationResult{Error: MsgInvalidCode}
	}
	if err != nil {
		s.log.Error("failed to validate referral code", zap.String("code", code), zap.Error(err))
		return ValidationResult{Error: MsgValidationFailed}
	}
	if !rc.IsActive {
		return ValidationResult{Error: MsgCodeInactive}
	}
	if rc.ExpiresAt != nil && rc.ExpiresAt.Before(s.now()) {
		return ValidationResult{Error: MsgCodeExpired}
	}
	return ValidationResult{Valid: true}
}

// GetUserReferralStats aggregates the referrals and rewards of userID.
func (s *ReferralService) GetUserReferralStats(ctx context.Context, userID string) (*domain.ReferralStats, error) {
	ctx, span := s.tracer.Start(ctx, "ReferralService.GetUserReferralStats",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	key := statsKeyPrefix + userID
	epoch := s.statsEpoch.Load()
	if s.cache != nil {
		var cached domain.ReferralStats
		if err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, cache.ErrNotFound) {
			s.log.Warn("stats cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	referrals, err := s.repo.ListReferralsByReferrer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list referrals: %w", err)
	}
	rewardCount, earned, err := s.repo.RewardTotals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reward totals: %w", err)
	}

	stats := &domain.ReferralStats{
		TotalReferrals: len(referrals),
		TotalRewards:   rewardCount,
		TotalEarned:    earned,
		Referrals:      referrals,
	}
	for _, r := range referrals {
		if r.IsActive {
			stats.ActiveReferrals++
		}
	}

	if s.cache != nil && s.statsEpoch.Load() == epoch {
		if err := cache.SetJSON(ctx, s.cache, key, stats, s.cacheTTL); err != nil {
			s.log.Warn("stats cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
		// An eviction that raced the write may have run before it.
		if s.statsEpoch.Load() != epoch {
			s.invalidateStats(ctx, userID)
		}
	}
	return stats, nil
}

func (s *ReferralService) invalidateStats(ctx context.Context, userIDs ...string) {
	if s.cache == nil || len(userIDs) == 0 {
		return
	}
	s.statsEpoch.Add(1)
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = statsKeyPrefix + id
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn("stats cache eviction failed", zap.Strings("user_ids", userIDs), zap.Error(err))
	}
}
