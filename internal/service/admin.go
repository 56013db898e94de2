package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/referralops/internal/domain"
)

func (s *ReferralService) ListRewards(ctx context.Context, f domain.RewardFilter) ([]domain.Reward, error) {
	rewards, err := s.repo.ListRewards(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list rewards: %w", err)
	}
	return rewards, nil
}

func (s *ReferralService) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	campaigns, err := s.repo.ListCampaigns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, nil
}

// CreateCampaign validates c and stores it. Validation failures wrap ErrInvalidCampaign.
func (s *ReferralService) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if err := validateCampaign(c); err != nil {
		return err
	}
	if err := s.repo.CreateCampaign(ctx, c); err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	s.log.Info("campaign created", zap.String("campaign_id", c.ID), zap.String("name", c.Name))
	return nil
}

func validateCampaign(c *domain.Campaign) error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCampaign)
	}
	if c.StartDate.IsZero() {
		return fmt.Errorf("%w: start_date is required", ErrInvalidCampaign)
	}
	if c.EndDate != nil && !c.EndDate.After(c.StartDate) {
		return fmt.Errorf("%w: end_date must be after start_date", ErrInvalidCampaign)
	}

	amounts := map[string]decimal.NullDecimal{
		"signup_bonus":        c.SignupBonus,
		"first_tx_bonus":      c.FirstTxBonus,
		"first_tx_min_amount": c.FirstTxMinAmount,
	}
	for name, v := range amounts {
		if v.Valid && v.Decimal.IsNegative() {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidCampaign, name)
		}
	}

	for _, tier := range cascadeTiers {
		pct := c.TierPercentage(tier)
		if pct.Valid && (pct.Decimal.IsNegative() || pct.Decimal.GreaterThan(hundred)) {
			return fmt.Errorf("%w: %s percentage must be between 0 and 100", ErrInvalidCampaign, tier)
		}
	}

	if c.SignupBonus.Valid && c.SignupCurrency == "" {
		return fmt.Errorf("%w: signup_currency is required with signup_bonus", ErrInvalidCampaign)
	}
	return nil
}
