package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/referralops/internal/domain"
)

func TestCreateCampaign_Validation(t *testing.T) {
	start := testNow
	before := start.Add(-time.Hour)

	valid := func() domain.Campaign {
		return domain.Campaign{
			Name:            "spring",
			IsActive:        true,
			StartDate:       start,
			SignupBonus:     nullDec("10"),
			SignupCurrency:  "USD",
			Tier2Percentage: nullDec("50"),
		}
	}

	tests := []struct {
		name   string
		mutate func(c *domain.Campaign)
	}{
		{"missing name", func(c *domain.Campaign) { c.Name = "" }},
		{"missing start", func(c *domain.Campaign) { c.StartDate = time.Time{} }},
		{"end before start", func(c *domain.Campaign) { c.EndDate = &before }},
		{"negative bonus", func(c *domain.Campaign) { c.SignupBonus = nullDec("-1") }},
		{"percentage over 100", func(c *domain.Campaign) { c.Tier2Percentage = nullDec("100.01") }},
		{"negative percentage", func(c *domain.Campaign) { c.Tier3Percentage = nullDec("-5") }},
		{"bonus without currency", func(c *domain.Campaign) { c.SignupCurrency = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			c := valid()
			tt.mutate(&c)
			assert.ErrorIs(t, svc.CreateCampaign(context.Background(), &c), ErrInvalidCampaign)
		})
	}

	t.Run("valid", func(t *testing.T) {
		svc, _ := newTestService(t)
		c := valid()
		require.NoError(t, svc.CreateCampaign(context.Background(), &c))
		assert.NotEmpty(t, c.ID)

		campaigns, err := svc.ListCampaigns(context.Background())
		require.NoError(t, err)
		require.Len(t, campaigns, 1)
		assert.Equal(t, "spring", campaigns[0].Name)
	})
}

func TestListRewards_FiltersByStatus(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	first := pendingReward(t, repo, "1")
	pendingReward(t, repo, "2")

	require.True(t, svc.ApproveAndPayReward(ctx, first.ID, "admin").Success)

	paid, err := svc.ListRewards(ctx, domain.RewardFilter{Status: domain.RewardPaid})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, first.ID, paid[0].ID)

	all, err := svc.ListRewards(ctx, domain.RewardFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
