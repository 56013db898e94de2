package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/referralops/internal/cache"
	"github.com/punchamoorthee/referralops/internal/domain"
	"github.com/punchamoorthee/referralops/internal/store"
)

// ── helpers ──

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...Option) (*ReferralService, *store.Memory) {
	t.Helper()
	repo := store.NewMemory()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewReferralService(repo, zap.NewNop(), opts...), repo
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func seedSignupCampaign(t *testing.T, repo store.Repository) *domain.Campaign {
	t.Helper()
	c := &domain.Campaign{
		Name:            "launch",
		IsActive:        true,
		StartDate:       testNow.Add(-24 * time.Hour),
		SignupBonus:     nullDec("10"),
		SignupCurrency:  "USD",
		Tier2Percentage: nullDec("50"),
		Tier3Percentage: nullDec("25"),
	}
	require.NoError(t, repo.CreateCampaign(context.Background(), c))
	return c
}

func seedFirstTxCampaign(t *testing.T, repo store.Repository, minAmount string) *domain.Campaign {
	t.Helper()
	c := &domain.Campaign{
		Name:            "first-tx",
		IsActive:        true,
		StartDate:       testNow.Add(-24 * time.Hour),
		FirstTxBonus:    nullDec("20"),
		FirstTxCurrency: "USD",
	}
	if minAmount != "" {
		c.FirstTxMinAmount = nullDec(minAmount)
	}
	require.NoError(t, repo.CreateCampaign(context.Background(), c))
	return c
}

// refer makes referrer's code and attributes referred to it.
func refer(t *testing.T, svc *ReferralService, referrer, referred string) {
	t.Helper()
	ctx := context.Background()
	code, err := svc.GenerateReferralCode(ctx, referrer)
	require.NoError(t, err)
	res := svc.ProcessReferral(ctx, referred, code)
	require.True(t, res.Success, "refer %s -> %s: %s", referrer, referred, res.Error)
}

func rewardsFor(t *testing.T, repo store.Repository, userID string) []domain.Reward {
	t.Helper()
	rewards, err := repo.ListRewards(context.Background(), domain.RewardFilter{UserID: userID})
	require.NoError(t, err)
	return rewards
}

// ── code issuance ──

func TestGenerateReferralCode_Idempotent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	first, err := svc.GenerateReferralCode(ctx, "alice")
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9A-F]{8}$`, first)

	second, err := svc.GenerateReferralCode(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	rc, err := repo.GetReferralCodeByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first, rc.Code)
	assert.True(t, rc.IsActive)
}

func TestGenerateReferralCode_RetriesOnCollision(t *testing.T) {
	draws := []string{"DEADBEEF", "DEADBEEF", "CAFEBABE"}
	gen := func() (string, error) {
		c := draws[0]
		draws = draws[1:]
		return c, nil
	}
	svc, _ := newTestService(t, WithCodeGenerator(gen))
	ctx := context.Background()

	first, err := svc.GenerateReferralCode(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "DEADBEEF", first)

	second, err := svc.GenerateReferralCode(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "CAFEBABE", second)
}

func TestGenerateReferralCode_Exhausted(t *testing.T) {
	calls := 0
	gen := func() (string, error) {
		calls++
		return "DEADBEEF", nil
	}
	svc, _ := newTestService(t, WithCodeGenerator(gen))
	ctx := context.Background()

	_, err := svc.GenerateReferralCode(ctx, "alice")
	require.NoError(t, err)
	calls = 0

	_, err = svc.GenerateReferralCode(ctx, "bob")
	assert.ErrorIs(t, err, ErrCodeGenerationExhausted)
	assert.Equal(t, maxCodeAttempts, calls)
}

func TestGenerateReferralCode_GeneratorError(t *testing.T) {
	boom := errors.New("entropy unavailable")
	svc, _ := newTestService(t, WithCodeGenerator(func() (string, error) { return "", boom }))

	_, err := svc.GenerateReferralCode(context.Background(), "alice")
	assert.ErrorIs(t, err, boom)
}

// ── attribution ──

func TestProcessReferral_Rejections(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	code, err := svc.GenerateReferralCode(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, repo.CreateReferralCode(ctx, &domain.ReferralCode{UserID: "carol", Code: "0FF0FF00", IsActive: false}))

	tests := []struct {
		name     string
		referred string
		code     string
		want     string
	}{
		{name: "unknown code", referred: "bob", code: "00000000", want: MsgInvalidCode},
		{name: "inactive code", referred: "bob", code: "0FF0FF00", want: MsgInvalidCode},
		{name: "self referral", referred: "alice", code: code, want: MsgSelfReferral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.ProcessReferral(ctx, tt.referred, tt.code)
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Error)
		})
	}

	_, err = repo.GetReferralByReferred(ctx, "bob")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessReferral_SecondReferrerRejected(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	refer(t, svc, "alice", "bob")

	code, err := svc.GenerateReferralCode(ctx, "carol")
	require.NoError(t, err)

	res := svc.ProcessReferral(ctx, "bob", code)
	assert.False(t, res.Success)
	assert.Equal(t, MsgAlreadyReferred, res.Error)

	ref, err := repo.GetReferralByReferred(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", ref.ReferrerID)
}

func TestProcessReferral_ConcurrentSingleWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const referrers = 8
	codes := make([]string, referrers)
	for i := range codes {
		c, err := svc.GenerateReferralCode(ctx, string(rune('a'+i)))
		require.NoError(t, err)
		codes[i] = c
	}

	results := make([]ReferralResult, referrers)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.ProcessReferral(ctx, "target", codes[i])
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r.Success {
			wins++
			continue
		}
		assert.Equal(t, MsgAlreadyReferred, r.Error)
	}
	assert.Equal(t, 1, wins)
}

func TestProcessReferral_IncrementsUsageAndCreatesTier1Reward(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	seedSignupCampaign(t, repo)

	code, err := svc.GenerateReferralCode(ctx, "alice")
	require.NoError(t, err)

	res := svc.ProcessReferral(ctx, "bob", code)
	require.True(t, res.Success)
	assert.Equal(t, "alice", res.ReferrerID)

	rc, err := repo.GetReferralCodeByUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, rc.UsageCount)

	rewards := rewardsFor(t, repo, "alice")
	require.Len(t, rewards, 1)
	assert.Equal(t, domain.RewardSignupBonus, rewards[0].RewardType)
	assert.Equal(t, domain.Tier1, rewards[0].Tier)
	assert.Equal(t, domain.RewardPending, rewards[0].Status)
	assert.Equal(t, "USD", rewards[0].Currency)
	assert.True(t, rewards[0].Amount.Equal(dec("10")))
}

func TestProcessReferral_NoCampaignStillAttributes(t *testing.T) {
	svc, repo := newTestService(t)
	refer(t, svc, "alice", "bob")

	assert.Empty(t, rewardsFor(t, repo, "alice"))
}

// ── cascade ──

func TestCascade_ThreeTierScenario(t *testing.T) {
	svc, repo := newTestService(t)
	seedSignupCampaign(t, repo)

	refer(t, svc, "A", "B")
	refer(t, svc, "B", "C")

	before := map[string]int{}
	for _, u := range []string{"A", "B", "C"} {
		before[u] = len(rewardsFor(t, repo, u))
	}

	refer(t, svc, "C", "D")

	latest := func(user string) domain.Reward {
		rewards := rewardsFor(t, repo, user)
		require.Len(t, rewards, before[user]+1, "user %s", user)
		return rewards[0]
	}

	c := latest("C")
	assert.Equal(t, domain.Tier1, c.Tier)
	assert.True(t, c.Amount.Equal(dec("10")))

	b := latest("B")
	assert.Equal(t, domain.Tier2, b.Tier)
	assert.True(t, b.Amount.Equal(dec("5")), b.Amount.String())

	a := latest("A")
	assert.Equal(t, domain.Tier3, a.Tier)
	assert.True(t, a.Amount.Equal(dec("2.50")), a.Amount.String())
	assert.Equal(t, "USD", a.Currency)
}

func TestCascade_FourthAncestorNeverRewarded(t *testing.T) {
	svc, repo := newTestService(t)
	seedSignupCampaign(t, repo)

	refer(t, svc, "Z", "A")
	refer(t, svc, "A", "B")
	refer(t, svc, "B", "C")

	zBefore := len(rewardsFor(t, repo, "Z"))
	refer(t, svc, "C", "D")

	assert.Len(t, rewardsFor(t, repo, "Z"), zBefore)
}

func TestCascade_StopsWhenTierPercentageUnset(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateCampaign(ctx, &domain.Campaign{
		Name:            "no-tier3",
		IsActive:        true,
		StartDate:       testNow.Add(-time.Hour),
		SignupBonus:     nullDec("10"),
		SignupCurrency:  "USD",
		Tier2Percentage: nullDec("50"),
	}))

	refer(t, svc, "A", "B")
	refer(t, svc, "B", "C")
	aBefore := len(rewardsFor(t, repo, "A"))

	refer(t, svc, "C", "D")

	assert.Len(t, rewardsFor(t, repo, "A"), aBefore)
	bRewards := rewardsFor(t, repo, "B")
	assert.Equal(t, domain.Tier2, bRewards[0].Tier)
}

func TestCascade_TierRewardsAreFlatNotCompounded(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateCampaign(ctx, &domain.Campaign{
		Name:            "flat",
		IsActive:        true,
		StartDate:       testNow.Add(-time.Hour),
		SignupBonus:     nullDec("40"),
		SignupCurrency:  "EUR",
		Tier2Percentage: nullDec("10"),
		Tier3Percentage: nullDec("10"),
	}))

	refer(t, svc, "A", "B")
	refer(t, svc, "B", "C")
	refer(t, svc, "C", "D")

	// 10% of 40 at both tiers, not 10% of 4.
	assert.True(t, rewardsFor(t, repo, "A")[0].Amount.Equal(dec("4")))
	assert.True(t, rewardsFor(t, repo, "B")[0].Amount.Equal(dec("4")))
}

// ── first transaction ──

func TestProcessFirstTransaction_MinimumGate(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	seedFirstTxCampaign(t, repo, "50")
	refer(t, svc, "alice", "bob")

	assert.Equal(t, OutcomeBelowMinimum, svc.ProcessFirstTransaction(ctx, "bob", dec("49.99"), "USD"))
	assert.Empty(t, rewardsFor(t, repo, "alice"))

	assert.Equal(t, OutcomeRewarded, svc.ProcessFirstTransaction(ctx, "bob", dec("50.00"), "USD"))
	rewards := rewardsFor(t, repo, "alice")
	require.Len(t, rewards, 1)
	assert.Equal(t, domain.RewardFirstTransaction, rewards[0].RewardType)
	assert.Equal(t, domain.Tier1, rewards[0].Tier)
	assert.True(t, rewards[0].Amount.Equal(dec("20")))
}

func TestProcessFirstTransaction_Idempotent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	seedFirstTxCampaign(t, repo, "")
	refer(t, svc, "alice", "bob")

	assert.Equal(t, OutcomeRewarded, svc.ProcessFirstTransaction(ctx, "bob", dec("100"), "USD"))
	assert.Equal(t, OutcomeAlreadyProcessed, svc.ProcessFirstTransaction(ctx, "bob", dec("100"), "USD"))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.ProcessFirstTransaction(ctx, "bob", dec("100"), "USD")
		}()
	}
	wg.Wait()

	assert.Len(t, rewardsFor(t, repo, "alice"), 1)

	ref, err := repo.GetReferralByReferred(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, ref.FirstTransactionAt)
	assert.True(t, ref.FirstTransactionAt.Equal(testNow))
}

func TestProcessFirstTransaction_NoOps(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	assert.Equal(t, OutcomeNoReferral, svc.ProcessFirstTransaction(ctx, "stranger", dec("10"), "USD"))

	refer(t, svc, "alice", "bob")
	assert.Equal(t, OutcomeNoBonus, svc.ProcessFirstTransaction(ctx, "bob", dec("10"), "USD"))

	ref, err := repo.GetReferralByReferred(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, ref.FirstTransactionAt)
}

func TestProcessFirstTransaction_FallsBackToTransactionCurrency(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateCampaign(ctx, &domain.Campaign{
		Name:         "no-currency",
		IsActive:     true,
		StartDate:    testNow.Add(-time.Hour),
		FirstTxBonus: nullDec("3"),
	}))
	refer(t, svc, "alice", "bob")

	require.Equal(t, OutcomeRewarded, svc.ProcessFirstTransaction(ctx, "bob", dec("1"), "INR"))
	assert.Equal(t, "INR", rewardsFor(t, repo, "alice")[0].Currency)
}

// ── queries ──

func TestValidateReferralCode(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	past := testNow.Add(-time.Minute)
	future := testNow.Add(time.Hour)

	require.NoError(t, repo.CreateReferralCode(ctx, &domain.ReferralCode{UserID: "u1", Code: "AAAAAAAA", IsActive: true}))
	require.NoError(t, repo.CreateReferralCode(ctx, &domain.ReferralCode{UserID: "u2", Code: "BBBBBBBB", IsActive: false, ExpiresAt: &past}))
	require.NoError(t, repo.CreateReferralCode(ctx, &domain.ReferralCode{UserID: "u3", Code: "CCCCCCCC", IsActive: true, ExpiresAt: &past}))
	require.NoError(t, repo.CreateReferralCode(ctx, &domain.ReferralCode{UserID: "u4", Code: "DDDDDDDD", IsActive: true, ExpiresAt: &future}))

	tests := []struct {
		code string
		want ValidationResult
	}{
		{"AAAAAAAA", ValidationResult{Valid: true}},
		{"BBBBBBBB", ValidationResult{Error: MsgCodeInactive}},
		{"CCCCCCCC", ValidationResult{Error: MsgCodeExpired}},
		{"DDDDDDDD", ValidationResult{Valid: true}},
		{"ZZZZZZZZ", ValidationResult{Error: MsgInvalidCode}},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, svc.ValidateReferralCode(ctx, tt.code))
		})
	}
}

func TestGetUserReferralStats_ZeroEarned(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	seedSignupCampaign(t, repo)
	require.NoError(t, repo.UpsertUser(ctx, domain.UserProfile{ID: "bob", FirstName: "Bob"}))
	refer(t, svc, "alice", "bob")

	stats, err := svc.GetUserReferralStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalReferrals)
	assert.Equal(t, 1, stats.ActiveReferrals)
	assert.Equal(t, 1, stats.TotalRewards)
	assert.True(t, stats.TotalEarned.Equal(decimal.Zero))
	assert.Equal(t, "0", stats.TotalEarned.String())
	require.Len(t, stats.Referrals, 1)
	require.NotNil(t, stats.Referrals[0].ReferredUser)
	assert.Equal(t, "Bob", stats.Referrals[0].ReferredUser.FirstName)
}

func TestGetUserReferralStats_CacheEvictedOnReferral(t *testing.T) {
	c := cache.NewInMemoryCache()
	svc, _ := newTestService(t, WithCache(c, time.Hour))
	ctx := context.Background()

	_, err := svc.GenerateReferralCode(ctx, "alice")
	require.NoError(t, err)

	stats, err := svc.GetUserReferralStats(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalReferrals)

	_, err = c.Get(ctx, statsKeyPrefix+"alice")
	require.NoError(t, err)

	refer(t, svc, "alice", "bob")

	stats, err = svc.GetUserReferralStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalReferrals)
}

// stallingRepo parks the first RewardTotals call until release is closed.
type stallingRepo struct {
	*store.Memory
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *stallingRepo) RewardTotals(ctx context.Context, userID string) (int, decimal.Decimal, error) {
	r.once.Do(func() {
		close(r.entered)
		<-r.release
	})
	return r.Memory.RewardTotals(ctx, userID)
}

func TestGetUserReferralStats_StaleReadNotCached(t *testing.T) {
	c := cache.NewInMemoryCache()
	repo := &stallingRepo{Memory: store.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewReferralService(repo, zap.NewNop(), WithClock(func() time.Time { return testNow }), WithCache(c, time.Hour))
	ctx := context.Background()

	_, err := svc.GenerateReferralCode(ctx, "alice")
	require.NoError(t, err)

	done := make(chan *domain.ReferralStats)
	go func() {
		stats, err := svc.GetUserReferralStats(ctx, "alice")
		assert.NoError(t, err)
		done <- stats
	}()

	<-repo.entered
	refer(t, svc, "alice", "bob")
	close(repo.release)

	stale := <-done
	require.NotNil(t, stale)
	assert.Zero(t, stale.TotalReferrals)

	_, err = c.Get(ctx, statsKeyPrefix+"alice")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	fresh, err := svc.GetUserReferralStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.TotalReferrals)
}
