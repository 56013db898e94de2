package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/referralops/internal/domain"
)

// Memory is an in-process Repository with the same uniqueness rules as the
// Postgres schema. Transactions run one at a time against a copy of the data
// that replaces the live copy on success.
type Memory struct {
	mu    sync.Mutex
	state *memState
	inTx  bool
}

var _ Repository = (*Memory)(nil)

type memState struct {
	seq       int64
	users     map[string]domain.UserProfile
	codes     map[string]domain.ReferralCode
	referrals map[string]domain.Referral
	campaigns map[string]memCampaign
	rewards   map[string]memReward
	accounts  map[string]domain.Account
	ledger    []domain.LedgerEntry
}

// memCampaign and memReward carry an insertion sequence so ordering is stable
// when timestamps collide.
type memCampaign struct {
	domain.Campaign
	seq int64
}

type memReward struct {
	domain.Reward
	seq int64
}

func NewMemory() *Memory {
	return &Memory{state: &memState{
		users:     map[string]domain.UserProfile{},
		codes:     map[string]domain.ReferralCode{},
		referrals: map[string]domain.Referral{},
		campaigns: map[string]memCampaign{},
		rewards:   map[string]memReward{},
		accounts:  map[string]domain.Account{},
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		seq:       s.seq,
		users:     make(map[string]domain.UserProfile, len(s.users)),
		codes:     make(map[string]domain.ReferralCode, len(s.codes)),
		referrals: make(map[string]domain.Referral, len(s.referrals)),
		campaigns: make(map[string]memCampaign, len(s.campaigns)),
		rewards:   make(map[string]memReward, len(s.rewards)),
		accounts:  make(map[string]domain.Account, len(s.accounts)),
		ledger:    append([]domain.LedgerEntry(nil), s.ledger...),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.codes {
		c.codes[k] = v
	}
	for k, v := range s.referrals {
		c.referrals[k] = v
	}
	for k, v := range s.campaigns {
		c.campaigns[k] = v
	}
	for k, v := range s.rewards {
		c.rewards[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	return c
}

func (s *memState) next() int64 {
	s.seq++
	return s.seq
}

func (m *Memory) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if m.inTx {
		return fn(m)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &Memory{state: m.state.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

// ── referral codes ──

func (m *Memory) GetReferralCodeByUser(_ context.Context, userID string) (*domain.ReferralCode, error) {
	defer m.lock()()
	for _, rc := range m.state.codes {
		if rc.UserID == userID {
			return &rc, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetReferralCodeByCode(_ context.Context, code string) (*domain.ReferralCode, error) {
	defer m.lock()()
	for _, rc := range m.state.codes {
		if rc.Code == code {
			return &rc, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateReferralCode(_ context.Context, rc *domain.ReferralCode) error {
	defer m.lock()()
	for _, existing := range m.state.codes {
		if existing.UserID == rc.UserID {
			return &ConflictError{Constraint: ConstraintCodeUserUnique}
		}
		if existing.Code == rc.Code {
			return &ConflictError{Constraint: ConstraintCodeUnique}
		}
	}
	if rc.ID == "" {
		rc.ID = uuid.NewString()
	}
	stamp(&rc.CreatedAt)
	m.state.codes[rc.ID] = *rc
	return nil
}

func (m *Memory) IncrementCodeUsage(_ context.Context, codeID string) error {
	defer m.lock()()
	rc, ok := m.state.codes[codeID]
	if !ok {
		return ErrNotFound
	}
	rc.UsageCount++
	m.state.codes[codeID] = rc
	return nil
}

// ── referrals ──

func (m *Memory) CreateReferral(_ context.Context, r *domain.Referral) error {
	defer m.lock()()
	for _, existing := range m.state.referrals {
		if existing.ReferredID == r.ReferredID {
			return &ConflictError{Constraint: ConstraintReferredUnique}
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	stamp(&r.CreatedAt)
	m.state.referrals[r.ID] = *r
	return nil
}

func (m *Memory) GetReferralByReferred(_ context.Context, referredID string) (*domain.Referral, error) {
	defer m.lock()()
	for _, r := range m.state.referrals {
		if r.ReferredID == referredID {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetActiveReferralByReferred(ctx context.Context, referredID string) (*domain.Referral, error) {
	r, err := m.GetReferralByReferred(ctx, referredID)
	if err != nil {
		return nil, err
	}
	if !r.IsActive {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *Memory) MarkFirstTransaction(_ context.Context, referralID string, at time.Time) (bool, error) {
	defer m.lock()()
	r, ok := m.state.referrals[referralID]
	if !ok || r.FirstTransactionAt != nil {
		return false, nil
	}
	r.FirstTransactionAt = &at
	m.state.referrals[referralID] = r
	return true, nil
}

func (m *Memory) ListReferralsByReferrer(_ context.Context, referrerID string) ([]domain.ReferralView, error) {
	defer m.lock()()
	views := []domain.ReferralView{}
	for _, r := range m.state.referrals {
		if r.ReferrerID != referrerID {
			continue
		}
		v := domain.ReferralView{Referral: r}
		if u, ok := m.state.users[r.ReferredID]; ok {
			v.ReferredUser = &u
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].CreatedAt.After(views[j].CreatedAt) })
	return views, nil
}

// ── campaigns ──

func (m *Memory) GetActiveCampaign(_ context.Context, at time.Time) (*domain.Campaign, error) {
	defer m.lock()()
	var best *memCampaign
	for _, c := range m.state.campaigns {
		if !c.ActiveAt(at) {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) ||
			(c.CreatedAt.Equal(best.CreatedAt) && c.seq > best.seq) {
			c := c
			best = &c
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	out := best.Campaign
	return &out, nil
}

func (m *Memory) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	defer m.lock()()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	stamp(&c.CreatedAt)
	m.state.campaigns[c.ID] = memCampaign{Campaign: *c, seq: m.state.next()}
	return nil
}

func (m *Memory) ListCampaigns(_ context.Context) ([]domain.Campaign, error) {
	defer m.lock()()
	all := make([]memCampaign, 0, len(m.state.campaigns))
	for _, c := range m.state.campaigns {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq > all[j].seq })
	out := make([]domain.Campaign, len(all))
	for i, c := range all {
		out[i] = c.Campaign
	}
	return out, nil
}

// ── rewards ──

func (m *Memory) CreateReward(_ context.Context, r *domain.Reward) error {
	defer m.lock()()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	stamp(&r.CreatedAt)
	m.state.rewards[r.ID] = memReward{Reward: *r, seq: m.state.next()}
	return nil
}

func (m *Memory) GetReward(_ context.Context, id string) (*domain.Reward, error) {
	defer m.lock()()
	r, ok := m.state.rewards[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := r.Reward
	return &out, nil
}

// GetRewardForUpdate needs no row lock here: transactions are already serial.
func (m *Memory) GetRewardForUpdate(ctx context.Context, id string) (*domain.Reward, error) {
	return m.GetReward(ctx, id)
}

func (m *Memory) UpdateReward(_ context.Context, r *domain.Reward) error {
	defer m.lock()()
	existing, ok := m.state.rewards[r.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Status = r.Status
	existing.AccountID = r.AccountID
	existing.ApprovedBy = r.ApprovedBy
	existing.ApprovedAt = r.ApprovedAt
	existing.PaidAt = r.PaidAt
	m.state.rewards[r.ID] = existing
	return nil
}

func (m *Memory) ListRewards(_ context.Context, f domain.RewardFilter) ([]domain.Reward, error) {
	defer m.lock()()
	all := []memReward{}
	for _, r := range m.state.rewards {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq > all[j].seq })
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	out := make([]domain.Reward, len(all))
	for i, r := range all {
		out[i] = r.Reward
	}
	return out, nil
}

func (m *Memory) RewardTotals(_ context.Context, userID string) (int, decimal.Decimal, error) {
	defer m.lock()()
	count, paid := 0, decimal.Zero
	for _, r := range m.state.rewards {
		if r.UserID != userID {
			continue
		}
		count++
		if r.Status == domain.RewardPaid {
			paid = paid.Add(r.Amount)
		}
	}
	return count, paid, nil
}

// ── accounts and ledger ──

func (m *Memory) GetOrCreateAccount(_ context.Context, userID, currency string) (*domain.Account, error) {
	defer m.lock()()
	for _, a := range m.state.accounts {
		if a.UserID == userID && a.Currency == currency {
			return &a, nil
		}
	}
	a := domain.Account{
		ID:        uuid.NewString(),
		UserID:    userID,
		Currency:  currency,
		Balance:   decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}
	m.state.accounts[a.ID] = a
	return &a, nil
}

func (m *Memory) GetAccountForUpdate(_ context.Context, id string) (*domain.Account, error) {
	defer m.lock()()
	a, ok := m.state.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *Memory) UpdateAccountBalance(_ context.Context, id string, balance decimal.Decimal) error {
	defer m.lock()()
	a, ok := m.state.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Balance = balance
	m.state.accounts[id] = a
	return nil
}

func (m *Memory) CreateLedgerEntry(_ context.Context, e *domain.LedgerEntry) error {
	defer m.lock()()
	if _, ok := m.state.accounts[e.AccountID]; !ok {
		return ErrNotFound
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	stamp(&e.CreatedAt)
	m.state.ledger = append(m.state.ledger, *e)
	return nil
}

func (m *Memory) ListLedgerEntries(_ context.Context, accountID string) ([]domain.LedgerEntry, error) {
	defer m.lock()()
	entries := []domain.LedgerEntry{}
	for i := len(m.state.ledger) - 1; i >= 0; i-- {
		if m.state.ledger[i].AccountID == accountID {
			entries = append(entries, m.state.ledger[i])
		}
	}
	return entries, nil
}

// ── users ──

func (m *Memory) UpsertUser(_ context.Context, u domain.UserProfile) error {
	defer m.lock()()
	stamp(&u.CreatedAt)
	m.state.users[u.ID] = u
	return nil
}
