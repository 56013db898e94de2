package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/referralops/internal/domain"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the pgx-backed Repository. The zero value is not usable; use NewPostgres.
type Postgres struct {
	pool *pgxpool.Pool
	db   dbtx
	inTx bool
}

var _ Repository = (*Postgres)(nil)

func NewPostgres(ctx context.Context, connString string, maxConns int32) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{pool: pool, db: pool}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn in a READ COMMITTED transaction. Row locks taken through the
// *ForUpdate methods serialize concurrent writers of the same rows.
func (s *Postgres) InTx(ctx context.Context, fn func(tx Repository) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Postgres{pool: s.pool, db: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", mapErr(err))
	}
	return nil
}

// mapErr converts driver errors into the package sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &ConflictError{Constraint: pgErr.ConstraintName}
	}
	return err
}

// ── referral codes ──

const codeColumns = "id, user_id, code, is_active, expires_at, usage_count, created_at"

func scanCode(row pgx.Row) (*domain.ReferralCode, error) {
	var rc domain.ReferralCode
	err := row.Scan(&rc.ID, &rc.UserID, &rc.Code, &rc.IsActive, &rc.ExpiresAt, &rc.UsageCount, &rc.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &rc, nil
}

func (s *Postgres) GetReferralCodeByUser(ctx context.Context, userID string) (*domain.ReferralCode, error) {
	return scanCode(s.db.QueryRow(ctx, "SELECT "+codeColumns+" FROM referral_codes WHERE user_id = $1", userID))
}

func (s *Postgres) GetReferralCodeByCode(ctx context.Context, code string) (*domain.ReferralCode, error) {
	return scanCode(s.db.QueryRow(ctx, "SELECT "+codeColumns+" FROM referral_codes WHERE code = $1", code))
}

func (s *Postgres) CreateReferralCode(ctx context.Context, rc *domain.ReferralCode) error {
	if rc.ID == "" {
		rc.ID = uuid.NewString()
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO referral_codes (id, user_id, code, is_active, expires_at, usage_count)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		rc.ID, rc.UserID, rc.Code, rc.IsActive, rc.ExpiresAt, rc.UsageCount,
	).Scan(&rc.CreatedAt)
	return mapErr(err)
}

func (s *Postgres) IncrementCodeUsage(ctx context.Context, codeID string) error {
	tag, err := s.db.Exec(ctx, "UPDATE referral_codes SET usage_count = usage_count + 1 WHERE id = $1", codeID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ── referrals ──

const referralColumns = "id, referrer_id, referred_id, referral_code_id, tier, is_active, first_transaction_at, created_at"

func scanReferral(row pgx.Row) (*domain.Referral, error) {
	var r domain.Referral
	err := row.Scan(&r.ID, &r.ReferrerID, &r.ReferredID, &r.ReferralCodeID, &r.Tier, &r.IsActive, &r.FirstTransactionAt, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (s *Postgres) CreateReferral(ctx context.Context, r *domain.Referral) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO referrals (id, referrer_id, referred_id, referral_code_id, tier, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		r.ID, r.ReferrerID, r.ReferredID, r.ReferralCodeID, r.Tier, r.IsActive,
	).Scan(&r.CreatedAt)
	return mapErr(err)
}

func (s *Postgres) GetReferralByReferred(ctx context.Context, referredID string) (*domain.Referral, error) {
	return scanReferral(s.db.QueryRow(ctx, "SELECT "+referralColumns+" FROM referrals WHERE referred_id = $1", referredID))
}

func (s *Postgres) GetActiveReferralByReferred(ctx context.Context, referredID string) (*domain.Referral, error) {
	return scanReferral(s.db.QueryRow(ctx,
		"SELECT "+referralColumns+" FROM referrals WHERE referred_id = $1 AND is_active", referredID))
}

func (s *Postgres) MarkFirstTransaction(ctx context.Context, referralID string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		"UPDATE referrals SET first_transaction_at = $2 WHERE id = $1 AND first_transaction_at IS NULL",
		referralID, at)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) ListReferralsByReferrer(ctx context.Context, referrerID string) ([]domain.ReferralView, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.referrer_id, r.referred_id, r.referral_code_id, r.tier, r.is_active,
		       r.first_transaction_at, r.created_at,
		       u.id, u.first_name, u.last_name, u.email, u.created_at
		FROM referrals r
		LEFT JOIN users u ON u.id = r.referred_id
		WHERE r.referrer_id = $1
		ORDER BY r.created_at DESC`, referrerID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	views := []domain.ReferralView{}
	for rows.Next() {
		var v domain.ReferralView
		var uid, first, last, email *string
		var ucreated *time.Time
		if err := rows.Scan(&v.ID, &v.ReferrerID, &v.ReferredID, &v.ReferralCodeID, &v.Tier, &v.IsActive,
			&v.FirstTransactionAt, &v.CreatedAt, &uid, &first, &last, &email, &ucreated); err != nil {
			return nil, fmt.Errorf("scan referral: %w", err)
		}
		if uid != nil {
			v.ReferredUser = &domain.UserProfile{ID: *uid, FirstName: deref(first), LastName: deref(last), Email: deref(email)}
			if ucreated != nil {
				v.ReferredUser.CreatedAt = *ucreated
			}
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ── campaigns ──

const campaignColumns = `id, name, is_active, start_date, end_date, signup_bonus, signup_currency,
	tier2_percentage, tier3_percentage, first_tx_bonus, first_tx_currency, first_tx_min_amount, created_at`

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	var c domain.Campaign
	err := row.Scan(&c.ID, &c.Name, &c.IsActive, &c.StartDate, &c.EndDate, &c.SignupBonus, &c.SignupCurrency,
		&c.Tier2Percentage, &c.Tier3Percentage, &c.FirstTxBonus, &c.FirstTxCurrency, &c.FirstTxMinAmount, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Postgres) GetActiveCampaign(ctx context.Context, at time.Time) (*domain.Campaign, error) {
	return scanCampaign(s.db.QueryRow(ctx, `
		SELECT `+campaignColumns+`
		FROM referral_campaigns
		WHERE is_active AND start_date <= $1 AND (end_date IS NULL OR end_date >= $1)
		ORDER BY created_at DESC
		LIMIT 1`, at))
}

func (s *Postgres) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO referral_campaigns (id, name, is_active, start_date, end_date, signup_bonus, signup_currency,
			tier2_percentage, tier3_percentage, first_tx_bonus, first_tx_currency, first_tx_min_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`,
		c.ID, c.Name, c.IsActive, c.StartDate, c.EndDate, c.SignupBonus, c.SignupCurrency,
		c.Tier2Percentage, c.Tier3Percentage, c.FirstTxBonus, c.FirstTxCurrency, c.FirstTxMinAmount,
	).Scan(&c.CreatedAt)
	return mapErr(err)
}

func (s *Postgres) ListCampaigns(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := s.db.Query(ctx, "SELECT "+campaignColumns+" FROM referral_campaigns ORDER BY created_at DESC")
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	campaigns := []domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// ── rewards ──

const rewardColumns = `id, referral_id, user_id, reward_type, amount, currency, tier, status,
	account_id, approved_by, approved_at, paid_at, created_at`

func scanReward(row pgx.Row) (*domain.Reward, error) {
	var r domain.Reward
	err := row.Scan(&r.ID, &r.ReferralID, &r.UserID, &r.RewardType, &r.Amount, &r.Currency, &r.Tier, &r.Status,
		&r.AccountID, &r.ApprovedBy, &r.ApprovedAt, &r.PaidAt, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (s *Postgres) CreateReward(ctx context.Context, r *domain.Reward) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO referral_rewards (id, referral_id, user_id, reward_type, amount, currency, tier, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		r.ID, r.ReferralID, r.UserID, r.RewardType, r.Amount, r.Currency, r.Tier, r.Status,
	).Scan(&r.CreatedAt)
	return mapErr(err)
}

func (s *Postgres) GetReward(ctx context.Context, id string) (*domain.Reward, error) {
	return scanReward(s.db.QueryRow(ctx, "SELECT "+rewardColumns+" FROM referral_rewards WHERE id = $1", id))
}

func (s *Postgres) GetRewardForUpdate(ctx context.Context, id string) (*domain.Reward, error) {
	return scanReward(s.db.QueryRow(ctx, "SELECT "+rewardColumns+" FROM referral_rewards WHERE id = $1 FOR UPDATE", id))
}

func (s *Postgres) UpdateReward(ctx context.Context, r *domain.Reward) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE referral_rewards
		SET status = $2, account_id = $3, approved_by = $4, approved_at = $5, paid_at = $6
		WHERE id = $1`,
		r.ID, r.Status, r.AccountID, r.ApprovedBy, r.ApprovedAt, r.PaidAt)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListRewards(ctx context.Context, f domain.RewardFilter) ([]domain.Reward, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}

	query := "SELECT " + rewardColumns + " FROM referral_rewards"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	rewards := []domain.Reward{}
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, *r)
	}
	return rewards, rows.Err()
}

func (s *Postgres) RewardTotals(ctx context.Context, userID string) (int, decimal.Decimal, error) {
	var (
		count int
		paid  decimal.Decimal
	)
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount) FILTER (WHERE status = 'PAID'), 0)
		FROM referral_rewards WHERE user_id = $1`, userID).Scan(&count, &paid)
	if err != nil {
		return 0, decimal.Zero, mapErr(err)
	}
	return count, paid, nil
}

// ── accounts and ledger ──

const accountColumns = "id, user_id, currency, balance, created_at"

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.UserID, &a.Currency, &a.Balance, &a.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

// GetOrCreateAccount inserts a zero-balance account when none exists. Concurrent
// callers for the same (user, currency) converge on one row.
func (s *Postgres) GetOrCreateAccount(ctx context.Context, userID, currency string) (*domain.Account, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (id, user_id, currency, balance) VALUES ($1, $2, $3, 0)
		ON CONFLICT ON CONSTRAINT accounts_user_id_currency_key DO NOTHING`,
		uuid.NewString(), userID, currency)
	if err != nil {
		return nil, mapErr(err)
	}
	return scanAccount(s.db.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE user_id = $1 AND currency = $2", userID, currency))
}

func (s *Postgres) GetAccountForUpdate(ctx context.Context, id string) (*domain.Account, error) {
	return scanAccount(s.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", id))
}

func (s *Postgres) UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	tag, err := s.db.Exec(ctx, "UPDATE accounts SET balance = $2 WHERE id = $1", id, balance)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, amount, balance_after, type, description, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		e.ID, e.AccountID, e.Amount, e.BalanceAfter, e.Type, e.Description, e.ReferenceID,
	).Scan(&e.CreatedAt)
	return mapErr(err)
}

func (s *Postgres) ListLedgerEntries(ctx context.Context, accountID string) ([]domain.LedgerEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, account_id, amount, balance_after, type, description, reference_id, created_at
		FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.BalanceAfter, &e.Type, &e.Description,
			&e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ── users ──

func (s *Postgres) UpsertUser(ctx context.Context, u domain.UserProfile) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, email, first_name, last_name) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email,
			first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name`,
		u.ID, u.Email, u.FirstName, u.LastName)
	return mapErr(err)
}
