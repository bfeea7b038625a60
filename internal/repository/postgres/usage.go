package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/internal/repository"
)

// QuotaDefaults are the limits applied when a tenant has no usage row yet for
// the billing period.
type QuotaDefaults struct {
	SmsLimit      int64
	CampaignLimit int64
}

// UsageRepository reads usage counters. All writes go through reserveUsage,
// which runs inside the campaign repository's transactions.
type UsageRepository struct {
	db       *sqlx.DB
	defaults QuotaDefaults
}

// NewUsageRepository constructs the repository.
func NewUsageRepository(db *sqlx.DB, defaults QuotaDefaults) *UsageRepository {
	return &UsageRepository{db: db, defaults: defaults}
}

// Get returns the tenant's counters for the period. Tenants without a row are
// reported at the default limits with zero consumption; the read never writes.
func (r *UsageRepository) Get(ctx context.Context, tenantID uuid.UUID, period string) (*domain.Usage, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT tenant_id, period, sms_used, sms_limit, campaigns_used, campaigns_limit, updated_at
		FROM usage_counters WHERE tenant_id = $1 AND period = $2`, tenantID, period)

	var rec usageRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return &domain.Usage{
				TenantID:       tenantID,
				Period:         period,
				SmsLimit:       r.defaults.SmsLimit,
				CampaignsLimit: r.defaults.CampaignLimit,
			}, nil
		}
		return nil, fmt.Errorf("usage repo: get: %w", err)
	}

	usage := rec.toDomain()
	return &usage, nil
}

// Reserve checks and consumes quota in its own transaction. Campaign writes
// do not use this; their reservation runs inside the campaign transaction via
// reserveUsage so the quota and the row changes commit or abort together.
func (r *UsageRepository) Reserve(ctx context.Context, tenantID uuid.UUID, period string, reserve repository.UsageReservation) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return reserveUsage(ctx, tx, tenantID, period, r.defaults, reserve)
	})
}

// reserveUsage checks and consumes quota under a row lock. The tenant's
// counter row is created lazily, then locked with FOR UPDATE so that
// concurrent reservations from the same tenant serialize here: the
// check-then-increment is atomic with the surrounding campaign write.
func reserveUsage(ctx context.Context, tx *sqlx.Tx, tenantID uuid.UUID, period string, defaults QuotaDefaults, reserve repository.UsageReservation) error {
	if reserve.SmsDelta <= 0 && reserve.CampaignDelta <= 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO usage_counters (tenant_id, period, sms_used, sms_limit, campaigns_used, campaigns_limit, updated_at)
		VALUES ($1, $2, 0, $3, 0, $4, NOW())
		ON CONFLICT (tenant_id, period) DO NOTHING`,
		tenantID, period, defaults.SmsLimit, defaults.CampaignLimit); err != nil {
		return fmt.Errorf("usage reserve: ensure row: %w", err)
	}

	row := tx.QueryRowxContext(ctx, `SELECT tenant_id, period, sms_used, sms_limit, campaigns_used, campaigns_limit, updated_at
		FROM usage_counters WHERE tenant_id = $1 AND period = $2 FOR UPDATE`, tenantID, period)

	var rec usageRecord
	if err := row.StructScan(&rec); err != nil {
		return fmt.Errorf("usage reserve: lock row: %w", err)
	}

	if rec.SmsUsed+reserve.SmsDelta > rec.SmsLimit {
		return fmt.Errorf("%w: sms allowance %d remaining, %d requested",
			repository.ErrQuotaExceeded, rec.SmsLimit-rec.SmsUsed, reserve.SmsDelta)
	}
	if rec.CampaignsUsed+reserve.CampaignDelta > rec.CampaignsLimit {
		return fmt.Errorf("%w: campaign allowance %d remaining",
			repository.ErrQuotaExceeded, rec.CampaignsLimit-rec.CampaignsUsed)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE usage_counters SET
			sms_used = sms_used + $3,
			campaigns_used = campaigns_used + $4,
			updated_at = NOW()
		WHERE tenant_id = $1 AND period = $2`,
		tenantID, period, reserve.SmsDelta, reserve.CampaignDelta); err != nil {
		return fmt.Errorf("usage reserve: increment: %w", err)
	}

	return nil
}

type usageRecord struct {
	TenantID       uuid.UUID    `db:"tenant_id"`
	Period         string       `db:"period"`
	SmsUsed        int64        `db:"sms_used"`
	SmsLimit       int64        `db:"sms_limit"`
	CampaignsUsed  int64        `db:"campaigns_used"`
	CampaignsLimit int64        `db:"campaigns_limit"`
	UpdatedAt      sql.NullTime `db:"updated_at"`
}

func (r usageRecord) toDomain() domain.Usage {
	usage := domain.Usage{
		TenantID:       r.TenantID,
		Period:         r.Period,
		SmsUsed:        r.SmsUsed,
		SmsLimit:       r.SmsLimit,
		CampaignsUsed:  r.CampaignsUsed,
		CampaignsLimit: r.CampaignsLimit,
	}
	if r.UpdatedAt.Valid {
		usage.UpdatedAt = r.UpdatedAt.Time
	}
	return usage
}
