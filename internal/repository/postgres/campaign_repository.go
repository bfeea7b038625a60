package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/sms-campaign-dispatch/internal/domain"
	"github.com/acme/sms-campaign-dispatch/internal/repository"
)

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db       *sqlx.DB
	defaults QuotaDefaults
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB, defaults QuotaDefaults) *CampaignRepository {
	return &CampaignRepository{db: db, defaults: defaults}
}

const campaignColumns = `id, tenant_id, name, message_content, scheduled_at, status,
	recipients_count, delivered_count, failed_count, error_message, created_at, updated_at`

// Create inserts the campaign row, attaches the recipient set, and applies the
// usage reservation, all in a single transaction. Any failure rolls back the
// whole write.
func (r *CampaignRepository) Create(ctx context.Context, campaign *domain.Campaign, recipientIDs []uuid.UUID, reserve repository.UsageReservation) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		period := domain.UsagePeriod(campaign.CreatedAt)
		if err := reserveUsage(ctx, tx, campaign.TenantID, period, r.defaults, reserve); err != nil {
			return err
		}

		q := `INSERT INTO campaigns (
			id, tenant_id, name, message_content, scheduled_at, status,
			recipients_count, delivered_count, failed_count, error_message, created_at, updated_at
		) VALUES (
			:id, :tenant_id, :name, :message_content, :scheduled_at, :status,
			:recipients_count, :delivered_count, :failed_count, :error_message, :created_at, :updated_at
		)`

		if _, err := tx.NamedExecContext(ctx, q, campaignParams(campaign)); err != nil {
			return fmt.Errorf("campaign repo: insert: %w", err)
		}

		if err := attachRecipients(ctx, tx, campaign.ID, recipientIDs, campaign.CreatedAt); err != nil {
			return err
		}

		return nil
	})
}

// Update persists row changes and synchronizes the recipient links. Added
// links are inserted, removed links deleted; untouched links keep their send
// state. The delta reservation shares the transaction. The row update is
// guarded on an editable status so a campaign picked up by the scheduler
// between read and write cannot be stomped back out of the pipeline.
func (r *CampaignRepository) Update(ctx context.Context, campaign *domain.Campaign, addIDs, removeIDs []uuid.UUID, reserve repository.UsageReservation) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		period := domain.UsagePeriod(campaign.UpdatedAt)
		if err := reserveUsage(ctx, tx, campaign.TenantID, period, r.defaults, reserve); err != nil {
			return err
		}

		q := `UPDATE campaigns SET
			name = :name,
			message_content = :message_content,
			scheduled_at = :scheduled_at,
			status = :status,
			recipients_count = :recipients_count,
			updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id
			AND status = ANY('{draft,scheduled}')`

		res, err := tx.NamedExecContext(ctx, q, campaignParams(campaign))
		if err != nil {
			return fmt.Errorf("campaign repo: update: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("campaign repo: rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: campaign %s is no longer editable", repository.ErrInvalidState, campaign.ID)
		}

		if len(removeIDs) > 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_recipients
				WHERE campaign_id = $1 AND client_id = ANY($2)`, campaign.ID, removeIDs); err != nil {
				return fmt.Errorf("campaign repo: remove recipients: %w", err)
			}
		}

		if err := attachRecipients(ctx, tx, campaign.ID, addIDs, campaign.UpdatedAt); err != nil {
			return err
		}

		return nil
	})
}

// Get fetches a campaign scoped to its owning tenant.
func (r *CampaignRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Campaign, error) {
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 AND tenant_id = $2`

	row := r.db.QueryRowxContext(ctx, q, id, tenantID)
	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign := record.toDomain()
	return &campaign, nil
}

// List returns the tenant's campaigns with keyset pagination.
func (r *CampaignRepository) List(ctx context.Context, tenantID uuid.UUID, afterID *uuid.UUID, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows *sqlx.Rows
	var err error
	if afterID != nil {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns
			WHERE tenant_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3`, tenantID, *afterID, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns
			WHERE tenant_id = $1 ORDER BY id ASC LIMIT $2`, tenantID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

// ListDue returns scheduled campaigns whose scheduled_at has passed.
func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at ASC LIMIT $3`, domain.CampaignStatusScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list due: %w", err)
	}
	defer rows.Close()

	return scanCampaigns(rows)
}

// TransitionStatus performs a guarded status change. ErrInvalidState when the
// campaign exists but is not in an allowed prior status.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, id uuid.UUID, allowed []domain.CampaignStatus, to domain.CampaignStatus) error {
	states := make([]string, 0, len(allowed))
	for _, s := range allowed {
		states = append(states, string(s))
	}

	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`, to, id, states)
	if err != nil {
		return fmt.Errorf("campaign repo: transition status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("campaign repo: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: campaign %s not in %v", repository.ErrInvalidState, id, states)
	}
	return nil
}

// ResetForRetry rearms a failed campaign: counters and error cleared, failed
// recipient links back to pending, status back to scheduled. Guarded so only
// a campaign still in failed state is touched.
func (r *CampaignRepository) ResetForRetry(ctx context.Context, id uuid.UUID) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE campaigns SET
				status = $1,
				delivered_count = 0,
				failed_count = 0,
				error_message = NULL,
				updated_at = NOW()
			WHERE id = $2 AND status = $3`,
			domain.CampaignStatusScheduled, id, domain.CampaignStatusFailed)
		if err != nil {
			return fmt.Errorf("campaign repo: reset: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("campaign repo: rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: campaign %s is not failed", repository.ErrInvalidState, id)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE campaign_recipients SET
				status = $1, error = NULL, updated_at = NOW()
			WHERE campaign_id = $2 AND status = $3`,
			domain.RecipientStatusPending, id, domain.RecipientStatusFailed); err != nil {
			return fmt.Errorf("campaign repo: reset recipients: %w", err)
		}

		return nil
	})
}

// RecipientIDs returns the attached recipient set.
func (r *CampaignRepository) RecipientIDs(ctx context.Context, campaignID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT client_id FROM campaign_recipients WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: recipient ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("campaign repo: scan recipient id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}
	return ids, nil
}

// RefreshDispatchState recomputes the delivered/failed counters from the link
// rows and, once no pending links remain, finalizes the campaign status in
// the same statement: sent (no failures), partially_sent (mixed), or failed
// (nothing delivered).
func (r *CampaignRepository) RefreshDispatchState(ctx context.Context, campaignID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE campaigns c SET
			delivered_count = s.sent,
			failed_count = s.failed,
			status = CASE
				WHEN s.pending > 0 THEN c.status
				WHEN s.sent = 0 THEN 'failed'
				WHEN s.failed = 0 THEN 'sent'
				ELSE 'partially_sent'
			END,
			error_message = CASE
				WHEN s.pending = 0 AND s.sent = 0 THEN 'all recipient sends failed'
				ELSE c.error_message
			END,
			updated_at = NOW()
		FROM (
			SELECT
				COUNT(*) FILTER (WHERE status = 'sent')    AS sent,
				COUNT(*) FILTER (WHERE status = 'failed')  AS failed,
				COUNT(*) FILTER (WHERE status = 'pending') AS pending
			FROM campaign_recipients WHERE campaign_id = $1
		) s
		WHERE c.id = $1 AND c.status = 'sending'`, campaignID)
	if err != nil {
		return fmt.Errorf("campaign repo: refresh dispatch state: %w", err)
	}
	return nil
}

func attachRecipients(ctx context.Context, tx *sqlx.Tx, campaignID uuid.UUID, clientIDs []uuid.UUID, at time.Time) error {
	if len(clientIDs) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(clientIDs))
	for _, clientID := range clientIDs {
		rows = append(rows, map[string]any{
			"campaign_id": campaignID,
			"client_id":   clientID,
			"status":      domain.RecipientStatusPending,
			"attempts":    0,
			"updated_at":  at,
		})
	}

	q := `INSERT INTO campaign_recipients (campaign_id, client_id, status, attempts, updated_at)
		VALUES (:campaign_id, :client_id, :status, :attempts, :updated_at)
		ON CONFLICT (campaign_id, client_id) DO NOTHING`

	if _, err := tx.NamedExecContext(ctx, q, rows); err != nil {
		return fmt.Errorf("campaign repo: attach recipients: %w", err)
	}
	return nil
}

func campaignParams(campaign *domain.Campaign) map[string]any {
	return map[string]any{
		"id":               campaign.ID,
		"tenant_id":        campaign.TenantID,
		"name":             campaign.Name,
		"message_content":  campaign.MessageContent,
		"scheduled_at":     campaign.ScheduledAt,
		"status":           campaign.Status,
		"recipients_count": campaign.RecipientsCount,
		"delivered_count":  campaign.DeliveredCount,
		"failed_count":     campaign.FailedCount,
		"error_message":    campaign.ErrorMessage,
		"created_at":       campaign.CreatedAt,
		"updated_at":       campaign.UpdatedAt,
	}
}

func scanCampaigns(rows *sqlx.Rows) ([]*domain.Campaign, error) {
	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign := record.toDomain()
		results = append(results, &campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}
	return results, nil
}

type campaignRecord struct {
	ID              uuid.UUID      `db:"id"`
	TenantID        uuid.UUID      `db:"tenant_id"`
	Name            string         `db:"name"`
	MessageContent  string         `db:"message_content"`
	ScheduledAt     sql.NullTime   `db:"scheduled_at"`
	Status          string         `db:"status"`
	RecipientsCount int            `db:"recipients_count"`
	DeliveredCount  int            `db:"delivered_count"`
	FailedCount     int            `db:"failed_count"`
	ErrorMessage    sql.NullString `db:"error_message"`
	CreatedAt       sql.NullTime   `db:"created_at"`
	UpdatedAt       sql.NullTime   `db:"updated_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	campaign := domain.Campaign{
		ID:              r.ID,
		TenantID:        r.TenantID,
		Name:            r.Name,
		MessageContent:  r.MessageContent,
		Status:          domain.CampaignStatus(r.Status),
		RecipientsCount: r.RecipientsCount,
		DeliveredCount:  r.DeliveredCount,
		FailedCount:     r.FailedCount,
	}
	if r.ScheduledAt.Valid {
		t := r.ScheduledAt.Time
		campaign.ScheduledAt = &t
	}
	if r.ErrorMessage.Valid {
		msg := r.ErrorMessage.String
		campaign.ErrorMessage = &msg
	}
	if r.CreatedAt.Valid {
		campaign.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		campaign.UpdatedAt = r.UpdatedAt.Time
	}
	return campaign
}
