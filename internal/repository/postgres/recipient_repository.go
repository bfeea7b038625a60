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

// RecipientRepository implements repository.RecipientRepository using
// PostgreSQL.
type RecipientRepository struct {
	db *sqlx.DB
}

// NewRecipientRepository constructs a new repository.
func NewRecipientRepository(db *sqlx.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// PendingTargets returns recipients still awaiting a send, with phone numbers
// joined in from the client records. Ordered by client id; afterClientID
// advances a keyset scan across pages.
func (r *RecipientRepository) PendingTargets(ctx context.Context, campaignID uuid.UUID, afterClientID *uuid.UUID, limit int) ([]repository.SendTarget, error) {
	if limit <= 0 {
		limit = 500
	}

	var rows *sqlx.Rows
	var err error
	if afterClientID != nil {
		rows, err = r.db.QueryxContext(ctx, `SELECT cr.client_id, c.phone, cr.attempts
			FROM campaign_recipients cr
			JOIN clients c ON c.id = cr.client_id
			WHERE cr.campaign_id = $1 AND cr.status = $2 AND cr.client_id > $3
			ORDER BY cr.client_id ASC LIMIT $4`,
			campaignID, domain.RecipientStatusPending, *afterClientID, limit)
	} else {
		rows, err = r.db.QueryxContext(ctx, `SELECT cr.client_id, c.phone, cr.attempts
			FROM campaign_recipients cr
			JOIN clients c ON c.id = cr.client_id
			WHERE cr.campaign_id = $1 AND cr.status = $2
			ORDER BY cr.client_id ASC LIMIT $3`,
			campaignID, domain.RecipientStatusPending, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("recipient repo: pending targets: %w", err)
	}
	defer rows.Close()

	var targets []repository.SendTarget
	for rows.Next() {
		var t repository.SendTarget
		if err := rows.Scan(&t.ClientID, &t.PhoneNumber, &t.Attempts); err != nil {
			return nil, fmt.Errorf("recipient repo: scan target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recipient repo: rows err: %w", err)
	}
	return targets, nil
}

// RecordOutcome stores the result of one send attempt on the link row. The
// attempt counter only moves forward, so a redelivered outcome for an attempt
// already recorded is a no-op.
func (r *RecipientRepository) RecordOutcome(ctx context.Context, outcome repository.RecipientOutcome) error {
	res, err := r.db.ExecContext(ctx, `UPDATE campaign_recipients SET
			status = $1,
			message_id = $2,
			error = $3,
			attempts = $4,
			updated_at = $5
		WHERE campaign_id = $6 AND client_id = $7 AND attempts < $4`,
		outcome.Status, outcome.MessageID, outcome.Error, outcome.Attempt, outcome.OccurredAt,
		outcome.CampaignID, outcome.ClientID)
	if err != nil {
		return fmt.Errorf("recipient repo: record outcome: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("recipient repo: rows affected: %w", err)
	}
	return nil
}

// ListByCampaign returns recipient links for a campaign.
func (r *RecipientRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int) ([]domain.Recipient, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.db.QueryxContext(ctx, recipientSelect+`
		WHERE campaign_id = $1 ORDER BY client_id ASC LIMIT $2`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("recipient repo: list: %w", err)
	}
	defer rows.Close()

	var results []domain.Recipient
	for rows.Next() {
		var rec recipientRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("recipient repo: scan: %w", err)
		}
		results = append(results, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recipient repo: rows err: %w", err)
	}
	return results, nil
}

// Get fetches a single recipient link.
func (r *RecipientRepository) Get(ctx context.Context, campaignID, clientID uuid.UUID) (*domain.Recipient, error) {
	row := r.db.QueryRowxContext(ctx, recipientSelect+`
		WHERE campaign_id = $1 AND client_id = $2`, campaignID, clientID)

	var rec recipientRecord
	if err := row.StructScan(&rec); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("recipient repo: get: %w", err)
	}

	recipient := rec.toDomain()
	return &recipient, nil
}

const recipientSelect = `SELECT campaign_id, client_id, status, message_id, error, attempts, updated_at
	FROM campaign_recipients`

type recipientRecord struct {
	CampaignID uuid.UUID      `db:"campaign_id"`
	ClientID   uuid.UUID      `db:"client_id"`
	Status     string         `db:"status"`
	MessageID  sql.NullString `db:"message_id"`
	Error      sql.NullString `db:"error"`
	Attempts   int            `db:"attempts"`
	UpdatedAt  sql.NullTime   `db:"updated_at"`
}

func (r recipientRecord) toDomain() domain.Recipient {
	recipient := domain.Recipient{
		CampaignID: r.CampaignID,
		ClientID:   r.ClientID,
		Status:     domain.RecipientStatus(r.Status),
		Attempts:   r.Attempts,
	}
	if r.MessageID.Valid {
		id := r.MessageID.String
		recipient.MessageID = &id
	}
	if r.Error.Valid {
		msg := r.Error.String
		recipient.Error = &msg
	}
	if r.UpdatedAt.Valid {
		recipient.UpdatedAt = r.UpdatedAt.Time
	}
	return recipient
}
