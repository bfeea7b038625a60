package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/sms-campaign-dispatch/internal/repository"
)

// MessageLog persists per-recipient send attempt records in Scylla. The log
// is append-only; the row for a recipient's latest attempt supersedes earlier
// ones at read time.
type MessageLog struct {
	session *gocql.Session
}

// NewMessageLog creates a new message log.
func NewMessageLog(session *gocql.Session) *MessageLog {
	return &MessageLog{session: session}
}

// Append writes one send attempt. The campaign partition is bucketed by day
// so high-volume campaigns do not produce unbounded partitions.
func (s *MessageLog) Append(ctx context.Context, record repository.MessageRecord) error {
	bucket := bucketDate(record.OccurredAt)
	if err := s.session.Query(`INSERT INTO messages_by_campaign (campaign_id, bucket, client_id, attempt, phone_number, status, message_id, error, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.CampaignID.String(), bucket, record.ClientID.String(), record.Attempt,
		record.PhoneNumber, record.Status, record.MessageID, record.Error, record.OccurredAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("message log: insert messages_by_campaign: %w", err)
	}

	if err := s.session.Query(`INSERT INTO message_attempts (client_id, campaign_id, attempt, status, message_id, error, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ClientID.String(), record.CampaignID.String(), record.Attempt,
		record.Status, record.MessageID, record.Error, record.OccurredAt,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("message log: insert message_attempts: %w", err)
	}

	return nil
}

// ListByCampaign lists attempt records for a campaign with pagination. The
// returned paging state resumes the scan on the next call.
func (s *MessageLog) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]repository.MessageRecord, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT client_id, attempt, phone_number, status, message_id, error, occurred_at
		FROM messages_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	records := make([]repository.MessageRecord, 0, limit)

	var (
		clientIDStr string
		attempt     int
		phone       string
		status      string
		messageID   string
		errMsg      string
		occurredAt  time.Time
	)

	for iter.Scan(&clientIDStr, &attempt, &phone, &status, &messageID, &errMsg, &occurredAt) {
		clientID, err := uuid.Parse(clientIDStr)
		if err != nil {
			continue
		}

		records = append(records, repository.MessageRecord{
			CampaignID:  campaignID,
			ClientID:    clientID,
			PhoneNumber: phone,
			Status:      status,
			MessageID:   messageID,
			Error:       errMsg,
			Attempt:     attempt,
			OccurredAt:  occurredAt,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("message log: iter close: %w", err)
	}

	nextState := iter.PageState()

	return records, nextState, nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
