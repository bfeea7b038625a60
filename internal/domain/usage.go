package domain

import (
	"time"

	"github.com/google/uuid"
)

// Usage holds a tenant's consumed and allowed volumes for one billing period.
type Usage struct {
	TenantID       uuid.UUID
	Period         string
	SmsUsed        int64
	SmsLimit       int64
	CampaignsUsed  int64
	CampaignsLimit int64
	UpdatedAt      time.Time
}

// SmsRemaining returns the unconsumed SMS allowance.
func (u Usage) SmsRemaining() int64 {
	if r := u.SmsLimit - u.SmsUsed; r > 0 {
		return r
	}
	return 0
}

// CampaignsRemaining returns the unconsumed campaign allowance.
func (u Usage) CampaignsRemaining() int64 {
	if r := u.CampaignsLimit - u.CampaignsUsed; r > 0 {
		return r
	}
	return 0
}

// UsagePeriod formats t as the billing period key.
func UsagePeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
