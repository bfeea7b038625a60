package domain

import "testing"

func TestCampaignStatusEditable(t *testing.T) {
	cases := []struct {
		status CampaignStatus
		want   bool
	}{
		{CampaignStatusDraft, true},
		{CampaignStatusScheduled, true},
		{CampaignStatusSending, false},
		{CampaignStatusSent, false},
		{CampaignStatusPartiallySent, false},
		{CampaignStatusFailed, false},
	}
	for _, tc := range cases {
		if got := tc.status.Editable(); got != tc.want {
			t.Errorf("%s.Editable() = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestFilterCriteriaEmpty(t *testing.T) {
	if !(FilterCriteria{}).Empty() {
		t.Error("zero criteria must be empty")
	}
	if (FilterCriteria{CategoryIDs: nil, TagIDs: nil}).Empty() != true {
		t.Error("nil slices must be empty")
	}
}
