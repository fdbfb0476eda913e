package campaign

import (
	"time"

	"gorm.io/datatypes"
)

type CampaignStatus string

const (
	CampaignStatusDraft  CampaignStatus = "DRAFT"
	CampaignStatusActive CampaignStatus = "ACTIVE"
	CampaignStatusFunded CampaignStatus = "FUNDED"
	CampaignStatusClosed CampaignStatus = "CLOSED"
)

type StakeholderType string

const (
	StakeholderPlatform     StakeholderType = "PLATFORM"
	StakeholderCreator      StakeholderType = "CREATOR"
	StakeholderPartner      StakeholderType = "PARTNER"
	StakeholderCollaborator StakeholderType = "COLLABORATOR"
)

// ShareScale tags how a stakeholder share value is expressed. The scale is
// explicit at the configuration boundary; nothing downstream ever guesses
// whether 1 means 100% or 1%.
type ShareScale string

const (
	ShareScaleFraction ShareScale = "FRACTION"
	ShareScalePercent  ShareScale = "PERCENT"
)

// Campaign is a fundraising effort. CurrentAmount is a cached aggregate over
// succeeded contributions; the funding ledger stays the source of truth and
// reconciliation corrects any drift.
type Campaign struct {
	CampaignID    string         `gorm:"column:campaign_id;primaryKey"`
	OwnerID       string         `gorm:"column:owner_id;index;not null"`
	Title         string         `gorm:"column:title;type:varchar(255);not null"`
	Description   string         `gorm:"column:description;type:text"`
	Status        CampaignStatus `gorm:"column:status;type:varchar(50);not null;default:'DRAFT'"`
	TargetAmount  int64          `gorm:"column:target_amount;not null"`
	CurrentAmount int64          `gorm:"column:current_amount;not null;default:0"`
	CurrencyCode  string         `gorm:"column:currency_code;default:'USD'"`
	Metadata      datatypes.JSON `gorm:"column:metadata"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// AcceptsContributions reports whether the campaign can take new money.
func (c *Campaign) AcceptsContributions() bool {
	return c.Status == CampaignStatusActive || c.Status == CampaignStatusFunded
}

// StakeholderShare is a proportional entitlement held by a partner or
// collaborator against a campaign's net proceeds.
type StakeholderShare struct {
	ShareID         string          `gorm:"column:share_id;primaryKey"`
	CampaignID      string          `gorm:"column:campaign_id;index;not null"`
	StakeholderType StakeholderType `gorm:"column:stakeholder_type;type:varchar(50);not null"`
	StakeholderID   string          `gorm:"column:stakeholder_id;not null"`
	ShareValue      float64         `gorm:"column:share_value;not null"`
	ShareScale      ShareScale      `gorm:"column:share_scale;type:varchar(20);not null;default:'FRACTION'"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Fraction normalizes the share value to a fraction in [0, 1].
func (s *StakeholderShare) Fraction() float64 {
	if s.ShareScale == ShareScalePercent {
		return s.ShareValue / 100
	}
	return s.ShareValue
}
