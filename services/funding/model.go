package funding

import (
	"time"

	"gorm.io/datatypes"
)

type ContributionStatus string

const (
	ContributionStatusPending   ContributionStatus = "pending"
	ContributionStatusSucceeded ContributionStatus = "succeeded"
	ContributionStatusFailed    ContributionStatus = "failed"
	ContributionStatusRefunded  ContributionStatus = "refunded"
	ContributionStatusCancelled ContributionStatus = "cancelled"
)

// Contribution is one funding ledger entry against a campaign. Succeeded
// entries are immutable except for the refund transition, and only they count
// toward settlement totals.
type Contribution struct {
	ContributionID string             `gorm:"column:contribution_id;primaryKey"`
	Code           string             `gorm:"column:code;uniqueIndex"`
	CampaignID     string             `gorm:"column:campaign_id;index;not null"`
	ContributorID  string             `gorm:"column:contributor_id;index;not null"`
	Amount         int64              `gorm:"column:amount;not null"`
	CurrencyCode   string             `gorm:"column:currency_code;default:'USD'"`
	Status         ContributionStatus `gorm:"column:status;type:varchar(20);not null;default:'pending'"`
	Metadata       datatypes.JSON     `gorm:"column:metadata"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// PaymentTransaction captures the external gateway's view of a succeeded
// contribution, including the fee it charged.
type PaymentTransaction struct {
	TransactionID  string    `gorm:"column:transaction_id;primaryKey"`
	ContributionID string    `gorm:"column:contribution_id;uniqueIndex;not null"`
	GatewayRef     string    `gorm:"column:gateway_ref;index"`
	GatewayFee     int64     `gorm:"column:gateway_fee;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
