package settlement

import (
	"time"

	"gorm.io/datatypes"

	"fundflow-settlement/services/campaign"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusPaid       Status = "PAID"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the settlement can no longer change state.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// Settlement captures the full financial snapshot of a campaign at the
// moment it is settled. Amounts are denormalized from the breakdown so the
// row is queryable without unpacking the JSON audit payload. The partial
// unique index keeps at most one non-terminal settlement per campaign as a
// store-level backstop behind the in-transaction idempotency lookup.
type Settlement struct {
	SettlementID       string         `gorm:"column:settlement_id;primaryKey" json:"settlement_id"`
	Code               string         `gorm:"column:code;uniqueIndex" json:"code"`
	CampaignID         string         `gorm:"column:campaign_id;index;uniqueIndex:idx_settlements_open,where:status = 'PENDING' OR status = 'IN_PROGRESS'" json:"campaign_id"`
	Status             Status         `gorm:"column:status;default:PENDING" json:"status"`
	TotalRaised        int64          `gorm:"column:total_raised" json:"total_raised"`
	PlatformFee        int64          `gorm:"column:platform_fee" json:"platform_fee"`
	GatewayFees        int64          `gorm:"column:gateway_fees" json:"gateway_fees"`
	NetAmount          int64          `gorm:"column:net_amount" json:"net_amount"`
	CreatorAmount      int64          `gorm:"column:creator_amount" json:"creator_amount"`
	PartnerAmount      int64          `gorm:"column:partner_amount" json:"partner_amount"`
	CollaboratorAmount int64          `gorm:"column:collaborator_amount" json:"collaborator_amount"`
	CurrencyCode       string         `gorm:"column:currency_code" json:"currency_code"`
	TriggeredBy        string         `gorm:"column:triggered_by" json:"triggered_by"`
	Notes              string         `gorm:"column:notes" json:"notes,omitempty"`
	Breakdown          datatypes.JSON `gorm:"column:breakdown" json:"breakdown,omitempty"`
	Payouts            []Payout       `gorm:"-" json:"payouts,omitempty"`
	CreatedAt          time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Settlement) TableName() string {
	return "settlements"
}

// Payout is one stakeholder's line in a settlement. The platform and the
// creator always get a row; partners and collaborators only when their
// allocation is positive.
type Payout struct {
	PayoutID        string                   `gorm:"column:payout_id;primaryKey" json:"payout_id"`
	SettlementID    string                   `gorm:"column:settlement_id;index" json:"settlement_id"`
	StakeholderType campaign.StakeholderType `gorm:"column:stakeholder_type" json:"stakeholder_type"`
	StakeholderID   string                   `gorm:"column:stakeholder_id" json:"stakeholder_id,omitempty"`
	Amount          int64                    `gorm:"column:amount" json:"amount"`
	Percentage      float64                  `gorm:"column:percentage" json:"percentage"`
	CreatedAt       time.Time                `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Payout) TableName() string {
	return "settlement_payouts"
}
