package campaign

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fundflow-settlement/pkg/errutil"
	"fundflow-settlement/pkg/repository"
)

// shareSumEpsilon absorbs float noise so an exactly-100% share configuration
// (e.g. percent values summing to 100 whose fractions land at 1.0000000000000002)
// is not rejected. Only sums genuinely above 1 are an error.
const shareSumEpsilon = 1e-9

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	campaigns repository.Repository[Campaign]
	shares    repository.Repository[StakeholderShare]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		campaigns: repository.ProvideStore[Campaign](p.DB),
		shares:    repository.ProvideStore[StakeholderShare](p.DB),
	}
}

type CreateRequest struct {
	OwnerID      string `json:"owner_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	TargetAmount int64  `json:"target_amount"`
	CurrencyCode string `json:"currency_code"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Campaign, error) {
	if req.OwnerID == "" {
		return nil, errutil.BadRequest("owner_id is required", nil)
	}
	if req.Title == "" {
		return nil, errutil.BadRequest("title is required", nil)
	}
	if req.TargetAmount <= 0 {
		return nil, errutil.BadRequest("target_amount must be positive", nil)
	}

	currency := req.CurrencyCode
	if currency == "" {
		currency = "USD"
	}

	c := &Campaign{
		CampaignID:   s.node.Generate().String(),
		OwnerID:      req.OwnerID,
		Title:        req.Title,
		Description:  req.Description,
		Status:       CampaignStatusDraft,
		TargetAmount: req.TargetAmount,
		CurrencyCode: currency,
	}

	if err := s.campaigns.Create(ctx, c); err != nil {
		zap.L().Error("failed to create campaign", zap.Error(err))
		return nil, err
	}

	return c, nil
}

func (s *Service) Get(ctx context.Context, campaignID string) (*Campaign, error) {
	c, err := s.campaigns.FindOne(ctx, &Campaign{CampaignID: campaignID})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	return c, nil
}

func (s *Service) Activate(ctx context.Context, campaignID string) (*Campaign, error) {
	return s.transition(ctx, campaignID, CampaignStatusDraft, CampaignStatusActive)
}

func (s *Service) Close(ctx context.Context, campaignID string) (*Campaign, error) {
	c, err := s.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status == CampaignStatusClosed {
		return c, nil
	}

	if err := s.campaigns.Update(ctx, campaignID, &Campaign{Status: CampaignStatusClosed}); err != nil {
		return nil, err
	}
	c.Status = CampaignStatusClosed
	return c, nil
}

func (s *Service) transition(ctx context.Context, campaignID string, from, to CampaignStatus) (*Campaign, error) {
	c, err := s.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != from {
		return nil, errutil.Conflict(
			fmt.Sprintf("campaign status is %s, expected %s", c.Status, from), nil)
	}

	if err := s.campaigns.Update(ctx, campaignID, &Campaign{Status: to}); err != nil {
		return nil, err
	}
	c.Status = to
	return c, nil
}

type ShareInput struct {
	StakeholderType StakeholderType `json:"stakeholder_type"`
	StakeholderID   string          `json:"stakeholder_id"`
	Value           float64         `json:"value"`
	Scale           ShareScale      `json:"scale"`
}

// PutShares replaces the stakeholder share configuration for a campaign. The
// combined fraction across partners and collaborators must not exceed 1; a
// violation is a hard validation error, never a silent clamp.
func (s *Service) PutShares(ctx context.Context, campaignID string, inputs []ShareInput) ([]*StakeholderShare, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	if _, err := s.Get(ctx, campaignID); err != nil {
		return nil, err
	}

	rows := make([]*StakeholderShare, 0, len(inputs))
	var total float64
	for i, in := range inputs {
		if in.StakeholderType != StakeholderPartner && in.StakeholderType != StakeholderCollaborator {
			return nil, errutil.BadRequest(
				fmt.Sprintf("shares[%d]: stakeholder_type must be PARTNER or COLLABORATOR", i), nil)
		}
		if in.StakeholderID == "" {
			return nil, errutil.BadRequest(fmt.Sprintf("shares[%d]: stakeholder_id is required", i), nil)
		}
		if in.Scale != ShareScaleFraction && in.Scale != ShareScalePercent {
			return nil, errutil.BadRequest(fmt.Sprintf("shares[%d]: scale must be FRACTION or PERCENT", i), nil)
		}
		if in.Value <= 0 {
			return nil, errutil.BadRequest(fmt.Sprintf("shares[%d]: value must be positive", i), nil)
		}

		row := &StakeholderShare{
			ShareID:         s.node.Generate().String(),
			CampaignID:      campaignID,
			StakeholderType: in.StakeholderType,
			StakeholderID:   in.StakeholderID,
			ShareValue:      in.Value,
			ShareScale:      in.Scale,
		}
		total += row.Fraction()
		rows = append(rows, row)
	}

	if total > 1+shareSumEpsilon {
		return nil, errutil.ValidationFailed(
			fmt.Sprintf("stakeholder shares exceed 100%%: combined fraction %.4f", total), nil)
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).
			Where("campaign_id = ?", campaignID).
			Delete(&StakeholderShare{}).Error; err != nil {
			return err
		}
		return s.shares.WithTrx(tx).BatchCreate(ctx, rows)
	}); err != nil {
		zap.L().Error("failed to replace stakeholder shares",
			zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, err
	}

	return rows, nil
}

func (s *Service) ListShares(ctx context.Context, campaignID string) ([]*StakeholderShare, error) {
	return s.shares.Find(ctx, &StakeholderShare{CampaignID: campaignID})
}
