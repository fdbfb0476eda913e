package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	"fundflow-settlement/pkg/config"
	"fundflow-settlement/pkg/db/option"
	"fundflow-settlement/pkg/errutil"
	"fundflow-settlement/pkg/repository"
	"fundflow-settlement/pkg/sequence"
	"fundflow-settlement/pkg/task"
	"fundflow-settlement/services/campaign"
	"fundflow-settlement/services/funding"
)

type Service struct {
	grpc_health_v1.UnimplementedHealthServer

	db       *gorm.DB
	cfg      *config.Config
	node     *snowflake.Node
	codes    sequence.Generator
	enqueuer task.Enqueuer

	settlements repository.Repository[Settlement]
	payouts     repository.Repository[Payout]
	campaigns   repository.Repository[campaign.Campaign]
	shares      repository.Repository[campaign.StakeholderShare]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Config   *config.Config
	Node     *snowflake.Node
	Codes    sequence.Generator `optional:"true"`
	Enqueuer task.Enqueuer      `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		cfg:      p.Config,
		node:     p.Node,
		codes:    p.Codes,
		enqueuer: p.Enqueuer,

		settlements: repository.ProvideStore[Settlement](p.DB),
		payouts:     repository.ProvideStore[Payout](p.DB),
		campaigns:   repository.ProvideStore[campaign.Campaign](p.DB),
		shares:      repository.ProvideStore[campaign.StakeholderShare](p.DB),
	}
}

type CreateRequest struct {
	CampaignID         string   `json:"-"`
	PlatformFeeRate    *float64 `json:"platform_fee_rate,omitempty"`
	GatewayFeeOverride *int64   `json:"gateway_fee_override,omitempty"`
	TriggeredBy        string   `json:"triggered_by,omitempty"`
	Notes              string   `json:"notes,omitempty"`
}

// CreateIfTargetReached settles a campaign once its ledger total covers the
// target. The whole decision runs in one transaction with the campaign row
// locked, so concurrent triggers for the same campaign serialize:
//
//  1. lock the campaign row and resync its cached running total from the
//     contribution ledger (the ledger is the source of truth)
//  2. return (nil, nil) when the synced total is still below target
//  3. return the existing settlement when one is already PENDING or
//     IN_PROGRESS, without writing anything
//  4. otherwise compute the breakdown and insert the settlement with its
//     payout rows
//
// A settlement:created task is enqueued after commit, best effort.
func (s *Service) CreateIfTargetReached(ctx context.Context, req CreateRequest) (*Settlement, error) {
	if req.CampaignID == "" {
		return nil, errutil.BadRequest("campaign_id is required", nil)
	}
	if req.GatewayFeeOverride != nil && *req.GatewayFeeOverride < 0 {
		return nil, errutil.BadRequest("gateway_fee_override must not be negative", nil)
	}
	rate := s.cfg.Settlement.PlatformFeeRate
	if req.PlatformFeeRate != nil {
		rate = *req.PlatformFeeRate
	}
	if rate < 0 || rate > 1 {
		return nil, errutil.BadRequest("platform fee rate must be within [0, 1]", nil)
	}

	var (
		created  *Settlement
		inserted bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entity, err := s.campaigns.WithTrx(tx).FindOne(ctx,
			&campaign.Campaign{CampaignID: req.CampaignID},
			option.WithLockingUpdate(),
		)
		if err != nil {
			return err
		}
		if entity == nil {
			return errutil.NotFound("campaign not found", nil)
		}

		total, err := syncRunningTotal(ctx, tx, entity)
		if err != nil {
			return err
		}

		if total < entity.TargetAmount {
			return nil
		}

		existing, err := s.findOpenSettlement(ctx, tx, entity.CampaignID)
		if err != nil {
			return err
		}
		if existing != nil {
			created = existing
			return nil
		}

		if total <= 0 {
			return errutil.UnprocessableEntity("campaign reached target without successful contributions", nil)
		}

		gatewayFees, err := s.resolveGatewayFees(tx, entity.CampaignID, req.GatewayFeeOverride)
		if err != nil {
			return err
		}

		partners, collaborators, err := s.loadShareInputs(ctx, tx, entity.CampaignID)
		if err != nil {
			return err
		}

		breakdown, err := ComputeBreakdown(BreakdownInput{
			TotalRaised:        total,
			PlatformFeeRate:    rate,
			GatewayFees:        gatewayFees,
			PartnerShares:      partners,
			CollaboratorShares: collaborators,
		})
		if err != nil {
			return err
		}

		created, err = s.insertSettlement(ctx, tx, entity, breakdown, req)
		if err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Announce only freshly inserted settlements. The idempotent path hands
	// back an already announced PENDING row.
	if inserted {
		s.enqueueCreated(ctx, created)
	}
	return created, nil
}

// findOpenSettlement looks for a non-terminal settlement inside the caller's
// transaction. PAID and FAILED settlements do not block a new one.
func (s *Service) findOpenSettlement(ctx context.Context, tx *gorm.DB, campaignID string) (*Settlement, error) {
	return s.settlements.WithTrx(tx).FindOne(ctx,
		&Settlement{CampaignID: campaignID},
		option.ApplyOperator(option.Condition{
			Field:    "status",
			Operator: option.IN,
			Value:    []Status{StatusPending, StatusInProgress},
		}),
	)
}

// resolveGatewayFees sums the recorded gateway fees of the campaign's
// succeeded contributions unless the caller supplied an explicit override.
func (s *Service) resolveGatewayFees(tx *gorm.DB, campaignID string, override *int64) (int64, error) {
	if override != nil {
		return *override, nil
	}
	var fees int64
	err := tx.Model(&funding.PaymentTransaction{}).
		Joins("JOIN contributions ON contributions.contribution_id = payment_transactions.contribution_id").
		Where("contributions.campaign_id = ? AND contributions.status = ?",
			campaignID, funding.ContributionStatusSucceeded).
		Select("COALESCE(SUM(payment_transactions.gateway_fee), 0)").
		Scan(&fees).Error
	return fees, err
}

func (s *Service) loadShareInputs(ctx context.Context, tx *gorm.DB, campaignID string) (partners, collaborators []ShareInput, err error) {
	shares, err := s.shares.WithTrx(tx).Find(ctx, &campaign.StakeholderShare{CampaignID: campaignID})
	if err != nil {
		return nil, nil, err
	}
	for _, sh := range shares {
		in := ShareInput{StakeholderID: sh.StakeholderID, Fraction: sh.Fraction()}
		switch sh.StakeholderType {
		case campaign.StakeholderPartner:
			partners = append(partners, in)
		case campaign.StakeholderCollaborator:
			collaborators = append(collaborators, in)
		}
	}
	return partners, collaborators, nil
}

func (s *Service) insertSettlement(ctx context.Context, tx *gorm.DB, entity *campaign.Campaign, breakdown *Breakdown, req CreateRequest) (*Settlement, error) {
	payload, err := json.Marshal(breakdown)
	if err != nil {
		return nil, err
	}

	code, err := s.nextCode(ctx, entity.CampaignID)
	if err != nil {
		return nil, err
	}

	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "system"
	}

	entry := &Settlement{
		SettlementID:       s.node.Generate().String(),
		Code:               code,
		CampaignID:         entity.CampaignID,
		Status:             StatusPending,
		TotalRaised:        breakdown.TotalRaised,
		PlatformFee:        breakdown.PlatformFee,
		GatewayFees:        breakdown.GatewayFees,
		NetAmount:          breakdown.NetAmount,
		CreatorAmount:      breakdown.CreatorAmount,
		PartnerAmount:      breakdown.PartnerAmount,
		CollaboratorAmount: breakdown.CollaboratorAmount,
		CurrencyCode:       entity.CurrencyCode,
		TriggeredBy:        triggeredBy,
		Notes:              req.Notes,
		Breakdown:          payload,
	}
	if err := s.settlements.WithTrx(tx).Create(ctx, entry); err != nil {
		return nil, err
	}

	payouts := s.buildPayouts(entry, entity.OwnerID, breakdown)
	if err := s.payouts.WithTrx(tx).BatchCreate(ctx, payouts); err != nil {
		return nil, err
	}

	entry.Payouts = make([]Payout, 0, len(payouts))
	for _, p := range payouts {
		entry.Payouts = append(entry.Payouts, *p)
	}
	return entry, nil
}

// buildPayouts expands a breakdown into payout rows. Platform and creator
// rows are always present; partner and collaborator rows only when their
// allocation came out positive.
func (s *Service) buildPayouts(entry *Settlement, ownerID string, breakdown *Breakdown) []*Payout {
	rows := []*Payout{
		{
			PayoutID:        s.node.Generate().String(),
			SettlementID:    entry.SettlementID,
			StakeholderType: campaign.StakeholderPlatform,
			Amount:          breakdown.PlatformFee,
			Percentage:      percentageOf(breakdown.PlatformFee, breakdown.NetAmount),
		},
		{
			PayoutID:        s.node.Generate().String(),
			SettlementID:    entry.SettlementID,
			StakeholderType: campaign.StakeholderCreator,
			StakeholderID:   ownerID,
			Amount:          breakdown.CreatorAmount,
			Percentage:      percentageOf(breakdown.CreatorAmount, breakdown.NetAmount),
		},
	}
	for _, alloc := range breakdown.Partners {
		if alloc.Amount <= 0 {
			continue
		}
		rows = append(rows, &Payout{
			PayoutID:        s.node.Generate().String(),
			SettlementID:    entry.SettlementID,
			StakeholderType: campaign.StakeholderPartner,
			StakeholderID:   alloc.StakeholderID,
			Amount:          alloc.Amount,
			Percentage:      alloc.Percentage,
		})
	}
	for _, alloc := range breakdown.Collaborators {
		if alloc.Amount <= 0 {
			continue
		}
		rows = append(rows, &Payout{
			PayoutID:        s.node.Generate().String(),
			SettlementID:    entry.SettlementID,
			StakeholderType: campaign.StakeholderCollaborator,
			StakeholderID:   alloc.StakeholderID,
			Amount:          alloc.Amount,
			Percentage:      alloc.Percentage,
		})
	}
	return rows
}

func (s *Service) nextCode(ctx context.Context, campaignID string) (string, error) {
	if s.codes != nil {
		return s.codes.NextSettlementCode(ctx, campaignID)
	}
	return fmt.Sprintf("STL-%s-%s", time.Now().UTC().Format("060102"), s.node.Generate().String()), nil
}

func (s *Service) enqueueCreated(ctx context.Context, entry *Settlement) {
	if s.enqueuer == nil {
		return
	}
	t, err := NewSettlementCreatedTask(SettlementCreatedPayload{
		SettlementID: entry.SettlementID,
		CampaignID:   entry.CampaignID,
		NetAmount:    entry.NetAmount,
		OccurredAt:   time.Now().UTC(),
	})
	if err != nil {
		zap.L().Warn("build settlement created task", zap.Error(err))
		return
	}
	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
		zap.L().Warn("enqueue settlement created task",
			zap.String("settlement_id", entry.SettlementID),
			zap.Error(err),
		)
	}
}

// Get returns a settlement with its payout rows.
func (s *Service) Get(ctx context.Context, settlementID string) (*Settlement, error) {
	entry, err := s.settlements.FindOne(ctx, &Settlement{SettlementID: settlementID})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errutil.NotFound("settlement not found", nil)
	}
	payouts, err := s.payouts.Find(ctx, &Payout{SettlementID: entry.SettlementID})
	if err != nil {
		return nil, err
	}
	entry.Payouts = make([]Payout, 0, len(payouts))
	for _, p := range payouts {
		entry.Payouts = append(entry.Payouts, *p)
	}
	return entry, nil
}

// ListByCampaign returns the campaign's settlements, newest first.
func (s *Service) ListByCampaign(ctx context.Context, campaignID string) ([]*Settlement, error) {
	return s.settlements.Find(ctx,
		&Settlement{CampaignID: campaignID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	)
}

// Approve moves a PENDING settlement to IN_PROGRESS.
func (s *Service) Approve(ctx context.Context, settlementID string) (*Settlement, error) {
	return s.transition(ctx, settlementID, StatusPending, StatusInProgress)
}

// MarkPaid moves an IN_PROGRESS settlement to PAID.
func (s *Service) MarkPaid(ctx context.Context, settlementID string) (*Settlement, error) {
	return s.transition(ctx, settlementID, StatusInProgress, StatusPaid)
}

// MarkFailed moves an IN_PROGRESS settlement to FAILED. A failed settlement
// no longer blocks a fresh one for the same campaign.
func (s *Service) MarkFailed(ctx context.Context, settlementID string) (*Settlement, error) {
	return s.transition(ctx, settlementID, StatusInProgress, StatusFailed)
}

func (s *Service) transition(ctx context.Context, settlementID string, from, to Status) (*Settlement, error) {
	if settlementID == "" {
		return nil, errutil.BadRequest("settlement_id is required", nil)
	}

	var entry *Settlement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.settlements.WithTrx(tx).FindOne(ctx,
			&Settlement{SettlementID: settlementID},
			option.WithLockingUpdate(),
		)
		if err != nil {
			return err
		}
		if entry == nil {
			return errutil.NotFound("settlement not found", nil)
		}
		if entry.Status == to {
			return nil
		}
		if entry.Status != from {
			return errutil.Conflict(
				fmt.Sprintf("settlement is %s, expected %s", entry.Status, from), nil)
		}
		if err := s.settlements.WithTrx(tx).Update(ctx, entry.SettlementID, map[string]any{
			"status": to,
		}); err != nil {
			return err
		}
		entry.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
