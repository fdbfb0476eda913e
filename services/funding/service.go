package funding

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fundflow-settlement/pkg/db/option"
	"fundflow-settlement/pkg/db/pagination"
	"fundflow-settlement/pkg/errutil"
	"fundflow-settlement/pkg/middleware"
	"fundflow-settlement/pkg/repository"
	"fundflow-settlement/pkg/sequence"
	"fundflow-settlement/pkg/task"
	"fundflow-settlement/services/campaign"
	fundingtask "fundflow-settlement/services/funding/task"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	codes    sequence.Generator
	enqueuer task.Enqueuer

	contributions repository.Repository[Contribution]
	transactions  repository.Repository[PaymentTransaction]
	campaigns     repository.Repository[campaign.Campaign]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Codes    sequence.Generator `optional:"true"`
	Enqueuer task.Enqueuer      `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		codes:    p.Codes,
		enqueuer: p.Enqueuer,

		contributions: repository.ProvideStore[Contribution](p.DB),
		transactions:  repository.ProvideStore[PaymentTransaction](p.DB),
		campaigns:     repository.ProvideStore[campaign.Campaign](p.DB),
	}
}

type RecordRequest struct {
	CampaignID    string `json:"campaign_id"`
	ContributorID string `json:"contributor_id"`
	Amount        int64  `json:"amount"`
	CurrencyCode  string `json:"currency_code"`
}

// Record creates a pending contribution against an active campaign. The
// entry counts toward nothing until the gateway reports success.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*Contribution, error) {
	if req.CampaignID == "" {
		return nil, errutil.BadRequest("campaign_id is required", nil)
	}
	if req.ContributorID == "" {
		return nil, errutil.BadRequest("contributor_id is required", nil)
	}
	if req.Amount <= 0 {
		return nil, errutil.BadRequest("amount must be positive", nil)
	}

	c, err := s.campaigns.FindOne(ctx, &campaign.Campaign{CampaignID: req.CampaignID})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	if !c.AcceptsContributions() {
		return nil, errutil.Conflict("campaign is not accepting contributions", nil)
	}

	currency := req.CurrencyCode
	if currency == "" {
		currency = c.CurrencyCode
	}

	code := ""
	if s.codes != nil {
		if code, err = s.codes.NextContributionCode(ctx, req.CampaignID); err != nil {
			zap.L().Warn("failed to generate contribution code", zap.Error(err))
			code = ""
		}
	}

	entry := &Contribution{
		ContributionID: s.node.Generate().String(),
		Code:           code,
		CampaignID:     req.CampaignID,
		ContributorID:  req.ContributorID,
		Amount:         req.Amount,
		CurrencyCode:   currency,
		Status:         ContributionStatusPending,
	}

	if err := s.contributions.Create(ctx, entry); err != nil {
		zap.L().Error("failed to create contribution", zap.Error(err))
		return nil, err
	}

	return entry, nil
}

type SucceedRequest struct {
	GatewayRef string `json:"gateway_ref"`
	GatewayFee int64  `json:"gateway_fee"`
}

// MarkSucceeded flips a pending contribution to succeeded, records the
// gateway transaction, and bumps the campaign's cached running total — all in
// one transaction. Gateway callbacks retry, so an already-succeeded entry is
// returned unchanged.
func (s *Service) MarkSucceeded(ctx context.Context, contributionID string, req SucceedRequest) (*Contribution, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("contribution_id", contributionID),
	}

	if req.GatewayFee < 0 {
		return nil, errutil.BadRequest("gateway_fee must not be negative", nil)
	}

	var entry *Contribution
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		var err error
		entry, err = s.contributions.WithTrx(tx).FindOne(ctx, &Contribution{ContributionID: contributionID})
		if err != nil {
			return err
		}
		if entry == nil {
			return errutil.NotFound("contribution not found", nil)
		}
		if entry.Status == ContributionStatusSucceeded {
			return nil
		}
		if entry.Status != ContributionStatusPending {
			return errutil.Conflict("contribution is not pending", nil)
		}

		if err := s.transactions.WithTrx(tx).Create(ctx, &PaymentTransaction{
			TransactionID:  s.node.Generate().String(),
			ContributionID: entry.ContributionID,
			GatewayRef:     req.GatewayRef,
			GatewayFee:     req.GatewayFee,
		}); err != nil {
			return err
		}

		if err := s.contributions.WithTrx(tx).Update(ctx, entry.ContributionID, &Contribution{
			Status: ContributionStatusSucceeded,
		}); err != nil {
			return err
		}
		entry.Status = ContributionStatusSucceeded

		updates := map[string]any{
			"current_amount": gorm.Expr("current_amount + ?", entry.Amount),
			"updated_at":     time.Now(),
		}
		return s.campaigns.WithTrx(tx).Update(ctx, entry.CampaignID, updates)
	}); err != nil {
		zap.L().With(opts...).Error("failed to mark contribution succeeded", zap.Error(err))
		return nil, err
	}

	s.enqueueEvaluation(ctx, entry)

	return entry, nil
}

// enqueueEvaluation asks the settlement worker to re-check the campaign. The
// orchestrator is idempotent, so a lost enqueue is recovered by the next
// contribution or an admin trigger; it never fails the ledger write.
func (s *Service) enqueueEvaluation(ctx context.Context, entry *Contribution) {
	if s.enqueuer == nil {
		return
	}

	t, err := fundingtask.NewSettlementEvaluateTask(fundingtask.SettlementEvaluatePayload{
		CampaignID:     entry.CampaignID,
		ContributionID: entry.ContributionID,
		TriggeredBy:    middleware.GetChannel(ctx),
		OccurredAt:     time.Now(),
	})
	if err != nil {
		zap.L().Error("failed to build settlement evaluate task", zap.Error(err))
		return
	}

	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
		zap.L().Error("failed to enqueue settlement evaluate task",
			zap.String("campaign_id", entry.CampaignID), zap.Error(err))
	}
}

// MarkFailed records a gateway failure for a pending contribution.
func (s *Service) MarkFailed(ctx context.Context, contributionID string) (*Contribution, error) {
	entry, err := s.contributions.FindOne(ctx, &Contribution{ContributionID: contributionID})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errutil.NotFound("contribution not found", nil)
	}
	if entry.Status != ContributionStatusPending {
		return nil, errutil.Conflict("contribution is not pending", nil)
	}

	if err := s.contributions.Update(ctx, contributionID, &Contribution{
		Status: ContributionStatusFailed,
	}); err != nil {
		return nil, err
	}
	entry.Status = ContributionStatusFailed
	return entry, nil
}

// Refund transitions a succeeded contribution to refunded and decrements the
// campaign's cached total. Refunds never trigger settlement evaluation.
func (s *Service) Refund(ctx context.Context, contributionID string) (*Contribution, error) {
	var entry *Contribution
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		var err error
		entry, err = s.contributions.WithTrx(tx).FindOne(ctx, &Contribution{ContributionID: contributionID})
		if err != nil {
			return err
		}
		if entry == nil {
			return errutil.NotFound("contribution not found", nil)
		}
		if entry.Status != ContributionStatusSucceeded {
			return errutil.Conflict("only succeeded contributions can be refunded", nil)
		}

		if err := s.contributions.WithTrx(tx).Update(ctx, entry.ContributionID, &Contribution{
			Status: ContributionStatusRefunded,
		}); err != nil {
			return err
		}
		entry.Status = ContributionStatusRefunded

		updates := map[string]any{
			"current_amount": gorm.Expr("current_amount - ?", entry.Amount),
			"updated_at":     time.Now(),
		}
		return s.campaigns.WithTrx(tx).Update(ctx, entry.CampaignID, updates)
	}); err != nil {
		zap.L().Error("failed to refund contribution",
			zap.String("contribution_id", contributionID), zap.Error(err))
		return nil, err
	}

	return entry, nil
}

// ListByCampaign returns contributions for a campaign, newest first, with
// cursor pagination.
func (s *Service) ListByCampaign(ctx context.Context, campaignID string, page pagination.Pagination) ([]*Contribution, *pagination.PageInfo, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 10
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(limit + 1),
	}

	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "contribution_id",
			Operator: option.LT,
			Value:    cursor.ID,
		}))
	}

	entries, err := s.contributions.Find(ctx, &Contribution{CampaignID: campaignID}, opts...)
	if err != nil {
		return nil, nil, err
	}

	entries, info := pagination.BuildCursorPageInfo(entries, limit, func(e *Contribution) string {
		encoded, _ := pagination.EncodeCursor(pagination.Cursor{ID: e.ContributionID})
		return encoded
	})

	return entries, info, nil
}

// SumSucceeded recomputes the campaign total from the ledger.
func (s *Service) SumSucceeded(ctx context.Context, campaignID string) (int64, error) {
	return SumSucceeded(s.db.WithContext(ctx), campaignID)
}

// SumSucceeded sums succeeded contribution amounts on the given handle so
// callers can run it inside their own transaction.
func SumSucceeded(tx *gorm.DB, campaignID string) (int64, error) {
	var total int64
	err := tx.Model(&Contribution{}).
		Where("campaign_id = ? AND status = ?", campaignID, ContributionStatusSucceeded).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}
