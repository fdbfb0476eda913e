package settlement

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"fundflow-settlement/pkg/db/option"
	"fundflow-settlement/pkg/errutil"
	"fundflow-settlement/services/campaign"
	"fundflow-settlement/services/funding"
)

// ConsistencyReport is the read-only outcome of a reconciliation check.
type ConsistencyReport struct {
	CampaignID  string   `json:"campaign_id"`
	IsValid     bool     `json:"is_valid"`
	LedgerTotal int64    `json:"ledger_total"`
	CachedTotal int64    `json:"cached_total"`
	Issues      []string `json:"issues"`
}

// CheckConsistency compares the campaign's cached running total and its
// latest settlement snapshot against the contribution ledger. It reports,
// never repairs; SyncRunningTotal is the corrective path.
func (s *Service) CheckConsistency(ctx context.Context, campaignID string) (*ConsistencyReport, error) {
	entity, err := s.campaigns.FindOne(ctx, &campaign.Campaign{CampaignID: campaignID})
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}

	ledgerTotal, err := funding.SumSucceeded(s.db.WithContext(ctx), campaignID)
	if err != nil {
		return nil, err
	}

	report := &ConsistencyReport{
		CampaignID:  campaignID,
		LedgerTotal: ledgerTotal,
		CachedTotal: entity.CurrentAmount,
		Issues:      []string{},
	}

	if entity.CurrentAmount != ledgerTotal {
		report.Issues = append(report.Issues, fmt.Sprintf(
			"cached running total %d does not match ledger total %d",
			entity.CurrentAmount, ledgerTotal))
	}

	latest, err := s.settlements.FindOne(ctx,
		&Settlement{CampaignID: campaignID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.TotalRaised != ledgerTotal {
		// Refunds landed after settlement show up here. That is worth
		// flagging even though the settlement itself was correct.
		report.Issues = append(report.Issues, fmt.Sprintf(
			"settlement %s recorded total %d but ledger now sums to %d",
			latest.SettlementID, latest.TotalRaised, ledgerTotal))
	}

	report.IsValid = len(report.Issues) == 0
	return report, nil
}

// SyncRunningTotal recomputes the campaign's running total from the ledger
// and repairs the cached value under a row lock. Returns the synced total.
func (s *Service) SyncRunningTotal(ctx context.Context, campaignID string) (int64, error) {
	if campaignID == "" {
		return 0, errutil.BadRequest("campaign_id is required", nil)
	}

	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entity, err := s.campaigns.WithTrx(tx).FindOne(ctx,
			&campaign.Campaign{CampaignID: campaignID},
			option.WithLockingUpdate(),
		)
		if err != nil {
			return err
		}
		if entity == nil {
			return errutil.NotFound("campaign not found", nil)
		}
		total, err = syncRunningTotal(ctx, tx, entity)
		return err
	})
	return total, err
}

// syncRunningTotal repairs the cached running total on an already locked
// campaign row. The caller owns the transaction and the lock.
func syncRunningTotal(ctx context.Context, tx *gorm.DB, entity *campaign.Campaign) (int64, error) {
	total, err := funding.SumSucceeded(tx, entity.CampaignID)
	if err != nil {
		return 0, err
	}
	if total == entity.CurrentAmount {
		return total, nil
	}

	zap.L().Warn("repairing drifted running total",
		zap.String("campaign_id", entity.CampaignID),
		zap.Int64("cached", entity.CurrentAmount),
		zap.Int64("ledger", total),
	)
	if err := tx.WithContext(ctx).Model(&campaign.Campaign{}).
		Where("campaign_id = ?", entity.CampaignID).
		Update("current_amount", total).Error; err != nil {
		return 0, err
	}
	entity.CurrentAmount = total
	return total, nil
}
