package funding

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fundflow-settlement/pkg/errutil"
	"fundflow-settlement/pkg/db/pagination"
	"fundflow-settlement/pkg/taskname"
	"fundflow-settlement/services/campaign"
	"fundflow-settlement/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type enqueuerMock struct {
	tasks []*asynq.Task
	err   error
}

func (m *enqueuerMock) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.tasks = append(m.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func newTestService(t *testing.T) (*Service, *enqueuerMock) {
	t.Helper()

	db := testutil.NewTestDB(t,
		&campaign.Campaign{},
		&Contribution{},
		&PaymentTransaction{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	mock := &enqueuerMock{}
	svc := NewService(ServiceParams{DB: db, Node: node})
	svc.enqueuer = mock
	return svc, mock
}

func seedActiveCampaign(t *testing.T, svc *Service) *campaign.Campaign {
	t.Helper()

	entity := &campaign.Campaign{
		CampaignID:   svc.node.Generate().String(),
		OwnerID:      "creator-1",
		Title:        "test campaign",
		Status:       campaign.CampaignStatusActive,
		TargetAmount: 1_000_000,
		CurrencyCode: "USD",
	}
	require.NoError(t, svc.db.Create(entity).Error)
	return entity
}

func TestRecordContribution(t *testing.T) {
	svc, _ := newTestService(t)
	entity := seedActiveCampaign(t, svc)

	entry, err := svc.Record(context.Background(), RecordRequest{
		CampaignID:    entity.CampaignID,
		ContributorID: "backer-1",
		Amount:        500,
	})
	require.NoError(t, err)
	require.Equal(t, ContributionStatusPending, entry.Status)
	require.Equal(t, "USD", entry.CurrencyCode)
}

func TestRecordRejectsInactiveCampaign(t *testing.T) {
	svc, _ := newTestService(t)
	entity := seedActiveCampaign(t, svc)
	require.NoError(t, svc.db.Model(&campaign.Campaign{}).
		Where("campaign_id = ?", entity.CampaignID).
		Update("status", campaign.CampaignStatusDraft).Error)

	_, err := svc.Record(context.Background(), RecordRequest{
		CampaignID:    entity.CampaignID,
		ContributorID: "backer-1",
		Amount:        500,
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
}

func TestMarkSucceededBumpsCacheAndEnqueues(t *testing.T) {
	svc, mock := newTestService(t)
	entity := seedActiveCampaign(t, svc)

	entry, err := svc.Record(context.Background(), RecordRequest{
		CampaignID:    entity.CampaignID,
		ContributorID: "backer-1",
		Amount:        750,
	})
	require.NoError(t, err)

	succeeded, err := svc.MarkSucceeded(context.Background(), entry.ContributionID, SucceedRequest{
		GatewayRef: "ch_123",
		GatewayFee: 25,
	})
	require.NoError(t, err)
	require.Equal(t, ContributionStatusSucceeded, succeeded.Status)

	var cached campaign.Campaign
	require.NoError(t, svc.db.First(&cached, "campaign_id = ?", entity.CampaignID).Error)
	require.Equal(t, int64(750), cached.CurrentAmount)

	var txn PaymentTransaction
	require.NoError(t, svc.db.First(&txn, "contribution_id = ?", entry.ContributionID).Error)
	require.Equal(t, int64(25), txn.GatewayFee)

	require.Len(t, mock.tasks, 1)
	require.Equal(t, taskname.SettlementEvaluate, mock.tasks[0].Type())
}

func TestMarkSucceededIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	entity := seedActiveCampaign(t, svc)

	entry, err := svc.Record(context.Background(), RecordRequest{
		CampaignID:    entity.CampaignID,
		ContributorID: "backer-1",
		Amount:        100,
	})
	require.NoError(t, err)

	_, err = svc.MarkSucceeded(context.Background(), entry.ContributionID, SucceedRequest{GatewayRef: "ch_1"})
	require.NoError(t, err)
	_, err = svc.MarkSucceeded(context.Background(), entry.ContributionID, SucceedRequest{GatewayRef: "ch_1"})
	require.NoError(t, err)

	// The retry must not double-count the cached total.
	var cached campaign.Campaign
	require.NoError(t, svc.db.First(&cached, "campaign_id = ?", entity.CampaignID).Error)
	require.Equal(t, int64(100), cached.CurrentAmount)

	var count int64
	require.NoError(t, svc.db.Model(&PaymentTransaction{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestMarkSucceededRejectsNegativeFee(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.MarkSucceeded(context.Background(), "any", SucceedRequest{GatewayFee: -1})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusBadRequest, be.Status())
}

func TestMarkFailed(t *testing.T) {
	svc, _ := newTestService(t)
	entity := seedActiveCampaign(t, svc)

	entry, err := svc.Record(context.Background(), RecordRequest{
		CampaignID:    entity.CampaignID,
		ContributorID: "backer-1",
		Amount:        100,
	})
	require.NoError(t, err)

	failed, err := svc.MarkFailed(context.Background(), entry.ContributionID)
	require.NoError(t, err)
	require.Equal(t, ContributionStatusFailed, failed.Status)

	// Failed entries never reach the campaign total.
	var cached campaign.Campaign
	require.NoError(t, svc.db.First(&cached, "campaign_id = ?", entity.CampaignID).Error)
	require.Zero(t, cached.CurrentAmount)
}

func TestRefundDecrementsCacheWithoutEvaluation(t *testing.T) {
	svc, mock := newTestService(t)
	entity := seedActiveCampaign(t, svc)

	entry, err := svc.Record(context.Background(), RecordRequest{
		CampaignID:    entity.CampaignID,
		ContributorID: "backer-1",
		Amount:        400,
	})
	require.NoError(t, err)
	_, err = svc.MarkSucceeded(context.Background(), entry.ContributionID, SucceedRequest{GatewayRef: "ch_1"})
	require.NoError(t, err)
	enqueued := len(mock.tasks)

	refunded, err := svc.Refund(context.Background(), entry.ContributionID)
	require.NoError(t, err)
	require.Equal(t, ContributionStatusRefunded, refunded.Status)

	var cached campaign.Campaign
	require.NoError(t, svc.db.First(&cached, "campaign_id = ?", entity.CampaignID).Error)
	require.Zero(t, cached.CurrentAmount)
	require.Len(t, mock.tasks, enqueued)
}

func TestRefundRequiresSucceeded(t *testing.T) {
	svc, _ := newTestService(t)
	entity := seedActiveCampaign(t, svc)

	entry, err := svc.Record(context.Background(), RecordRequest{
		CampaignID:    entity.CampaignID,
		ContributorID: "backer-1",
		Amount:        400,
	})
	require.NoError(t, err)

	_, err = svc.Refund(context.Background(), entry.ContributionID)
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
}

func TestListByCampaignPagination(t *testing.T) {
	svc, _ := newTestService(t)
	entity := seedActiveCampaign(t, svc)

	for i := 0; i < 3; i++ {
		_, err := svc.Record(context.Background(), RecordRequest{
			CampaignID:    entity.CampaignID,
			ContributorID: "backer-1",
			Amount:        100,
		})
		require.NoError(t, err)
	}

	first, info, err := svc.ListByCampaign(context.Background(), entity.CampaignID, pagination.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.True(t, info.HasMore)
	require.NotEmpty(t, info.NextCursor)

	rest, info, err := svc.ListByCampaign(context.Background(), entity.CampaignID, pagination.Pagination{
		Limit:  2,
		Cursor: info.NextCursor,
	})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.False(t, info.HasMore)
}

func TestSumSucceededIgnoresOtherStatuses(t *testing.T) {
	svc, _ := newTestService(t)
	entity := seedActiveCampaign(t, svc)

	a, err := svc.Record(context.Background(), RecordRequest{
		CampaignID: entity.CampaignID, ContributorID: "b", Amount: 300,
	})
	require.NoError(t, err)
	_, err = svc.MarkSucceeded(context.Background(), a.ContributionID, SucceedRequest{GatewayRef: "ch_1"})
	require.NoError(t, err)

	b, err := svc.Record(context.Background(), RecordRequest{
		CampaignID: entity.CampaignID, ContributorID: "b", Amount: 999,
	})
	require.NoError(t, err)
	_, err = svc.MarkFailed(context.Background(), b.ContributionID)
	require.NoError(t, err)

	total, err := svc.SumSucceeded(context.Background(), entity.CampaignID)
	require.NoError(t, err)
	require.Equal(t, int64(300), total)
}
