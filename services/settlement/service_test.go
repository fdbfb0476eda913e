package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	"fundflow-settlement/pkg/config"
	"fundflow-settlement/pkg/errutil"
	"fundflow-settlement/pkg/taskname"
	"fundflow-settlement/services/campaign"
	"fundflow-settlement/services/funding"
	"fundflow-settlement/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type enqueuerMock struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (m *enqueuerMock) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t,
		&campaign.Campaign{},
		&campaign.StakeholderShare{},
		&funding.Contribution{},
		&funding.PaymentTransaction{},
		&Settlement{},
		&Payout{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Settlement.PlatformFeeRate = 0.05

	return NewService(ServiceParams{DB: db, Config: cfg, Node: node})
}

func seedCampaign(t *testing.T, svc *Service, target int64) *campaign.Campaign {
	t.Helper()

	entity := &campaign.Campaign{
		CampaignID:    svc.node.Generate().String(),
		OwnerID:       "creator-1",
		Title:         "test campaign",
		Status:        campaign.CampaignStatusActive,
		TargetAmount:  target,
		CurrencyCode:  "USD",
		CurrentAmount: 0,
	}
	require.NoError(t, svc.db.Create(entity).Error)
	return entity
}

func seedShare(t *testing.T, svc *Service, campaignID string, st campaign.StakeholderType, stakeholderID string, fraction float64) {
	t.Helper()

	require.NoError(t, svc.db.Create(&campaign.StakeholderShare{
		ShareID:         svc.node.Generate().String(),
		CampaignID:      campaignID,
		StakeholderType: st,
		StakeholderID:   stakeholderID,
		ShareValue:      fraction,
		ShareScale:      campaign.ShareScaleFraction,
	}).Error)
}

// seedContribution records a succeeded ledger entry with its payment
// transaction and keeps the campaign's cached running total in step, unless
// the test wants drift.
func seedContribution(t *testing.T, svc *Service, campaignID string, amount, gatewayFee int64, bumpCache bool) {
	t.Helper()

	id := svc.node.Generate().String()
	require.NoError(t, svc.db.Create(&funding.Contribution{
		ContributionID: id,
		Code:           fmt.Sprintf("CTB-%s", id),
		CampaignID:     campaignID,
		ContributorID:  "backer",
		Amount:         amount,
		CurrencyCode:   "USD",
		Status:         funding.ContributionStatusSucceeded,
	}).Error)
	require.NoError(t, svc.db.Create(&funding.PaymentTransaction{
		TransactionID:  svc.node.Generate().String(),
		ContributionID: id,
		GatewayRef:     fmt.Sprintf("gw-%s", id),
		GatewayFee:     gatewayFee,
	}).Error)

	if bumpCache {
		require.NoError(t, svc.db.Model(&campaign.Campaign{}).
			Where("campaign_id = ?", campaignID).
			Update("current_amount", gorm.Expr("current_amount + ?", amount)).Error)
	}
}

func TestCreateIfTargetReachedNotEligible(t *testing.T) {
	svc := newTestService(t)
	entity := seedCampaign(t, svc, 1000)
	seedContribution(t, svc, entity.CampaignID, 999, 0, true)

	entry, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: entity.CampaignID})
	require.NoError(t, err)
	require.Nil(t, entry)

	var count int64
	require.NoError(t, svc.db.Model(&Settlement{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreateIfTargetReachedSettles(t *testing.T) {
	svc := newTestService(t)
	entity := seedCampaign(t, svc, 1_000_000)
	seedShare(t, svc, entity.CampaignID, campaign.StakeholderPartner, "partner-1", 0.10)
	seedShare(t, svc, entity.CampaignID, campaign.StakeholderCollaborator, "collab-1", 0.05)
	seedContribution(t, svc, entity.CampaignID, 600_000, 7_000, true)
	seedContribution(t, svc, entity.CampaignID, 400_000, 5_000, true)

	entry, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{
		CampaignID:  entity.CampaignID,
		TriggeredBy: "admin",
	})
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, StatusPending, entry.Status)
	require.NotEmpty(t, entry.Code)
	require.Equal(t, int64(1_000_000), entry.TotalRaised)
	require.Equal(t, int64(50_000), entry.PlatformFee)
	require.Equal(t, int64(12_000), entry.GatewayFees)
	require.Equal(t, int64(938_000), entry.NetAmount)

	// Creator, partner and collaborator rows cover the net amount exactly.
	var payouts []Payout
	require.NoError(t, svc.db.Where("settlement_id = ?", entry.SettlementID).Find(&payouts).Error)
	var distributed int64
	var platformRow, creatorRow bool
	for _, p := range payouts {
		switch p.StakeholderType {
		case campaign.StakeholderPlatform:
			platformRow = true
			require.Equal(t, entry.PlatformFee, p.Amount)
		case campaign.StakeholderCreator:
			creatorRow = true
			require.Equal(t, entity.OwnerID, p.StakeholderID)
			distributed += p.Amount
		default:
			distributed += p.Amount
		}
	}
	require.True(t, platformRow)
	require.True(t, creatorRow)
	require.Equal(t, entry.NetAmount, distributed)
}

func TestCreateIfTargetReachedIdempotent(t *testing.T) {
	svc := newTestService(t)
	entity := seedCampaign(t, svc, 1000)
	seedContribution(t, svc, entity.CampaignID, 1000, 0, true)

	first, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: entity.CampaignID})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: entity.CampaignID})
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, first.SettlementID, second.SettlementID)

	var count int64
	require.NoError(t, svc.db.Model(&Settlement{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestCreateIfTargetReachedConcurrentTriggers(t *testing.T) {
	svc := newTestService(t)
	entity := seedCampaign(t, svc, 1000)
	seedContribution(t, svc, entity.CampaignID, 1000, 0, true)

	const triggers = 4
	results := make(chan *Settlement, triggers)
	errs := make(chan error, triggers)

	var wg sync.WaitGroup
	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: entity.CampaignID})
			results <- entry
			errs <- err
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	var firstID string
	for entry := range results {
		require.NotNil(t, entry)
		if firstID == "" {
			firstID = entry.SettlementID
		}
		require.Equal(t, firstID, entry.SettlementID)
	}

	var count int64
	require.NoError(t, svc.db.Model(&Settlement{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestCreatedEventEnqueuedOncePerSettlement(t *testing.T) {
	svc := newTestService(t)
	mock := &enqueuerMock{}
	svc.enqueuer = mock

	entity := seedCampaign(t, svc, 1000)
	seedContribution(t, svc, entity.CampaignID, 1000, 0, true)

	first, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: entity.CampaignID})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: entity.CampaignID})
	require.NoError(t, err)
	require.Equal(t, first.SettlementID, second.SettlementID)

	require.Len(t, mock.tasks, 1)
	require.Equal(t, taskname.SettlementCreated, mock.tasks[0].Type())
}

func TestCreateIfTargetReachedRepairsDriftedCache(t *testing.T) {
	svc := newTestService(t)
	entity := seedCampaign(t, svc, 1_000_000)
	// The ledger holds the full amount but the cached total lost an update.
	seedContribution(t, svc, entity.CampaignID, 1_000_000, 0, false)
	require.NoError(t, svc.db.Model(&campaign.Campaign{}).
		Where("campaign_id = ?", entity.CampaignID).
		Update("current_amount", 500_000).Error)

	entry, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: entity.CampaignID})
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, int64(1_000_000), entry.TotalRaised)

	var repaired campaign.Campaign
	require.NoError(t, svc.db.First(&repaired, "campaign_id = ?", entity.CampaignID).Error)
	require.Equal(t, int64(1_000_000), repaired.CurrentAmount)
}

func TestCreateIfTargetReachedNoSuccessfulContributions(t *testing.T) {
	svc := newTestService(t)
	entity := seedCampaign(t, svc, 0)

	_, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: entity.CampaignID})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Status())
}

func TestCreateIfTargetReachedCampaignNotFound(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: "missing"})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestCreateIfTargetReachedGatewayFeeOverride(t *testing.T) {
	svc := newTestService(t)
	entity := seedCampaign(t, svc, 1000)
	seedContribution(t, svc, entity.CampaignID, 1000, 30, true)

	override := int64(99)
	entry, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{
		CampaignID:         entity.CampaignID,
		GatewayFeeOverride: &override,
	})
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, int64(99), entry.GatewayFees)
}

func TestCreateIfTargetReachedCustomRate(t *testing.T) {
	svc := newTestService(t)
	entity := seedCampaign(t, svc, 1000)
	seedContribution(t, svc, entity.CampaignID, 1000, 0, true)

	rate := 0.10
	entry, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{
		CampaignID:      entity.CampaignID,
		PlatformFeeRate: &rate,
	})
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, int64(100), entry.PlatformFee)
}

func TestCreateIfTargetReachedShareOverflow(t *testing.T) {
	svc := newTestService(t)
	entity := seedCampaign(t, svc, 1000)
	seedShare(t, svc, entity.CampaignID, campaign.StakeholderPartner, "p", 0.6)
	seedShare(t, svc, entity.CampaignID, campaign.StakeholderCollaborator, "c", 0.5)
	seedContribution(t, svc, entity.CampaignID, 1000, 0, true)

	_, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: entity.CampaignID})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())

	// Nothing was written on the rejected attempt.
	var count int64
	require.NoError(t, svc.db.Model(&Settlement{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestSettlementLifecycle(t *testing.T) {
	svc := newTestService(t)
	entity := seedCampaign(t, svc, 1000)
	seedContribution(t, svc, entity.CampaignID, 1000, 0, true)

	entry, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: entity.CampaignID})
	require.NoError(t, err)

	// PENDING settlements cannot be paid directly.
	_, err = svc.MarkPaid(context.Background(), entry.SettlementID)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())

	approved, err := svc.Approve(context.Background(), entry.SettlementID)
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, approved.Status)

	paid, err := svc.MarkPaid(context.Background(), entry.SettlementID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, paid.Status)

	// Repeating a completed transition stays idempotent.
	again, err := svc.MarkPaid(context.Background(), entry.SettlementID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, again.Status)
}

func TestFailedSettlementDoesNotBlockNewOne(t *testing.T) {
	svc := newTestService(t)
	entity := seedCampaign(t, svc, 1000)
	seedContribution(t, svc, entity.CampaignID, 1000, 0, true)

	first, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: entity.CampaignID})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), first.SettlementID)
	require.NoError(t, err)
	_, err = svc.MarkFailed(context.Background(), first.SettlementID)
	require.NoError(t, err)

	second, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: entity.CampaignID})
	require.NoError(t, err)
	require.NotNil(t, second)
	require.NotEqual(t, first.SettlementID, second.SettlementID)
}

func TestGetReturnsPayouts(t *testing.T) {
	svc := newTestService(t)
	entity := seedCampaign(t, svc, 1000)
	seedContribution(t, svc, entity.CampaignID, 1000, 0, true)

	created, err := svc.CreateIfTargetReached(context.Background(), CreateRequest{CampaignID: entity.CampaignID})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), created.SettlementID)
	require.NoError(t, err)
	require.Equal(t, created.SettlementID, got.SettlementID)
	require.NotEmpty(t, got.Payouts)
}

func TestServiceImplementsHealthServer(t *testing.T) {
	svc := newTestService(t)

	var hs grpc_health_v1.HealthServer = svc
	resp, err := hs.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}
