package campaign

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fundflow-settlement/pkg/errutil"
	"fundflow-settlement/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Campaign{}, &StakeholderShare{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestCreateCampaign(t *testing.T) {
	svc := newTestService(t)

	entity, err := svc.Create(context.Background(), CreateRequest{
		OwnerID:      "creator-1",
		Title:        "solar kit",
		TargetAmount: 500_000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, entity.CampaignID)
	require.Equal(t, CampaignStatusDraft, entity.Status)
	require.Equal(t, "USD", entity.CurrencyCode)
	require.Zero(t, entity.CurrentAmount)
}

func TestCreateCampaignValidation(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"missing owner", CreateRequest{Title: "x", TargetAmount: 100}},
		{"missing title", CreateRequest{OwnerID: "o", TargetAmount: 100}},
		{"non-positive target", CreateRequest{OwnerID: "o", Title: "x", TargetAmount: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.req)
			require.Error(t, err)

			var be errutil.BaseError
			require.True(t, errors.As(err, &be))
			require.Equal(t, errutil.StatusBadRequest, be.Status())
		})
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestActivateAndClose(t *testing.T) {
	svc := newTestService(t)
	entity, err := svc.Create(context.Background(), CreateRequest{
		OwnerID: "creator-1", Title: "x", TargetAmount: 100,
	})
	require.NoError(t, err)

	activated, err := svc.Activate(context.Background(), entity.CampaignID)
	require.NoError(t, err)
	require.Equal(t, CampaignStatusActive, activated.Status)

	// Activating twice conflicts.
	_, err = svc.Activate(context.Background(), entity.CampaignID)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())

	closed, err := svc.Close(context.Background(), entity.CampaignID)
	require.NoError(t, err)
	require.Equal(t, CampaignStatusClosed, closed.Status)
}

func TestPutSharesReplacesExisting(t *testing.T) {
	svc := newTestService(t)
	entity, err := svc.Create(context.Background(), CreateRequest{
		OwnerID: "creator-1", Title: "x", TargetAmount: 100,
	})
	require.NoError(t, err)

	_, err = svc.PutShares(context.Background(), entity.CampaignID, []ShareInput{
		{StakeholderType: StakeholderPartner, StakeholderID: "p1", Value: 0.3, Scale: ShareScaleFraction},
	})
	require.NoError(t, err)

	rows, err := svc.PutShares(context.Background(), entity.CampaignID, []ShareInput{
		{StakeholderType: StakeholderPartner, StakeholderID: "p2", Value: 20, Scale: ShareScalePercent},
		{StakeholderType: StakeholderCollaborator, StakeholderID: "c1", Value: 0.1, Scale: ShareScaleFraction},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	listed, err := svc.ListShares(context.Background(), entity.CampaignID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, row := range listed {
		require.NotEqual(t, "p1", row.StakeholderID)
	}
}

func TestPutSharesOverflow(t *testing.T) {
	svc := newTestService(t)
	entity, err := svc.Create(context.Background(), CreateRequest{
		OwnerID: "creator-1", Title: "x", TargetAmount: 100,
	})
	require.NoError(t, err)

	_, err = svc.PutShares(context.Background(), entity.CampaignID, []ShareInput{
		{StakeholderType: StakeholderPartner, StakeholderID: "p", Value: 60, Scale: ShareScalePercent},
		{StakeholderType: StakeholderCollaborator, StakeholderID: "c", Value: 0.5, Scale: ShareScaleFraction},
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())
}

func TestPutSharesExactHundredPercent(t *testing.T) {
	svc := newTestService(t)
	entity, err := svc.Create(context.Background(), CreateRequest{
		OwnerID: "creator-1", Title: "x", TargetAmount: 100,
	})
	require.NoError(t, err)

	// 0.71% + 99.29% sums to 1.0000000000000002 in float64. Exactly 100%
	// is a valid configuration, not an overflow.
	rows, err := svc.PutShares(context.Background(), entity.CampaignID, []ShareInput{
		{StakeholderType: StakeholderPartner, StakeholderID: "p", Value: 0.71, Scale: ShareScalePercent},
		{StakeholderType: StakeholderCollaborator, StakeholderID: "c", Value: 99.29, Scale: ShareScalePercent},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestPutSharesRejectsBadInput(t *testing.T) {
	svc := newTestService(t)
	entity, err := svc.Create(context.Background(), CreateRequest{
		OwnerID: "creator-1", Title: "x", TargetAmount: 100,
	})
	require.NoError(t, err)

	cases := []struct {
		name  string
		input ShareInput
	}{
		{"platform type", ShareInput{StakeholderType: StakeholderPlatform, StakeholderID: "x", Value: 0.1, Scale: ShareScaleFraction}},
		{"missing id", ShareInput{StakeholderType: StakeholderPartner, Value: 0.1, Scale: ShareScaleFraction}},
		{"bad scale", ShareInput{StakeholderType: StakeholderPartner, StakeholderID: "x", Value: 0.1, Scale: "BPS"}},
		{"non-positive value", ShareInput{StakeholderType: StakeholderPartner, StakeholderID: "x", Value: 0, Scale: ShareScaleFraction}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.PutShares(context.Background(), entity.CampaignID, []ShareInput{tc.input})
			require.Error(t, err)

			var be errutil.BaseError
			require.True(t, errors.As(err, &be))
			require.Equal(t, errutil.StatusBadRequest, be.Status())
		})
	}
}

func TestShareFractionNormalization(t *testing.T) {
	percent := &StakeholderShare{ShareValue: 25, ShareScale: ShareScalePercent}
	require.InDelta(t, 0.25, percent.Fraction(), 1e-12)

	fraction := &StakeholderShare{ShareValue: 0.25, ShareScale: ShareScaleFraction}
	require.InDelta(t, 0.25, fraction.Fraction(), 1e-12)
}
