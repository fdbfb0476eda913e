package main

import (
	"context"
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"fundflow-settlement/pkg/config"
	"fundflow-settlement/pkg/db"
	"fundflow-settlement/pkg/logger"
	"fundflow-settlement/services/campaign"
	"fundflow-settlement/services/funding"
	"fundflow-settlement/services/settlement"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(provideSnowflakeNode),
		fx.Invoke(seed),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func seed(lc fx.Lifecycle, shutdowner fx.Shutdowner, gdb *gorm.DB, node *snowflake.Node) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := gdb.AutoMigrate(
				&campaign.Campaign{},
				&campaign.StakeholderShare{},
				&funding.Contribution{},
				&funding.PaymentTransaction{},
				&settlement.Settlement{},
				&settlement.Payout{},
			); err != nil {
				return err
			}

			entity := &campaign.Campaign{
				CampaignID:   node.Generate().String(),
				OwnerID:      "creator-demo",
				Title:        "Demo campaign",
				Description:  "Seeded campaign for local development",
				Status:       campaign.CampaignStatusActive,
				TargetAmount: 1_000_000,
				CurrencyCode: "USD",
			}
			if err := gdb.WithContext(ctx).Create(entity).Error; err != nil {
				return err
			}

			shares := []*campaign.StakeholderShare{
				{
					ShareID:         node.Generate().String(),
					CampaignID:      entity.CampaignID,
					StakeholderType: campaign.StakeholderPartner,
					StakeholderID:   "partner-demo",
					ShareValue:      10,
					ShareScale:      campaign.ShareScalePercent,
				},
				{
					ShareID:         node.Generate().String(),
					CampaignID:      entity.CampaignID,
					StakeholderType: campaign.StakeholderCollaborator,
					StakeholderID:   "collab-demo",
					ShareValue:      0.05,
					ShareScale:      campaign.ShareScaleFraction,
				},
			}
			if err := gdb.WithContext(ctx).Create(shares).Error; err != nil {
				return err
			}

			zap.L().Info("seeded demo campaign", zap.String("campaign_id", entity.CampaignID))
			return shutdowner.Shutdown()
		},
	})
}
