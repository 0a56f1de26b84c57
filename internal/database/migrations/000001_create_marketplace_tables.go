package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/leadbridge/backend/internal/models"
	"gorm.io/gorm"
)

func createMarketplaceTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_marketplace_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				// Directory read model
				&models.Provider{},
				&models.ProviderServiceArea{},
				&models.Affiliate{},

				// Leads and the role ledger
				&models.Lead{},
				&models.RoleSlot{},
				&models.RoleCuratedProvider{},

				// Purchases
				&models.PurchaseIntent{},
				&models.PurchaseRecord{},
				&models.PurchaseReversal{},
				&models.SettlementConflict{},
				&models.WebhookEvent{},

				// Payouts
				&models.Payout{},
				&models.PayoutAttempt{},
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&models.PayoutAttempt{},
				&models.Payout{},
				&models.WebhookEvent{},
				&models.SettlementConflict{},
				&models.PurchaseReversal{},
				&models.PurchaseRecord{},
				&models.PurchaseIntent{},
				&models.RoleCuratedProvider{},
				&models.RoleSlot{},
				&models.Lead{},
				&models.Affiliate{},
				&models.ProviderServiceArea{},
				&models.Provider{},
			)
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createMarketplaceTables())
}
