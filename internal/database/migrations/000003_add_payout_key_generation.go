package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/leadbridge/backend/internal/models"
	"gorm.io/gorm"
)

func addPayoutKeyGeneration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_payout_key_generation",
		Migrate: func(tx *gorm.DB) error {
			if tx.Migrator().HasColumn(&models.Payout{}, "KeyGeneration") {
				return nil
			}
			return tx.Migrator().AddColumn(&models.Payout{}, "KeyGeneration")
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropColumn(&models.Payout{}, "KeyGeneration")
		},
	}
}

func init() {
	migrationsList = append(migrationsList, addPayoutKeyGeneration())
}
