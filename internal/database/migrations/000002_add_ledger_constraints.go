package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Check constraints recognised only by postgres. sqlite test databases rely
// on the unique indexes alone.
var ledgerConstraints = []struct {
	table, name, check string
}{
	{"role_slots", "chk_role_slots_state", "state IN ('unsold', 'reserved', 'sold')"},
	{"role_slots", "chk_role_slots_occupant", "(state = 'unsold') = (provider_id IS NULL)"},
	{"role_slots", "chk_role_slots_price", "price >= 0 AND affiliate_price >= 0"},
	{"purchase_intents", "chk_purchase_intents_status", "status IN ('created', 'confirmed', 'expired')"},
	{"payouts", "chk_payouts_status", "status IN ('pending', 'paid')"},
	{"payouts", "chk_payouts_paid_at", "(status = 'paid') = (paid_at IS NOT NULL)"},
	{"leads", "chk_leads_status", "status IN ('pending', 'sold', 'expired')"},
}

func addLedgerConstraints() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_add_ledger_constraints",
		Migrate: func(tx *gorm.DB) error {
			if !isPostgres(tx) {
				return nil
			}
			for _, c := range ledgerConstraints {
				if err := tx.Exec(`ALTER TABLE ` + c.table + ` ADD CONSTRAINT ` + c.name + ` CHECK (` + c.check + `)`).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			if !isPostgres(tx) {
				return nil
			}
			for _, c := range ledgerConstraints {
				if err := tx.Exec(`ALTER TABLE ` + c.table + ` DROP CONSTRAINT IF EXISTS ` + c.name).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func init() {
	migrationsList = append(migrationsList, addLedgerConstraints())
}
