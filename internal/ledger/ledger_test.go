package ledger_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leadbridge/backend/internal/ledger"
	"github.com/leadbridge/backend/internal/models"
	"github.com/leadbridge/backend/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveAndMarkSold(t *testing.T) {
	db := testutil.NewTestDB(t)
	aff := testutil.CreateAffiliate(t, db)
	lead := testutil.CreateLead(t, db, aff.ID, models.DistributionOpen,
		testutil.RoleFixture{Role: models.JobRoleTitleAgent, Enabled: true, Price: "100", AffiliatePrice: "40"})
	provider := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, ledger.Reserve(db, lead.ID, models.JobRoleTitleAgent, provider, now))
	slot := testutil.Slot(t, db, lead.ID, models.JobRoleTitleAgent)
	assert.Equal(t, models.SlotReserved, slot.State)
	require.NotNil(t, slot.ProviderID)
	assert.Equal(t, provider, *slot.ProviderID)

	err := ledger.Reserve(db, lead.ID, models.JobRoleTitleAgent, uuid.New(), now)
	assert.ErrorIs(t, err, models.ErrRoleAlreadyReserved)

	err = ledger.MarkSold(db, lead.ID, models.JobRoleTitleAgent, uuid.New(), decimal.NewFromInt(100), decimal.NewFromInt(40), now)
	assert.ErrorIs(t, err, models.ErrRoleAlreadyReserved)

	require.NoError(t, ledger.MarkSold(db, lead.ID, models.JobRoleTitleAgent, provider, decimal.NewFromInt(100), decimal.NewFromInt(40), now))
	slot = testutil.Slot(t, db, lead.ID, models.JobRoleTitleAgent)
	assert.Equal(t, models.SlotSold, slot.State)
	assert.True(t, slot.AcquisitionCost.Valid)
	assert.True(t, decimal.NewFromInt(100).Equal(slot.AcquisitionCost.Decimal))

	assert.ErrorIs(t, ledger.Reserve(db, lead.ID, models.JobRoleTitleAgent, provider, now), models.ErrRoleAlreadyReserved)
}

func TestReserveRejectsDisabledAndMissingRoles(t *testing.T) {
	db := testutil.NewTestDB(t)
	aff := testutil.CreateAffiliate(t, db)
	lead := testutil.CreateLead(t, db, aff.ID, models.DistributionOpen,
		testutil.RoleFixture{Role: models.JobRoleTitleAgent, Enabled: false, Price: "100"})

	err := ledger.Reserve(db, lead.ID, models.JobRoleTitleAgent, uuid.New(), time.Now().UTC())
	assert.ErrorIs(t, err, models.ErrRoleUnavailable)

	err = ledger.Reserve(db, lead.ID, models.JobRoleLoanOriginator, uuid.New(), time.Now().UTC())
	assert.ErrorIs(t, err, models.ErrRoleUnavailable)
}

func TestAdminReopen(t *testing.T) {
	db := testutil.NewTestDB(t)
	aff := testutil.CreateAffiliate(t, db)
	lead := testutil.CreateLead(t, db, aff.ID, models.DistributionOpen,
		testutil.RoleFixture{Role: models.JobRoleTitleAgent, Enabled: true, Price: "100"})
	provider := uuid.New()
	now := time.Now().UTC()

	assert.ErrorIs(t, ledger.AdminReopen(db, lead.ID, models.JobRoleTitleAgent), ledger.ErrSlotNotSold)

	require.NoError(t, ledger.Reserve(db, lead.ID, models.JobRoleTitleAgent, provider, now))
	require.NoError(t, ledger.MarkSold(db, lead.ID, models.JobRoleTitleAgent, provider, decimal.NewFromInt(100), decimal.Zero, now))
	require.NoError(t, ledger.AdminReopen(db, lead.ID, models.JobRoleTitleAgent))

	slot := testutil.Slot(t, db, lead.ID, models.JobRoleTitleAgent)
	assert.Equal(t, models.SlotUnsold, slot.State)
	assert.Nil(t, slot.ProviderID)
	assert.False(t, slot.AcquisitionCost.Valid)
}

func TestAllEnabledSold(t *testing.T) {
	db := testutil.NewTestDB(t)
	aff := testutil.CreateAffiliate(t, db)
	lead := testutil.CreateLead(t, db, aff.ID, models.DistributionOpen,
		testutil.RoleFixture{Role: models.JobRoleTitleAgent, Enabled: true, Price: "100"},
		testutil.RoleFixture{Role: models.JobRoleLoanOriginator, Enabled: true, Price: "80"},
		testutil.RoleFixture{Role: models.JobRoleRealEstateAgent, Enabled: false, Price: "50"})
	now := time.Now().UTC()

	sell := func(role models.JobRole) {
		p := uuid.New()
		require.NoError(t, ledger.Reserve(db, lead.ID, role, p, now))
		require.NoError(t, ledger.MarkSold(db, lead.ID, role, p, decimal.NewFromInt(1), decimal.Zero, now))
	}

	done, err := ledger.AllEnabledSold(db, lead.ID)
	require.NoError(t, err)
	assert.False(t, done)

	sell(models.JobRoleTitleAgent)
	done, err = ledger.AllEnabledSold(db, lead.ID)
	require.NoError(t, err)
	assert.False(t, done)

	sell(models.JobRoleLoanOriginator)
	done, err = ledger.AllEnabledSold(db, lead.ID)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = ledger.AllEnabledSold(db, uuid.New())
	require.NoError(t, err)
	assert.False(t, done)
}

func TestGet(t *testing.T) {
	db := testutil.NewTestDB(t)
	aff := testutil.CreateAffiliate(t, db)
	lead := testutil.CreateLead(t, db, aff.ID, models.DistributionOpen,
		testutil.RoleFixture{Role: models.JobRoleTitleAgent, Enabled: true, Price: "75"})

	slot, err := ledger.Get(db, lead.ID, models.JobRoleTitleAgent)
	require.NoError(t, err)
	assert.Equal(t, models.SlotUnsold, slot.State)
	assert.True(t, decimal.NewFromInt(75).Equal(slot.Price))

	_, err = ledger.Get(db, lead.ID, models.JobRoleLoanOriginator)
	assert.ErrorIs(t, err, models.ErrRoleUnavailable)
}
