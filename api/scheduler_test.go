package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/asset-ledger/inventory"
	"github.com/warp/asset-ledger/inventory/store"
)

func TestIntegrityScheduler_StartStop(t *testing.T) {
	engine := inventory.NewEngine(store.NewMemory())

	// Disabled: nothing is scheduled.
	off := NewIntegrityScheduler(engine, "", nil)
	require.NoError(t, off.Start())
	assert.True(t, off.NextRun().IsZero())
	off.Stop()

	// Enabled: the next run is known.
	on := NewIntegrityScheduler(engine, "0 3 * * *", nil)
	require.NoError(t, on.Start())
	assert.False(t, on.NextRun().IsZero())
	on.Stop()

	bad := NewIntegrityScheduler(engine, "every tuesday", nil)
	assert.Error(t, bad.Start())
}

func TestIntegrityScheduler_RunNowRecordsReport(t *testing.T) {
	ctx := context.Background()
	engine := inventory.NewEngine(store.NewMemory())
	sched := NewIntegrityScheduler(engine, "", nil)

	assert.Nil(t, sched.LastReport())

	_, err := engine.Stock.RegisterPart(ctx, inventory.NewPart{PartNumber: "P-1", Name: "p", InitialStock: 2})
	require.NoError(t, err)

	report, err := sched.RunNow(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy())

	last := sched.LastReport()
	require.NotNil(t, last)
	assert.Equal(t, report.CheckedAt, last.CheckedAt)
}
