package inventory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/asset-ledger/inventory"
)

func TestCompleteRepair_InsufficientStockChangesNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: 3 units in stock and an unassigned asset in repair
		part := h.part("LCD-14", 3)
		id := h.asset("SN-C")
		_, err := h.engine.Assets.SetStatus(h.ctx, id, inventory.StatusInRepair, inventory.ChangeOptions{})
		require.NoError(t, err)

		// WHEN: the repair needs 5
		_, err = h.engine.Repair.CompleteRepair(h.ctx, id,
			[]inventory.PartUsage{{PartID: part, Quantity: 5}}, inventory.RepairOptions{})

		// THEN: it fails naming the part and shortfall, and nothing moved
		require.ErrorIs(t, err, inventory.ErrInsufficientStock)
		var ise *inventory.InsufficientStockError
		require.ErrorAs(t, err, &ise)
		assert.Equal(t, part, ise.PartID)
		assert.Equal(t, 3, ise.Available)
		assert.Equal(t, 5, ise.Requested)
		assert.Equal(t, 2, ise.Shortfall)

		assert.Equal(t, 3, h.getPart(part).StockLevel)
		assert.Equal(t, inventory.StatusInRepair, h.getAsset(id).Status())
		h.requireLedgersConsistent()
	})
}

func TestCompleteRepair_ReturnsToOwner(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: 10 units and an asset in repair for its owner
		part := h.part("KB-US", 10)
		y := h.staff("yara")
		id := h.asset("SN-D")
		h.assignedToRepair(id, y)

		// WHEN: the repair uses 2
		res, err := h.engine.Repair.CompleteRepair(h.ctx, id,
			[]inventory.PartUsage{{PartID: part, Quantity: 2}},
			inventory.RepairOptions{Notes: "keyboard replaced", CompletedBy: "tech-1"})
		require.NoError(t, err)

		// THEN: stock drops by 2 through one OUT entry and the owner gets it back
		assert.Equal(t, inventory.StatusAssigned, res.NewStatus)
		assert.Equal(t, y, *res.Asset.AssignedTo())
		assert.Equal(t, 8, h.getPart(part).StockLevel)

		entries, err := h.engine.Stock.StockHistory(h.ctx, part)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		out := entries[0]
		assert.Equal(t, inventory.ChangeOut, out.ChangeType)
		assert.Equal(t, -2, out.Quantity)
		assert.Equal(t, "used in repair", out.Reason)
		assert.Equal(t, "tech-1", out.ChangedBy)
		assert.Contains(t, out.Notes, "SN-D")

		require.Len(t, res.Consumed, 1)
		assert.Equal(t, out.ID, res.Consumed[0].ID)

		// AND: the status entry carries the parts summary
		hist := h.history(id)
		last := hist.StatusHistory[0]
		assert.Equal(t, inventory.StatusInRepair, last.FromStatus)
		assert.Equal(t, inventory.StatusAssigned, last.ToStatus)
		assert.Equal(t, "repair completed", last.Reason)
		assert.Equal(t, "keyboard replaced; parts used: KB-US x2", last.Notes)

		// AND: the owner's assignment was never interrupted
		require.Len(t, hist.AssignmentHistory, 1)
		assert.True(t, hist.AssignmentHistory[0].IsOpen())
		h.requireLedgersConsistent()
	})
}

func TestCompleteRepair_UnassignedGoesToAvailable(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		part := h.part("FAN-1", 4)
		id := h.asset("SN-POOL")
		_, err := h.engine.Assets.SetStatus(h.ctx, id, inventory.StatusInRepair, inventory.ChangeOptions{})
		require.NoError(t, err)

		res, err := h.engine.Repair.CompleteRepair(h.ctx, id,
			[]inventory.PartUsage{{PartID: part, Quantity: 1}}, inventory.RepairOptions{})
		require.NoError(t, err)

		assert.Equal(t, inventory.StatusAvailable, res.NewStatus)
		assert.Nil(t, res.Asset.AssignedTo())
		assert.Equal(t, "parts used: FAN-1 x1", h.history(id).StatusHistory[0].Notes)
	})
}

func TestCompleteRepair_DepartedOwnerDoesNotGetAssetBack(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: an asset in repair whose owner has since left without being offboarded
		part := h.part("PAD-1", 2)
		z := h.staff("zed")
		id := h.asset("SN-GONE")
		h.assignedToRepair(id, z)

		st, err := h.store.GetStaff(h.ctx, z)
		require.NoError(t, err)
		left := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
		st.LeavingDate = &left
		require.NoError(t, h.store.UpdateStaff(h.ctx, *st))

		// WHEN: the repair completes
		res, err := h.engine.Repair.CompleteRepair(h.ctx, id,
			[]inventory.PartUsage{{PartID: part, Quantity: 1}}, inventory.RepairOptions{})
		require.NoError(t, err)

		// THEN: the asset goes back to the pool and the owner's entry is closed
		assert.Equal(t, inventory.StatusAvailable, res.NewStatus)
		a := h.getAsset(id)
		assert.Nil(t, a.AssignedTo())
		_, held := a.State.Holder()
		assert.False(t, held)

		hist := h.history(id)
		require.Len(t, hist.AssignmentHistory, 1)
		assert.False(t, hist.AssignmentHistory[0].IsOpen())
		assert.Equal(t, "repair completed", hist.AssignmentHistory[0].UnassignReason)

		assert.Equal(t, 1, h.getPart(part).StockLevel)
		h.requireLedgersConsistent()
	})
}

func TestCompleteRepair_LaterShortageRollsBackEarlierParts(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: plenty of the first part, not enough of the second
		plenty := h.part("BAT-XL", 10)
		scarce := h.part("HINGE-L", 1)
		y := h.staff("yoko")
		id := h.asset("SN-ATOM")
		h.assignedToRepair(id, y)

		// WHEN: the repair consumes both
		_, err := h.engine.Repair.CompleteRepair(h.ctx, id, []inventory.PartUsage{
			{PartID: plenty, Quantity: 2},
			{PartID: scarce, Quantity: 3},
		}, inventory.RepairOptions{})
		require.ErrorIs(t, err, inventory.ErrInsufficientStock)

		// THEN: the first part is untouched and so is the asset
		assert.Equal(t, 10, h.getPart(plenty).StockLevel)
		entries, err := h.engine.Stock.StockHistory(h.ctx, plenty)
		require.NoError(t, err)
		assert.Len(t, entries, 1)

		a := h.getAsset(id)
		assert.Equal(t, inventory.StatusInRepair, a.Status())
		assert.Len(t, h.history(id).StatusHistory, 2)
		h.requireLedgersConsistent()
	})
}

func TestCompleteRepair_SamePartTwiceSeesEarlierConsumption(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		part := h.part("SCREW-M2", 3)
		id := h.asset("SN-TWICE")
		_, err := h.engine.Assets.SetStatus(h.ctx, id, inventory.StatusInRepair, inventory.ChangeOptions{})
		require.NoError(t, err)

		_, err = h.engine.Repair.CompleteRepair(h.ctx, id, []inventory.PartUsage{
			{PartID: part, Quantity: 2},
			{PartID: part, Quantity: 2},
		}, inventory.RepairOptions{})
		require.ErrorIs(t, err, inventory.ErrInsufficientStock)
		assert.Equal(t, 3, h.getPart(part).StockLevel)
	})
}

func TestCompleteRepair_Preconditions(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		part := h.part("DC-JACK", 2)
		id := h.asset("SN-PRE")

		// Not in repair.
		_, err := h.engine.Repair.CompleteRepair(h.ctx, id, nil, inventory.RepairOptions{})
		require.ErrorIs(t, err, inventory.ErrInvalidState)
		var se *inventory.StateError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, inventory.StatusInRepair, se.Want)

		_, err = h.engine.Assets.SetStatus(h.ctx, id, inventory.StatusInRepair, inventory.ChangeOptions{})
		require.NoError(t, err)

		// Malformed usage lines.
		_, err = h.engine.Repair.CompleteRepair(h.ctx, id,
			[]inventory.PartUsage{{PartID: part, Quantity: 0}}, inventory.RepairOptions{})
		assert.ErrorIs(t, err, inventory.ErrInvalidArgument)
		_, err = h.engine.Repair.CompleteRepair(h.ctx, id,
			[]inventory.PartUsage{{Quantity: 1}}, inventory.RepairOptions{})
		assert.ErrorIs(t, err, inventory.ErrInvalidArgument)

		// Unknown part and unknown asset.
		_, err = h.engine.Repair.CompleteRepair(h.ctx, id,
			[]inventory.PartUsage{{PartID: "missing", Quantity: 1}}, inventory.RepairOptions{})
		assert.ErrorIs(t, err, inventory.ErrNotFound)
		_, err = h.engine.Repair.CompleteRepair(h.ctx, "missing", nil, inventory.RepairOptions{})
		assert.ErrorIs(t, err, inventory.ErrNotFound)

		assert.Equal(t, inventory.StatusInRepair, h.getAsset(id).Status())
		assert.Equal(t, 2, h.getPart(part).StockLevel)
	})
}
