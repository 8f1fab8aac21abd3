package inventory_test

import (
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/asset-ledger/inventory"
)

func TestRegisterPart_BooksInitialStockAsIn(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: a part registered with 7 units
		id := h.part("BAT-01", 7)

		// THEN: the opening stock is one IN entry
		p := h.getPart(id)
		assert.Equal(t, 7, p.StockLevel)

		entries, err := h.engine.Stock.StockHistory(h.ctx, id)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, inventory.ChangeIn, entries[0].ChangeType)
		assert.Equal(t, 7, entries[0].Quantity)
		assert.Equal(t, 0, entries[0].PreviousStock)
		assert.Equal(t, "initial stock", entries[0].Reason)
	})
}

func TestRegisterPart_ZeroStockWritesNoEntry(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		id := h.part("FAN-02", 0)

		entries, err := h.engine.Stock.StockHistory(h.ctx, id)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestRegisterPart_Validation(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		cases := []struct {
			name string
			in   inventory.NewPart
		}{
			{"missing part number", inventory.NewPart{Name: "x"}},
			{"missing name", inventory.NewPart{PartNumber: "X-1"}},
			{"negative stock", inventory.NewPart{PartNumber: "X-1", Name: "x", InitialStock: -1}},
			{"negative minimum", inventory.NewPart{PartNumber: "X-1", Name: "x", MinStockLevel: -1}},
			{"negative cost", inventory.NewPart{PartNumber: "X-1", Name: "x", UnitCost: decimal.NewFromInt(-1)}},
		}
		for _, tc := range cases {
			_, err := h.engine.Stock.RegisterPart(h.ctx, tc.in)
			assert.ErrorIs(t, err, inventory.ErrInvalidArgument, tc.name)
		}
	})
}

func TestRegisterPart_DuplicatePartNumber(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		h.part("KB-UK", 1)

		_, err := h.engine.Stock.RegisterPart(h.ctx, inventory.NewPart{PartNumber: "KB-UK", Name: "again"})
		assert.ErrorIs(t, err, inventory.ErrConflict)
	})
}

func TestAdjustStock_ChangeTypes(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		cases := []struct {
			name       string
			start      int
			quantity   int
			changeType inventory.ChangeType
			wantStock  int
			wantDelta  int
		}{
			{"in adds", 5, 3, inventory.ChangeIn, 8, 3},
			{"out subtracts", 5, 2, inventory.ChangeOut, 3, -2},
			{"out clamps at zero", 3, 5, inventory.ChangeOut, 0, -3},
			{"adjustment sets absolute level up", 5, 9, inventory.ChangeAdjustment, 9, 4},
			{"adjustment sets absolute level down", 5, 1, inventory.ChangeAdjustment, 1, -4},
			{"adjustment to zero", 5, 0, inventory.ChangeAdjustment, 0, -5},
		}
		for i, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				// GIVEN: a part at the starting level
				id := h.part("P-"+string(rune('A'+i)), tc.start)

				// WHEN: one movement is applied
				p, err := h.engine.Stock.AdjustStock(h.ctx, id, tc.quantity, tc.changeType,
					inventory.ChangeOptions{Reason: tc.name, ChangedBy: "stores"})
				require.NoError(t, err)

				// THEN: stock and the signed ledger quantity agree
				assert.Equal(t, tc.wantStock, p.StockLevel)
				assert.Equal(t, tc.wantStock, h.getPart(id).StockLevel)

				entries, err := h.engine.Stock.StockHistory(h.ctx, id)
				require.NoError(t, err)
				latest := entries[0]
				assert.Equal(t, tc.changeType, latest.ChangeType)
				assert.Equal(t, tc.wantDelta, latest.Quantity)
				assert.Equal(t, tc.start, latest.PreviousStock)
				assert.Equal(t, tc.wantStock, latest.NewStock)
				assert.Equal(t, "stores", latest.ChangedBy)
			})
		}
		h.requireLedgersConsistent()
	})
}

func TestAdjustStock_RejectsBadInput(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		id := h.part("RAM-8", 4)

		_, err := h.engine.Stock.AdjustStock(h.ctx, id, 0, inventory.ChangeIn, inventory.ChangeOptions{})
		assert.ErrorIs(t, err, inventory.ErrInvalidArgument)

		_, err = h.engine.Stock.AdjustStock(h.ctx, id, -2, inventory.ChangeOut, inventory.ChangeOptions{})
		assert.ErrorIs(t, err, inventory.ErrInvalidArgument)

		_, err = h.engine.Stock.AdjustStock(h.ctx, id, -1, inventory.ChangeAdjustment, inventory.ChangeOptions{})
		assert.ErrorIs(t, err, inventory.ErrInvalidArgument)

		_, err = h.engine.Stock.AdjustStock(h.ctx, id, 1, inventory.ChangeType("MOVE"), inventory.ChangeOptions{})
		assert.ErrorIs(t, err, inventory.ErrInvalidArgument)

		_, err = h.engine.Stock.AdjustStock(h.ctx, "missing", 1, inventory.ChangeIn, inventory.ChangeOptions{})
		assert.ErrorIs(t, err, inventory.ErrNotFound)

		// An IN that would overflow the level is a bad argument, not a wrap.
		_, err = h.engine.Stock.AdjustStock(h.ctx, id, math.MaxInt, inventory.ChangeIn, inventory.ChangeOptions{})
		assert.ErrorIs(t, err, inventory.ErrInvalidArgument)
		var ae *inventory.ArgumentError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, "quantity", ae.Field)

		// Nothing was written by the failed calls.
		entries, err := h.engine.Stock.StockHistory(h.ctx, id)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.Equal(t, 4, h.getPart(id).StockLevel)
	})
}

func TestAdjustStock_LedgerSumMatchesLevel(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: a sequence of mixed movements, including a clamped withdrawal
		id := h.part("SSD-512", 10)
		moves := []struct {
			q  int
			ct inventory.ChangeType
		}{
			{4, inventory.ChangeOut},
			{20, inventory.ChangeOut},
			{6, inventory.ChangeIn},
			{15, inventory.ChangeAdjustment},
			{3, inventory.ChangeOut},
		}
		for _, m := range moves {
			_, err := h.engine.Stock.AdjustStock(h.ctx, id, m.q, m.ct, inventory.ChangeOptions{})
			require.NoError(t, err)
		}

		// THEN: the cached level equals the ledger sum
		rec, err := h.engine.Stock.RecomputeFromLedger(h.ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.InSync())
		assert.Equal(t, 12, rec.Cached)
		assert.Equal(t, 0, rec.Drift())
	})
}

func TestAdjustStock_ConcurrentCallsDoNotLoseUpdates(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		id := h.part("CHG-65W", 50)

		const workers = 20
		var wg sync.WaitGroup
		errs := make(chan error, workers*2)
		for i := 0; i < workers; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := h.engine.Stock.AdjustStock(h.ctx, id, 2, inventory.ChangeIn, inventory.ChangeOptions{})
				errs <- err
			}()
			go func() {
				defer wg.Done()
				_, err := h.engine.Stock.AdjustStock(h.ctx, id, 1, inventory.ChangeOut, inventory.ChangeOptions{})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		// 50 + 20*2 - 20*1
		assert.Equal(t, 70, h.getPart(id).StockLevel)

		entries, err := h.engine.Stock.StockHistory(h.ctx, id)
		require.NoError(t, err)
		assert.Len(t, entries, 1+workers*2)
		for i := 0; i < len(entries)-1; i++ {
			// newest first: each entry starts where the older one ended
			assert.Equal(t, entries[i+1].NewStock, entries[i].PreviousStock)
		}
		h.requireLedgersConsistent()
	})
}

func TestReconcileStock_ReportsDrift(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		// GIVEN: a part whose cache is edited behind the ledger's back
		id := h.part("HDMI-1", 5)
		h.part("USB-C", 2)

		p, err := h.store.GetPart(h.ctx, id)
		require.NoError(t, err)
		p.StockLevel = 9
		require.NoError(t, h.store.UpdatePart(h.ctx, *p))

		// WHEN: the stock is reconciled
		drift, err := h.engine.Stock.ReconcileStock(h.ctx)
		require.NoError(t, err)

		// THEN: only the tampered part is reported
		require.Len(t, drift, 1)
		assert.Equal(t, id, drift[0].PartID)
		assert.Equal(t, 9, drift[0].Cached)
		assert.Equal(t, 5, drift[0].Ledger)
		assert.Equal(t, 4, drift[0].Drift())
	})
}

func TestReorderCandidates(t *testing.T) {
	forEachStore(t, func(t *testing.T, h *harness) {
		mk := func(number string, stock, min int, cost string) {
			_, err := h.engine.Stock.RegisterPart(h.ctx, inventory.NewPart{
				PartNumber:    number,
				Name:          number,
				InitialStock:  stock,
				MinStockLevel: min,
				UnitCost:      decimal.RequireFromString(cost),
			})
			require.NoError(t, err)
		}
		mk("A-OK", 10, 5, "1.00")
		mk("B-LOW", 1, 3, "19.99")
		mk("C-EMPTY", 0, 6, "2.50")

		out, err := h.engine.Stock.ReorderCandidates(h.ctx)
		require.NoError(t, err)
		require.Len(t, out, 2)

		assert.Equal(t, "C-EMPTY", out[0].Part.PartNumber)
		assert.Equal(t, 6, out[0].Shortfall)
		assert.True(t, decimal.RequireFromString("15.00").Equal(out[0].Cost))

		assert.Equal(t, "B-LOW", out[1].Part.PartNumber)
		assert.Equal(t, 2, out[1].Shortfall)
		assert.True(t, decimal.RequireFromString("39.98").Equal(out[1].Cost))
	})
}

func TestPart_StockValue(t *testing.T) {
	p := inventory.Part{StockLevel: 3, UnitCost: decimal.RequireFromString("10.10")}
	assert.True(t, decimal.RequireFromString("30.30").Equal(p.StockValue()))
	assert.False(t, p.BelowMinimum())
}
