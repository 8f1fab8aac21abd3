/*
stock.go - Stock ledger engine for consumable parts

PURPOSE:
  Mutates a part's stock level only through the stock ledger. Each call
  writes exactly one StockEntry and one Part update inside one unit of work.

CHANGE TYPES:
  IN:         newStock = previous + quantity
  OUT:        newStock = max(0, previous - quantity)   (clamps, never fails)
  ADJUSTMENT: newStock = quantity                       (absolute set)

INVARIANT:
  part.StockLevel == sum(entry.Quantity) for every part. The stored
  quantity is always newStock - previousStock, so clamped withdrawals and
  absolute adjustments keep the sum exact.

RECONCILIATION:
  RecomputeFromLedger compares the cached level with the ledger sum.
  ReconcileStock runs it for every part (used by the integrity scheduler).
*/
package inventory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockEngine computes and mutates part stock levels from ledger deltas.
type StockEngine struct {
	Store  TxStore
	Clock  func() time.Time
	Logger *zap.Logger
}

// NewPart describes a part to register.
type NewPart struct {
	PartNumber    string
	Name          string
	Category      string
	Location      string
	InitialStock  int
	MinStockLevel int
	UnitCost      decimal.Decimal
	CreatedBy     string
}

// RegisterPart creates a part. Initial stock is booked as an IN entry so the
// ledger covers the whole stock level from the start.
func (e *StockEngine) RegisterPart(ctx context.Context, np NewPart) (*Part, error) {
	if strings.TrimSpace(np.PartNumber) == "" {
		return nil, &ArgumentError{Field: "part_number", Detail: "required"}
	}
	if strings.TrimSpace(np.Name) == "" {
		return nil, &ArgumentError{Field: "name", Detail: "required"}
	}
	if np.InitialStock < 0 {
		return nil, &ArgumentError{Field: "initial_stock", Detail: "must not be negative"}
	}
	if np.MinStockLevel < 0 {
		return nil, &ArgumentError{Field: "min_stock_level", Detail: "must not be negative"}
	}
	if np.UnitCost.IsNegative() {
		return nil, &ArgumentError{Field: "unit_cost", Detail: "must not be negative"}
	}

	now := nowUTC(e.Clock)
	part := Part{
		ID:            PartID(uuid.NewString()),
		PartNumber:    np.PartNumber,
		Name:          np.Name,
		Category:      np.Category,
		Location:      np.Location,
		MinStockLevel: np.MinStockLevel,
		UnitCost:      np.UnitCost,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	var out *Part
	err := e.Store.WithTx(ctx, func(s Store) error {
		if err := s.CreatePart(ctx, part); err != nil {
			return err
		}
		out = &part
		if np.InitialStock == 0 {
			return nil
		}
		p, _, err := e.adjust(ctx, s, part.ID, np.InitialStock, ChangeIn, ChangeOptions{
			Reason:    "initial stock",
			ChangedBy: np.CreatedBy,
		})
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	nopIfNil(e.Logger).Info("part registered",
		zap.String("part_id", string(out.ID)),
		zap.String("part_number", out.PartNumber),
		zap.Int("stock", out.StockLevel))
	return out, nil
}

// AdjustStock applies one stock movement. quantity is a magnitude for IN and
// OUT (> 0) and the target level for ADJUSTMENT (>= 0).
func (e *StockEngine) AdjustStock(ctx context.Context, partID PartID, quantity int, changeType ChangeType, opts ChangeOptions) (*Part, error) {
	var (
		out   *Part
		entry StockEntry
	)
	err := e.Store.WithTx(ctx, func(s Store) error {
		var err error
		out, entry, err = e.adjust(ctx, s, partID, quantity, changeType, opts)
		return err
	})
	if err != nil {
		nopIfNil(e.Logger).Debug("stock adjustment rejected",
			zap.String("part_id", string(partID)),
			zap.String("change_type", string(changeType)),
			zap.Int("quantity", quantity),
			zap.Error(err))
		return nil, err
	}
	nopIfNil(e.Logger).Info("stock adjusted",
		zap.String("part_id", string(partID)),
		zap.String("change_type", string(changeType)),
		zap.Int("delta", entry.Quantity),
		zap.Int("previous", entry.PreviousStock),
		zap.Int("new", entry.NewStock))
	return out, nil
}

// adjust runs inside the caller's unit of work.
func (e *StockEngine) adjust(ctx context.Context, s Store, partID PartID, quantity int, changeType ChangeType, opts ChangeOptions) (*Part, StockEntry, error) {
	if err := validateMovement(quantity, changeType); err != nil {
		return nil, StockEntry{}, err
	}

	part, err := s.GetPart(ctx, partID)
	if err != nil {
		return nil, StockEntry{}, fmt.Errorf("load part %s: %w", partID, err)
	}
	if part == nil {
		return nil, StockEntry{}, partNotFound(partID)
	}

	now := nowUTC(e.Clock)
	previous := part.StockLevel
	if changeType == ChangeIn && quantity > math.MaxInt-previous {
		return nil, StockEntry{}, &ArgumentError{Field: "quantity", Detail: "stock level overflow"}
	}
	next := nextStock(previous, quantity, changeType)

	entry := StockEntry{
		ID:            newEntryID(),
		PartID:        partID,
		ChangeType:    changeType,
		Quantity:      next - previous,
		PreviousStock: previous,
		NewStock:      next,
		Reason:        opts.Reason,
		ChangedBy:     opts.ChangedBy,
		Notes:         opts.Notes,
		ChangedAt:     now,
	}

	part.StockLevel = next
	part.UpdatedAt = now
	if err := s.UpdatePart(ctx, *part); err != nil {
		return nil, StockEntry{}, err
	}
	part.Version++

	if err := s.AppendStock(ctx, entry); err != nil {
		return nil, StockEntry{}, err
	}
	return part, entry, nil
}

func validateMovement(quantity int, changeType ChangeType) error {
	switch changeType {
	case ChangeIn, ChangeOut:
		if quantity <= 0 {
			return &ArgumentError{Field: "quantity", Detail: fmt.Sprintf("must be positive for %s", changeType)}
		}
	case ChangeAdjustment:
		if quantity < 0 {
			return &ArgumentError{Field: "quantity", Detail: "adjustment target must not be negative"}
		}
	default:
		return &ArgumentError{Field: "change_type", Detail: fmt.Sprintf("unknown change type %q", changeType)}
	}
	return nil
}

func nextStock(previous, quantity int, changeType ChangeType) int {
	switch changeType {
	case ChangeIn:
		return previous + quantity
	case ChangeOut:
		// Over-withdrawal clamps at zero instead of failing.
		return max(0, previous-quantity)
	default:
		return max(0, quantity)
	}
}

// GetPart returns a part or a NotFoundError.
func (e *StockEngine) GetPart(ctx context.Context, id PartID) (*Part, error) {
	p, err := e.Store.GetPart(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, partNotFound(id)
	}
	return p, nil
}

// ListParts returns every part.
func (e *StockEngine) ListParts(ctx context.Context) ([]Part, error) {
	return e.Store.ListParts(ctx)
}

// StockHistory returns a part's ledger, newest first.
func (e *StockEngine) StockHistory(ctx context.Context, id PartID) ([]StockEntry, error) {
	if _, err := e.GetPart(ctx, id); err != nil {
		return nil, err
	}
	return e.Store.StockHistory(ctx, id)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconciliation compares a part's cached level with its ledger.
type Reconciliation struct {
	PartID PartID
	Cached int
	Ledger int
}

// Drift is how far the cache is above the ledger.
func (r Reconciliation) Drift() int { return r.Cached - r.Ledger }

func (r Reconciliation) InSync() bool { return r.Cached == r.Ledger }

// RecomputeFromLedger sums the part's ledger and compares it to the cache.
func (e *StockEngine) RecomputeFromLedger(ctx context.Context, id PartID) (Reconciliation, error) {
	var rec Reconciliation
	err := e.Store.WithTx(ctx, func(s Store) error {
		p, err := s.GetPart(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return partNotFound(id)
		}
		sum, err := s.LedgerStock(ctx, id)
		if err != nil {
			return err
		}
		rec = Reconciliation{PartID: id, Cached: p.StockLevel, Ledger: sum}
		return nil
	})
	return rec, err
}

// ReconcileStock checks every part and returns the ones that drifted.
func (e *StockEngine) ReconcileStock(ctx context.Context) ([]Reconciliation, error) {
	parts, err := e.Store.ListParts(ctx)
	if err != nil {
		return nil, err
	}
	var drifted []Reconciliation
	for _, p := range parts {
		rec, err := e.RecomputeFromLedger(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if !rec.InSync() {
			nopIfNil(e.Logger).Warn("stock ledger drift",
				zap.String("part_id", string(rec.PartID)),
				zap.Int("cached", rec.Cached),
				zap.Int("ledger", rec.Ledger))
			drifted = append(drifted, rec)
		}
	}
	return drifted, nil
}

// =============================================================================
// REORDER
// =============================================================================

// Reorder is a part below its minimum level.
type Reorder struct {
	Part      Part
	Shortfall int
	Cost      decimal.Decimal
}

// ReorderCandidates lists parts below their minimum level, largest shortfall
// first, with the cost of topping them up.
func (e *StockEngine) ReorderCandidates(ctx context.Context) ([]Reorder, error) {
	parts, err := e.Store.ListParts(ctx)
	if err != nil {
		return nil, err
	}
	var out []Reorder
	for _, p := range parts {
		if !p.BelowMinimum() {
			continue
		}
		short := p.MinStockLevel - p.StockLevel
		out = append(out, Reorder{
			Part:      p,
			Shortfall: short,
			Cost:      p.UnitCost.Mul(decimal.NewFromInt(int64(short))),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Shortfall > out[j].Shortfall
	})
	return out, nil
}
