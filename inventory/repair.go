/*
repair.go - Repair fulfillment orchestrator

PURPOSE:
  Completes a repair in one unit of work: consume the parts used, then move
  the asset out of InRepair. If any part is short, nothing is consumed and
  the asset stays InRepair.

FLOW:
  1. Asset must be InRepair (StateError otherwise)
  2. Target status: Assigned if the asset still has its holder and that
     staff member has not left, else Available (closing the open entry)
  3. For each part: check stockLevel >= quantity, then book an OUT entry
  4. Transition InRepair -> target with a summary of consumed parts

Parts listed twice are checked against the stock left after the earlier
line, because every line runs in the same transaction.
*/
package inventory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// RepairOrchestrator composes the stock engine and the asset machine.
type RepairOrchestrator struct {
	Store  TxStore
	Stock  *StockEngine
	Assets *AssetMachine
	Logger *zap.Logger
}

// PartUsage is one line of a repair's parts list.
type PartUsage struct {
	PartID   PartID
	Quantity int
}

// RepairOptions carries the audit fields of a repair completion.
type RepairOptions struct {
	Notes       string
	CompletedBy string
}

// RepairResult describes a completed repair.
type RepairResult struct {
	Asset     Asset
	NewStatus AssetStatus
	Consumed  []StockEntry
}

// CompleteRepair consumes parts and releases the asset from repair.
func (o *RepairOrchestrator) CompleteRepair(ctx context.Context, id AssetID, parts []PartUsage, opts RepairOptions) (*RepairResult, error) {
	for i, p := range parts {
		if p.PartID == "" {
			return nil, &ArgumentError{Field: fmt.Sprintf("parts[%d].part_id", i), Detail: "required"}
		}
		if p.Quantity <= 0 {
			return nil, &ArgumentError{Field: fmt.Sprintf("parts[%d].quantity", i), Detail: "must be positive"}
		}
	}

	var result *RepairResult
	err := o.Store.WithTx(ctx, func(s Store) error {
		a, err := loadAsset(ctx, s, id)
		if err != nil {
			return err
		}
		if a.Status() != StatusInRepair {
			return &StateError{AssetID: id, Status: a.Status(), Want: StatusInRepair}
		}

		target := StatusAvailable
		if holder, held := a.State.Holder(); held {
			st, err := s.GetStaff(ctx, holder)
			if err != nil {
				return fmt.Errorf("load staff %s: %w", holder, err)
			}
			if st != nil && !st.HasLeft(nowUTC(o.Assets.Clock)) {
				target = StatusAssigned
			}
		}

		consumed := make([]StockEntry, 0, len(parts))
		summary := make([]string, 0, len(parts))
		for _, p := range parts {
			part, err := s.GetPart(ctx, p.PartID)
			if err != nil {
				return err
			}
			if part == nil {
				return partNotFound(p.PartID)
			}
			if part.StockLevel < p.Quantity {
				return &InsufficientStockError{
					PartID:    p.PartID,
					Available: part.StockLevel,
					Requested: p.Quantity,
					Shortfall: p.Quantity - part.StockLevel,
				}
			}
			_, entry, err := o.Stock.adjust(ctx, s, p.PartID, p.Quantity, ChangeOut, ChangeOptions{
				Reason:    "used in repair",
				ChangedBy: opts.CompletedBy,
				Notes:     fmt.Sprintf("asset %s (serial %s)", a.ID, a.Serial),
			})
			if err != nil {
				return err
			}
			consumed = append(consumed, entry)
			summary = append(summary, fmt.Sprintf("%s x%d", part.PartNumber, p.Quantity))
		}

		notes := opts.Notes
		if len(summary) > 0 {
			used := "parts used: " + strings.Join(summary, ", ")
			if notes == "" {
				notes = used
			} else {
				notes = notes + "; " + used
			}
		}

		updated, err := o.Assets.setStatus(ctx, s, id, target, ChangeOptions{
			Reason:    "repair completed",
			ChangedBy: opts.CompletedBy,
			Notes:     notes,
		})
		if err != nil {
			return err
		}
		result = &RepairResult{Asset: *updated, NewStatus: target, Consumed: consumed}
		return nil
	})
	if err != nil {
		nopIfNil(o.Logger).Debug("repair completion rejected",
			zap.String("asset_id", string(id)), zap.Error(err))
		return nil, err
	}
	nopIfNil(o.Logger).Info("repair completed",
		zap.String("asset_id", string(id)),
		zap.String("status", string(result.NewStatus)),
		zap.Int("parts", len(result.Consumed)))
	return result, nil
}
