package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Violation is an asset whose holder and assignment history disagree.
type Violation struct {
	AssetID AssetID
	Detail  string
}

// CheckAssignments verifies, for every asset, that at most one assignment
// entry is open and that the open entry matches the asset's holder.
func (m *AssetMachine) CheckAssignments(ctx context.Context) ([]Violation, error) {
	assets, err := m.Store.ListAssets(ctx, AssetFilter{})
	if err != nil {
		return nil, err
	}
	var out []Violation
	for _, a := range assets {
		entries, err := m.Store.AssignmentHistory(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, checkAsset(a, entries)...)
	}
	for _, v := range out {
		nopIfNil(m.Logger).Warn("assignment invariant violated",
			zap.String("asset_id", string(v.AssetID)), zap.String("detail", v.Detail))
	}
	return out, nil
}

func checkAsset(a Asset, entries []AssignmentEntry) []Violation {
	var (
		out  []Violation
		open []AssignmentEntry
	)
	for _, e := range entries {
		if e.IsOpen() {
			open = append(open, e)
		}
	}
	if len(open) > 1 {
		out = append(out, Violation{AssetID: a.ID, Detail: fmt.Sprintf("%d open assignments", len(open))})
	}

	holder, held := a.State.Holder()
	switch {
	case a.Status() == StatusAssigned && len(open) == 0:
		out = append(out, Violation{AssetID: a.ID, Detail: "assigned without an open assignment"})
	case held && len(open) > 0 && open[0].StaffID != holder:
		out = append(out, Violation{AssetID: a.ID,
			Detail: fmt.Sprintf("held by %s but open assignment is for %s", holder, open[0].StaffID)})
	case !held && len(open) > 0:
		out = append(out, Violation{AssetID: a.ID,
			Detail: fmt.Sprintf("%s with an open assignment for %s", a.Status(), open[0].StaffID)})
	}
	return out
}
