/*
Package inventory provides the asset lifecycle and stock ledger engine.

PURPOSE:
  This package owns the only real invariants of the inventory system:
  - An asset follows a fixed status transition table and is held by at
    most one staff member at a time.
  - Every status change and every assignment/unassignment is recorded in an
    append-only history.
  - A part's stock level is a cached projection of its stock ledger and
    always equals the sum of the ledger's signed quantities.

KEY CONCEPTS IN THIS FILE (types.go):
  - AssetState: status + optional holder as one value
  - Asset, Staff, Part: mutable aggregates
  - StatusEntry, AssignmentEntry, StockEntry: ledger rows

UNIT OF WORK:
  Every mutating operation runs inside TxStore.WithTx. The aggregate row and
  its ledger rows commit together or not at all.

SEE ALSO:
  - store.go: Persistence interfaces
  - stock.go: Stock ledger engine
  - asset.go: Asset state machine and assignment tracker
  - repair.go: Repair fulfillment orchestrator
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AssetID string
type StaffID string
type PartID string
type EntryID string

// =============================================================================
// ASSET STATUS
// =============================================================================

type AssetStatus string

const (
	StatusAvailable AssetStatus = "available"
	StatusAssigned  AssetStatus = "assigned"
	StatusInRepair  AssetStatus = "in_repair"
	StatusRetired   AssetStatus = "retired"
	StatusReturned  AssetStatus = "returned"
)

// ParseStatus accepts the wire form of a status.
func ParseStatus(s string) (AssetStatus, bool) {
	switch st := AssetStatus(s); st {
	case StatusAvailable, StatusAssigned, StatusInRepair, StatusRetired, StatusReturned:
		return st, true
	}
	return "", false
}

func (s AssetStatus) String() string { return string(s) }

// transitions is the legal status transition table. Retired has no entry.
var transitions = map[AssetStatus][]AssetStatus{
	StatusAvailable: {StatusAssigned, StatusInRepair, StatusRetired},
	StatusAssigned:  {StatusAvailable, StatusInRepair, StatusRetired, StatusReturned},
	StatusInRepair:  {StatusAvailable, StatusAssigned, StatusRetired},
	StatusReturned:  {StatusAvailable, StatusInRepair},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to AssetStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// releasesHolder reports whether entering status ends the current assignment.
func releasesHolder(to AssetStatus) bool {
	return to == StatusAvailable || to == StatusRetired || to == StatusReturned
}

// =============================================================================
// ASSET STATE - status and holder as a single value
// =============================================================================

// AssetState couples an asset's status with the staff member holding it.
// A holder exists only for Assigned (always) and InRepair (the owner before
// the repair, if any). The zero value is not a valid state.
type AssetState struct {
	status AssetStatus
	holder StaffID
}

func Available() AssetState              { return AssetState{status: StatusAvailable} }
func AssignedTo(staff StaffID) AssetState { return AssetState{status: StatusAssigned, holder: staff} }
func Retired() AssetState                { return AssetState{status: StatusRetired} }
func Returned() AssetState               { return AssetState{status: StatusReturned} }

// InRepair builds the repair state. previousOwner may be empty.
func InRepair(previousOwner StaffID) AssetState {
	return AssetState{status: StatusInRepair, holder: previousOwner}
}

// RestoreState rebuilds a state from persisted columns. Holders on statuses
// that cannot carry one are dropped.
func RestoreState(status AssetStatus, holder StaffID) AssetState {
	switch status {
	case StatusAssigned:
		return AssignedTo(holder)
	case StatusInRepair:
		return InRepair(holder)
	default:
		return AssetState{status: status}
	}
}

func (s AssetState) Status() AssetStatus { return s.status }

// Holder returns the staff member attached to the asset, for Assigned and
// InRepair states.
func (s AssetState) Holder() (StaffID, bool) {
	return s.holder, s.holder != ""
}

// =============================================================================
// AGGREGATES
// =============================================================================

// Asset is a tracked laptop.
type Asset struct {
	ID        AssetID
	Make      string
	Model     string
	Serial    string
	State     AssetState
	Version   int64 // optimistic concurrency token, bumped on every update
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Asset) Status() AssetStatus { return a.State.Status() }

// AssignedTo returns the owning staff member. Non-nil only while Assigned.
func (a Asset) AssignedTo() *StaffID {
	if a.State.Status() != StatusAssigned {
		return nil
	}
	h := a.State.holder
	return &h
}

// Staff is a staff member who can hold assets.
type Staff struct {
	ID          StaffID
	Name        string
	Email       string
	Department  string
	LeavingDate *time.Time
	CreatedAt   time.Time
}

// HasLeft reports whether the staff member's leaving date is on or before at.
func (s Staff) HasLeft(at time.Time) bool {
	return s.LeavingDate != nil && !s.LeavingDate.After(at)
}

// Part is a consumable spare part. StockLevel is a cache of the stock ledger.
type Part struct {
	ID            PartID
	PartNumber    string
	Name          string
	Category      string
	Location      string
	StockLevel    int
	MinStockLevel int
	UnitCost      decimal.Decimal
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StockValue is the value of the stock on hand.
func (p Part) StockValue() decimal.Decimal {
	return p.UnitCost.Mul(decimal.NewFromInt(int64(p.StockLevel)))
}

// BelowMinimum reports whether the part needs reordering.
func (p Part) BelowMinimum() bool { return p.StockLevel < p.MinStockLevel }

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

// StatusEntry records one status transition. Never updated.
type StatusEntry struct {
	ID         EntryID
	AssetID    AssetID
	FromStatus AssetStatus
	ToStatus   AssetStatus
	Reason     string
	ChangedBy  string
	Notes      string
	ChangedAt  time.Time
}

// AssignmentEntry records one holding period. Only UnassignedAt and
// UnassignReason are written after creation, once.
type AssignmentEntry struct {
	ID             EntryID
	AssetID        AssetID
	StaffID        StaffID
	AssignedAt     time.Time
	UnassignedAt   *time.Time
	Reason         string
	AssignedBy     string
	Notes          string
	UnassignReason string
}

// IsOpen reports whether the asset is still held under this entry.
func (e AssignmentEntry) IsOpen() bool { return e.UnassignedAt == nil }

type ChangeType string

const (
	ChangeIn         ChangeType = "IN"
	ChangeOut        ChangeType = "OUT"
	ChangeAdjustment ChangeType = "ADJUSTMENT"
)

// ParseChangeType accepts the wire form of a change type.
func ParseChangeType(s string) (ChangeType, bool) {
	switch ct := ChangeType(s); ct {
	case ChangeIn, ChangeOut, ChangeAdjustment:
		return ct, true
	}
	return "", false
}

// StockEntry records one stock movement. Quantity is signed and always equals
// NewStock - PreviousStock.
type StockEntry struct {
	ID            EntryID
	PartID        PartID
	ChangeType    ChangeType
	Quantity      int
	PreviousStock int
	NewStock      int
	Reason        string
	ChangedBy     string
	Notes         string
	ChangedAt     time.Time
}

// History is the audit trail of one asset, newest first.
type History struct {
	StatusHistory     []StatusEntry
	AssignmentHistory []AssignmentEntry
}

// =============================================================================
// OPTIONS
// =============================================================================

// ChangeOptions carries the audit fields of a status or stock change.
type ChangeOptions struct {
	Reason    string
	ChangedBy string
	Notes     string
}

// AssignOptions carries the audit fields of an assignment.
type AssignOptions struct {
	Reason     string
	AssignedBy string
	Notes      string
}
