/*
asset.go - Asset state machine and assignment tracker

PURPOSE:
  Validates and applies status transitions, and keeps the assignment
  history consistent with the asset's holder.

TRANSITION TABLE:
  Available -> Assigned, InRepair, Retired
  Assigned  -> Available, InRepair, Retired, Returned   (leaving Assigned for
                                                         anything but InRepair
                                                         ends the assignment)
  InRepair  -> Available, Assigned, Retired
  Returned  -> Available, InRepair                      (wipe before reuse)
  Retired   -> (terminal)

EXCLUSIVITY:
  An asset has at most one open AssignmentEntry. Assign fails with
  ConflictError when another staff member holds the asset; stores back this
  with a uniqueness constraint so concurrent assigns cannot both commit.

HOLDER THROUGH REPAIR:
  Assigned -> InRepair keeps the holder and its open entry. Leaving repair
  for Assigned resumes that holder; leaving for Available or Retired closes
  the entry.

UNIT OF WORK:
  Each operation loads, validates and writes inside one WithTx call:
  asset row + status entry + assignment open/close commit together.
*/
package inventory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AssetMachine governs asset status and assignment.
type AssetMachine struct {
	Store  TxStore
	Clock  func() time.Time
	Logger *zap.Logger
}

// NewAsset describes an asset to register.
type NewAsset struct {
	Make   string
	Model  string
	Serial string
}

// NewStaff describes a staff member to register.
type NewStaff struct {
	Name        string
	Email       string
	Department  string
	LeavingDate *time.Time
}

// =============================================================================
// REGISTRATION AND LOOKUP
// =============================================================================

// RegisterAsset creates an Available asset. Serials are unique.
func (m *AssetMachine) RegisterAsset(ctx context.Context, na NewAsset) (*Asset, error) {
	if strings.TrimSpace(na.Serial) == "" {
		return nil, &ArgumentError{Field: "serial", Detail: "required"}
	}
	now := nowUTC(m.Clock)
	a := Asset{
		ID:        AssetID(uuid.NewString()),
		Make:      na.Make,
		Model:     na.Model,
		Serial:    na.Serial,
		State:     Available(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.Store.CreateAsset(ctx, a); err != nil {
		return nil, err
	}
	nopIfNil(m.Logger).Info("asset registered",
		zap.String("asset_id", string(a.ID)), zap.String("serial", a.Serial))
	return &a, nil
}

// RegisterStaff creates a staff member.
func (m *AssetMachine) RegisterStaff(ctx context.Context, ns NewStaff) (*Staff, error) {
	if strings.TrimSpace(ns.Name) == "" {
		return nil, &ArgumentError{Field: "name", Detail: "required"}
	}
	st := Staff{
		ID:          StaffID(uuid.NewString()),
		Name:        ns.Name,
		Email:       ns.Email,
		Department:  ns.Department,
		LeavingDate: ns.LeavingDate,
		CreatedAt:   nowUTC(m.Clock),
	}
	if err := m.Store.CreateStaff(ctx, st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (m *AssetMachine) GetAsset(ctx context.Context, id AssetID) (*Asset, error) {
	return loadAsset(ctx, m.Store, id)
}

func (m *AssetMachine) GetStaff(ctx context.Context, id StaffID) (*Staff, error) {
	return loadStaff(ctx, m.Store, id)
}

func (m *AssetMachine) ListAssets(ctx context.Context, filter AssetFilter) ([]Asset, error) {
	return m.Store.ListAssets(ctx, filter)
}

func loadAsset(ctx context.Context, s Store, id AssetID) (*Asset, error) {
	a, err := s.GetAsset(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load asset %s: %w", id, err)
	}
	if a == nil {
		return nil, assetNotFound(id)
	}
	return a, nil
}

func loadStaff(ctx context.Context, s Store, id StaffID) (*Staff, error) {
	st, err := s.GetStaff(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load staff %s: %w", id, err)
	}
	if st == nil {
		return nil, staffNotFound(id)
	}
	return st, nil
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// SetStatus moves an asset to a new status and records the transition.
func (m *AssetMachine) SetStatus(ctx context.Context, id AssetID, to AssetStatus, opts ChangeOptions) (*Asset, error) {
	var out *Asset
	err := m.Store.WithTx(ctx, func(s Store) error {
		var err error
		out, err = m.setStatus(ctx, s, id, to, opts)
		return err
	})
	if err != nil {
		nopIfNil(m.Logger).Debug("status change rejected",
			zap.String("asset_id", string(id)), zap.String("to", string(to)), zap.Error(err))
		return nil, err
	}
	nopIfNil(m.Logger).Info("asset status changed",
		zap.String("asset_id", string(id)), zap.String("status", string(out.Status())))
	return out, nil
}

// setStatus runs inside the caller's unit of work.
func (m *AssetMachine) setStatus(ctx context.Context, s Store, id AssetID, to AssetStatus, opts ChangeOptions) (*Asset, error) {
	if _, ok := ParseStatus(string(to)); !ok {
		return nil, &ArgumentError{Field: "status", Detail: fmt.Sprintf("unknown status %q", to)}
	}

	a, err := loadAsset(ctx, s, id)
	if err != nil {
		return nil, err
	}
	from := a.Status()

	if err := checkTransition(id, from, to); err != nil {
		return nil, err
	}

	now := nowUTC(m.Clock)
	holder, held := a.State.Holder()

	var next AssetState
	switch {
	case to == StatusAssigned:
		if !held {
			return nil, &TransitionError{AssetID: id, From: from, To: to,
				Detail: "no staff member to resume; use assign"}
		}
		st, err := s.GetStaff(ctx, holder)
		if err != nil {
			return nil, fmt.Errorf("load staff %s: %w", holder, err)
		}
		if st == nil || st.HasLeft(now) {
			return nil, &ArgumentError{Field: "staff_id", Detail: fmt.Sprintf("staff %s has left", holder)}
		}
		if err := m.ensureOpen(ctx, s, a, holder, now, opts); err != nil {
			return nil, err
		}
		next = AssignedTo(holder)
	case to == StatusInRepair:
		next = InRepair(holder)
	case releasesHolder(to):
		reason := opts.Reason
		if reason == "" {
			reason = fmt.Sprintf("status changed to %s", to)
		}
		if err := closeOpen(ctx, s, id, now, reason); err != nil {
			return nil, err
		}
		next = AssetState{status: to}
	}

	a.State = next
	a.UpdatedAt = now
	if err := s.UpdateAsset(ctx, *a); err != nil {
		return nil, err
	}
	a.Version++

	if err := s.AppendStatus(ctx, StatusEntry{
		ID:         newEntryID(),
		AssetID:    id,
		FromStatus: from,
		ToStatus:   to,
		Reason:     opts.Reason,
		ChangedBy:  opts.ChangedBy,
		Notes:      opts.Notes,
		ChangedAt:  now,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

func checkTransition(id AssetID, from, to AssetStatus) error {
	switch {
	case from == StatusRetired:
		return &TransitionError{AssetID: id, From: from, To: to, Detail: "retired is terminal"}
	case from == StatusReturned && to != StatusAvailable && to != StatusInRepair:
		return &TransitionError{AssetID: id, From: from, To: to, Detail: "returned assets must be wiped before reuse"}
	case !CanTransition(from, to):
		return &TransitionError{AssetID: id, From: from, To: to}
	}
	return nil
}

// ensureOpen makes sure the holder has an open entry when an asset resumes
// Assigned. A previously closed entry is never reopened.
func (m *AssetMachine) ensureOpen(ctx context.Context, s Store, a *Asset, holder StaffID, now time.Time, opts ChangeOptions) error {
	open, err := s.OpenAssignment(ctx, a.ID)
	if err != nil {
		return err
	}
	if open != nil {
		if open.StaffID != holder {
			return &ConflictError{AssetID: a.ID, HeldBy: open.StaffID, Requested: holder}
		}
		return nil
	}
	return s.AppendAssignment(ctx, AssignmentEntry{
		ID:         newEntryID(),
		AssetID:    a.ID,
		StaffID:    holder,
		AssignedAt: now,
		Reason:     opts.Reason,
		AssignedBy: opts.ChangedBy,
		Notes:      opts.Notes,
	})
}

func closeOpen(ctx context.Context, s Store, id AssetID, at time.Time, reason string) error {
	open, err := s.OpenAssignment(ctx, id)
	if err != nil {
		return err
	}
	if open == nil {
		return nil
	}
	return s.CloseAssignment(ctx, open.ID, at, reason)
}

// =============================================================================
// ASSIGNMENT
// =============================================================================

// Assign gives an asset to a staff member. Assigning to the current holder
// is a no-op.
func (m *AssetMachine) Assign(ctx context.Context, id AssetID, staffID StaffID, opts AssignOptions) (*Asset, error) {
	var out *Asset
	err := m.Store.WithTx(ctx, func(s Store) error {
		var err error
		out, err = m.assign(ctx, s, id, staffID, opts)
		return err
	})
	if err != nil {
		nopIfNil(m.Logger).Debug("assignment rejected",
			zap.String("asset_id", string(id)), zap.String("staff_id", string(staffID)), zap.Error(err))
		return nil, err
	}
	nopIfNil(m.Logger).Info("asset assigned",
		zap.String("asset_id", string(id)), zap.String("staff_id", string(staffID)))
	return out, nil
}

func (m *AssetMachine) assign(ctx context.Context, s Store, id AssetID, staffID StaffID, opts AssignOptions) (*Asset, error) {
	if staffID == "" {
		return nil, &ArgumentError{Field: "staff_id", Detail: "required"}
	}
	a, err := loadAsset(ctx, s, id)
	if err != nil {
		return nil, err
	}
	st, err := loadStaff(ctx, s, staffID)
	if err != nil {
		return nil, err
	}
	now := nowUTC(m.Clock)

	open, err := s.OpenAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if open != nil && open.StaffID != staffID {
		return nil, &ConflictError{AssetID: id, HeldBy: open.StaffID, Requested: staffID}
	}
	if holder, held := a.State.Holder(); held && holder != staffID {
		return nil, &ConflictError{AssetID: id, HeldBy: holder, Requested: staffID}
	}
	from := a.Status()
	if open != nil && from == StatusAssigned {
		return a, nil
	}

	if st.HasLeft(now) {
		return nil, &ArgumentError{Field: "staff_id", Detail: fmt.Sprintf("staff %s has left", staffID)}
	}
	if err := checkTransition(id, from, StatusAssigned); err != nil {
		return nil, err
	}

	// Resuming the same holder out of repair keeps the existing entry.
	if open == nil {
		if err := s.AppendAssignment(ctx, AssignmentEntry{
			ID:         newEntryID(),
			AssetID:    id,
			StaffID:    staffID,
			AssignedAt: now,
			Reason:     opts.Reason,
			AssignedBy: opts.AssignedBy,
			Notes:      opts.Notes,
		}); err != nil {
			return nil, err
		}
	}

	a.State = AssignedTo(staffID)
	a.UpdatedAt = now
	if err := s.UpdateAsset(ctx, *a); err != nil {
		return nil, err
	}
	a.Version++

	if err := s.AppendStatus(ctx, StatusEntry{
		ID:         newEntryID(),
		AssetID:    id,
		FromStatus: from,
		ToStatus:   StatusAssigned,
		Reason:     opts.Reason,
		ChangedBy:  opts.AssignedBy,
		Notes:      opts.Notes,
		ChangedAt:  now,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// Reassign hands an Assigned asset to another staff member in one step. The
// status does not change, so no status entry is written.
func (m *AssetMachine) Reassign(ctx context.Context, id AssetID, staffID StaffID, opts AssignOptions) (*Asset, error) {
	if staffID == "" {
		return nil, &ArgumentError{Field: "staff_id", Detail: "required"}
	}
	var out *Asset
	err := m.Store.WithTx(ctx, func(s Store) error {
		a, err := loadAsset(ctx, s, id)
		if err != nil {
			return err
		}
		if a.Status() != StatusAssigned {
			return &StateError{AssetID: id, Status: a.Status(), Want: StatusAssigned}
		}
		st, err := loadStaff(ctx, s, staffID)
		if err != nil {
			return err
		}
		now := nowUTC(m.Clock)
		if holder, _ := a.State.Holder(); holder == staffID {
			out = a
			return nil
		}
		if st.HasLeft(now) {
			return &ArgumentError{Field: "staff_id", Detail: fmt.Sprintf("staff %s has left", staffID)}
		}

		reason := opts.Reason
		if reason == "" {
			reason = "reassigned"
		}
		if err := closeOpen(ctx, s, id, now, reason); err != nil {
			return err
		}
		if err := s.AppendAssignment(ctx, AssignmentEntry{
			ID:         newEntryID(),
			AssetID:    id,
			StaffID:    staffID,
			AssignedAt: now,
			Reason:     opts.Reason,
			AssignedBy: opts.AssignedBy,
			Notes:      opts.Notes,
		}); err != nil {
			return err
		}

		a.State = AssignedTo(staffID)
		a.UpdatedAt = now
		if err := s.UpdateAsset(ctx, *a); err != nil {
			return err
		}
		a.Version++
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	nopIfNil(m.Logger).Info("asset reassigned",
		zap.String("asset_id", string(id)), zap.String("staff_id", string(staffID)))
	return out, nil
}

// OffboardStaff records a leaving date and returns every asset the staff
// member holds. Assets they held before a repair lose that holder.
func (m *AssetMachine) OffboardStaff(ctx context.Context, staffID StaffID, leavingDate time.Time, opts ChangeOptions) ([]Asset, error) {
	if opts.Reason == "" {
		opts.Reason = "staff departure"
	}
	var returned []Asset
	err := m.Store.WithTx(ctx, func(s Store) error {
		st, err := loadStaff(ctx, s, staffID)
		if err != nil {
			return err
		}
		ld := leavingDate.UTC()
		st.LeavingDate = &ld
		if err := s.UpdateStaff(ctx, *st); err != nil {
			return err
		}

		held, err := s.ListAssets(ctx, AssetFilter{Holder: &staffID})
		if err != nil {
			return err
		}
		now := nowUTC(m.Clock)
		for _, a := range held {
			switch a.Status() {
			case StatusAssigned:
				updated, err := m.setStatus(ctx, s, a.ID, StatusReturned, opts)
				if err != nil {
					return err
				}
				returned = append(returned, *updated)
			case StatusInRepair:
				if err := closeOpen(ctx, s, a.ID, now, opts.Reason); err != nil {
					return err
				}
				a.State = InRepair("")
				a.UpdatedAt = now
				if err := s.UpdateAsset(ctx, a); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	nopIfNil(m.Logger).Info("staff offboarded",
		zap.String("staff_id", string(staffID)), zap.Int("assets_returned", len(returned)))
	return returned, nil
}

// =============================================================================
// HISTORY
// =============================================================================

// History returns an asset's status and assignment history, newest first.
func (m *AssetMachine) History(ctx context.Context, id AssetID) (*History, error) {
	if _, err := loadAsset(ctx, m.Store, id); err != nil {
		return nil, err
	}
	statuses, err := m.Store.StatusHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	assignments, err := m.Store.AssignmentHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return &History{StatusHistory: statuses, AssignmentHistory: assignments}, nil
}
