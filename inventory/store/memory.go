// Package store provides Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/asset-ledger/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-memory inventory.TxStore. WithTx holds the write lock for
// the whole unit of work, so transactions are serializable.
type Memory struct {
	mu sync.RWMutex
	state
}

var _ inventory.TxStore = (*Memory)(nil)

type state struct {
	assets      map[inventory.AssetID]inventory.Asset
	staff       map[inventory.StaffID]inventory.Staff
	parts       map[inventory.PartID]inventory.Part
	statuses    map[inventory.AssetID][]inventory.StatusEntry
	assignments map[inventory.AssetID][]inventory.AssignmentEntry
	stock       map[inventory.PartID][]inventory.StockEntry
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func newState() state {
	return state{
		assets:      make(map[inventory.AssetID]inventory.Asset),
		staff:       make(map[inventory.StaffID]inventory.Staff),
		parts:       make(map[inventory.PartID]inventory.Part),
		statuses:    make(map[inventory.AssetID][]inventory.StatusEntry),
		assignments: make(map[inventory.AssetID][]inventory.AssignmentEntry),
		stock:       make(map[inventory.PartID][]inventory.StockEntry),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txMemoryView{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (s *state) clone() state {
	c := newState()
	for k, v := range s.assets {
		c.assets[k] = v
	}
	for k, v := range s.staff {
		c.staff[k] = v
	}
	for k, v := range s.parts {
		c.parts[k] = v
	}
	for k, v := range s.statuses {
		c.statuses[k] = append([]inventory.StatusEntry(nil), v...)
	}
	for k, v := range s.assignments {
		c.assignments[k] = append([]inventory.AssignmentEntry(nil), v...)
	}
	for k, v := range s.stock {
		c.stock[k] = append([]inventory.StockEntry(nil), v...)
	}
	return c
}

// txMemoryView runs against the locked state without re-locking.
type txMemoryView struct {
	s *state
}

func (v *txMemoryView) CreateAsset(_ context.Context, a inventory.Asset) error { return v.s.createAsset(a) }
func (v *txMemoryView) GetAsset(_ context.Context, id inventory.AssetID) (*inventory.Asset, error) {
	return v.s.getAsset(id), nil
}
func (v *txMemoryView) UpdateAsset(_ context.Context, a inventory.Asset) error { return v.s.updateAsset(a) }
func (v *txMemoryView) ListAssets(_ context.Context, f inventory.AssetFilter) ([]inventory.Asset, error) {
	return v.s.listAssets(f), nil
}
func (v *txMemoryView) CreateStaff(_ context.Context, st inventory.Staff) error { return v.s.createStaff(st) }
func (v *txMemoryView) GetStaff(_ context.Context, id inventory.StaffID) (*inventory.Staff, error) {
	return v.s.getStaff(id), nil
}
func (v *txMemoryView) UpdateStaff(_ context.Context, st inventory.Staff) error { return v.s.updateStaff(st) }
func (v *txMemoryView) CreatePart(_ context.Context, p inventory.Part) error    { return v.s.createPart(p) }
func (v *txMemoryView) GetPart(_ context.Context, id inventory.PartID) (*inventory.Part, error) {
	return v.s.getPart(id), nil
}
func (v *txMemoryView) UpdatePart(_ context.Context, p inventory.Part) error { return v.s.updatePart(p) }
func (v *txMemoryView) ListParts(_ context.Context) ([]inventory.Part, error) {
	return v.s.listParts(), nil
}
func (v *txMemoryView) AppendStatus(_ context.Context, e inventory.StatusEntry) error {
	return v.s.appendStatus(e)
}
func (v *txMemoryView) AppendAssignment(_ context.Context, e inventory.AssignmentEntry) error {
	return v.s.appendAssignment(e)
}
func (v *txMemoryView) CloseAssignment(_ context.Context, id inventory.EntryID, at time.Time, reason string) error {
	return v.s.closeAssignment(id, at, reason)
}
func (v *txMemoryView) AppendStock(_ context.Context, e inventory.StockEntry) error {
	return v.s.appendStock(e)
}
func (v *txMemoryView) OpenAssignment(_ context.Context, id inventory.AssetID) (*inventory.AssignmentEntry, error) {
	return v.s.openAssignment(id), nil
}
func (v *txMemoryView) StatusHistory(_ context.Context, id inventory.AssetID) ([]inventory.StatusEntry, error) {
	return v.s.statusHistory(id), nil
}
func (v *txMemoryView) AssignmentHistory(_ context.Context, id inventory.AssetID) ([]inventory.AssignmentEntry, error) {
	return v.s.assignmentHistory(id), nil
}
func (v *txMemoryView) StockHistory(_ context.Context, id inventory.PartID) ([]inventory.StockEntry, error) {
	return v.s.stockHistory(id), nil
}
func (v *txMemoryView) LedgerStock(_ context.Context, id inventory.PartID) (int, error) {
	return v.s.ledgerStock(id), nil
}

// =============================================================================
// LOCKED ACCESSORS
// =============================================================================

func (m *Memory) CreateAsset(_ context.Context, a inventory.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAsset(a)
}

func (m *Memory) GetAsset(_ context.Context, id inventory.AssetID) (*inventory.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAsset(id), nil
}

func (m *Memory) UpdateAsset(_ context.Context, a inventory.Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAsset(a)
}

func (m *Memory) ListAssets(_ context.Context, f inventory.AssetFilter) ([]inventory.Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAssets(f), nil
}

func (m *Memory) CreateStaff(_ context.Context, st inventory.Staff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createStaff(st)
}

func (m *Memory) GetStaff(_ context.Context, id inventory.StaffID) (*inventory.Staff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getStaff(id), nil
}

func (m *Memory) UpdateStaff(_ context.Context, st inventory.Staff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStaff(st)
}

func (m *Memory) CreatePart(_ context.Context, p inventory.Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPart(p)
}

func (m *Memory) GetPart(_ context.Context, id inventory.PartID) (*inventory.Part, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPart(id), nil
}

func (m *Memory) UpdatePart(_ context.Context, p inventory.Part) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePart(p)
}

func (m *Memory) ListParts(_ context.Context) ([]inventory.Part, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listParts(), nil
}

func (m *Memory) AppendStatus(_ context.Context, e inventory.StatusEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendStatus(e)
}

func (m *Memory) AppendAssignment(_ context.Context, e inventory.AssignmentEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAssignment(e)
}

func (m *Memory) CloseAssignment(_ context.Context, id inventory.EntryID, at time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeAssignment(id, at, reason)
}

func (m *Memory) AppendStock(_ context.Context, e inventory.StockEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendStock(e)
}

func (m *Memory) OpenAssignment(_ context.Context, id inventory.AssetID) (*inventory.AssignmentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openAssignment(id), nil
}

func (m *Memory) StatusHistory(_ context.Context, id inventory.AssetID) ([]inventory.StatusEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusHistory(id), nil
}

func (m *Memory) AssignmentHistory(_ context.Context, id inventory.AssetID) ([]inventory.AssignmentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.assignmentHistory(id), nil
}

func (m *Memory) StockHistory(_ context.Context, id inventory.PartID) ([]inventory.StockEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stockHistory(id), nil
}

func (m *Memory) LedgerStock(_ context.Context, id inventory.PartID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledgerStock(id), nil
}

// =============================================================================
// STATE OPERATIONS (caller holds the lock)
// =============================================================================

func (s *state) createAsset(a inventory.Asset) error {
	if _, ok := s.assets[a.ID]; ok {
		return fmt.Errorf("%w: asset %s already exists", inventory.ErrConflict, a.ID)
	}
	for _, existing := range s.assets {
		if existing.Serial == a.Serial {
			return fmt.Errorf("%w: serial %s already registered", inventory.ErrConflict, a.Serial)
		}
	}
	s.assets[a.ID] = a
	return nil
}

func (s *state) getAsset(id inventory.AssetID) *inventory.Asset {
	a, ok := s.assets[id]
	if !ok {
		return nil
	}
	return &a
}

func (s *state) updateAsset(a inventory.Asset) error {
	cur, ok := s.assets[a.ID]
	if !ok {
		return &inventory.NotFoundError{Kind: "asset", ID: string(a.ID)}
	}
	if cur.Version != a.Version {
		return inventory.ErrConcurrentModification
	}
	a.Version++
	s.assets[a.ID] = a
	return nil
}

func (s *state) listAssets(f inventory.AssetFilter) []inventory.Asset {
	var out []inventory.Asset
	for _, a := range s.assets {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) createStaff(st inventory.Staff) error {
	if _, ok := s.staff[st.ID]; ok {
		return fmt.Errorf("%w: staff %s already exists", inventory.ErrConflict, st.ID)
	}
	s.staff[st.ID] = st
	return nil
}

func (s *state) getStaff(id inventory.StaffID) *inventory.Staff {
	st, ok := s.staff[id]
	if !ok {
		return nil
	}
	return &st
}

func (s *state) updateStaff(st inventory.Staff) error {
	if _, ok := s.staff[st.ID]; !ok {
		return &inventory.NotFoundError{Kind: "staff", ID: string(st.ID)}
	}
	s.staff[st.ID] = st
	return nil
}

func (s *state) createPart(p inventory.Part) error {
	if _, ok := s.parts[p.ID]; ok {
		return fmt.Errorf("%w: part %s already exists", inventory.ErrConflict, p.ID)
	}
	for _, existing := range s.parts {
		if existing.PartNumber == p.PartNumber {
			return fmt.Errorf("%w: part number %s already registered", inventory.ErrConflict, p.PartNumber)
		}
	}
	s.parts[p.ID] = p
	return nil
}

func (s *state) getPart(id inventory.PartID) *inventory.Part {
	p, ok := s.parts[id]
	if !ok {
		return nil
	}
	return &p
}

func (s *state) updatePart(p inventory.Part) error {
	cur, ok := s.parts[p.ID]
	if !ok {
		return &inventory.NotFoundError{Kind: "part", ID: string(p.ID)}
	}
	if cur.Version != p.Version {
		return inventory.ErrConcurrentModification
	}
	p.Version++
	s.parts[p.ID] = p
	return nil
}

func (s *state) listParts() []inventory.Part {
	out := make([]inventory.Part, 0, len(s.parts))
	for _, p := range s.parts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartNumber < out[j].PartNumber })
	return out
}

func (s *state) appendStatus(e inventory.StatusEntry) error {
	s.statuses[e.AssetID] = append(s.statuses[e.AssetID], e)
	return nil
}

func (s *state) appendAssignment(e inventory.AssignmentEntry) error {
	if open := s.openAssignment(e.AssetID); open != nil {
		return &inventory.ConflictError{AssetID: e.AssetID, HeldBy: open.StaffID, Requested: e.StaffID}
	}
	s.assignments[e.AssetID] = append(s.assignments[e.AssetID], e)
	return nil
}

func (s *state) closeAssignment(id inventory.EntryID, at time.Time, reason string) error {
	for assetID, entries := range s.assignments {
		for i := range entries {
			if entries[i].ID != id {
				continue
			}
			if !entries[i].IsOpen() {
				return inventory.ErrConcurrentModification
			}
			t := at
			entries[i].UnassignedAt = &t
			entries[i].UnassignReason = reason
			s.assignments[assetID] = entries
			return nil
		}
	}
	return fmt.Errorf("assignment %s: %w", id, inventory.ErrNotFound)
}

func (s *state) appendStock(e inventory.StockEntry) error {
	s.stock[e.PartID] = append(s.stock[e.PartID], e)
	return nil
}

func (s *state) openAssignment(id inventory.AssetID) *inventory.AssignmentEntry {
	for _, e := range s.assignments[id] {
		if e.IsOpen() {
			e := e
			return &e
		}
	}
	return nil
}

// History slices are kept in append order; reads reverse them.

func (s *state) statusHistory(id inventory.AssetID) []inventory.StatusEntry {
	src := s.statuses[id]
	out := make([]inventory.StatusEntry, len(src))
	for i, e := range src {
		out[len(src)-1-i] = e
	}
	return out
}

func (s *state) assignmentHistory(id inventory.AssetID) []inventory.AssignmentEntry {
	src := s.assignments[id]
	out := make([]inventory.AssignmentEntry, len(src))
	for i, e := range src {
		out[len(src)-1-i] = e
	}
	return out
}

func (s *state) stockHistory(id inventory.PartID) []inventory.StockEntry {
	src := s.stock[id]
	out := make([]inventory.StockEntry, len(src))
	for i, e := range src {
		out[len(src)-1-i] = e
	}
	return out
}

func (s *state) ledgerStock(id inventory.PartID) int {
	sum := 0
	for _, e := range s.stock[id] {
		sum += e.Quantity
	}
	return sum
}
