/*
Package sqlite provides a SQLite-backed implementation of inventory.TxStore.

PURPOSE:
  Durable storage for the mutable aggregates (assets, staff, parts) and the
  three append-only ledgers (status, assignment, stock history).

APPEND-ONLY ENFORCEMENT:
  Triggers reject UPDATE and DELETE on status_history and stock_history.
  assignment_history rejects DELETE, and UPDATE once unassigned_at is set,
  so an entry can be closed exactly once.

INVARIANTS IN THE SCHEMA:
  - idx_assignment_one_open: at most one open assignment per asset
  - assets CHECK: holder only on assigned/in_repair; assigned needs a holder
  - parts CHECK: stock_level >= 0
  - stock_history CHECK: new_stock = previous_stock + quantity

CONCURRENCY:
  WithTx holds the store mutex for the whole unit of work; SQLite itself
  allows a single writer. Aggregate updates also compare the row version
  (optimistic locking) and report ErrConcurrentModification on mismatch.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and foreign keys on.

USAGE:
  store, err := sqlite.New("./data/inventory.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := inventory.NewEngine(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/asset-ledger/inventory"
)

// Store implements inventory.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	conn
}

var _ inventory.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, conn: conn{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS staff (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		department TEXT,
		leaving_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		make TEXT,
		model TEXT,
		serial TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		holder_id TEXT REFERENCES staff(id),
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (holder_id IS NULL OR status IN ('assigned', 'in_repair')),
		CHECK (status <> 'assigned' OR holder_id IS NOT NULL)
	);

	CREATE INDEX IF NOT EXISTS idx_assets_status ON assets(status);
	CREATE INDEX IF NOT EXISTS idx_assets_holder ON assets(holder_id) WHERE holder_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS parts (
		id TEXT PRIMARY KEY,
		part_number TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		category TEXT,
		location TEXT,
		stock_level INTEGER NOT NULL DEFAULT 0 CHECK (stock_level >= 0),
		min_stock_level INTEGER NOT NULL DEFAULT 0,
		unit_cost TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Ledgers. seq gives a stable newest-first order.
	CREATE TABLE IF NOT EXISTS status_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		asset_id TEXT NOT NULL REFERENCES assets(id),
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		reason TEXT,
		changed_by TEXT,
		notes TEXT,
		changed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_status_history_asset ON status_history(asset_id, seq DESC);

	CREATE TABLE IF NOT EXISTS assignment_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		asset_id TEXT NOT NULL REFERENCES assets(id),
		staff_id TEXT NOT NULL REFERENCES staff(id),
		assigned_at TEXT NOT NULL,
		unassigned_at TEXT,
		reason TEXT,
		assigned_by TEXT,
		notes TEXT,
		unassign_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_assignment_history_asset ON assignment_history(asset_id, seq DESC);

	-- CRITICAL: exclusivity. An asset has at most one open assignment.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_assignment_one_open
		ON assignment_history(asset_id) WHERE unassigned_at IS NULL;

	CREATE TABLE IF NOT EXISTS stock_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		part_id TEXT NOT NULL REFERENCES parts(id),
		change_type TEXT NOT NULL CHECK (change_type IN ('IN', 'OUT', 'ADJUSTMENT')),
		quantity INTEGER NOT NULL,
		previous_stock INTEGER NOT NULL,
		new_stock INTEGER NOT NULL,
		reason TEXT,
		changed_by TEXT,
		notes TEXT,
		changed_at TEXT NOT NULL,
		CHECK (new_stock = previous_stock + quantity)
	);

	CREATE INDEX IF NOT EXISTS idx_stock_history_part ON stock_history(part_id, seq DESC);

	CREATE TRIGGER IF NOT EXISTS trg_status_history_no_update
		BEFORE UPDATE ON status_history
		BEGIN SELECT RAISE(ABORT, 'status_history is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS trg_status_history_no_delete
		BEFORE DELETE ON status_history
		BEGIN SELECT RAISE(ABORT, 'status_history is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS trg_stock_history_no_update
		BEFORE UPDATE ON stock_history
		BEGIN SELECT RAISE(ABORT, 'stock_history is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS trg_stock_history_no_delete
		BEFORE DELETE ON stock_history
		BEGIN SELECT RAISE(ABORT, 'stock_history is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS trg_assignment_history_no_delete
		BEFORE DELETE ON assignment_history
		BEGIN SELECT RAISE(ABORT, 'assignment_history is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS trg_assignment_history_closed
		BEFORE UPDATE ON assignment_history
		WHEN OLD.unassigned_at IS NOT NULL
		BEGIN SELECT RAISE(ABORT, 'assignment already closed'); END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (inventory.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store inventory.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{conn: conn{q: sqlTx}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore runs every call on the open transaction.
type txStore struct {
	conn
}

// =============================================================================
// LOCKED ACCESSORS (outside a transaction)
// =============================================================================

func (s *Store) CreateAsset(ctx context.Context, a inventory.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.CreateAsset(ctx, a)
}

func (s *Store) GetAsset(ctx context.Context, id inventory.AssetID) (*inventory.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.GetAsset(ctx, id)
}

func (s *Store) UpdateAsset(ctx context.Context, a inventory.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.UpdateAsset(ctx, a)
}

func (s *Store) ListAssets(ctx context.Context, f inventory.AssetFilter) ([]inventory.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.ListAssets(ctx, f)
}

func (s *Store) CreateStaff(ctx context.Context, st inventory.Staff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.CreateStaff(ctx, st)
}

func (s *Store) GetStaff(ctx context.Context, id inventory.StaffID) (*inventory.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.GetStaff(ctx, id)
}

func (s *Store) UpdateStaff(ctx context.Context, st inventory.Staff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.UpdateStaff(ctx, st)
}

func (s *Store) CreatePart(ctx context.Context, p inventory.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.CreatePart(ctx, p)
}

func (s *Store) GetPart(ctx context.Context, id inventory.PartID) (*inventory.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.GetPart(ctx, id)
}

func (s *Store) UpdatePart(ctx context.Context, p inventory.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.UpdatePart(ctx, p)
}

func (s *Store) ListParts(ctx context.Context) ([]inventory.Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.ListParts(ctx)
}

func (s *Store) AppendStatus(ctx context.Context, e inventory.StatusEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.AppendStatus(ctx, e)
}

func (s *Store) AppendAssignment(ctx context.Context, e inventory.AssignmentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.AppendAssignment(ctx, e)
}

func (s *Store) CloseAssignment(ctx context.Context, id inventory.EntryID, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.CloseAssignment(ctx, id, at, reason)
}

func (s *Store) AppendStock(ctx context.Context, e inventory.StockEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.AppendStock(ctx, e)
}

func (s *Store) OpenAssignment(ctx context.Context, id inventory.AssetID) (*inventory.AssignmentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.OpenAssignment(ctx, id)
}

func (s *Store) StatusHistory(ctx context.Context, id inventory.AssetID) ([]inventory.StatusEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.StatusHistory(ctx, id)
}

func (s *Store) AssignmentHistory(ctx context.Context, id inventory.AssetID) ([]inventory.AssignmentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.AssignmentHistory(ctx, id)
}

func (s *Store) StockHistory(ctx context.Context, id inventory.PartID) ([]inventory.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.StockHistory(ctx, id)
}

func (s *Store) LedgerStock(ctx context.Context, id inventory.PartID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn.LedgerStock(ctx, id)
}

// =============================================================================
// QUERIES (shared by Store and txStore)
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q querier
}

// -----------------------------------------------------------------------------
// Assets
// -----------------------------------------------------------------------------

const assetColumns = `id, make, model, serial, status, holder_id, version, created_at, updated_at`

func (c conn) CreateAsset(ctx context.Context, a inventory.Asset) error {
	holder, _ := a.State.Holder()
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Make, a.Model, a.Serial, a.Status(), nullString(string(holder)),
		a.Version, formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: serial %s already registered", inventory.ErrConflict, a.Serial)
	}
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return nil
}

func (c conn) GetAsset(ctx context.Context, id inventory.AssetID) (*inventory.Asset, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c conn) UpdateAsset(ctx context.Context, a inventory.Asset) error {
	holder, _ := a.State.Holder()
	res, err := c.q.ExecContext(ctx, `
		UPDATE assets
		SET make = ?, model = ?, status = ?, holder_id = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		a.Make, a.Model, a.Status(), nullString(string(holder)), formatTime(a.UpdatedAt),
		a.ID, a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}
	return c.checkVersioned(ctx, res, "assets", string(a.ID), "asset")
}

func (c conn) ListAssets(ctx context.Context, f inventory.AssetFilter) ([]inventory.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets`
	var (
		where []string
		args  []any
	)
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *f.Status)
	}
	if f.Holder != nil {
		where = append(where, "holder_id = ?")
		args = append(args, *f.Holder)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []inventory.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (inventory.Asset, error) {
	var (
		a                    inventory.Asset
		mk, model, holder    sql.NullString
		status               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &mk, &model, &a.Serial, &status, &holder,
		&a.Version, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan asset: %w", err)
	}
	a.Make = mk.String
	a.Model = model.String
	a.State = inventory.RestoreState(inventory.AssetStatus(status), inventory.StaffID(holder.String))
	var err error
	if a.CreatedAt, err = parseTime("asset created_at", createdAt); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime("asset updated_at", updatedAt); err != nil {
		return a, err
	}
	return a, nil
}

// -----------------------------------------------------------------------------
// Staff
// -----------------------------------------------------------------------------

func (c conn) CreateStaff(ctx context.Context, st inventory.Staff) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO staff (id, name, email, department, leaving_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.ID, st.Name, st.Email, st.Department, nullTime(st.LeavingDate), formatTime(st.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: staff %s already exists", inventory.ErrConflict, st.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert staff: %w", err)
	}
	return nil
}

func (c conn) GetStaff(ctx context.Context, id inventory.StaffID) (*inventory.Staff, error) {
	var (
		st                inventory.Staff
		email, department sql.NullString
		leaving           sql.NullString
		createdAt         string
	)
	err := c.q.QueryRowContext(ctx,
		`SELECT id, name, email, department, leaving_date, created_at FROM staff WHERE id = ?`, id,
	).Scan(&st.ID, &st.Name, &email, &department, &leaving, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staff: %w", err)
	}
	st.Email = email.String
	st.Department = department.String
	if st.LeavingDate, err = parseNullTime("staff leaving_date", leaving); err != nil {
		return nil, err
	}
	if st.CreatedAt, err = parseTime("staff created_at", createdAt); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c conn) UpdateStaff(ctx context.Context, st inventory.Staff) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE staff SET name = ?, email = ?, department = ?, leaving_date = ? WHERE id = ?`,
		st.Name, st.Email, st.Department, nullTime(st.LeavingDate), st.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update staff: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &inventory.NotFoundError{Kind: "staff", ID: string(st.ID)}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Parts
// -----------------------------------------------------------------------------

const partColumns = `id, part_number, name, category, location, stock_level, min_stock_level,
	unit_cost, version, created_at, updated_at`

func (c conn) CreatePart(ctx context.Context, p inventory.Part) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO parts (`+partColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PartNumber, p.Name, p.Category, p.Location, p.StockLevel, p.MinStockLevel,
		p.UnitCost.String(), p.Version, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: part number %s already registered", inventory.ErrConflict, p.PartNumber)
	}
	if err != nil {
		return fmt.Errorf("failed to insert part: %w", err)
	}
	return nil
}

func (c conn) GetPart(ctx context.Context, id inventory.PartID) (*inventory.Part, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+partColumns+` FROM parts WHERE id = ?`, id)
	p, err := scanPart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c conn) UpdatePart(ctx context.Context, p inventory.Part) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE parts
		SET name = ?, category = ?, location = ?, stock_level = ?, min_stock_level = ?,
		    unit_cost = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		p.Name, p.Category, p.Location, p.StockLevel, p.MinStockLevel,
		p.UnitCost.String(), formatTime(p.UpdatedAt),
		p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update part: %w", err)
	}
	return c.checkVersioned(ctx, res, "parts", string(p.ID), "part")
}

func (c conn) ListParts(ctx context.Context) ([]inventory.Part, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+partColumns+` FROM parts ORDER BY part_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to query parts: %w", err)
	}
	defer rows.Close()

	var parts []inventory.Part
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

func scanPart(row scanner) (inventory.Part, error) {
	var (
		p                    inventory.Part
		category, location   sql.NullString
		unitCost             string
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.PartNumber, &p.Name, &category, &location,
		&p.StockLevel, &p.MinStockLevel, &unitCost, &p.Version, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan part: %w", err)
	}
	p.Category = category.String
	p.Location = location.String
	cost, err := decimal.NewFromString(unitCost)
	if err != nil {
		return p, fmt.Errorf("part %s: bad unit cost %q: %w", p.ID, unitCost, err)
	}
	p.UnitCost = cost
	if p.CreatedAt, err = parseTime("part created_at", createdAt); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = parseTime("part updated_at", updatedAt); err != nil {
		return p, err
	}
	return p, nil
}

// checkVersioned turns a zero-row versioned UPDATE into NotFound or a
// concurrency conflict.
func (c conn) checkVersioned(ctx context.Context, res sql.Result, table, id, kind string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return &inventory.NotFoundError{Kind: kind, ID: id}
	}
	return inventory.ErrConcurrentModification
}

// -----------------------------------------------------------------------------
// Ledgers
// -----------------------------------------------------------------------------

func (c conn) AppendStatus(ctx context.Context, e inventory.StatusEntry) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO status_history (id, asset_id, from_status, to_status, reason, changed_by, notes, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AssetID, e.FromStatus, e.ToStatus, e.Reason, e.ChangedBy, e.Notes, formatTime(e.ChangedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append status entry: %w", err)
	}
	return nil
}

func (c conn) AppendAssignment(ctx context.Context, e inventory.AssignmentEntry) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO assignment_history
		(id, asset_id, staff_id, assigned_at, unassigned_at, reason, assigned_by, notes, unassign_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AssetID, e.StaffID, formatTime(e.AssignedAt), nullTime(e.UnassignedAt),
		e.Reason, e.AssignedBy, e.Notes, e.UnassignReason,
	)
	if isUniqueConstraintError(err) {
		open, lookupErr := c.OpenAssignment(ctx, e.AssetID)
		if lookupErr == nil && open != nil {
			return &inventory.ConflictError{AssetID: e.AssetID, HeldBy: open.StaffID, Requested: e.StaffID}
		}
		return fmt.Errorf("%w: asset %s already has an open assignment", inventory.ErrConflict, e.AssetID)
	}
	if err != nil {
		return fmt.Errorf("failed to append assignment entry: %w", err)
	}
	return nil
}

func (c conn) CloseAssignment(ctx context.Context, id inventory.EntryID, at time.Time, reason string) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE assignment_history SET unassigned_at = ?, unassign_reason = ?
		WHERE id = ? AND unassigned_at IS NULL`,
		formatTime(at), reason, id,
	)
	if err != nil {
		return fmt.Errorf("failed to close assignment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("close assignment %s: %w", id, inventory.ErrConcurrentModification)
	}
	return nil
}

func (c conn) AppendStock(ctx context.Context, e inventory.StockEntry) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO stock_history
		(id, part_id, change_type, quantity, previous_stock, new_stock, reason, changed_by, notes, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PartID, e.ChangeType, e.Quantity, e.PreviousStock, e.NewStock,
		e.Reason, e.ChangedBy, e.Notes, formatTime(e.ChangedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append stock entry: %w", err)
	}
	return nil
}

const assignmentColumns = `id, asset_id, staff_id, assigned_at, unassigned_at, reason, assigned_by, notes, unassign_reason`

func (c conn) OpenAssignment(ctx context.Context, assetID inventory.AssetID) (*inventory.AssignmentEntry, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+` FROM assignment_history
		WHERE asset_id = ? AND unassigned_at IS NULL`, assetID)
	e, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (c conn) StatusHistory(ctx context.Context, assetID inventory.AssetID) ([]inventory.StatusEntry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, asset_id, from_status, to_status, reason, changed_by, notes, changed_at
		FROM status_history WHERE asset_id = ? ORDER BY seq DESC`, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var out []inventory.StatusEntry
	for rows.Next() {
		var (
			e                        inventory.StatusEntry
			reason, changedBy, notes sql.NullString
			changedAt                string
		)
		if err := rows.Scan(&e.ID, &e.AssetID, &e.FromStatus, &e.ToStatus,
			&reason, &changedBy, &notes, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status entry: %w", err)
		}
		e.Reason = reason.String
		e.ChangedBy = changedBy.String
		e.Notes = notes.String
		if e.ChangedAt, err = parseTime("status changed_at", changedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c conn) AssignmentHistory(ctx context.Context, assetID inventory.AssetID) ([]inventory.AssignmentEntry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+assignmentColumns+` FROM assignment_history
		WHERE asset_id = ? ORDER BY seq DESC`, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignment history: %w", err)
	}
	defer rows.Close()

	var out []inventory.AssignmentEntry
	for rows.Next() {
		e, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanAssignment(row scanner) (inventory.AssignmentEntry, error) {
	var (
		e                                         inventory.AssignmentEntry
		assignedAt                                string
		unassignedAt                              sql.NullString
		reason, assignedBy, notes, unassignReason sql.NullString
	)
	if err := row.Scan(&e.ID, &e.AssetID, &e.StaffID, &assignedAt, &unassignedAt,
		&reason, &assignedBy, &notes, &unassignReason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan assignment entry: %w", err)
	}
	var err error
	if e.AssignedAt, err = parseTime("assignment assigned_at", assignedAt); err != nil {
		return e, err
	}
	if e.UnassignedAt, err = parseNullTime("assignment unassigned_at", unassignedAt); err != nil {
		return e, err
	}
	e.Reason = reason.String
	e.AssignedBy = assignedBy.String
	e.Notes = notes.String
	e.UnassignReason = unassignReason.String
	return e, nil
}

func (c conn) StockHistory(ctx context.Context, partID inventory.PartID) ([]inventory.StockEntry, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, part_id, change_type, quantity, previous_stock, new_stock, reason, changed_by, notes, changed_at
		FROM stock_history WHERE part_id = ? ORDER BY seq DESC`, partID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock history: %w", err)
	}
	defer rows.Close()

	var out []inventory.StockEntry
	for rows.Next() {
		var (
			e                        inventory.StockEntry
			reason, changedBy, notes sql.NullString
			changedAt                string
		)
		if err := rows.Scan(&e.ID, &e.PartID, &e.ChangeType, &e.Quantity, &e.PreviousStock, &e.NewStock,
			&reason, &changedBy, &notes, &changedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock entry: %w", err)
		}
		e.Reason = reason.String
		e.ChangedBy = changedBy.String
		e.Notes = notes.String
		if e.ChangedAt, err = parseTime("stock changed_at", changedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c conn) LedgerStock(ctx context.Context, partID inventory.PartID) (int, error) {
	var sum int
	err := c.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM stock_history WHERE part_id = ?`, partID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum stock ledger: %w", err)
	}
	return sum, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(column, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad %s %q: %w", column, s, err)
	}
	return t, nil
}

func parseNullTime(column string, s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(column, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
