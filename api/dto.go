/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the inventory domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Staff:     StaffDTO, CreateStaffRequest, OffboardRequest
  Assets:    AssetDTO, CreateAssetRequest, SetStatusRequest, AssignRequest
  Repair:    CompleteRepairRequest, RepairResultDTO
  Parts:     PartDTO, CreatePartRequest, AdjustStockRequest, ReorderDTO
  Ledgers:   StatusEntryDTO, AssignmentEntryDTO, StockEntryDTO, HistoryDTO
  Integrity: IntegrityReportDTO

VALIDATION:
  Validation is done by the inventory engine, not in DTOs. DTOs are pure
  data carriers; handlers only parse enums and dates.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/asset-ledger/inventory"
)

// =============================================================================
// STAFF
// =============================================================================

// StaffDTO represents a staff member in API responses.
type StaffDTO struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Email       string  `json:"email,omitempty"`
	Department  string  `json:"department,omitempty"`
	LeavingDate *string `json:"leaving_date,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// CreateStaffRequest is the request to create a staff member.
type CreateStaffRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Department  string `json:"department"`
	LeavingDate string `json:"leaving_date,omitempty"`
}

// OffboardRequest records a departure and returns the staff member's assets.
type OffboardRequest struct {
	LeavingDate string `json:"leaving_date"`
	Reason      string `json:"reason,omitempty"`
	ChangedBy   string `json:"changed_by,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// =============================================================================
// ASSETS
// =============================================================================

// AssetDTO represents an asset. AssignedTo is set only while assigned;
// PreviousOwner only while in repair.
type AssetDTO struct {
	ID            string  `json:"id"`
	Make          string  `json:"make,omitempty"`
	Model         string  `json:"model,omitempty"`
	Serial        string  `json:"serial"`
	Status        string  `json:"status"`
	AssignedTo    *string `json:"assigned_to"`
	PreviousOwner *string `json:"previous_owner,omitempty"`
	Version       int64   `json:"version"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type CreateAssetRequest struct {
	Make   string `json:"make"`
	Model  string `json:"model"`
	Serial string `json:"serial"`
}

// SetStatusRequest moves an asset along the lifecycle.
type SetStatusRequest struct {
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	ChangedBy string `json:"changed_by,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// AssignRequest is used for both assign and reassign.
type AssignRequest struct {
	StaffID    string `json:"staff_id"`
	Reason     string `json:"reason,omitempty"`
	AssignedBy string `json:"assigned_by,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// =============================================================================
// REPAIR
// =============================================================================

type PartUsageRequest struct {
	PartID   string `json:"part_id"`
	Quantity int    `json:"quantity"`
}

// CompleteRepairRequest finishes a repair, consuming the listed parts.
type CompleteRepairRequest struct {
	Parts       []PartUsageRequest `json:"parts"`
	Notes       string             `json:"notes,omitempty"`
	CompletedBy string             `json:"completed_by,omitempty"`
}

type RepairResultDTO struct {
	Asset     AssetDTO        `json:"asset"`
	NewStatus string          `json:"new_status"`
	Consumed  []StockEntryDTO `json:"consumed"`
}

// =============================================================================
// PARTS
// =============================================================================

// PartDTO represents a consumable part. Money is serialized as a decimal string.
type PartDTO struct {
	ID            string          `json:"id"`
	PartNumber    string          `json:"part_number"`
	Name          string          `json:"name"`
	Category      string          `json:"category,omitempty"`
	Location      string          `json:"location,omitempty"`
	StockLevel    int             `json:"stock_level"`
	MinStockLevel int             `json:"min_stock_level"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	StockValue    decimal.Decimal `json:"stock_value"`
	BelowMinimum  bool            `json:"below_minimum"`
	Version       int64           `json:"version"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
}

// CreatePartRequest registers a part. unit_cost accepts a number or a string.
type CreatePartRequest struct {
	PartNumber    string          `json:"part_number"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Location      string          `json:"location"`
	InitialStock  int             `json:"initial_stock"`
	MinStockLevel int             `json:"min_stock_level"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	CreatedBy     string          `json:"created_by,omitempty"`
}

// AdjustStockRequest is one stock movement. For ADJUSTMENT, quantity is the
// target level.
type AdjustStockRequest struct {
	Quantity   int    `json:"quantity"`
	ChangeType string `json:"change_type"`
	Reason     string `json:"reason,omitempty"`
	ChangedBy  string `json:"changed_by,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type ReorderDTO struct {
	Part      PartDTO         `json:"part"`
	Shortfall int             `json:"shortfall"`
	Cost      decimal.Decimal `json:"cost"`
}

type ReconciliationDTO struct {
	PartID string `json:"part_id"`
	Cached int    `json:"cached"`
	Ledger int    `json:"ledger"`
	Drift  int    `json:"drift"`
	InSync bool   `json:"in_sync"`
}

// =============================================================================
// LEDGERS
// =============================================================================

type StatusEntryDTO struct {
	ID         string `json:"id"`
	AssetID    string `json:"asset_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Reason     string `json:"reason,omitempty"`
	ChangedBy  string `json:"changed_by,omitempty"`
	Notes      string `json:"notes,omitempty"`
	ChangedAt  string `json:"changed_at"`
}

type AssignmentEntryDTO struct {
	ID             string  `json:"id"`
	AssetID        string  `json:"asset_id"`
	StaffID        string  `json:"staff_id"`
	AssignedAt     string  `json:"assigned_at"`
	UnassignedAt   *string `json:"unassigned_at"`
	Reason         string  `json:"reason,omitempty"`
	AssignedBy     string  `json:"assigned_by,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	UnassignReason string  `json:"unassign_reason,omitempty"`
}

type StockEntryDTO struct {
	ID            string `json:"id"`
	PartID        string `json:"part_id"`
	ChangeType    string `json:"change_type"`
	Quantity      int    `json:"quantity"`
	PreviousStock int    `json:"previous_stock"`
	NewStock      int    `json:"new_stock"`
	Reason        string `json:"reason,omitempty"`
	ChangedBy     string `json:"changed_by,omitempty"`
	Notes         string `json:"notes,omitempty"`
	ChangedAt     string `json:"changed_at"`
}

// HistoryDTO is an asset's status and assignment ledgers, newest first.
type HistoryDTO struct {
	StatusHistory     []StatusEntryDTO     `json:"status_history"`
	AssignmentHistory []AssignmentEntryDTO `json:"assignment_history"`
}

// =============================================================================
// INTEGRITY
// =============================================================================

type ViolationDTO struct {
	AssetID string `json:"asset_id"`
	Detail  string `json:"detail"`
}

type IntegrityReportDTO struct {
	CheckedAt            string              `json:"checked_at"`
	StockDrift           []ReconciliationDTO `json:"stock_drift"`
	AssignmentViolations []ViolationDTO      `json:"assignment_violations"`
	Healthy              bool                `json:"healthy"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toStaffDTO(s inventory.Staff) StaffDTO {
	dto := StaffDTO{
		ID:         string(s.ID),
		Name:       s.Name,
		Email:      s.Email,
		Department: s.Department,
		CreatedAt:  formatTime(s.CreatedAt),
	}
	if s.LeavingDate != nil {
		d := s.LeavingDate.Format("2006-01-02")
		dto.LeavingDate = &d
	}
	return dto
}

func toAssetDTO(a inventory.Asset) AssetDTO {
	dto := AssetDTO{
		ID:        string(a.ID),
		Make:      a.Make,
		Model:     a.Model,
		Serial:    a.Serial,
		Status:    string(a.Status()),
		Version:   a.Version,
		CreatedAt: formatTime(a.CreatedAt),
		UpdatedAt: formatTime(a.UpdatedAt),
	}
	if holder := a.AssignedTo(); holder != nil {
		s := string(*holder)
		dto.AssignedTo = &s
	}
	if holder, ok := a.State.Holder(); ok && a.Status() == inventory.StatusInRepair {
		s := string(holder)
		dto.PreviousOwner = &s
	}
	return dto
}

func toAssetDTOs(assets []inventory.Asset) []AssetDTO {
	out := make([]AssetDTO, len(assets))
	for i, a := range assets {
		out[i] = toAssetDTO(a)
	}
	return out
}

func toPartDTO(p inventory.Part) PartDTO {
	return PartDTO{
		ID:            string(p.ID),
		PartNumber:    p.PartNumber,
		Name:          p.Name,
		Category:      p.Category,
		Location:      p.Location,
		StockLevel:    p.StockLevel,
		MinStockLevel: p.MinStockLevel,
		UnitCost:      p.UnitCost,
		StockValue:    p.StockValue(),
		BelowMinimum:  p.BelowMinimum(),
		Version:       p.Version,
		CreatedAt:     formatTime(p.CreatedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
}

func toStockEntryDTOs(entries []inventory.StockEntry) []StockEntryDTO {
	out := make([]StockEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = StockEntryDTO{
			ID:            string(e.ID),
			PartID:        string(e.PartID),
			ChangeType:    string(e.ChangeType),
			Quantity:      e.Quantity,
			PreviousStock: e.PreviousStock,
			NewStock:      e.NewStock,
			Reason:        e.Reason,
			ChangedBy:     e.ChangedBy,
			Notes:         e.Notes,
			ChangedAt:     formatTime(e.ChangedAt),
		}
	}
	return out
}

func toHistoryDTO(h inventory.History) HistoryDTO {
	dto := HistoryDTO{
		StatusHistory:     make([]StatusEntryDTO, len(h.StatusHistory)),
		AssignmentHistory: make([]AssignmentEntryDTO, len(h.AssignmentHistory)),
	}
	for i, e := range h.StatusHistory {
		dto.StatusHistory[i] = StatusEntryDTO{
			ID:         string(e.ID),
			AssetID:    string(e.AssetID),
			FromStatus: string(e.FromStatus),
			ToStatus:   string(e.ToStatus),
			Reason:     e.Reason,
			ChangedBy:  e.ChangedBy,
			Notes:      e.Notes,
			ChangedAt:  formatTime(e.ChangedAt),
		}
	}
	for i, e := range h.AssignmentHistory {
		dto.AssignmentHistory[i] = AssignmentEntryDTO{
			ID:             string(e.ID),
			AssetID:        string(e.AssetID),
			StaffID:        string(e.StaffID),
			AssignedAt:     formatTime(e.AssignedAt),
			UnassignedAt:   formatTimePtr(e.UnassignedAt),
			Reason:         e.Reason,
			AssignedBy:     e.AssignedBy,
			Notes:          e.Notes,
			UnassignReason: e.UnassignReason,
		}
	}
	return dto
}

func toReconciliationDTO(r inventory.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		PartID: string(r.PartID),
		Cached: r.Cached,
		Ledger: r.Ledger,
		Drift:  r.Drift(),
		InSync: r.InSync(),
	}
}

func toIntegrityReportDTO(r IntegrityReport) IntegrityReportDTO {
	dto := IntegrityReportDTO{
		CheckedAt:            formatTime(r.CheckedAt),
		StockDrift:           make([]ReconciliationDTO, len(r.StockDrift)),
		AssignmentViolations: make([]ViolationDTO, len(r.Violations)),
		Healthy:              r.Healthy(),
	}
	for i, d := range r.StockDrift {
		dto.StockDrift[i] = toReconciliationDTO(d)
	}
	for i, v := range r.Violations {
		dto.AssignmentViolations[i] = ViolationDTO{AssetID: string(v.AssetID), Detail: v.Detail}
	}
	return dto
}
