/*
handlers.go - HTTP API handlers for the asset ledger

PURPOSE:
  Exposes the inventory engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine's three services.

ENDPOINTS:
  Staff:
    POST   /api/staff                      Register staff member
    GET    /api/staff/{id}                 Get staff member
    GET    /api/staff/{id}/assets          Assets currently held
    POST   /api/staff/{id}/offboard        Record departure, return assets

  Assets:
    GET    /api/assets                     List (?status=, ?holder=)
    POST   /api/assets                     Register asset
    GET    /api/assets/{id}                Get asset
    POST   /api/assets/{id}/status         Change status
    POST   /api/assets/{id}/assign         Assign to staff
    POST   /api/assets/{id}/reassign       Move to another staff member
    POST   /api/assets/{id}/repair/complete  Complete repair, consume parts
    GET    /api/assets/{id}/history        Status and assignment ledgers

  Parts:
    GET    /api/parts                      List parts
    POST   /api/parts                      Register part
    GET    /api/parts/reorder              Parts below minimum
    GET    /api/parts/{id}                 Get part
    POST   /api/parts/{id}/adjust          Stock movement
    GET    /api/parts/{id}/history         Stock ledger
    GET    /api/parts/{id}/reconcile       Cached level vs ledger sum

  Integrity:
    POST   /api/integrity/run              Run checks now
    GET    /api/integrity/last             Last scheduled or manual report

ERROR HANDLING:
  Domain errors map to HTTP status through writeDomainError:
  - 400: invalid argument
  - 404: unknown asset, staff or part
  - 409: conflict, concurrent modification, insufficient stock
  - 422: invalid transition or invalid state
  - 500: anything else

SECURITY NOTE:
  No authentication or authorization. Actor names (changed_by, assigned_by)
  are taken from the request body as given.
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/asset-ledger/inventory"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *inventory.Engine
	Integrity *IntegrityScheduler
	Logger    *zap.Logger
}

// NewHandler creates a handler. The scheduler may be unstarted; it still
// serves manual integrity runs.
func NewHandler(engine *inventory.Engine, integrity *IntegrityScheduler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if integrity == nil {
		integrity = NewIntegrityScheduler(engine, "", logger)
	}
	return &Handler{Engine: engine, Integrity: integrity, Logger: logger}
}

// =============================================================================
// STAFF HANDLERS
// =============================================================================

// CreateStaff registers a staff member.
// POST /api/staff
func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req CreateStaffRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	leaving, err := parseOptionalDate(req.LeavingDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid leaving_date", err)
		return
	}

	st, err := h.Engine.Assets.RegisterStaff(r.Context(), inventory.NewStaff{
		Name:        req.Name,
		Email:       req.Email,
		Department:  req.Department,
		LeavingDate: leaving,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create staff", err)
		return
	}
	writeJSON(w, http.StatusCreated, toStaffDTO(*st))
}

// GetStaff returns one staff member.
// GET /api/staff/{id}
func (h *Handler) GetStaff(w http.ResponseWriter, r *http.Request) {
	st, err := h.Engine.Assets.GetStaff(r.Context(), inventory.StaffID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get staff", err)
		return
	}
	writeJSON(w, http.StatusOK, toStaffDTO(*st))
}

// ListStaffAssets returns the assets a staff member currently holds,
// including assets in repair that return to them.
// GET /api/staff/{id}/assets
func (h *Handler) ListStaffAssets(w http.ResponseWriter, r *http.Request) {
	id := inventory.StaffID(chi.URLParam(r, "id"))
	if _, err := h.Engine.Assets.GetStaff(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to get staff", err)
		return
	}
	assets, err := h.Engine.Assets.ListAssets(r.Context(), inventory.AssetFilter{Holder: &id})
	if err != nil {
		h.writeDomainError(w, "Failed to list assets", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTOs(assets))
}

// OffboardStaff records a departure and returns every held asset.
// POST /api/staff/{id}/offboard
func (h *Handler) OffboardStaff(w http.ResponseWriter, r *http.Request) {
	var req OffboardRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	leaving := time.Now().UTC()
	if req.LeavingDate != "" {
		d, err := time.Parse("2006-01-02", req.LeavingDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid leaving_date", err)
			return
		}
		leaving = d
	}

	returned, err := h.Engine.Assets.OffboardStaff(r.Context(), inventory.StaffID(chi.URLParam(r, "id")), leaving,
		inventory.ChangeOptions{Reason: req.Reason, ChangedBy: req.ChangedBy, Notes: req.Notes})
	if err != nil {
		h.writeDomainError(w, "Failed to offboard staff", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTOs(returned))
}

// =============================================================================
// ASSET HANDLERS
// =============================================================================

// ListAssets returns assets, optionally filtered by status and holder.
// GET /api/assets?status=assigned&holder=staff-1
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	var filter inventory.AssetFilter
	if s := r.URL.Query().Get("status"); s != "" {
		status, ok := inventory.ParseStatus(s)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid status filter", fmt.Errorf("unknown status %q", s))
			return
		}
		filter.Status = &status
	}
	if holder := r.URL.Query().Get("holder"); holder != "" {
		id := inventory.StaffID(holder)
		filter.Holder = &id
	}

	assets, err := h.Engine.Assets.ListAssets(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "Failed to list assets", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTOs(assets))
}

// CreateAsset registers an asset as available.
// POST /api/assets
func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.Engine.Assets.RegisterAsset(r.Context(), inventory.NewAsset{
		Make:   req.Make,
		Model:  req.Model,
		Serial: req.Serial,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create asset", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssetDTO(*a))
}

// GetAsset returns one asset.
// GET /api/assets/{id}
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.Assets.GetAsset(r.Context(), inventory.AssetID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get asset", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTO(*a))
}

// SetStatus moves an asset to a new lifecycle status.
// POST /api/assets/{id}/status
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req SetStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	to, ok := inventory.ParseStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid status", fmt.Errorf("unknown status %q", req.Status))
		return
	}

	a, err := h.Engine.Assets.SetStatus(r.Context(), inventory.AssetID(chi.URLParam(r, "id")), to,
		inventory.ChangeOptions{Reason: req.Reason, ChangedBy: req.ChangedBy, Notes: req.Notes})
	if err != nil {
		h.writeDomainError(w, "Failed to change status", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTO(*a))
}

// Assign gives an asset to a staff member.
// POST /api/assets/{id}/assign
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.Engine.Assets.Assign(r.Context(), inventory.AssetID(chi.URLParam(r, "id")),
		inventory.StaffID(req.StaffID), assignOptions(req))
	if err != nil {
		h.writeDomainError(w, "Failed to assign asset", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTO(*a))
}

// Reassign moves an assigned asset to another staff member.
// POST /api/assets/{id}/reassign
func (h *Handler) Reassign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := h.Engine.Assets.Reassign(r.Context(), inventory.AssetID(chi.URLParam(r, "id")),
		inventory.StaffID(req.StaffID), assignOptions(req))
	if err != nil {
		h.writeDomainError(w, "Failed to reassign asset", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetDTO(*a))
}

func assignOptions(req AssignRequest) inventory.AssignOptions {
	return inventory.AssignOptions{Reason: req.Reason, AssignedBy: req.AssignedBy, Notes: req.Notes}
}

// CompleteRepair consumes parts and returns the asset to service.
// POST /api/assets/{id}/repair/complete
func (h *Handler) CompleteRepair(w http.ResponseWriter, r *http.Request) {
	var req CompleteRepairRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	usage := make([]inventory.PartUsage, len(req.Parts))
	for i, p := range req.Parts {
		usage[i] = inventory.PartUsage{PartID: inventory.PartID(p.PartID), Quantity: p.Quantity}
	}

	res, err := h.Engine.Repair.CompleteRepair(r.Context(), inventory.AssetID(chi.URLParam(r, "id")), usage,
		inventory.RepairOptions{Notes: req.Notes, CompletedBy: req.CompletedBy})
	if err != nil {
		h.writeDomainError(w, "Failed to complete repair", err)
		return
	}
	writeJSON(w, http.StatusOK, RepairResultDTO{
		Asset:     toAssetDTO(res.Asset),
		NewStatus: string(res.NewStatus),
		Consumed:  toStockEntryDTOs(res.Consumed),
	})
}

// GetAssetHistory returns both ledgers of an asset, newest first.
// GET /api/assets/{id}/history
func (h *Handler) GetAssetHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.Engine.Assets.History(r.Context(), inventory.AssetID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get history", err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTO(*hist))
}

// =============================================================================
// PART HANDLERS
// =============================================================================

// ListParts returns all parts.
// GET /api/parts
func (h *Handler) ListParts(w http.ResponseWriter, r *http.Request) {
	parts, err := h.Engine.Stock.ListParts(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list parts", err)
		return
	}
	dtos := make([]PartDTO, len(parts))
	for i, p := range parts {
		dtos[i] = toPartDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePart registers a part with its opening stock.
// POST /api/parts
func (h *Handler) CreatePart(w http.ResponseWriter, r *http.Request) {
	var req CreatePartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.Engine.Stock.RegisterPart(r.Context(), inventory.NewPart{
		PartNumber:    req.PartNumber,
		Name:          req.Name,
		Category:      req.Category,
		Location:      req.Location,
		InitialStock:  req.InitialStock,
		MinStockLevel: req.MinStockLevel,
		UnitCost:      req.UnitCost,
		CreatedBy:     req.CreatedBy,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to create part", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPartDTO(*p))
}

// GetPart returns one part.
// GET /api/parts/{id}
func (h *Handler) GetPart(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.Stock.GetPart(r.Context(), inventory.PartID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get part", err)
		return
	}
	writeJSON(w, http.StatusOK, toPartDTO(*p))
}

// AdjustStock applies one stock movement.
// POST /api/parts/{id}/adjust
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ct, ok := inventory.ParseChangeType(req.ChangeType)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid change_type", fmt.Errorf("unknown change type %q", req.ChangeType))
		return
	}

	p, err := h.Engine.Stock.AdjustStock(r.Context(), inventory.PartID(chi.URLParam(r, "id")), req.Quantity, ct,
		inventory.ChangeOptions{Reason: req.Reason, ChangedBy: req.ChangedBy, Notes: req.Notes})
	if err != nil {
		h.writeDomainError(w, "Failed to adjust stock", err)
		return
	}
	writeJSON(w, http.StatusOK, toPartDTO(*p))
}

// GetStockHistory returns the stock ledger of a part, newest first.
// GET /api/parts/{id}/history
func (h *Handler) GetStockHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.Stock.StockHistory(r.Context(), inventory.PartID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get stock history", err)
		return
	}
	writeJSON(w, http.StatusOK, toStockEntryDTOs(entries))
}

// ReconcilePart compares the cached level with the ledger sum.
// GET /api/parts/{id}/reconcile
func (h *Handler) ReconcilePart(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Engine.Stock.RecomputeFromLedger(r.Context(), inventory.PartID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to reconcile part", err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(rec))
}

// ListReorder returns parts below their minimum level.
// GET /api/parts/reorder
func (h *Handler) ListReorder(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.Engine.Stock.ReorderCandidates(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list reorder candidates", err)
		return
	}
	dtos := make([]ReorderDTO, len(candidates))
	for i, c := range candidates {
		dtos[i] = ReorderDTO{Part: toPartDTO(c.Part), Shortfall: c.Shortfall, Cost: c.Cost}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// INTEGRITY HANDLERS
// =============================================================================

// RunIntegrity runs the integrity checks now.
// GET /api/integrity, POST /api/integrity/run
func (h *Handler) RunIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.Integrity.RunNow(r.Context())
	if err != nil {
		h.writeDomainError(w, "Integrity check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toIntegrityReportDTO(report))
}

// LastIntegrity returns the most recent integrity report.
// GET /api/integrity/last
func (h *Handler) LastIntegrity(w http.ResponseWriter, r *http.Request) {
	report := h.Integrity.LastReport()
	if report == nil {
		writeError(w, http.StatusNotFound, "No integrity check has run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toIntegrityReportDTO(*report))
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func parseOptionalDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrInvalidTransition), errors.Is(err, inventory.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, inventory.ErrInsufficientStock), errors.Is(err, inventory.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
		// Internal details stay in the log.
		writeError(w, status, message, nil)
		return
	}
	writeError(w, status, message, err)
}
