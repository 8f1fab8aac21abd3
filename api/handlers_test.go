/*
handlers_test.go - Tests for the HTTP API

Tests for:
- The asset lifecycle over HTTP (assign, repair, history)
- Stock movements and reorder listing
- Error mapping from engine errors to status codes
- Manual integrity runs
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/asset-ledger/inventory"
	"github.com/warp/asset-ledger/inventory/store"
)

type testServer struct {
	t      *testing.T
	router http.Handler
	engine *inventory.Engine
	store  *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemory()
	engine := inventory.NewEngine(st)
	h := NewHandler(engine, nil, zap.NewNop())
	return &testServer{t: t, router: NewRouter(h, nil), engine: engine, store: st}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) createStaff(name string) StaffDTO {
	rec := s.do(http.MethodPost, "/api/staff", CreateStaffRequest{Name: name})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[StaffDTO](s.t, rec)
}

func (s *testServer) createAsset(serial string) AssetDTO {
	rec := s.do(http.MethodPost, "/api/assets", CreateAssetRequest{Make: "Apple", Model: "MBP", Serial: serial})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[AssetDTO](s.t, rec)
}

func (s *testServer) createPart(number string, stock, min int) PartDTO {
	rec := s.do(http.MethodPost, "/api/parts", map[string]any{
		"part_number":     number,
		"name":            number,
		"initial_stock":   stock,
		"min_stock_level": min,
		"unit_cost":       "4.25",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[PartDTO](s.t, rec)
}

func TestAPI_AssetLifecycle(t *testing.T) {
	s := newTestServer(t)

	// GIVEN: a staff member, an asset and a spare part
	staff := s.createStaff("Yan")
	asset := s.createAsset("C02XYZ")
	part := s.createPart("KB-MBP", 10, 2)
	assert.Equal(t, "available", asset.Status)
	assert.Nil(t, asset.AssignedTo)

	// WHEN: assigned
	rec := s.do(http.MethodPost, "/api/assets/"+asset.ID+"/assign", AssignRequest{StaffID: staff.ID, AssignedBy: "it"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[AssetDTO](t, rec)
	assert.Equal(t, "assigned", got.Status)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, staff.ID, *got.AssignedTo)

	// WHEN: sent to repair
	rec = s.do(http.MethodPost, "/api/assets/"+asset.ID+"/status", SetStatusRequest{Status: "in_repair", Reason: "keys sticking"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[AssetDTO](t, rec)
	assert.Nil(t, got.AssignedTo)
	require.NotNil(t, got.PreviousOwner)
	assert.Equal(t, staff.ID, *got.PreviousOwner)

	// WHEN: the repair completes with one part
	rec = s.do(http.MethodPost, "/api/assets/"+asset.ID+"/repair/complete", CompleteRepairRequest{
		Parts:       []PartUsageRequest{{PartID: part.ID, Quantity: 1}},
		CompletedBy: "tech",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[RepairResultDTO](t, rec)
	assert.Equal(t, "assigned", res.NewStatus)
	require.Len(t, res.Consumed, 1)
	assert.Equal(t, -1, res.Consumed[0].Quantity)

	// THEN: history lists three transitions newest first
	rec = s.do(http.MethodGet, "/api/assets/"+asset.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[HistoryDTO](t, rec)
	require.Len(t, hist.StatusHistory, 3)
	assert.Equal(t, "in_repair", hist.StatusHistory[0].FromStatus)
	assert.Equal(t, "assigned", hist.StatusHistory[0].ToStatus)
	require.Len(t, hist.AssignmentHistory, 1)
	assert.Nil(t, hist.AssignmentHistory[0].UnassignedAt)

	// AND: the staff member holds it again
	rec = s.do(http.MethodGet, "/api/staff/"+staff.ID+"/assets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AssetDTO](t, rec), 1)
}

func TestAPI_StockMovements(t *testing.T) {
	s := newTestServer(t)
	part := s.createPart("SSD-1T", 3, 5)
	assert.True(t, part.BelowMinimum)
	assert.Equal(t, "12.75", part.StockValue.StringFixed(2))

	rec := s.do(http.MethodPost, "/api/parts/"+part.ID+"/adjust", AdjustStockRequest{Quantity: 5, ChangeType: "OUT"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0, decode[PartDTO](t, rec).StockLevel)

	rec = s.do(http.MethodPost, "/api/parts/"+part.ID+"/adjust", AdjustStockRequest{Quantity: 8, ChangeType: "ADJUSTMENT", Reason: "stock take"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 8, decode[PartDTO](t, rec).StockLevel)

	rec = s.do(http.MethodGet, "/api/parts/"+part.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]StockEntryDTO](t, rec)
	require.Len(t, entries, 3)
	assert.Equal(t, "ADJUSTMENT", entries[0].ChangeType)
	assert.Equal(t, 8, entries[0].Quantity)
	assert.Equal(t, -3, entries[1].Quantity)

	rec = s.do(http.MethodGet, "/api/parts/"+part.ID+"/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ReconciliationDTO](t, rec).InSync)

	s.createPart("LOW-1", 0, 4)
	rec = s.do(http.MethodGet, "/api/parts/reorder", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reorder := decode[[]ReorderDTO](t, rec)
	require.Len(t, reorder, 1)
	assert.Equal(t, "LOW-1", reorder[0].Part.PartNumber)
	assert.Equal(t, "17", reorder[0].Cost.String())
}

func TestAPI_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	a := s.createStaff("Ana")
	b := s.createStaff("Bo")
	asset := s.createAsset("SN-ERR")
	part := s.createPart("P-ERR", 1, 0)

	rec := s.do(http.MethodPost, "/api/assets/"+asset.ID+"/assign", AssignRequest{StaffID: a.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown asset", http.MethodGet, "/api/assets/nope", nil, http.StatusNotFound},
		{"unknown part", http.MethodGet, "/api/parts/nope", nil, http.StatusNotFound},
		{"unknown staff", http.MethodGet, "/api/staff/nope", nil, http.StatusNotFound},
		{"assign conflict", http.MethodPost, "/api/assets/" + asset.ID + "/assign", AssignRequest{StaffID: b.ID}, http.StatusConflict},
		{"bad status", http.MethodPost, "/api/assets/" + asset.ID + "/status", SetStatusRequest{Status: "lost"}, http.StatusBadRequest},
		{"repair not in repair", http.MethodPost, "/api/assets/" + asset.ID + "/repair/complete", CompleteRepairRequest{}, http.StatusUnprocessableEntity},
		{"bad change type", http.MethodPost, "/api/parts/" + part.ID + "/adjust", AdjustStockRequest{Quantity: 1, ChangeType: "MOVE"}, http.StatusBadRequest},
		{"overflowing quantity", http.MethodPost, "/api/parts/" + part.ID + "/adjust", AdjustStockRequest{Quantity: math.MaxInt, ChangeType: "IN"}, http.StatusBadRequest},
		{"zero quantity", http.MethodPost, "/api/parts/" + part.ID + "/adjust", AdjustStockRequest{Quantity: 0, ChangeType: "IN"}, http.StatusBadRequest},
		{"bad list filter", http.MethodGet, "/api/assets?status=lost", nil, http.StatusBadRequest},
		{"no integrity run yet", http.MethodGet, "/api/integrity/last", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}

	// Retired is terminal: 422.
	rec = s.do(http.MethodPost, "/api/assets/"+asset.ID+"/status", SetStatusRequest{Status: "retired"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/api/assets/"+asset.ID+"/status", SetStatusRequest{Status: "available"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAPI_InsufficientStockIsConflict(t *testing.T) {
	s := newTestServer(t)
	asset := s.createAsset("SN-SHORT")
	part := s.createPart("P-SHORT", 3, 0)

	rec := s.do(http.MethodPost, "/api/assets/"+asset.ID+"/status", SetStatusRequest{Status: "in_repair"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/assets/"+asset.ID+"/repair/complete", CompleteRepairRequest{
		Parts: []PartUsageRequest{{PartID: part.ID, Quantity: 5}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Details, "shortfall 2")
}

func TestAPI_OffboardAndIntegrity(t *testing.T) {
	s := newTestServer(t)
	staff := s.createStaff("Leaver")
	asset := s.createAsset("SN-BYE")

	rec := s.do(http.MethodPost, "/api/assets/"+asset.ID+"/assign", AssignRequest{StaffID: staff.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/staff/"+staff.ID+"/offboard", OffboardRequest{LeavingDate: "2026-06-30"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	returned := decode[[]AssetDTO](t, rec)
	require.Len(t, returned, 1)
	assert.Equal(t, "returned", returned[0].Status)

	rec = s.do(http.MethodGet, "/api/staff/"+staff.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, decode[StaffDTO](t, rec).LeavingDate)
	assert.Equal(t, "2026-06-30", *decode[StaffDTO](t, rec).LeavingDate)

	rec = s.do(http.MethodPost, "/api/integrity/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[IntegrityReportDTO](t, rec)
	assert.True(t, report.Healthy)

	rec = s.do(http.MethodGet, "/api/integrity/last", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_IntegrityReportsDrift(t *testing.T) {
	s := newTestServer(t)
	part := s.createPart("P-DRIFT", 4, 0)

	ctx := context.Background()
	p, err := s.store.GetPart(ctx, inventory.PartID(part.ID))
	require.NoError(t, err)
	p.StockLevel = 1
	require.NoError(t, s.store.UpdatePart(ctx, *p))

	rec := s.do(http.MethodPost, "/api/integrity/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[IntegrityReportDTO](t, rec)
	assert.False(t, report.Healthy)
	require.Len(t, report.StockDrift, 1)
	assert.Equal(t, -3, report.StockDrift[0].Drift)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&inventory.NotFoundError{Kind: "asset", ID: "a"}, http.StatusNotFound},
		{&inventory.ArgumentError{Field: "quantity"}, http.StatusBadRequest},
		{&inventory.TransitionError{}, http.StatusUnprocessableEntity},
		{&inventory.StateError{}, http.StatusUnprocessableEntity},
		{&inventory.ConflictError{}, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", inventory.ErrConcurrentModification), http.StatusConflict},
		{&inventory.InsufficientStockError{}, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
