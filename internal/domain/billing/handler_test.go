package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestListHandler_PaginatedEnvelope(t *testing.T) {
	f := newFixture()
	for i := 0; i < 3; i++ {
		inv := &Invoice{PatientID: f.patientID, DiscountValue: dec("0")}
		if err := f.svc.Create(context.Background(), inv, consultationItems(), nil); err != nil {
			t.Fatal(err)
		}
	}
	h := NewHandler(f.svc)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/invoices?patient_id="+f.patientID.String()+"&limit=2&offset=2", nil)
	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Data    []*Invoice `json:"data"`
		Total   int        `json:"total"`
		Limit   int        `json:"limit"`
		Offset  int        `json:"offset"`
		HasMore bool       `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 {
		t.Fatalf("total = %d, want 3", resp.Total)
	}
	if resp.Limit != 2 || resp.Offset != 2 {
		t.Errorf("limit = %d, offset = %d, want 2 and 2", resp.Limit, resp.Offset)
	}
	if resp.HasMore {
		t.Error("has_more = true on the last page")
	}
}
