package territory

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"backend-routewars/internal/track"

	"github.com/gofiber/fiber/v2"
	"github.com/pashagolub/pgxmock/v3"
)

func TestTerritoryHandlersPreviewAndList(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	app := fiber.New()
	RegisterRoutes(app.Group("/territories"), NewService(mock))

	mock.ExpectQuery(`SELECT id, owner_id FROM territories`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id"}))

	body, _ := json.Marshal(PreviewRequest{RouteID: "route-1", Coordinates: squareLoop()})
	req := httptest.NewRequest(http.MethodPost, "/territories/preview", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("preview status: %v %v", resp.StatusCode, err)
	}
	var preview track.TerritoryPreview
	if err := json.NewDecoder(resp.Body).Decode(&preview); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if !preview.IsValid || !preview.EligibleForClaiming {
		t.Fatalf("unexpected preview %+v", preview)
	}

	mock.ExpectQuery(`SELECT id, route_id, owner_id, area_sqm, claimed_at`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "route_id", "owner_id", "area_sqm", "claimed_at"}).
			AddRow("terr-1", "route-1", "user-1", 45000.0, claimBase))

	req = httptest.NewRequest(http.MethodGet, "/territories/?owner_id=user-1", nil)
	resp, err = app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("list status: %v %v", resp.StatusCode, err)
	}
	var territories []Territory
	if err := json.NewDecoder(resp.Body).Decode(&territories); err != nil || len(territories) != 1 {
		t.Fatalf("decode territories: %v %+v", err, territories)
	}
}

func TestTerritoryHandlersBadRequest(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/territories"), NewService(nil))

	req := httptest.NewRequest(http.MethodPost, "/territories/preview", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing route_id must be a bad request, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/territories/", nil)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing owner_id must be a bad request, got %d", resp.StatusCode)
	}
}
