package route

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-routewars/internal/stream"
	"backend-routewars/internal/track"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

var routeBase = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeClaimer struct {
	status    track.ClaimStatus
	claim     *track.TerritoryClaim
	conflicts []track.TerritoryConflict
	err       error
	calls     int
}

func (f *fakeClaimer) Claim(_ context.Context, _, _ string, _ []track.Coordinate) (track.ClaimStatus, *track.TerritoryClaim, []track.TerritoryConflict, error) {
	f.calls++
	return f.status, f.claim, f.conflicts, f.err
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	return mock
}

// loopPointRows is a closed square loop, roughly 220 m a side, eligible for
// claiming.
func loopPointRows() *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{"lat", "lng", "accuracy_m", "altitude_m", "speed_mps", "bearing_deg", "recorded_at"})
	corners := [][2]float64{{0, 0}, {0.002, 0}, {0.002, 0.002}, {0, 0.002}, {0, 0}}
	for i, c := range corners {
		rows.AddRow(c[0], c[1], 5.0, 0.0, 1.5, 0.0, routeBase.Add(time.Duration(i)*time.Minute))
	}
	return rows
}

func expectRouteState(mock pgxmock.PgxPoolIface, status, userID string, pausedSec float64) {
	mock.ExpectQuery(`SELECT status, user_id, COALESCE\(paused_seconds,0\) FROM routes`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"status", "user_id", "paused_seconds"}).AddRow(status, userID, pausedSec))
}

func TestCreateRouteConflict(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	svc := NewService(mock, nil, nil, 0)

	mock.ExpectQuery(`SELECT id FROM routes WHERE user_id=\$1 AND status IN`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("route-9"))

	_, err := svc.CreateRoute(context.Background(), "user-1", "loop")
	if !errors.Is(err, ErrActiveExists) {
		t.Fatalf("expected ErrActiveExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateRoute(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	svc := NewService(mock, nil, nil, 0)

	mock.ExpectQuery(`SELECT id FROM routes WHERE user_id=\$1 AND status IN`).
		WithArgs("user-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO routes`).
		WithArgs(pgxmock.AnyArg(), "user-1", "loop", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := svc.CreateRoute(context.Background(), "user-1", "loop")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatalf("expected route id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAddCoordinateBroadcasts(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	hub := stream.NewHub(nil)
	svc := NewService(mock, hub, nil, 50)
	sub := hub.Subscribe("route-1")

	expectRouteState(mock, StatusActive, "user-1", 0)
	mock.ExpectQuery(`ORDER BY recorded_at DESC LIMIT 1`).
		WithArgs("route-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO route_points`).
		WithArgs("route-1", 106.8, -6.2, 8.0, 0.0, 1.5, 0.0, routeBase).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`COALESCE\(accuracy_m,0\)`).
		WithArgs("route-1").
		WillReturnRows(pgxmock.NewRows([]string{"lat", "lng", "accuracy_m", "altitude_m", "speed_mps", "bearing_deg", "recorded_at"}).
			AddRow(-6.2, 106.8, 8.0, 0.0, 1.5, 0.0, routeBase))

	stats, err := svc.AddCoordinate(context.Background(), "route-1", CoordinateRequest{
		Latitude: -6.2, Longitude: 106.8, Timestamp: routeBase, Accuracy: 8, Speed: 1.5,
	})
	if err != nil {
		t.Fatalf("add coordinate: %v", err)
	}
	if stats.CoordinateCount != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	select {
	case snap := <-sub.C:
		if snap.RouteID != "route-1" || len(snap.Coordinates) != 1 {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
		if snap.Stats == nil || snap.Stats.CoordinateCount == nil || *snap.Stats.CoordinateCount != 1 {
			t.Fatalf("snapshot must carry the full stats patch")
		}
	default:
		t.Fatalf("expected a broadcast snapshot")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAddCoordinateNotActive(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	svc := NewService(mock, nil, nil, 0)

	expectRouteState(mock, StatusCompleted, "user-1", 0)

	_, err := svc.AddCoordinate(context.Background(), "route-1", CoordinateRequest{
		Latitude: -6.2, Longitude: 106.8, Timestamp: routeBase,
	})
	if !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestAddCoordinateRejectsReplay(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	svc := NewService(mock, nil, nil, 0)

	expectRouteState(mock, StatusActive, "user-1", 0)
	mock.ExpectQuery(`ORDER BY recorded_at DESC LIMIT 1`).
		WithArgs("route-1").
		WillReturnRows(pgxmock.NewRows([]string{"lat", "lng", "recorded_at"}).
			AddRow(-6.2, 106.8, routeBase.Add(time.Minute)))

	_, err := svc.AddCoordinate(context.Background(), "route-1", CoordinateRequest{
		Latitude: -6.2001, Longitude: 106.8, Timestamp: routeBase,
	})
	if !errors.Is(err, track.ErrStaleTimestamp) {
		t.Fatalf("expected stale-timestamp reject, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("point must not be inserted: %v", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	svc := NewService(mock, nil, nil, 0)

	mock.ExpectExec(`UPDATE routes SET status='paused'`).
		WithArgs("route-1", "user-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := svc.PauseRoute(context.Background(), "route-1", "user-1"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	mock.ExpectExec(`paused_seconds \+ EXTRACT\(EPOCH FROM`).
		WithArgs("route-1", "user-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := svc.ResumeRoute(context.Background(), "route-1", "user-1"); err != nil {
		t.Fatalf("resume: %v", err)
	}

	mock.ExpectExec(`UPDATE routes SET status='paused'`).
		WithArgs("route-1", "user-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if err := svc.PauseRoute(context.Background(), "route-1", "user-1"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestActiveRouteNone(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	svc := NewService(mock, nil, nil, 0)

	mock.ExpectQuery(`SELECT id, status, started_at, COALESCE\(paused_seconds,0\)`).
		WithArgs("user-1").
		WillReturnError(pgx.ErrNoRows)

	view, err := svc.ActiveRoute(context.Background(), "user-1")
	if err != nil || view != nil {
		t.Fatalf("expected nil view without error, got %v %v", view, err)
	}
}

func TestActiveRoute(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	svc := NewService(mock, nil, nil, 0)

	mock.ExpectQuery(`SELECT id, status, started_at, COALESCE\(paused_seconds,0\)`).
		WithArgs("user-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "started_at", "paused_seconds"}).
			AddRow("route-1", StatusPaused, routeBase, 30.0))
	mock.ExpectQuery(`COALESCE\(accuracy_m,0\)`).
		WithArgs("route-1").
		WillReturnRows(loopPointRows())

	view, err := svc.ActiveRoute(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("active route: %v", err)
	}
	if view.RouteID != "route-1" || view.Status != StatusPaused {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Stats.CoordinateCount != 5 || !view.Stats.IsClosedLoop {
		t.Fatalf("unexpected stats %+v", view.Stats)
	}
	// 4 minutes of samples minus 30 paused seconds.
	if view.Stats.DurationSeconds != 210 {
		t.Fatalf("paused interval must be excluded, got %v", view.Stats.DurationSeconds)
	}
}

func TestCompleteRouteIdempotent(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	claimer := &fakeClaimer{}
	svc := NewService(mock, nil, claimer, 0)

	territoryID := "terr-1"
	mock.ExpectQuery(`SELECT claim_status, territory_id, area_sqm, reward_points`).
		WithArgs("route-1").
		WillReturnRows(pgxmock.NewRows([]string{"claim_status", "territory_id", "area_sqm", "reward_points"}).
			AddRow("success", &territoryID, ptrFloat(45000), ptrInt(550)))

	result, err := svc.CompleteRoute(context.Background(), "route-1", "user-1", "loop", nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.ClaimStatus != track.ClaimSuccess {
		t.Fatalf("stored result must be returned as-is: %+v", result)
	}
	if claimer.calls != 0 {
		t.Fatalf("repeat completion must not re-run the claim")
	}
	if result.Reward == nil || result.Reward.Points != 550 {
		t.Fatalf("stored reward missing: %+v", result.Reward)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCompleteRouteClaimsTerritory(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	claimer := &fakeClaimer{
		status: track.ClaimSuccess,
		claim:  &track.TerritoryClaim{ID: "terr-1", AreaSquareMeters: 45000},
	}
	svc := NewService(mock, nil, claimer, 0)

	mock.ExpectQuery(`SELECT claim_status, territory_id, area_sqm, reward_points`).
		WithArgs("route-1").
		WillReturnError(pgx.ErrNoRows)
	expectRouteState(mock, StatusActive, "user-1", 0)
	mock.ExpectQuery(`COALESCE\(accuracy_m,0\)`).
		WithArgs("route-1").
		WillReturnRows(loopPointRows())
	mock.ExpectExec(`UPDATE routes SET status='completed'`).
		WithArgs("route-1", "user-1", "loop", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO route_completions`).
		WithArgs("route-1", "success", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := svc.CompleteRoute(context.Background(), "route-1", "user-1", "loop", nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.ClaimStatus != track.ClaimSuccess {
		t.Fatalf("unexpected status %s", result.ClaimStatus)
	}
	if result.Reward == nil || result.Reward.Points != 100+450 {
		t.Fatalf("unexpected reward %+v", result.Reward)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCompleteRouteRetryAfterClaimError(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	claimer := &fakeClaimer{
		status: track.ClaimSuccess,
		claim:  &track.TerritoryClaim{ID: "terr-1", AreaSquareMeters: 45000},
	}
	svc := NewService(mock, nil, claimer, 0)

	// A previous attempt completed the route but the claim errored; a client
	// retry must re-run the claim, not fail on the completed status.
	mock.ExpectQuery(`SELECT claim_status, territory_id, area_sqm, reward_points`).
		WithArgs("route-1").
		WillReturnRows(pgxmock.NewRows([]string{"claim_status", "territory_id", "area_sqm", "reward_points"}).
			AddRow("error", nil, nil, nil))
	expectRouteState(mock, StatusCompleted, "user-1", 0)
	mock.ExpectQuery(`COALESCE\(accuracy_m,0\)`).
		WithArgs("route-1").
		WillReturnRows(loopPointRows())
	mock.ExpectExec(`INSERT INTO route_completions`).
		WithArgs("route-1", "success", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := svc.CompleteRoute(context.Background(), "route-1", "user-1", "loop", nil)
	if err != nil {
		t.Fatalf("retry must not fail on completed status: %v", err)
	}
	if result.ClaimStatus != track.ClaimSuccess {
		t.Fatalf("expected a fresh claim attempt, got %s", result.ClaimStatus)
	}
	if claimer.calls != 1 {
		t.Fatalf("claimer must run once, got %d", claimer.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("route must not be re-completed: %v", err)
	}
}

func TestCompleteRouteClaimErrorNonFatal(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	claimer := &fakeClaimer{err: errors.New("territory service down")}
	svc := NewService(mock, nil, claimer, 0)

	mock.ExpectQuery(`SELECT claim_status, territory_id, area_sqm, reward_points`).
		WithArgs("route-1").
		WillReturnError(pgx.ErrNoRows)
	expectRouteState(mock, StatusActive, "user-1", 0)
	mock.ExpectQuery(`COALESCE\(accuracy_m,0\)`).
		WithArgs("route-1").
		WillReturnRows(loopPointRows())
	mock.ExpectExec(`UPDATE routes SET status='completed'`).
		WithArgs("route-1", "user-1", "loop", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO route_completions`).
		WithArgs("route-1", "error", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := svc.CompleteRoute(context.Background(), "route-1", "user-1", "loop", nil)
	if err != nil {
		t.Fatalf("claim errors must not fail the completion: %v", err)
	}
	if result.ClaimStatus != track.ClaimError {
		t.Fatalf("unexpected status %s", result.ClaimStatus)
	}
}

func TestCompleteRouteOpenLoopIneligible(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	claimer := &fakeClaimer{status: track.ClaimSuccess}
	svc := NewService(mock, nil, claimer, 0)

	open := pgxmock.NewRows([]string{"lat", "lng", "accuracy_m", "altitude_m", "speed_mps", "bearing_deg", "recorded_at"})
	for i, c := range [][2]float64{{0, 0}, {0.002, 0}, {0.002, 0.002}, {0.004, 0.004}} {
		open.AddRow(c[0], c[1], 5.0, 0.0, 1.5, 0.0, routeBase.Add(time.Duration(i)*time.Minute))
	}

	mock.ExpectQuery(`SELECT claim_status, territory_id, area_sqm, reward_points`).
		WithArgs("route-1").
		WillReturnError(pgx.ErrNoRows)
	expectRouteState(mock, StatusActive, "user-1", 0)
	mock.ExpectQuery(`COALESCE\(accuracy_m,0\)`).
		WithArgs("route-1").
		WillReturnRows(open)
	mock.ExpectExec(`UPDATE routes SET status='completed'`).
		WithArgs("route-1", "user-1", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO route_completions`).
		WithArgs("route-1", "ineligible", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := svc.CompleteRoute(context.Background(), "route-1", "user-1", "", nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.ClaimStatus != track.ClaimIneligible {
		t.Fatalf("open loop must be ineligible, got %s", result.ClaimStatus)
	}
	if claimer.calls != 0 {
		t.Fatalf("ineligible routes must not reach the claimer")
	}
}

func TestCompleteRouteWrongOwner(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	svc := NewService(mock, nil, nil, 0)

	mock.ExpectQuery(`SELECT claim_status, territory_id, area_sqm, reward_points`).
		WithArgs("route-1").
		WillReturnError(pgx.ErrNoRows)
	expectRouteState(mock, StatusActive, "someone-else", 0)

	_, err := svc.CompleteRoute(context.Background(), "route-1", "user-1", "", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRoute(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	svc := NewService(mock, nil, nil, 0)

	mock.ExpectExec(`DELETE FROM route_points`).
		WithArgs("route-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM routes`).
		WithArgs("route-1", "user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	if err := svc.DeleteRoute(context.Background(), "route-1", "user-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	mock.ExpectExec(`DELETE FROM route_points`).
		WithArgs("route-2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM routes`).
		WithArgs("route-2", "user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	if err := svc.DeleteRoute(context.Background(), "route-2", "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetryClaim(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	claimer := &fakeClaimer{
		status: track.ClaimSuccess,
		claim:  &track.TerritoryClaim{ID: "terr-1", AreaSquareMeters: 45000},
	}
	svc := NewService(mock, nil, claimer, 0)

	mock.ExpectQuery(`SELECT claim_status, territory_id, area_sqm, reward_points`).
		WithArgs("route-1").
		WillReturnRows(pgxmock.NewRows([]string{"claim_status", "territory_id", "area_sqm", "reward_points"}).
			AddRow("failed", nil, nil, nil))
	mock.ExpectQuery(`COALESCE\(accuracy_m,0\)`).
		WithArgs("route-1").
		WillReturnRows(loopPointRows())
	mock.ExpectExec(`INSERT INTO route_completions`).
		WithArgs("route-1", "success", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := svc.RetryClaim(context.Background(), "route-1", "user-1")
	if err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	if result.ClaimStatus != track.ClaimSuccess {
		t.Fatalf("unexpected status %s", result.ClaimStatus)
	}
	if claimer.calls != 1 {
		t.Fatalf("claimer must run exactly once")
	}
}

func TestRetryClaimRejectsSucceeded(t *testing.T) {
	mock := newMock(t)
	defer mock.Close()
	svc := NewService(mock, nil, &fakeClaimer{}, 0)

	territoryID := "terr-1"
	mock.ExpectQuery(`SELECT claim_status, territory_id, area_sqm, reward_points`).
		WithArgs("route-1").
		WillReturnRows(pgxmock.NewRows([]string{"claim_status", "territory_id", "area_sqm", "reward_points"}).
			AddRow("success", &territoryID, ptrFloat(45000), ptrInt(550)))

	_, err := svc.RetryClaim(context.Background(), "route-1", "user-1")
	if !errors.Is(err, ErrClaimNotFailed) {
		t.Fatalf("expected ErrClaimNotFailed, got %v", err)
	}
}

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }
