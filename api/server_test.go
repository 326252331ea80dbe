package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/omerlv/chargelink/core/cloudwise"
	"github.com/omerlv/chargelink/core/model"
	"github.com/omerlv/chargelink/core/session"
	"github.com/omerlv/chargelink/core/store"
	"github.com/omerlv/chargelink/infra/logger"
)

const testSecret = "api-test-secret"

type stubGateway struct {
	details    model.Location
	detailsErr error
	cdrs       []model.CDR
	cdrsErr    error
}

func (g *stubGateway) StartSession(context.Context, cloudwise.CommandRequest) (cloudwise.CommandResponse, error) {
	return cloudwise.CommandResponse{}, errors.New("not implemented")
}

func (g *stubGateway) StopSession(context.Context, cloudwise.CommandRequest) (cloudwise.CommandResponse, error) {
	return cloudwise.CommandResponse{}, errors.New("not implemented")
}

func (g *stubGateway) SessionStatus(context.Context, cloudwise.StatusRequest) (cloudwise.StatusResponse, error) {
	return cloudwise.StatusResponse{}, errors.New("not implemented")
}

func (g *stubGateway) Locations(context.Context, cloudwise.LocationsQuery) ([]model.Location, error) {
	return nil, nil
}

func (g *stubGateway) LocationDetails(context.Context, string, string) (model.Location, error) {
	return g.details, g.detailsErr
}

func (g *stubGateway) UserCDRs(context.Context, cloudwise.CDRQuery) ([]model.CDR, error) {
	return g.cdrs, g.cdrsErr
}

type stubStopper struct {
	stopped []string
	err     error
}

func (s *stubStopper) StopSession(_ context.Context, sid string) error {
	s.stopped = append(s.stopped, sid)
	return s.err
}

func newTestServer(t *testing.T, gw *stubGateway, stopper *stubStopper) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	srv, err := NewServer(Config{JWTSecret: testSecret}, st, gw, stopper, logger.NopLogger{})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return srv, st
}

func signToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func doRequest(t *testing.T, srv *Server, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndVersionAreOpen(t *testing.T) {
	srv, _ := newTestServer(t, &stubGateway{}, &stubStopper{})

	rec := doRequest(t, srv, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/v", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("version status = %d", rec.Code)
	}
	var v map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil || v["version"] == "" {
		t.Fatalf("version body: %s", rec.Body.String())
	}
}

func TestAPIRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t, &stubGateway{}, &stubStopper{})

	rec := doRequest(t, srv, http.MethodGet, "/api/vehicles/status", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", rec.Code)
	}

	bad := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{})
	signed, _ := bad.SignedString([]byte("wrong-secret"))
	rec = doRequest(t, srv, http.MethodGet, "/api/vehicles/status", signed, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged token status = %d", rec.Code)
	}
}

func TestStopSession(t *testing.T) {
	stopper := &stubStopper{}
	srv, _ := newTestServer(t, &stubGateway{}, stopper)

	body := []byte(`{"session_id":"sess-1"}`)
	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/stop", signToken(t), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(stopper.stopped) != 1 || stopper.stopped[0] != "sess-1" {
		t.Fatalf("stopper called with %v", stopper.stopped)
	}
}

func TestStopSessionNotFound(t *testing.T) {
	stopper := &stubStopper{err: session.ErrSessionNotFound}
	srv, _ := newTestServer(t, &stubGateway{}, stopper)

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/stop", signToken(t), []byte(`{"session_id":"nope"}`))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStopSessionRequiresID(t *testing.T) {
	srv, _ := newTestServer(t, &stubGateway{}, &stubStopper{})

	rec := doRequest(t, srv, http.MethodPost, "/api/sessions/stop", signToken(t), []byte(`{}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLocationStatusLive(t *testing.T) {
	gw := &stubGateway{details: model.Location{
		ID: "L1", PartyID: "PTY",
		Evses: []model.Evse{{UID: "E1", Status: model.EvseBlocked}},
	}}
	srv, _ := newTestServer(t, gw, &stubStopper{})

	rec := doRequest(t, srv, http.MethodGet, "/api/locations/status/L1?party_id=PTY", signToken(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var loc model.Location
	if err := json.Unmarshal(rec.Body.Bytes(), &loc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if loc.ID != "L1" || len(loc.Evses) != 1 || loc.Evses[0].Status != model.EvseBlocked {
		t.Fatalf("unexpected body %+v", loc)
	}
}

func TestLocationStatusFallsBackToSnapshot(t *testing.T) {
	gw := &stubGateway{detailsErr: errors.New("vendor down")}
	srv, st := newTestServer(t, gw, &stubStopper{})
	if err := st.Set(context.Background(), store.Locations, "L1", model.Location{ID: "L1", PartyID: "PTY"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/locations/status/L1", signToken(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var loc model.Location
	if err := json.Unmarshal(rec.Body.Bytes(), &loc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if loc.ID != "L1" {
		t.Fatalf("snapshot not served: %+v", loc)
	}
}

func TestLocationStatusUnknown(t *testing.T) {
	gw := &stubGateway{detailsErr: cloudwise.ErrNotFound}
	srv, _ := newTestServer(t, gw, &stubStopper{})

	rec := doRequest(t, srv, http.MethodGet, "/api/locations/status/nope", signToken(t), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCDRListing(t *testing.T) {
	gw := &stubGateway{cdrs: []model.CDR{{ID: "cdr-1", SessionID: "sess-1", TotalCost: 12.5}}}
	srv, _ := newTestServer(t, gw, &stubStopper{})

	rec := doRequest(t, srv, http.MethodPost, "/api/cdrs", signToken(t), []byte(`{"limit":10}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Items []model.CDR `json:"items"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 1 || out.Items[0].ID != "cdr-1" {
		t.Fatalf("unexpected body %+v", out)
	}
}

func TestVehicleStatus(t *testing.T) {
	srv, st := newTestServer(t, &stubGateway{}, &stubStopper{})
	if err := st.Set(context.Background(), store.ChargingStates, "veh1", model.VehicleChargingState{
		VehicleID: "veh1", Status: model.StatusCharging, SessionID: "sess-1",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/vehicles/status", signToken(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out struct {
		Items []model.VehicleChargingState `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].SessionID != "sess-1" {
		t.Fatalf("unexpected body %+v", out)
	}
}

func TestSessionLookup(t *testing.T) {
	srv, st := newTestServer(t, &stubGateway{}, &stubStopper{})
	if err := st.Set(context.Background(), store.Sessions, "sess-1", model.ChargingSession{
		ID: "sess-1", VehicleID: "veh1", Status: model.SessionCompleted,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/sessions/sess-1", signToken(t), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions/missing", signToken(t), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d", rec.Code)
	}
}

func TestAuthDisabled(t *testing.T) {
	st := store.NewMemoryStore()
	srv, err := NewServer(Config{AuthDisabled: true}, st, &stubGateway{}, &stubStopper{}, logger.NopLogger{})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	rec := doRequest(t, srv, http.MethodGet, "/api/vehicles/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
