package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine: e,
		Auth:   AuthConfig{JWTSecret: testSecret, EnableDevLogin: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// login mints a dev JWT for the given actor and roles.
func (ts *testServer) login(t *testing.T, actorID string, roles ...string) map[string]string {
	t.Helper()
	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/auth/dev/login",
		DevLoginRequest{ActorID: actorID, Roles: roles}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, data)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.Token == "" {
		t.Fatalf("token: %v (%s)", err, data)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func (ts *testServer) seedWorker(t *testing.T, id string, tier domain.Tier) {
	t.Helper()
	err := ts.Engine.Repo.UpsertWorker(context.Background(), domain.Worker{
		ID: id, Name: id, Tier: tier, Active: true,
		AttendancePct: 90, OnTimePct: 90, SafetyPct: 90,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("seed worker: %v", err)
	}
}

func TestHealthNoAuth(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, data)
	}
}

func TestUnauthorizedEnvelope(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/programs", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: %d", res.StatusCode)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "unauthorized" {
		t.Fatalf("envelope: %v (%s)", err, data)
	}
}

func TestRoleEnforcement(t *testing.T) {
	ts := newTestServer(t)
	worker := ts.login(t, "w1", RoleWorker)
	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/programs",
		ProgramRequest{Title: "nope", TeamMin: 1, TeamMax: 2}, worker)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("worker created program: %d %s", res.StatusCode, data)
	}
}

func TestProgramFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, "boss", RoleAdmin)
	ts.seedWorker(t, "w1", domain.TierGold)
	workerAuth := ts.login(t, "w1", RoleWorker)

	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/programs",
		ProgramRequest{Title: "Night shift retool", RequiredTier: "silver", TeamMin: 1, TeamMax: 3, LeaderBonus: 500}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, data)
	}
	var p domain.Program
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		t.Fatalf("program: %v (%s)", err, data)
	}

	res, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/programs/"+p.ID+"/publish", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("publish: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/programs/"+p.ID+"/applications",
		ApplyRequest{}, workerAuth)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("apply: %d %s", res.StatusCode, data)
	}

	// duplicate apply surfaces the conflict envelope
	res, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/programs/"+p.ID+"/applications",
		ApplyRequest{}, workerAuth)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate apply: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/programs/"+p.ID+"/select-leader", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("select: %d %s", res.StatusCode, data)
	}
	var out engine.SelectionOutcome
	if err := json.Unmarshal(data, &out); err != nil || out.Assignment == nil || out.Assignment.LeaderID != "w1" {
		t.Fatalf("selection: %v (%s)", err, data)
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/programs/"+p.ID, nil, workerAuth)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detail: %d %s", res.StatusCode, data)
	}
	var detail engine.ProgramDetail
	if err := json.Unmarshal(data, &detail); err != nil || detail.Program.Status != domain.StatusTeamFormation {
		t.Fatalf("detail: %v (%s)", err, data)
	}
}

func TestApplyToDraftIsInvalidState(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, "boss", RoleAdmin)
	ts.seedWorker(t, "w1", domain.TierGold)
	workerAuth := ts.login(t, "w1", RoleWorker)

	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/programs",
		ProgramRequest{Title: "unpublished", TeamMin: 1, TeamMax: 2}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, data)
	}
	var p domain.Program
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/programs/"+p.ID+"/applications",
		ApplyRequest{}, workerAuth)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("apply to draft: %d %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "invalid_state" {
		t.Fatalf("envelope: %v (%s)", err, data)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.login(t, "boss", RoleAdmin)
	res, data := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/api-keys",
		APIKeyCreateRequest{ActorID: "svc", Roles: []string{RoleSupervisor}}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", res.StatusCode, data)
	}
	var key APIKeyCreateResponse
	if err := json.Unmarshal(data, &key); err != nil || key.Key == "" {
		t.Fatalf("key: %v (%s)", err, data)
	}
	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/events", nil,
		map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events with api key: %d %s", res.StatusCode, data)
	}
}
