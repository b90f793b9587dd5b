package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/mcconsole/internal/auth"
	"github.com/loykin/mcconsole/internal/config"
	mng "github.com/loykin/mcconsole/internal/manager"
	"github.com/loykin/mcconsole/internal/store"
	"github.com/loykin/mcconsole/internal/store/sqlite"
)

const echoScript = `echo ready; while read l; do [ "$l" = stop ] && { echo Stopping server; exit 0; }; echo "$l"; done`

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
}

type fixture struct {
	router *Router
	mgr    *mng.Manager
	store  store.Store
	auth   *auth.Service
}

func newFixture(t *testing.T, authEnabled bool) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	serverDir := t.TempDir()
	sc := `[minecraft]
java_path = "/bin/sh"
jvm_args = ["-c", '` + echoScript + `']
server_jar = "*.jar"
command_timeout = "3s"
`
	if err := os.WriteFile(filepath.Join(serverDir, "config.toml"), []byte(sc), 0o644); err != nil {
		t.Fatalf("write server config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(serverDir, "server.jar"), []byte("jar"), 0o644); err != nil {
		t.Fatalf("write jar: %v", err)
	}

	cfgPath := filepath.Join(t.TempDir(), "mcconsole.toml")
	data := `[general]
host = "127.0.0.1"
port = 8000

[[servers]]
name = "survival"
path = "` + serverDir + `"
`
	if err := os.WriteFile(cfgPath, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	m := mng.New(cfg, db, nil)
	t.Cleanup(func() { m.StopAll(context.Background()) })
	svc := auth.NewService(db)
	return &fixture{
		router: NewRouter(m, db, svc, authEnabled, ""),
		mgr:    m,
		store:  db,
		auth:   svc,
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestListServers(t *testing.T) {
	f := newFixture(t, false)
	h := f.router.Handler()

	w := do(t, h, http.MethodGet, "/servers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0]["name"] != "survival" || list[0]["state"] != "stopped" {
		t.Fatalf("unexpected list: %v", list)
	}
}

func TestServerLifecycleOverHTTP(t *testing.T) {
	requireShell(t)
	f := newFixture(t, false)
	h := f.router.Handler()

	if w := do(t, h, http.MethodPost, "/servers/creative/start", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown server start status = %d", w.Code)
	}

	if w := do(t, h, http.MethodPost, "/servers/survival/start", ""); w.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodPost, "/servers/survival/start", ""); w.Code != http.StatusConflict {
		t.Fatalf("double start status = %d", w.Code)
	}

	inst, _ := f.mgr.Get("survival")
	waitFor(t, 5*time.Second, func() bool { return inst.Scrollback().Total() >= 1 })

	// command round trip
	w := do(t, h, http.MethodPost, "/servers/survival/input", `{"command":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("input status = %d: %s", w.Code, w.Body.String())
	}
	var resp inputResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Line != "hello" {
		t.Fatalf("input resp = %+v", resp)
	}

	// the unknown-command heuristic surfaces as 422
	w = do(t, h, http.MethodPost, "/servers/survival/input", `{"command":"surely an unknown command"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown command status = %d: %s", w.Code, w.Body.String())
	}

	// scrollback tail
	w = do(t, h, http.MethodGet, "/servers/survival/output?lines=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("output status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unknown command") {
		t.Fatalf("expected last line in output, got %s", w.Body.String())
	}

	if w := do(t, h, http.MethodGet, "/servers/survival/players", ""); w.Code != http.StatusOK {
		t.Fatalf("players status = %d", w.Code)
	}

	if w := do(t, h, http.MethodPost, "/servers/survival/stop", ""); w.Code != http.StatusOK {
		t.Fatalf("stop status = %d: %s", w.Code, w.Body.String())
	}
	// instance is gone after a stop
	if w := do(t, h, http.MethodGet, "/servers/survival/players", ""); w.Code != http.StatusNotFound {
		t.Fatalf("players after stop status = %d", w.Code)
	}
}

func TestRestartDelayValidation(t *testing.T) {
	requireShell(t)
	f := newFixture(t, false)
	h := f.router.Handler()

	if w := do(t, h, http.MethodPost, "/servers/survival/start", ""); w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}
	inst, _ := f.mgr.Get("survival")
	waitFor(t, 5*time.Second, func() bool { return inst.Scrollback().Total() >= 1 })

	for _, delay := range []string{"0", "-5", "abc"} {
		w := do(t, h, http.MethodPost, "/servers/survival/restart?delay="+delay, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("delay=%s status = %d", delay, w.Code)
		}
	}

	w := do(t, h, http.MethodPost, "/servers/survival/restart?delay=3600", "")
	if w.Code != http.StatusOK {
		t.Fatalf("scheduled restart status = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Scheduled survival for a restart in 1 hour") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if inst.PendingRestartTimers() == 0 {
		t.Fatal("expected armed restart timers")
	}
}

func TestSSEStreamsScrollbackThenEvents(t *testing.T) {
	requireShell(t)
	f := newFixture(t, false)
	h := f.router.Handler()

	if w := do(t, h, http.MethodPost, "/servers/survival/start", ""); w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}
	inst, _ := f.mgr.Get("survival")
	waitFor(t, 5*time.Second, func() bool { return inst.Scrollback().Total() >= 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/servers/survival/sse?user=alice", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "event: serverOutput") || !strings.Contains(body, "ready") {
		t.Fatalf("expected scrollback replay in SSE body, got: %s", body)
	}
	if !strings.Contains(body, "event: userAttach") {
		t.Fatalf("expected userAttach event in SSE body, got: %s", body)
	}
	// disconnect unsubscribed the observer
	if subs := inst.Events().Subscribers(); len(subs) != 0 {
		t.Fatalf("expected no subscribers after disconnect, got %v", subs)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, true)
	h := f.router.Handler()
	ctx := context.Background()

	adminKey, err := f.auth.Generate(ctx, "admin", true)
	if err != nil {
		t.Fatalf("generate admin key: %v", err)
	}
	viewerKey, err := f.auth.Generate(ctx, "viewer", false)
	if err != nil {
		t.Fatalf("generate viewer key: %v", err)
	}

	// metrics stays open
	if w := do(t, h, http.MethodGet, "/metrics", ""); w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}

	if w := do(t, h, http.MethodGet, "/servers", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/servers?api_key="+viewerKey, ""); w.Code != http.StatusOK {
		t.Fatalf("authenticated list status = %d", w.Code)
	}

	// key minting is admin only
	if w := do(t, h, http.MethodPost, "/gen_api_key?api_key="+viewerKey, `{"name":"x"}`); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin gen key status = %d", w.Code)
	}
	w := do(t, h, http.MethodPost, "/gen_api_key?api_key="+adminKey, `{"name":"ops","admin":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("admin gen key status = %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["name"] != "ops" || resp["key"] == "" {
		t.Fatalf("unexpected gen key response: %v", resp)
	}

	if w := do(t, h, http.MethodGet, "/api_keys?api_key="+adminKey, ""); w.Code != http.StatusOK {
		t.Fatalf("list keys status = %d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api_keys/ops?api_key="+adminKey, ""); w.Code != http.StatusOK {
		t.Fatalf("revoke status = %d", w.Code)
	}
	if w := do(t, h, http.MethodDelete, "/api_keys/ops?api_key="+adminKey, ""); w.Code != http.StatusNotFound {
		t.Fatalf("revoke missing status = %d", w.Code)
	}
}

func TestStatsEndpoints(t *testing.T) {
	f := newFixture(t, false)
	h := f.router.Handler()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := f.store.OpenSession(ctx, "survival", "alice", "10.0.0.1", base); err != nil {
		t.Fatalf("open session: %v", err)
	}
	if err := f.store.RecordPlayerCount(ctx, store.CountSample{
		Server: "survival", Count: 1, Players: []string{"alice"}, At: base,
	}); err != nil {
		t.Fatalf("record count: %v", err)
	}

	if w := do(t, h, http.MethodGet, "/stats/player_sessions", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("sessions without selector status = %d", w.Code)
	}

	w := do(t, h, http.MethodGet, "/stats/player_sessions?username=alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("sessions status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "alice") {
		t.Fatalf("expected session in body: %s", w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/stats/survival", "")
	if w.Code != http.StatusOK {
		t.Fatalf("counts status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"count":1`) {
		t.Fatalf("expected count sample in body: %s", w.Body.String())
	}
}
