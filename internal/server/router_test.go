package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"rdrelay/internal/broker"
	"rdrelay/internal/config"
	"rdrelay/internal/metrics"
	"rdrelay/internal/registry"
	"rdrelay/internal/session"
)

func newTestDeps(t *testing.T, users map[string]string) Deps {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		GinMode:               gin.TestMode,
		SessionTTL:            time.Hour,
		Users:                 users,
		PendingRequestTimeout: time.Second,
		SendQueueDepth:        64,
		ViolationLimit:        5,
		ViolationWindow:       time.Minute,
	}
	if len(users) > 0 {
		cfg.TokenSecret = "test-secret"
	}

	log := zap.NewNop()
	reg := registry.New()
	sessions := session.NewManager(users, cfg.SessionTTL)
	m := metrics.New()
	b := broker.New(reg, sessions, m, log, cfg.PendingRequestTimeout)
	reg.OnUnregister(sessions.Invalidate)
	reg.OnUnregister(b.HandleDisconnect)

	return Deps{
		Config:   cfg,
		Registry: reg,
		Sessions: sessions,
		Broker:   b,
		Metrics:  m,
		Log:      log,
	}
}

func bcryptHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

func TestHealthz(t *testing.T) {
	r := NewRouter(newTestDeps(t, nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRESTRequiresToken(t *testing.T) {
	users := map[string]string{"operator": bcryptHash(t, "pw")}
	r := NewRouter(newTestDeps(t, users))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRESTWithToken(t *testing.T) {
	users := map[string]string{"operator": bcryptHash(t, "pw")}
	deps := newTestDeps(t, users)
	r := NewRouter(deps)

	sess, err := deps.Sessions.Authenticate("conn-1", "operator", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	tok, err := session.CreateToken(sess, session.TokenConfig{Secret: deps.Config.TokenSecret, Issuer: "rdrelay"})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	for _, path := range []string{"/v1/devices", "/v1/pairs", "/v1/stats"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, w.Code, w.Body.String())
		}
	}
}

func TestRESTOpenBrokerNeedsNoToken(t *testing.T) {
	r := NewRouter(newTestDeps(t, nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/devices", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
