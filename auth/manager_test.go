package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/99designs/keyring"
	"go.uber.org/zap"

	"github.com/controlcash/cashmail/config"
	"github.com/controlcash/cashmail/credential"
)

func newTestManager(t *testing.T, exchangeURL string) *Manager {
	t.Helper()
	tokens := credential.NewWithKeyring(keyring.NewArrayKeyring(nil))
	return NewManager(config.OAuthConfig{
		ClientID:    "test-client",
		RedirectURI: "http://127.0.0.1:8459/oauth2/callback",
		ExchangeURL: exchangeURL,
	}, tokens, zap.NewNop())
}

func exchangeServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestRequestAuthorization_ConsentURL(t *testing.T) {
	m := newTestManager(t, "http://unused")

	raw := m.RequestAuthorization()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("consent URL: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != "test-client" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	if q.Get("state") == "" {
		t.Error("consent URL carries no state")
	}
	if !strings.Contains(q.Get("scope"), "gmail.readonly") {
		t.Errorf("scope = %q, want read-only mail", q.Get("scope"))
	}
	if q.Get("redirect_uri") != "http://127.0.0.1:8459/oauth2/callback" {
		t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
	}

	// Each flow gets its own state.
	u2, _ := url.Parse(m.RequestAuthorization())
	if u2.Query().Get("state") == q.Get("state") {
		t.Error("state value reused across flows")
	}
}

func TestExchangeCode_Success(t *testing.T) {
	var gotBody exchangeRequest
	srv := exchangeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding exchange body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-123"})
	})
	m := newTestManager(t, srv.URL)

	if m.IsConnected() {
		t.Fatal("fresh manager must start disconnected")
	}

	tok, err := m.ExchangeCode(context.Background(), "  code-abc  ")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if tok != "tok-123" {
		t.Fatalf("token = %q", tok)
	}
	if gotBody.Code != "code-abc" {
		t.Errorf("code sent = %q, want trimmed code-abc", gotBody.Code)
	}
	if gotBody.RedirectURI != "http://127.0.0.1:8459/oauth2/callback" {
		t.Errorf("redirect_uri sent = %q", gotBody.RedirectURI)
	}
	if !m.IsConnected() {
		t.Fatal("exchange success must mark the state connected")
	}
	if got, err := m.Token(); err != nil || got != "tok-123" {
		t.Fatalf("Token() = %q, %v", got, err)
	}
}

func TestExchangeCode_FailureCarriesDiagnostic(t *testing.T) {
	srv := exchangeServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_grant: code already redeemed", http.StatusBadRequest)
	})
	m := newTestManager(t, srv.URL)

	_, err := m.ExchangeCode(context.Background(), "stale")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "invalid_grant") {
		t.Fatalf("error lost the provider diagnostic: %v", err)
	}
	if m.IsConnected() {
		t.Fatal("failed exchange must not connect")
	}
}

func TestExchangeCode_EmptyToken(t *testing.T) {
	srv := exchangeServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	})
	m := newTestManager(t, srv.URL)

	if _, err := m.ExchangeCode(context.Background(), "c"); err == nil {
		t.Fatal("a response without a token must fail")
	}
}

func TestHandleCallback_StateMismatch(t *testing.T) {
	m := newTestManager(t, "http://unused")
	m.RequestAuthorization()

	if err := m.HandleCallback(context.Background(), "code", "forged-state"); err == nil {
		t.Fatal("mismatched state must be rejected")
	}
	if m.IsConnected() {
		t.Fatal("rejected callback must not connect")
	}
}

func TestHandleCallback_ResumesFlow(t *testing.T) {
	srv := exchangeServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-xyz"})
	})
	m := newTestManager(t, srv.URL)

	u, _ := url.Parse(m.RequestAuthorization())
	state := u.Query().Get("state")

	if err := m.HandleCallback(context.Background(), "code", state); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if !m.IsConnected() {
		t.Fatal("callback with the right state must connect")
	}

	// The pending state is consumed; replaying the callback fails.
	if err := m.HandleCallback(context.Background(), "code", state); err == nil {
		t.Fatal("replayed callback must be rejected")
	}
}

func TestInvalidate(t *testing.T) {
	srv := exchangeServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
	})
	m := newTestManager(t, srv.URL)

	if _, err := m.ExchangeCode(context.Background(), "c"); err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	m.Invalidate()
	if m.IsConnected() {
		t.Fatal("invalidated state must read as disconnected")
	}
	if _, err := m.Token(); err != ErrNotConnected {
		t.Fatalf("Token after invalidate: %v, want ErrNotConnected", err)
	}

	// Invalidating twice is harmless.
	m.Invalidate()
}
