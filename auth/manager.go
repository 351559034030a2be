package auth

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/controlcash/cashmail/config"
)

const tokenKey = "gmail_access_token"

// Scopes requested from Google: read-only mail plus basic identity.
var scopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"email",
	"profile",
}

var (
	// ErrNotConnected is returned when an operation requires a stored
	// access token and none exists.
	ErrNotConnected = errors.New("not connected to Gmail")

	// ErrReconnectRequired is returned once Google rejects the stored
	// token. The flow grants no refresh token, so the only recovery is a
	// fresh authorization.
	ErrReconnectRequired = errors.New("gmail token rejected, reconnect required")
)

// TokenStore persists the access token as an opaque blob. credential.Store
// satisfies it; tests substitute an in-memory keyring.
type TokenStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Manager owns the OAuth authorization-code flow against Google and the
// persisted connection state. ExchangeCode is the only writer of that state.
type Manager struct {
	oauth       oauth2.Config
	exchangeURL string
	tokens      TokenStore
	httpClient  *http.Client
	log         *zap.Logger

	mu           sync.Mutex
	pendingState string
}

// NewManager builds a Manager from the OAuth section of the config.
func NewManager(cfg config.OAuthConfig, tokens TokenStore, log *zap.Logger) *Manager {
	return &Manager{
		oauth: oauth2.Config{
			ClientID:    cfg.ClientID,
			Endpoint:    google.Endpoint,
			RedirectURL: cfg.RedirectURI,
			Scopes:      scopes,
		},
		exchangeURL: cfg.ExchangeURL,
		tokens:      tokens,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		log:         log,
	}
}

// RequestAuthorization begins a new authorization-code flow. It mints an
// opaque state value, remembers it for the matching callback, and returns
// the consent URL the user agent must visit. The flow resumes in
// HandleCallback once Google redirects back.
func (m *Manager) RequestAuthorization() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in serious trouble;
		// a constant state would silently weaken the flow.
		panic(fmt.Sprintf("auth: reading random state: %v", err))
	}
	state := hex.EncodeToString(buf)

	m.mu.Lock()
	m.pendingState = state
	m.mu.Unlock()

	return m.oauth.AuthCodeURL(state)
}

// HandleCallback is the second entry point of the split flow: it receives
// the code and state from the redirect, checks the state against the pending
// flow, and performs the token exchange.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) error {
	m.mu.Lock()
	pending := m.pendingState
	m.pendingState = ""
	m.mu.Unlock()

	if pending == "" || state != pending {
		return fmt.Errorf("oauth callback state %q does not match pending flow", state)
	}
	_, err := m.ExchangeCode(ctx, code)
	return err
}

type exchangeRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

type exchangeResponse struct {
	AccessToken string `json:"access_token"`
}

// ExchangeCode sends the authorization code, together with the exact redirect
// URI used in the initial request, to the backend exchange endpoint. The
// client secret lives only there. On success the returned access token is
// persisted and the state becomes Connected.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (string, error) {
	body, err := json.Marshal(exchangeRequest{
		Code:        strings.TrimSpace(code),
		RedirectURI: m.oauth.RedirectURL,
	})
	if err != nil {
		return "", fmt.Errorf("encoding exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.exchangeURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token exchange failed: %s: %s", resp.Status, strings.TrimSpace(string(diag)))
	}

	var out exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding exchange response: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("exchange response contained no access token")
	}

	if err := m.tokens.Set(tokenKey, out.AccessToken); err != nil {
		return "", fmt.Errorf("persisting access token: %w", err)
	}
	m.log.Info("gmail access token stored")
	return out.AccessToken, nil
}

// IsConnected reports whether an access token is persisted. It does not
// validate the token with Google; a stale token surfaces as a 401 on first
// use, which flips the state back to disconnected.
func (m *Manager) IsConnected() bool {
	tok, err := m.tokens.Get(tokenKey)
	return err == nil && tok != ""
}

// Token returns the stored access token, or ErrNotConnected.
func (m *Manager) Token() (string, error) {
	tok, err := m.tokens.Get(tokenKey)
	if err != nil || tok == "" {
		return "", ErrNotConnected
	}
	return tok, nil
}

// Invalidate erases the persisted token. Called on the first 401 from any
// provider call; the token is treated as permanently invalid.
func (m *Manager) Invalidate() {
	if err := m.tokens.Delete(tokenKey); err != nil {
		m.log.Warn("clearing access token", zap.Error(err))
	}
}
