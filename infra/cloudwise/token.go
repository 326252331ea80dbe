package cloudwise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/omerlv/chargelink/core/logger"
)

const identityToolkitURL = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"

// TokenSource logs into the vendor's identity provider with the account
// password and caches the issued token until it expires. All vendor calls
// go through Token; a failed call should Invalidate so the next one
// re-authenticates.
type TokenSource struct {
	loginURL string
	email    string
	password string
	ttl      time.Duration
	http     *http.Client
	log      logger.Logger

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource builds a TokenSource from the account config.
func NewTokenSource(cfg Config, log logger.Logger) *TokenSource {
	base := cfg.LoginURL
	if base == "" {
		base = identityToolkitURL
	}
	return &TokenSource{
		loginURL: fmt.Sprintf("%s?key=%s", base, cfg.LoginKey),
		email:    cfg.Email,
		password: cfg.Password,
		ttl:      cfg.tokenTTL(),
		http:     &http.Client{Timeout: cfg.timeout()},
		log:      log,
	}
}

// Token returns a valid token, logging in when the cached one expired.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}

	token, err := s.login(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = time.Now().Add(s.ttl)
	s.log.Infof("vendor token refreshed, valid until %s", s.expires.Format(time.RFC3339))
	return token, nil
}

// Invalidate drops the cached token so the next Token call logs in again.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *TokenSource) login(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]any{
		"email":             s.email,
		"password":          s.password,
		"returnSecureToken": true,
	})
	if err != nil {
		return "", fmt.Errorf("cloudwise login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.loginURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("cloudwise login: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloudwise login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cloudwise login: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		IDToken string `json:"idToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("cloudwise login: decode response: %w", err)
	}
	if out.IDToken == "" {
		return "", fmt.Errorf("cloudwise login: empty token in response")
	}
	return out.IDToken, nil
}
