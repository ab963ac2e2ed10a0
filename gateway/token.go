package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// tokenRefreshMargin forces a refresh this long before actual expiry.
const tokenRefreshMargin = 60 * time.Second

type storedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenStore owns the broker bearer token: file-persisted so restarts and ops
// tooling share it, refreshed ahead of expiry, with coalesced refreshes.
type TokenStore struct {
	mu        sync.Mutex
	http      *resty.Client
	appKey    string
	appSecret string
	filePath  string
	token     storedToken
}

func NewTokenStore(http *resty.Client, appKey, appSecret, filePath string) *TokenStore {
	ts := &TokenStore{http: http, appKey: appKey, appSecret: appSecret, filePath: filePath}
	ts.loadFromFile()
	return ts
}

// Token returns a valid bearer token, refreshing it when missing or within
// the refresh margin of expiry. Concurrent callers coalesce on the mutex and
// the double-check after acquiring it.
func (ts *TokenStore) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token.AccessToken != "" && time.Until(ts.token.ExpiresAt) > tokenRefreshMargin {
		return ts.token.AccessToken, nil
	}
	if err := ts.refresh(ctx); err != nil {
		return "", err
	}
	return ts.token.AccessToken, nil
}

func (ts *TokenStore) refresh(ctx context.Context) error {
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	resp, err := ts.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"grant_type": "client_credentials",
			"appkey":     ts.appKey,
			"appsecret":  ts.appSecret,
		}).
		SetResult(&out).
		Post("/oauth2/tokenP")
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	if resp.IsError() || out.AccessToken == "" {
		return fmt.Errorf("token refresh rejected: status=%d body=%s", resp.StatusCode(), resp.String())
	}

	ts.token = storedToken{
		AccessToken: out.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}
	ts.saveToFile()
	log.Info().Time("expires_at", ts.token.ExpiresAt).Msg("🔑 broker token refreshed")
	return nil
}

func (ts *TokenStore) loadFromFile() {
	data, err := os.ReadFile(ts.filePath)
	if err != nil {
		return
	}
	var tok storedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		log.Warn().Err(err).Str("path", ts.filePath).Msg("token file unreadable, ignoring")
		return
	}
	if time.Until(tok.ExpiresAt) > tokenRefreshMargin {
		ts.token = tok
		log.Info().Time("expires_at", tok.ExpiresAt).Msg("broker token loaded from file")
	}
}

func (ts *TokenStore) saveToFile() {
	if ts.filePath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(ts.filePath), 0o755); err != nil {
		log.Warn().Err(err).Msg("token dir create failed")
		return
	}
	data, _ := json.Marshal(ts.token)
	if err := os.WriteFile(ts.filePath, data, 0o600); err != nil {
		log.Warn().Err(err).Str("path", ts.filePath).Msg("token file write failed")
	}
}
