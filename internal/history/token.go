package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// tokenSource caches an OAuth client-credentials token and refreshes it
// under a mutex so concurrent callers trigger at most one token request.
type tokenSource struct {
	mu           sync.Mutex
	token        string
	expiry       time.Time
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// bearer returns a valid access token, refreshing when within 30s of expiry
func (ts *tokenSource) bearer(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Until(ts.expiry) > 30*time.Second {
		return ts.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", ts.clientID)
	form.Set("client_secret", ts.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "building token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "requesting access token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errors.Wrap(err, "decoding token response")
	}
	if payload.AccessToken == "" {
		return "", errors.New("token endpoint returned an empty access token")
	}

	ts.token = payload.AccessToken
	ts.expiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return ts.token, nil
}
