package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nfrund/chatsession/internal/domain"
)

// TokenRequest is the body of POST /auth/token.
type TokenRequest struct {
	DisplayName string `json:"displayName"`
}

// TokenResponse is the reply of POST /auth/token.
type TokenResponse struct {
	Token string `json:"token"`
}

// HTTPFetcher returns a Fetcher that asks {baseURL}/auth/token for a token.
// A 401 or 403 reply is domain.ErrUnauthorized.
func HTTPFetcher(client *http.Client, baseURL, displayName string) Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/auth/token"

	return func(ctx context.Context) (string, error) {
		body, err := json.Marshal(TokenRequest{DisplayName: displayName})
		if err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("request token: %w", err)
		}
		defer resp.Body.Close()

		if domain.IsAuthStatus(resp.StatusCode) {
			return "", domain.ErrUnauthorized
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return "", fmt.Errorf("request token: unexpected status %d", resp.StatusCode)
		}

		var out TokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("decode token response: %w", err)
		}
		if out.Token == "" {
			return "", fmt.Errorf("decode token response: empty token")
		}
		return out.Token, nil
	}
}
