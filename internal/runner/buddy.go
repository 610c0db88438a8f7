package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mindloom/mindloom/internal/executor"
)

// HTTPBuddyFetcher resolves buddies from the primary backend using the
// internal shared secret.
type HTTPBuddyFetcher struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPBuddyFetcher builds the backend buddy client.
func NewHTTPBuddyFetcher(baseURL, internalToken string) *HTTPBuddyFetcher {
	return &HTTPBuddyFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   internalToken,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (f *HTTPBuddyFetcher) Fetch(ctx context.Context, buddyID string) (executor.Buddy, error) {
	var buddy executor.Buddy

	u := fmt.Sprintf("%s/api/buddies/%s/", f.baseURL, buddyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return buddy, err
	}
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.http.Do(req)
	if err != nil {
		return buddy, fmt.Errorf("buddy lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return buddy, fmt.Errorf("buddy lookup: backend returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&buddy); err != nil {
		return buddy, fmt.Errorf("decode buddy: %w", err)
	}
	if buddy.ID == "" {
		buddy.ID = buddyID
	}
	return buddy, nil
}
