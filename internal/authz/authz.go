// Package authz resolves per-document access levels against the backend
// permission service.
package authz

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mindloom/mindloom/internal/docname"
)

// Level is the access granted to a connection.
type Level int

const (
	LevelNone Level = iota
	LevelRead
	LevelWrite
)

// ErrUnauthorized is returned when the backend denies access to a resource
// or cannot be reached. Either way the connection is rejected.
var ErrUnauthorized = errors.New("unauthorized")

// Client checks document permissions with the backend.
type Client struct {
	baseURL       string
	internalToken string
	http          *http.Client
	logger        *slog.Logger
}

// New creates a permission client. internalToken, when non-empty, names the
// shared secret trusted internal callers (the worker) authenticate with.
func New(baseURL, internalToken string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		internalToken: internalToken,
		http:          &http.Client{Timeout: 10 * time.Second},
		logger:        logger,
	}
}

// IsInternal reports whether token is the internal shared secret. The
// comparison is constant-time; this is the only unauthenticated path.
func (c *Client) IsInternal(token string) bool {
	if c.internalToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.internalToken)) == 1
}

// Authorize resolves the access level of token on the document ref.
// Internal callers get write access without a backend round trip.
func (c *Client) Authorize(ctx context.Context, token string, ref docname.Ref) (Level, error) {
	if c.IsInternal(token) {
		return LevelWrite, nil
	}
	if token == "" {
		return LevelNone, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	url := fmt.Sprintf("%s/api/nodes/%s/%s/?show_permissions=true",
		c.baseURL, ref.ResourceKind(), ref.PublicID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return LevelNone, fmt.Errorf("build permission request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("permission service unreachable",
			slog.String("document", ref.Name()),
			slog.String("error", err.Error()),
		)
		return LevelNone, fmt.Errorf("%w: permission service unreachable", ErrUnauthorized)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return LevelNone, fmt.Errorf("%w: permission lookup status %d", ErrUnauthorized, resp.StatusCode)
	}

	var body struct {
		AllowedActions []string `json:"allowed_actions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return LevelNone, fmt.Errorf("%w: decode permission response: %v", ErrUnauthorized, err)
	}

	for _, action := range body.AllowedActions {
		if action == "write" {
			return LevelWrite, nil
		}
	}
	return LevelRead, nil
}

// TokenFromRequest extracts the caller's bearer token. Browsers pass it as
// a query parameter since WebSocket upgrades cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
