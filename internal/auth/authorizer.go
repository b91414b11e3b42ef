package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Authorizer answers capability questions. Permissions are computed by the
// permission service, never here.
type Authorizer interface {
	CanRead(ctx context.Context, userID uint64, docID string) (bool, error)
	CanEdit(ctx context.Context, userID uint64, docID string) (bool, error)
}

// HTTPAuthorizer asks the permission service over HTTP.
type HTTPAuthorizer struct {
	checkURL string
	client   *http.Client
}

func NewHTTPAuthorizer(baseURL string) *HTTPAuthorizer {
	return &HTTPAuthorizer{
		checkURL: strings.TrimRight(baseURL, "/") + "/v1/permissions/check",
		client:   &http.Client{Timeout: 1200 * time.Millisecond},
	}
}

type checkRequest struct {
	UserID     uint64 `json:"userId"`
	DocID      string `json:"docId"`
	Capability string `json:"capability"` // "read" | "edit"
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

func (a *HTTPAuthorizer) CanRead(ctx context.Context, userID uint64, docID string) (bool, error) {
	return a.check(ctx, userID, docID, "read")
}

func (a *HTTPAuthorizer) CanEdit(ctx context.Context, userID uint64, docID string) (bool, error) {
	return a.check(ctx, userID, docID, "edit")
}

func (a *HTTPAuthorizer) check(ctx context.Context, userID uint64, docID, capability string) (bool, error) {
	body, err := json.Marshal(checkRequest{UserID: userID, DocID: docID, Capability: capability})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.checkURL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("permission service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out checkResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return false, fmt.Errorf("permission service: invalid response: %w", err)
		}
		return out.Allowed, nil
	case http.StatusForbidden, http.StatusUnauthorized:
		return false, nil
	default:
		return false, fmt.Errorf("permission service: status %d", resp.StatusCode)
	}
}

// AllowAll grants everything. For single-tenant deployments and tests.
type AllowAll struct{}

func (AllowAll) CanRead(ctx context.Context, userID uint64, docID string) (bool, error) {
	return true, nil
}

func (AllowAll) CanEdit(ctx context.Context, userID uint64, docID string) (bool, error) {
	return true, nil
}
