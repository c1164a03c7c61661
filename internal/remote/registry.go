package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// RegistryPath is where push registrations are sent, relative to the API
// base path.
const RegistryPath = "/push/registrations"

// RegistryClient delivers push registrations to the push gateway.
type RegistryClient struct {
	*Client
}

// NewRegistry returns a registry client for baseURL.
func NewRegistry(baseURL string, timeout time.Duration) *RegistryClient {
	return &RegistryClient{Client: &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Breaker: NewBreaker("push-registry"),
	}}
}

type registration struct {
	UserID  string `json:"user_id"`
	Token   string `json:"token"`
	Enabled bool   `json:"enabled"`
}

// Register sends the user's token and enabled flag.
func (r *RegistryClient) Register(ctx context.Context, userID, token string, enabled bool) error {
	body, err := json.Marshal(registration{UserID: userID, Token: token, Enabled: enabled})
	if err != nil {
		return err
	}
	return r.do(ctx, http.MethodPut, r.api(RegistryPath), body, nil)
}
