package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Admin talks to the unauthenticated endpoints of a running dev server.
type Admin struct {
	baseURL string
	http    *http.Client
}

// NewAdmin creates an Admin for the server at baseURL.
func NewAdmin(baseURL string) *Admin {
	return &Admin{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// RequestToken asks the server to sign a token for subject.
func (a *Admin) RequestToken(ctx context.Context, subject string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := a.post(ctx, "/auth/token", map[string]string{"subject": subject}, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", fmt.Errorf("dev server returned an empty token")
	}
	return out.Token, nil
}

// InjectFault makes the next count resource requests fail with status.
func (a *Admin) InjectFault(ctx context.Context, status, count int) error {
	return a.post(ctx, "/_admin/faults", map[string]int{"status": status, "count": count}, nil)
}

func (a *Admin) post(ctx context.Context, path string, body, data any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("dev server unreachable: %w", err)
	}
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode dev server response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return fmt.Errorf("dev server: %s (HTTP %d)", env.Message, resp.StatusCode)
	}
	if data != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, data)
	}
	return nil
}
