// Package provision is the REST client for the external managed-database
// provisioning API. Each project can have one managed Postgres database;
// the connection string it returns is stored on the project and injected
// into function containers as DATABASE_URL.
package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// ErrNotConfigured is returned when no provisioning API is configured.
var ErrNotConfigured = errors.New("provisioning API not configured")

// Provider defaults for the database and role created with each project.
const (
	defaultDatabase = "neondb"
	defaultRole     = "neondb_owner"
)

// Database describes one provisioned database.
type Database struct {
	ProviderID    string
	ConnectionURI string
}

// Client talks to the provisioning API. Calls go through a circuit breaker
// so a flapping provider fails fast instead of holding API requests for the
// full timeout.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a client for the provisioning API at baseURL. An empty
// baseURL or apiKey yields a disabled client; Enabled reports which.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "provision",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Enabled reports whether the provisioning API is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// Provision creates a database project named after the clowdy project and
// returns its provider id and connection URI.
func (c *Client) Provision(ctx context.Context, name string) (*Database, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var created struct {
			Project struct {
				ID string `json:"id"`
			} `json:"project"`
		}
		body := map[string]interface{}{
			"project": map[string]string{"name": "clowdy-" + name},
		}
		if err := c.do(ctx, http.MethodPost, "/projects", body, &created); err != nil {
			return nil, fmt.Errorf("creating database project: %w", err)
		}

		var conn struct {
			URI string `json:"uri"`
		}
		path := fmt.Sprintf("/projects/%s/connection_uri?database_name=%s&role_name=%s",
			created.Project.ID, defaultDatabase, defaultRole)
		if err := c.do(ctx, http.MethodGet, path, nil, &conn); err != nil {
			return nil, fmt.Errorf("fetching connection uri: %w", err)
		}

		return &Database{ProviderID: created.Project.ID, ConnectionURI: conn.URI}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Database), nil
}

// Deprovision deletes the provider's database project.
func (c *Client) Deprovision(ctx context.Context, providerID string) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, http.MethodDelete, "/projects/"+providerID, nil, nil)
	})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s - %s", method, path, resp.Status, strings.TrimSpace(string(respBody)))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// MaskConnectionString replaces the password in a connection string with
// "***" for display. Strings without a password pass through unchanged.
func MaskConnectionString(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}

	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	b.WriteString(u.User.Username())
	b.WriteString(":***@")
	b.WriteString(u.Host)
	b.WriteString(u.Path)
	if u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	return b.String()
}
