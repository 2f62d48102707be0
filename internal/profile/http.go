package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

// HTTPClient calls the profile service's JSON API.
type HTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPClient returns a client for the profile service at baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *HTTPClient) ContactChannels(ctx context.Context, userID string) (Channels, error) {
	var out Channels
	err := c.get(ctx, "/v1/users/"+url.PathEscape(userID)+"/channels", &out)
	return out, err
}

func (c *HTTPClient) DisplayName(ctx context.Context, userID string) (string, error) {
	var out struct {
		DisplayName string `json:"display_name"`
	}
	if err := c.get(ctx, "/v1/users/"+url.PathEscape(userID), &out); err != nil {
		return "", err
	}
	return out.DisplayName, nil
}

func (c *HTTPClient) TrustedContacts(ctx context.Context, ownerID string) ([]string, error) {
	var out struct {
		ContactIDs []string `json:"contact_ids"`
	}
	if err := c.get(ctx, "/v1/users/"+url.PathEscape(ownerID)+"/trusted-contacts", &out); err != nil {
		return nil, err
	}
	return out.ContactIDs, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrUnknownUser, path)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("profile: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("profile: decode %s: %w", path, err)
	}
	return nil
}
