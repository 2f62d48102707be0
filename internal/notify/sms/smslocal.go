// Package sms sends alert text messages through the SMS Local bulk API.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"safecircle/internal/notify"
)

const defaultTimeout = 15 * time.Second

// SMSLocalClient sends transactional SMS via SMS Local (route=q).
// See https://www.smslocal.com/dev/bulkV2.
type SMSLocalClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewSMSLocalClient returns a client that uses the given API key and optional base URL/sender.
func NewSMSLocalClient(apiKey, baseURL, sender string) *SMSLocalClient {
	if baseURL == "" {
		baseURL = "https://www.smslocal.com/dev/bulkV2"
	}
	return &SMSLocalClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *SMSLocalClient) Channel() notify.Channel { return notify.ChannelSMS }

// Send delivers the payload text to phone (digits only, with country code). 4xx responses other
// than 429 are permanent.
func (c *SMSLocalClient) Send(ctx context.Context, phone string, p notify.Payload) error {
	if c.APIKey == "" {
		return notify.Permanent(fmt.Errorf("sms: API key not configured"))
	}
	if phone == "" {
		return notify.Permanent(fmt.Errorf("sms: empty phone number"))
	}
	body := map[string]interface{}{
		"route":   "q",
		"numbers": phone,
		"message": p.Text(),
	}
	if c.Sender != "" {
		body["sender_id"] = c.Sender
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return notify.Permanent(err)
		}
		return err
	}
	return nil
}
