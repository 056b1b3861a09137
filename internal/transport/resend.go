package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultResendURL = "https://api.resend.com/emails"

// Resend delivers email through the Resend HTTP API.
type Resend struct {
	client *http.Client
	apiKey string
	from   string
	url    string
}

type ResendOption func(*Resend)

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(url string) ResendOption {
	return func(r *Resend) {
		r.url = url
	}
}

func NewResend(apiKey, from string, timeout time.Duration, opts ...ResendOption) *Resend {
	r := &Resend{
		client: &http.Client{Timeout: timeout},
		apiKey: apiKey,
		from:   from,
		url:    defaultResendURL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID string `json:"id"`
}

func (r *Resend) Send(ctx context.Context, to, subject, html string) (*Result, error) {
	body, err := json.Marshal(resendRequest{
		From:    r.from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return nil, &Error{Provider: "resend", Reason: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Provider: "resend", Reason: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: "resend", Reason: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Provider: "resend",
			Reason:   fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var parsed resendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Error{Provider: "resend", Reason: fmt.Sprintf("decode response: %v", err)}
	}
	return &Result{ProviderID: parsed.ID}, nil
}
