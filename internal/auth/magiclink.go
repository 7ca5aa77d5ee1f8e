package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// LinkSender delivers a one-time sign-in link to an email address.
type LinkSender interface {
	SendLink(ctx context.Context, email string, signup bool) error
}

// LogSender only logs the request. It stands in when no identity provider
// is configured.
type LogSender struct{}

func (LogSender) SendLink(_ context.Context, email string, signup bool) error {
	log.Printf("Magic link requested for %s (signup=%v); no identity provider configured", email, signup)
	return nil
}

// OTPSender asks a hosted identity provider to email a one-time link using
// the GoTrue /otp endpoint.
type OTPSender struct {
	baseURL     string
	apiKey      string
	redirectURL string
	client      *http.Client
}

// NewOTPSender creates a sender for the provider at baseURL.
func NewOTPSender(baseURL, apiKey, redirectURL string) *OTPSender {
	return &OTPSender{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		redirectURL: redirectURL,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *OTPSender) SendLink(ctx context.Context, email string, signup bool) error {
	body, err := json.Marshal(map[string]any{
		"email":       email,
		"create_user": signup,
	})
	if err != nil {
		return err
	}

	endpoint := s.baseURL + "/auth/v1/otp"
	if s.redirectURL != "" {
		endpoint += "?redirect_to=" + url.QueryEscape(s.redirectURL)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("identity provider returned %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

// NewLinkSender picks a sender from configuration values.
func NewLinkSender(provider, baseURL, apiKey, redirectURL string) LinkSender {
	if strings.EqualFold(provider, "otp") && baseURL != "" {
		return NewOTPSender(baseURL, apiKey, redirectURL)
	}
	return LogSender{}
}
