// Package telephony wraps the provider's call control plane: placing
// outbound calls and generating the call-control markup that attaches a
// bidirectional audio stream to a live call.
package telephony

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrConfig marks missing provider credentials or routing configuration.
// It is raised before any external call is attempted.
var ErrConfig = errors.New("telephony: missing provider configuration")

// Provider places calls with the telephony provider.
type Provider interface {
	// PlaceCall dials `to` from the clinic line and attaches a stream
	// keyed by contextKey.  It returns the provider's call id.
	PlaceCall(ctx context.Context, to, contextKey string) (string, error)
}

// Config carries the provider credentials and routing endpoints.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// PublicBaseURL is this service's externally reachable base, used
	// for stream and status-callback URLs.
	PublicBaseURL string
	// APIBase overrides the provider REST endpoint; tests point it at a
	// local server.
	APIBase string
}

// Twilio is the REST implementation of Provider.
type Twilio struct {
	cfg  Config
	http *http.Client
}

// NewTwilio validates the configuration and builds a client.  A missing
// credential or base URL is a configuration error for every later call.
func NewTwilio(cfg Config) (*Twilio, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" || cfg.PublicBaseURL == "" {
		return nil, ErrConfig
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.twilio.com/2010-04-01"
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Twilio{
		cfg: cfg,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     60 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   3 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
	}, nil
}

// PlaceCall creates an outbound call whose first instruction attaches
// the audio stream for contextKey, with status callbacks posted back to
// this service.
func (t *Twilio) PlaceCall(ctx context.Context, to, contextKey string) (string, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.cfg.FromNumber)
	form.Set("Twiml", StreamResponse(t.cfg.PublicBaseURL, contextKey))
	form.Set("StatusCallback", t.cfg.PublicBaseURL+"/voice/status")
	form.Set("StatusCallbackEvent", "initiated ringing answered completed")

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", t.cfg.APIBase, t.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("telephony: place call returned %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("telephony: decode call response: %w", err)
	}
	if out.Sid == "" {
		return "", errors.New("telephony: provider returned no call id")
	}
	return out.Sid, nil
}

// StreamResponse renders the call-control markup instructing the
// provider to open a bidirectional audio stream to this service,
// carrying the session's context key as a query parameter.
func StreamResponse(publicBaseURL, contextKey string) string {
	wsBase := strings.Replace(strings.TrimRight(publicBaseURL, "/"), "https://", "wss://", 1)
	wsBase = strings.Replace(wsBase, "http://", "ws://", 1)
	streamURL := wsBase + "/voice/stream?contextKey=" + url.QueryEscape(contextKey)
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<Response><Connect><Stream url="` + xmlEscape(streamURL) + `"/></Connect></Response>`
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
