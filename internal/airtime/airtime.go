// Package airtime wraps the Africa's Talking airtime API for loan
// disbursement in UssdPipe.
//
// Africa's Talking publishes no Go SDK, so this is a thin client over the
// documented REST endpoint.
package airtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Africa's Talking endpoint configuration
const (
	// DefaultBaseURL is the production airtime endpoint.
	DefaultBaseURL = "https://api.africastalking.com/version1/airtime/send"
	// SandboxBaseURL is the sandbox airtime endpoint, used when the
	// configured username is "sandbox".
	SandboxBaseURL = "https://api.sandbox.africastalking.com/version1/airtime/send"
	// DefaultTimeout bounds one airtime API call.
	DefaultTimeout = 15 * time.Second
)

// Opts holds configuration options for the airtime client.
type Opts struct {
	APIKey     string
	Username   string
	BaseURL    string
	HTTPClient *http.Client
}

// Option defines a configuration option for the airtime client.
type Option func(*Opts)

// WithAPIKey sets the Africa's Talking API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithUsername sets the Africa's Talking application username.
func WithUsername(username string) Option {
	return func(o *Opts) { o.Username = username }
}

// WithBaseURL overrides the API endpoint (tests point this at a local server).
func WithBaseURL(baseURL string) Option {
	return func(o *Opts) { o.BaseURL = baseURL }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = client }
}

// Client calls the Africa's Talking airtime API.
type Client struct {
	apiKey     string
	username   string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an airtime client. Credentials fall back to the
// AT_API_KEY and AT_USERNAME environment variables when not provided via
// options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("AT_API_KEY")
	}
	if cfg.Username == "" {
		cfg.Username = os.Getenv("AT_USERNAME")
	}
	slog.Debug("Airtime client config loaded",
		"APIKey_set", cfg.APIKey != "",
		"username", cfg.Username)

	if cfg.APIKey == "" || cfg.Username == "" {
		return nil, fmt.Errorf("API key and username must be provided")
	}
	if cfg.BaseURL == "" {
		if cfg.Username == "sandbox" {
			cfg.BaseURL = SandboxBaseURL
		} else {
			cfg.BaseURL = DefaultBaseURL
		}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Client{
		apiKey:     cfg.APIKey,
		username:   cfg.Username,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
	}, nil
}

// recipient is one airtime credit in the API's wire shape, with amount
// formatted as "NGN 100.00".
type recipient struct {
	PhoneNumber  string `json:"phoneNumber"`
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type sendResponse struct {
	ErrorMessage string `json:"errorMessage"`
	NumSent      int    `json:"numSent"`
	Responses    []struct {
		PhoneNumber  string `json:"phoneNumber"`
		Status       string `json:"status"`
		ErrorMessage string `json:"errorMessage"`
	} `json:"responses"`
}

// SendAirtime credits airtime to a single phone number. The API can accept a
// request yet fail the recipient, so per-recipient status is checked too.
func (c *Client) SendAirtime(ctx context.Context, phoneNumber string, amount float64, currencyCode string) error {
	recipients, err := json.Marshal([]recipient{{
		PhoneNumber:  phoneNumber,
		Amount:       fmt.Sprintf("%s %.2f", currencyCode, amount),
		CurrencyCode: currencyCode,
	}})
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("recipients", string(recipients))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build airtime request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", c.apiKey)

	slog.Debug("Sending airtime", "phone", phoneNumber, "amount", amount, "currency", currencyCode)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Airtime request failed", "error", err, "phone", phoneNumber)
		return fmt.Errorf("airtime request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Airtime API returned error status", "status", resp.StatusCode, "phone", phoneNumber)
		return fmt.Errorf("airtime API status %d", resp.StatusCode)
	}

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode airtime response: %w", err)
	}
	if len(result.Responses) > 0 && result.Responses[0].Status == "Failed" {
		message := result.Responses[0].ErrorMessage
		if message == "" {
			message = "airtime send failed"
		}
		slog.Error("Airtime send rejected", "phone", phoneNumber, "message", message)
		return fmt.Errorf("airtime send to %s: %s", phoneNumber, message)
	}

	slog.Debug("Airtime sent successfully", "phone", phoneNumber, "num_sent", result.NumSent)
	return nil
}
