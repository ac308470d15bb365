// Package oauth talks to Google's OAuth2 endpoints: refresh-token exchange
// for the send path and the device-authorization flow for connecting a Gmail
// account. Access tokens are fetched fresh per send and never stored.
package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/birthdayd/internal/apperror"
	"github.com/birthdayd/internal/redact"
)

const (
	googleTokenURL  = "https://oauth2.googleapis.com/token"
	googleDeviceURL = "https://oauth2.googleapis.com/device/code"

	// Full mail scope: XOAUTH2 SMTP authentication requires it.
	mailScope = "https://mail.google.com/"

	deviceCodeGrant = "urn:ietf:params:oauth:grant-type:device_code"
)

// DeviceAuthStatus is the outcome of a single device-flow poll.
type DeviceAuthStatus string

const (
	StatusPending  DeviceAuthStatus = "pending"
	StatusSlowDown DeviceAuthStatus = "slow_down"
	StatusExpired  DeviceAuthStatus = "expired"
	StatusSuccess  DeviceAuthStatus = "success"
	StatusError    DeviceAuthStatus = "error"
)

// DeviceAuthorization is the transient state of a device flow. Nothing is
// stored server-side here; the external authorization server tracks it via
// the device code.
type DeviceAuthorization struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	Interval        int    `json:"interval"`
	ExpiresIn       int    `json:"expires_in"`
}

// PollResult is one device-flow poll outcome. RefreshToken is only set on
// success and must never be echoed to an external client.
type PollResult struct {
	Status       DeviceAuthStatus
	Message      string
	RefreshToken string
}

// Broker exchanges long-lived refresh tokens for short-lived access tokens.
type Broker struct {
	client    *http.Client
	tokenURL  string
	deviceURL string
}

// NewBroker returns a Broker with a bounded-timeout HTTP client.
func NewBroker() *Broker {
	return &Broker{
		client:    &http.Client{Timeout: 10 * time.Second},
		tokenURL:  googleTokenURL,
		deviceURL: googleDeviceURL,
	}
}

// NewBrokerForEndpoints exists for tests that stand in for Google.
func NewBrokerForEndpoints(client *http.Client, tokenURL, deviceURL string) *Broker {
	return &Broker{client: client, tokenURL: tokenURL, deviceURL: deviceURL}
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// FetchAccessToken trades a refresh token for an access token. The returned
// token is used once and discarded; no caching across sends.
func (b *Broker) FetchAccessToken(ctx context.Context, clientID, clientSecret, refreshToken string) (string, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	var resp tokenResponse
	status, err := b.postForm(ctx, b.tokenURL, form, &resp)
	if err != nil {
		return "", apperror.NewTokenFetchFailed("Failed to fetch access token.", err)
	}
	if status != http.StatusOK || resp.Error != "" {
		detail := resp.ErrorDescription
		if detail == "" {
			detail = resp.Error
		}
		if detail == "" {
			detail = fmt.Sprintf("token endpoint returned %d", status)
		}
		return "", apperror.NewTokenFetchFailed(
			fmt.Sprintf("Failed to fetch access token: %s", redact.Secrets(detail)), nil)
	}
	if resp.AccessToken == "" {
		return "", apperror.NewTokenFetchFailed("Token response missing access_token.", nil)
	}
	return resp.AccessToken, nil
}

// InitDeviceFlow asks Google for a device code + user code pair with the
// mail scope.
func (b *Broker) InitDeviceFlow(ctx context.Context, clientID string) (*DeviceAuthorization, error) {
	form := url.Values{
		"client_id": {clientID},
		"scope":     {mailScope},
	}

	var auth struct {
		DeviceAuthorization
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	status, err := b.postForm(ctx, b.deviceURL, form, &auth)
	if err != nil {
		return nil, fmt.Errorf("device flow init: %w", err)
	}
	if auth.DeviceCode == "" || auth.UserCode == "" {
		detail := auth.ErrorDescription
		if detail == "" {
			detail = auth.Error
		}
		if detail == "" {
			detail = fmt.Sprintf("device endpoint returned %d", status)
		}
		return nil, fmt.Errorf("device flow init failed: %s", redact.Secrets(detail))
	}

	if auth.VerificationURL == "" {
		auth.VerificationURL = "https://www.google.com/device"
	}
	if auth.Interval == 0 {
		auth.Interval = 5
	}
	if auth.ExpiresIn == 0 {
		auth.ExpiresIn = 1800
	}
	result := auth.DeviceAuthorization
	return &result, nil
}

// PollDeviceFlow issues exactly one poll against the token endpoint. The
// caller drives the loop, honouring the reported status. An expired status
// is terminal: the flow must be restarted from InitDeviceFlow.
func (b *Broker) PollDeviceFlow(ctx context.Context, clientID, clientSecret, deviceCode string) (PollResult, error) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"device_code":   {deviceCode},
		"grant_type":    {deviceCodeGrant},
	}

	var resp tokenResponse
	if _, err := b.postForm(ctx, b.tokenURL, form, &resp); err != nil {
		return PollResult{}, fmt.Errorf("device flow poll: %w", err)
	}

	switch resp.Error {
	case "":
		// fall through to the success checks
	case "authorization_pending":
		return PollResult{Status: StatusPending, Message: "Waiting for authorization..."}, nil
	case "slow_down":
		return PollResult{Status: StatusSlowDown, Message: "Please wait before polling again"}, nil
	case "expired_token":
		return PollResult{Status: StatusExpired, Message: "Device code expired. Please start over."}, nil
	default:
		detail := resp.ErrorDescription
		if detail == "" {
			detail = resp.Error
		}
		return PollResult{Status: StatusError, Message: redact.Secrets(detail)}, nil
	}

	if resp.RefreshToken == "" {
		return PollResult{Status: StatusError, Message: "No refresh token in response"}, nil
	}
	return PollResult{Status: StatusSuccess, RefreshToken: resp.RefreshToken}, nil
}

// XOAUTH2Payload builds the raw SASL initial response for the XOAUTH2
// mechanism. Pure, no I/O.
func XOAUTH2Payload(email, accessToken string) []byte {
	return []byte(fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", email, accessToken))
}

// BuildXOAUTH2 returns the base64-encoded XOAUTH2 initial response, the form
// sent on the wire in a raw AUTH command.
func BuildXOAUTH2(email, accessToken string) string {
	return base64.StdEncoding.EncodeToString(XOAUTH2Payload(email, accessToken))
}

// postForm POSTs a form and decodes the JSON body regardless of HTTP status:
// Google reports flow states like authorization_pending via error bodies on
// non-2xx responses.
func (b *Broker) postForm(ctx context.Context, endpoint string, form url.Values, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("unparsable response (%d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}
