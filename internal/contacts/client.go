package contacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"pbx-monitor/internal/credential"
	"pbx-monitor/internal/logging"
)

// ErrCredentialUnavailable means no credential has been issued yet. Callers
// should retry once bootstrap completes.
var ErrCredentialUnavailable = errors.New("pbx credential unavailable")

// UpstreamError reports a contact listing the PBX refused.
type UpstreamError struct {
	StatusCode int
	Status     string
	Code       int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("contact listing rejected: errcode %d %s", e.Code, e.Message)
	}
	return "contact listing rejected: " + e.Status
}

// Unauthorized reports whether the PBX rejected the access token.
func (e *UpstreamError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Retryable reports whether the same request may succeed later.
func (e *UpstreamError) Retryable() bool {
	return e.Unauthorized() || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type listStatus struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

type Client struct {
	http   *http.Client
	url    string
	store  *credential.Store
	logger *logging.Logger
}

func New(httpClient *http.Client, contactsURL string, store *credential.Store, logger *logging.Logger) *Client {
	if logger == nil {
		panic("contacts.New: logger must not be nil")
	}
	if store == nil {
		panic("contacts.New: store must not be nil")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, url: contactsURL, store: store, logger: logger}
}

// List fetches the company contact list with the current credential and
// returns the PBX response body unchanged.
func (c *Client) List(ctx context.Context) (json.RawMessage, error) {
	cred, ok := c.store.Get()
	if !ok {
		return nil, ErrCredentialUnavailable
	}

	endpoint, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("contacts url: %w", err)
	}
	query := endpoint.Query()
	query.Set("access_token", cred.Token)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "OpenAPI")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.logger.Debugf("GET %s -> %s", c.url, resp.Status)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		c.logger.Warn("contact listing failed",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	status := listStatus{}
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("invalid contact listing: %w", err)
	}
	if status.ErrCode != 0 {
		c.logger.Warn("contact listing rejected",
			logging.Field("errcode", status.ErrCode),
			logging.Field("errmsg", status.ErrMsg),
		)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Status: resp.Status, Code: status.ErrCode, Message: status.ErrMsg}
	}
	return json.RawMessage(data), nil
}
