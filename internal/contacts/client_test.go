package contacts

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"pbx-monitor/internal/credential"
	"pbx-monitor/internal/logging"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(r *http.Request, code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func storeWithToken(token string) *credential.Store {
	store := credential.NewStore()
	store.Set(credential.Credential{Token: token, IssuedAt: time.Now()})
	return store
}

func TestList_UsesCurrentCredential(t *testing.T) {
	const body = `{"errcode":0,"errmsg":"SUCCESS","total_number":1,"data":[{"id":1,"company":"Acme"}]}`
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %q, want GET", r.Method)
		}
		if got := r.URL.Query().Get("access_token"); got != "tok-abc" {
			t.Fatalf("access_token = %q, want tok-abc", got)
		}
		if r.URL.Path != "/openapi/v1.0/company_contact/list" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		return jsonResponse(r, http.StatusOK, body), nil
	})}
	c := New(httpClient, "https://pbx.example.test/openapi/v1.0/company_contact/list", storeWithToken("tok-abc"), logging.New(false))

	got, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if string(got) != body {
		t.Fatalf("List() = %s", got)
	}
}

func TestList_WithoutCredential(t *testing.T) {
	httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected without a credential")
		return nil, nil
	})}
	c := New(httpClient, "https://pbx.example.test/openapi/v1.0/company_contact/list", credential.NewStore(), logging.New(false))

	if _, err := c.List(context.Background()); !errors.Is(err, ErrCredentialUnavailable) {
		t.Fatalf("List() error = %v, want ErrCredentialUnavailable", err)
	}
}

func TestList_UpstreamRejections(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		body         string
		unauthorized bool
		retryable    bool
	}{
		{name: "unauthorized", code: http.StatusUnauthorized, body: `{}`, unauthorized: true, retryable: true},
		{name: "bad request", code: http.StatusBadRequest, body: `{}`},
		{name: "server error", code: http.StatusBadGateway, body: `{}`, retryable: true},
		{name: "errcode", code: http.StatusOK, body: `{"errcode":10004,"errmsg":"INVALID TOKEN"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpClient := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				return jsonResponse(r, tt.code, tt.body), nil
			})}
			c := New(httpClient, "https://pbx.example.test/openapi/v1.0/company_contact/list", storeWithToken("tok"), logging.New(false))

			_, err := c.List(context.Background())
			var upstream *UpstreamError
			if !errors.As(err, &upstream) {
				t.Fatalf("List() error = %v, want *UpstreamError", err)
			}
			if upstream.Unauthorized() != tt.unauthorized || upstream.Retryable() != tt.retryable {
				t.Fatalf("unauthorized=%v retryable=%v", upstream.Unauthorized(), upstream.Retryable())
			}
		})
	}
}
