package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pbx-monitor/internal/logging"
)

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	ErrCode                int    `json:"errcode"`
	ErrMsg                 string `json:"errmsg"`
	AccessToken            string `json:"access_token"`
	AccessTokenExpireTime  int64  `json:"access_token_expire_time"`
	RefreshToken           string `json:"refresh_token"`
	RefreshTokenExpireTime int64  `json:"refresh_token_expire_time"`
}

// Issuer mints credentials from the PBX get_token endpoint. The value is
// safe for concurrent use; overlapping calls each write the store and the
// last write wins.
type Issuer struct {
	HTTP     *http.Client
	TokenURL string
	Username string
	Password string
	Store    *Store
	Logger   *logging.Logger
	Now      func() time.Time
}

func (i Issuer) Issue(ctx context.Context) (Credential, error) {
	if i.Logger != nil {
		i.Logger.Debug("requesting access token",
			logging.Field("url", i.TokenURL),
			logging.Field("username", i.Username),
		)
	}
	body, err := json.Marshal(tokenRequest{Username: i.Username, Password: i.Password})
	if err != nil {
		return Credential{}, &AuthError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.TokenURL, bytes.NewReader(body))
	if err != nil {
		return Credential{}, &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "OpenAPI")

	client := i.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Credential{}, &AuthError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read token response: %w", err)}
	}
	if resp.StatusCode >= 400 {
		if i.Logger != nil {
			i.Logger.Warn("access token request failed",
				logging.Field("status", resp.Status),
				logging.Field("response", logging.FormatHTTPPayload(data)),
			)
		}
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	parsed := tokenResponse{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid token response: %w", err)}
	}
	if parsed.ErrCode != 0 {
		if i.Logger != nil {
			i.Logger.Warn("access token request rejected",
				logging.Field("errcode", parsed.ErrCode),
				logging.Field("errmsg", parsed.ErrMsg),
			)
		}
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Code: parsed.ErrCode, Message: parsed.ErrMsg}
	}
	if strings.TrimSpace(parsed.AccessToken) == "" {
		return Credential{}, &AuthError{StatusCode: resp.StatusCode, Message: "missing access_token"}
	}

	cred := Credential{
		Token:            parsed.AccessToken,
		IssuedAt:         i.now(),
		ExpiresIn:        time.Duration(parsed.AccessTokenExpireTime) * time.Second,
		RefreshToken:     parsed.RefreshToken,
		RefreshExpiresIn: time.Duration(parsed.RefreshTokenExpireTime) * time.Second,
	}
	if i.Store != nil {
		i.Store.Set(cred)
	}
	if i.Logger != nil {
		i.Logger.Info("access token issued",
			logging.Field("token", logging.Redact(cred.Token)),
			logging.Field("expires_in", cred.ExpiresIn.String()),
		)
	}
	return cred, nil
}

func (i Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}
