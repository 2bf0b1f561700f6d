package credential

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoCredential is returned to callers that need a token before the first
// issuance has completed. It is transient.
var ErrNoCredential = errors.New("no access credential issued yet")

// AuthError reports a failed issuance: transport failure, non-success HTTP
// status, unparseable body, or a platform error code.
type AuthError struct {
	StatusCode int
	Status     string
	Code       int
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	if e == nil {
		return "credential issuance failed"
	}
	switch {
	case e.Err != nil:
		return "credential issuance failed: " + e.Err.Error()
	case e.Code != 0:
		return fmt.Sprintf("credential issuance rejected: errcode %d %s", e.Code, e.Message)
	case e.Status != "":
		return "credential issuance rejected: " + e.Status
	case e.StatusCode != 0:
		return fmt.Sprintf("credential issuance rejected: http status %d", e.StatusCode)
	default:
		return "credential issuance failed: " + e.Message
	}
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsUnauthorized reports whether the platform rejected the client identity
// itself, as opposed to a transient failure.
func IsUnauthorized(err error) bool {
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		return false
	}
	return authErr.StatusCode == http.StatusUnauthorized || authErr.StatusCode == http.StatusForbidden
}
