// Package credential owns the PBX access token: issuing it, renewing it on a
// fixed cadence, holding the current value for concurrent readers, and
// persisting it across restarts.
package credential

import (
	"strings"
	"time"
)

// Credential is immutable once issued; renewal replaces it wholesale.
type Credential struct {
	Token            string
	IssuedAt         time.Time
	ExpiresIn        time.Duration
	RefreshToken     string
	RefreshExpiresIn time.Duration
}

func (c Credential) Valid() bool {
	return strings.TrimSpace(c.Token) != ""
}

func (c Credential) Age(now time.Time) time.Duration {
	if c.IssuedAt.IsZero() {
		return 0
	}
	return now.Sub(c.IssuedAt)
}

// ExpiresAt is zero when the platform did not report a lifetime.
func (c Credential) ExpiresAt() time.Time {
	if c.IssuedAt.IsZero() || c.ExpiresIn <= 0 {
		return time.Time{}
	}
	return c.IssuedAt.Add(c.ExpiresIn)
}

func (c Credential) Expired(now time.Time) bool {
	expiresAt := c.ExpiresAt()
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
