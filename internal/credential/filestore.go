package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"pbx-monitor/internal/logging"
)

const lockRetryDelay = 50 * time.Millisecond

type persistedCredential struct {
	AccessToken            string    `json:"access_token"`
	AccessTokenExpireTime  int64     `json:"access_token_expire_time,omitempty"`
	RefreshToken           string    `json:"refresh_token,omitempty"`
	RefreshTokenExpireTime int64     `json:"refresh_token_expire_time,omitempty"`
	IssuedAt               time.Time `json:"issued_at,omitzero"`
}

// FileStore keeps the credential in a JSON file guarded by an advisory lock
// beside it, so a second monitor or an operator script can share the token.
// mu serializes use of the flock handle within this process.
type FileStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: filepath.Clean(path),
		lock: flock.New(filepath.Clean(path) + ".lock"),
	}
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Save(ctx context.Context, c Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}
	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock credential file: %w", err)
	}
	if !locked {
		return errors.New("lock credential file: not acquired")
	}
	defer func() { _ = f.lock.Unlock() }()

	data, err := json.MarshalIndent(persistedCredential{
		AccessToken:            c.Token,
		AccessTokenExpireTime:  int64(c.ExpiresIn / time.Second),
		RefreshToken:           c.RefreshToken,
		RefreshTokenExpireTime: int64(c.RefreshExpiresIn / time.Second),
		IssuedAt:               c.IssuedAt.UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credential file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

// Load returns os.ErrNotExist (wrapped) when nothing has been saved yet.
// Files written without issued_at take the file modification time.
func (f *FileStore) Load(ctx context.Context) (Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	locked, err := f.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return Credential{}, fmt.Errorf("lock credential file: %w", err)
	}
	if !locked {
		return Credential{}, errors.New("lock credential file: not acquired")
	}
	defer func() { _ = f.lock.Unlock() }()

	data, err := os.ReadFile(f.path)
	if err != nil {
		return Credential{}, fmt.Errorf("read credential file: %w", err)
	}
	stored := persistedCredential{}
	if err := json.Unmarshal(data, &stored); err != nil {
		return Credential{}, fmt.Errorf("decode credential file: %w", err)
	}
	c := Credential{
		Token:            stored.AccessToken,
		IssuedAt:         stored.IssuedAt,
		ExpiresIn:        time.Duration(stored.AccessTokenExpireTime) * time.Second,
		RefreshToken:     stored.RefreshToken,
		RefreshExpiresIn: time.Duration(stored.RefreshTokenExpireTime) * time.Second,
	}
	if !c.Valid() {
		return Credential{}, errors.New("credential file has no access_token")
	}
	if c.IssuedAt.IsZero() {
		if info, statErr := os.Stat(f.path); statErr == nil {
			c.IssuedAt = info.ModTime()
		}
	}
	return c, nil
}

// PersistTo saves every credential the store receives. Save failures are
// logged; the in-memory credential stays authoritative.
func PersistTo(store *Store, files *FileStore, logger *logging.Logger) func() {
	if logger == nil {
		panic("credential.PersistTo: logger must not be nil")
	}
	return store.Subscribe(func(c Credential) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := files.Save(ctx, c); err != nil {
			logger.Warn("failed to persist credential",
				logging.Field("path", files.Path()),
				logging.Field("error", err),
			)
			return
		}
		logger.Debug("credential persisted", logging.Field("path", files.Path()))
	})
}

// Restore seeds the store from disk when the saved credential is present,
// not expired and younger than maxAge (the renewal interval; zero means
// DefaultRenewInterval). It reports whether the store was seeded.
func Restore(ctx context.Context, store *Store, files *FileStore, now time.Time, maxAge time.Duration, logger *logging.Logger) bool {
	if logger == nil {
		panic("credential.Restore: logger must not be nil")
	}
	c, err := files.Load(ctx)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("no persisted credential", logging.Field("path", files.Path()))
		} else {
			logger.Warn("ignoring persisted credential", logging.Field("path", files.Path()), logging.Field("error", err))
		}
		return false
	}
	if c.Expired(now) {
		logger.Debug("persisted credential expired", logging.Field("expired_at", c.ExpiresAt()))
		return false
	}
	if maxAge <= 0 {
		maxAge = DefaultRenewInterval
	}
	if age := c.Age(now); age >= maxAge {
		logger.Debug("persisted credential older than renewal interval",
			logging.Field("age", age.Round(time.Second).String()),
			logging.Field("max_age", maxAge.String()),
		)
		return false
	}
	store.Set(c)
	logger.Info("restored persisted credential",
		logging.Field("token", logging.Redact(c.Token)),
		logging.Field("age", c.Age(now).Round(time.Second).String()),
	)
	return true
}
