package credential

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"pbx-monitor/internal/logging"
)

// FileWatcher reloads the credential when another process rewrites the
// token file. The directory is watched because saves replace the file by
// rename.
type FileWatcher struct {
	files  *FileStore
	store  *Store
	logger *logging.Logger
}

func NewFileWatcher(files *FileStore, store *Store, logger *logging.Logger) *FileWatcher {
	if logger == nil {
		panic("credential.NewFileWatcher: logger must not be nil")
	}
	return &FileWatcher{files: files, store: store, logger: logger}
}

func (w *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to initialize fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.files.Path())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch credential directory %s: %w", dir, err)
	}
	w.logger.Debugf("watching credential file: %s", w.files.Path())

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("stopping credential watcher: context canceled")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("credential watcher error", logging.Field("error", err))
		}
	}
}

func (w *FileWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.files.Path() {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	w.logger.Debugf("fsnotify event: op=%s path=%s", event.Op.String(), event.Name)
	w.reload(ctx)
}

func (w *FileWatcher) reload(ctx context.Context) {
	loaded, err := w.files.Load(ctx)
	if err != nil {
		w.logger.Debug("credential file not reloadable", logging.Field("error", err))
		return
	}
	current, ok := w.store.Get()
	if ok && current.Token == loaded.Token {
		return
	}
	if ok && loaded.IssuedAt.Before(current.IssuedAt) {
		w.logger.Debug("ignoring older credential from file",
			logging.Field("file_issued_at", loaded.IssuedAt),
			logging.Field("current_issued_at", current.IssuedAt),
		)
		return
	}
	w.store.Set(loaded)
	w.logger.Info("credential reloaded from file", logging.Field("token", logging.Redact(loaded.Token)))
}
