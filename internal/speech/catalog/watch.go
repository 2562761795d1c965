package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/spiralogic/oraclevoice/internal/speech/style"
)

// WatchAndReload watches the catalog file and swaps the resolver's profile
// table when it changes. Engines and routing mode are not reloaded. An invalid
// file is logged and the previous table stays active. Blocks until ctx is done.
func WatchAndReload(ctx context.Context, path string, resolver *style.Resolver) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files by rename.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %q: %w", dir, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			c, err := Load(path)
			if err != nil {
				slog.ErrorContext(ctx, "catalog reload failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
				continue
			}
			if err := resolver.Replace(c.Profiles, c.DefaultRole); err != nil {
				slog.ErrorContext(ctx, "catalog reload rejected",
					slog.String("path", path),
					slog.String("error", err.Error()))
				continue
			}
			slog.InfoContext(ctx, "voice profiles reloaded",
				slog.String("path", path),
				slog.Int("profiles", len(c.Profiles)))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
