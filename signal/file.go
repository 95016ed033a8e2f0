package signal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/fsnotify/fsnotify"
)

// SharedFile uses the modification time of a file as the marker. Every
// process that can see the path (local disk, NFS) shares the signal.
type SharedFile struct {
	path string
	opts options
}

func NewSharedFile(path string, opts ...Option) *SharedFile {
	return &SharedFile{path: path, opts: newOptions(opts)}
}

func (f *SharedFile) Path() string { return f.path }

func (f *SharedFile) Check(ctx context.Context, startedAt time.Time) bool {
	recorded, ok, err := f.Recorded(ctx)
	if err != nil {
		f.opts.logger.Error("Failed to stat signal file", err, watermill.LogFields{"path": f.path})
		return false
	}
	if !ok {
		return false
	}
	return Evaluate(recorded, startedAt, f.opts.now())
}

// Trigger creates the file if needed and sets its modification time.
func (f *SharedFile) Trigger(_ context.Context, at time.Time) error {
	at = f.opts.triggerTime(at)
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("signal: create %s: %w", f.path, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("signal: close %s: %w", f.path, err)
	}
	if err := os.Chtimes(f.path, at, at); err != nil {
		return fmt.Errorf("signal: touch %s: %w", f.path, err)
	}
	return nil
}

func (f *SharedFile) Recorded(context.Context) (time.Time, bool, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return info.ModTime(), true, nil
}

// Notify watches the file's directory and emits whenever the file is
// created, written or touched. Notifications are coalesced: a slow reader
// sees at most one pending event.
func (f *SharedFile) Notify(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("signal: watch %s: %w", f.path, err)
	}
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("signal: watch %s: %w", dir, err)
	}

	target := filepath.Clean(f.path)
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Chmod) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.opts.logger.Error("Signal file watcher failed", err, watermill.LogFields{"path": f.path})
			}
		}
	}()
	return out, nil
}
