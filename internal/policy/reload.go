package policy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches the policy config file for changes and triggers
// hot-reload through the given callback.
type Reloader struct {
	watcher *fsnotify.Watcher
	path    string
	apply   func(*Config, string) error
}

// NewReloader creates a file watcher for the config path. The apply
// callback receives the freshly loaded config and its content hash.
func NewReloader(path string, apply func(cfg *Config, hash string) error) (*Reloader, error) {
	if path == "" {
		return nil, fmt.Errorf("policy: no config path to watch")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("policy: watch %q: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("policy: create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("policy: watch %q: %w", path, err)
	}
	return &Reloader{watcher: watcher, path: path, apply: apply}, nil
}

// Run watches for file changes and reloads. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	// Debounce: wait 500ms after last write before reloading
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "file watcher error: %v\n", err)
		}
	}
}

func (r *Reloader) reload() {
	cfg, hash, err := LoadConfigWithHash(r.path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hot-reload failed: %v\n", err)
		return
	}
	if err := r.apply(cfg, hash); err != nil {
		fmt.Fprintf(os.Stderr, "hot-reload failed: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "hot-reload: policy reloaded (%s)\n", hash[:16])
}
