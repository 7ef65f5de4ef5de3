package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openfroyo/cloudsim/pkg/telemetry"
)

// DefaultReloadDelay debounces bursts of file events into one reload.
const DefaultReloadDelay = 500 * time.Millisecond

// Loader reads policies from .rego modules and .json policy definitions.
type Loader struct {
	log         *telemetry.Logger
	reloadDelay time.Duration

	mu      sync.RWMutex
	cache   map[string]Policy
	watcher *fsnotify.Watcher
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(l *telemetry.Logger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.log = l.NewComponentLogger("policy-loader")
		}
	}
}

// WithReloadDelay overrides DefaultReloadDelay.
func WithReloadDelay(d time.Duration) LoaderOption {
	return func(ld *Loader) { ld.reloadDelay = d }
}

// NewLoader creates a new policy loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		log:         telemetry.NewNopLogger(),
		reloadDelay: DefaultReloadDelay,
		cache:       make(map[string]Policy),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFromPaths loads policies from a list of files or directories.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, policies...)
	}

	l.log.WithFields(map[string]interface{}{
		"total":   len(all),
		"sources": len(paths),
	}).Debug("Policies loaded from paths")

	return all, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	p, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}
	return []Policy{p}, nil
}

// loadFromDirectory walks a directory in lexical order. Unreadable files are
// logged and skipped.
func (l *Loader) loadFromDirectory(ctx context.Context, dir string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		p, err := l.loadFromFile(path)
		if err != nil {
			l.log.WithError(err).WithField("path", path).Warn("Failed to load policy file")
			return nil
		}
		policies = append(policies, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return policies, nil
}

func (l *Loader) loadFromFile(path string) (Policy, error) {
	l.mu.RLock()
	cached, ok := l.cache[path]
	l.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read file: %w", err)
	}

	var p Policy
	switch filepath.Ext(path) {
	case ".rego":
		p = parseRegoFile(path, data)
	case ".json":
		if p, err = parseJSONFile(path, data); err != nil {
			return Policy{}, err
		}
	default:
		return Policy{}, fmt.Errorf("unsupported file type: %s", path)
	}

	l.mu.Lock()
	l.cache[path] = p
	l.mu.Unlock()

	l.log.WithFields(map[string]interface{}{"path": path, "policy": p.Name}).Debug("Policy loaded from file")
	return p, nil
}

// parseRegoFile names the policy after the file. Severity defaults to
// warning; violations may override it.
func parseRegoFile(path string, data []byte) Policy {
	return Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: extractDescription(string(data)),
		Rego:        string(data),
		Severity:    SeverityWarning,
		Enabled:     true,
		Source:      path,
		LoadedAt:    time.Now().UTC(),
	}
}

func parseJSONFile(path string, data []byte) (Policy, error) {
	p := Policy{Enabled: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	p.Builtin = false
	p.Source = path
	p.LoadedAt = time.Now().UTC()
	return p, nil
}

// extractDescription joins the leading comment block of a module.
func extractDescription(content string) string {
	var b strings.Builder
	for line := range strings.SplitSeq(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" || b.Len() > 0 {
				break
			}
			continue
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if comment == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(comment)
	}
	return b.String()
}

func isPolicyFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".rego" || ext == ".json"
}

// Watch reloads policies from paths whenever a policy file changes and hands
// them to reloadFn. It returns once the watcher is running; watching stops
// when ctx is done or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.log.WithError(err).WithField("path", path).Warn("Failed to stat path for watching")
			continue
		}
		if info.IsDir() {
			err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return watcher.Add(p)
				}
				return nil
			})
		} else {
			err = watcher.Add(path)
		}
		if err != nil {
			l.log.WithError(err).WithField("path", path).Warn("Failed to watch path")
		}
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.processEvents(ctx, watcher, paths, reloadFn)

	l.log.WithField("paths", len(paths)).Info("Started watching policy paths")
	return nil
}

func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reloadFn func([]Policy) error) {
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !isPolicyFile(event.Name) {
				continue
			}

			l.log.WithFields(map[string]interface{}{
				"file": event.Name,
				"op":   event.Op.String(),
			}).Debug("Policy file changed")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(l.reloadDelay, func() {
				if err := l.reload(ctx, paths, reloadFn); err != nil {
					l.log.WithError(err).Error("Failed to reload policies")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.log.WithError(err).Error("Watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}
	if err := reloadFn(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}

	l.log.WithField("count", len(policies)).Info("Policies reloaded")
	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}

// ClearCache drops every cached policy file.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.cache)
}
