package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/idbridge/idbridge/pkg/observability"
)

// settingsFile is the YAML shape of the runtime policy file.
type settingsFile struct {
	AllowCoexistence bool     `yaml:"allow_password_coexistence"`
	ExemptLogins     []string `yaml:"exempt_logins"`
}

// RuntimeSettings serves the coexistence policy at call time. When a
// settings file is configured it is watched for changes, so the last
// written value wins without a process restart. It implements
// policy.Settings.
type RuntimeSettings struct {
	mu      sync.RWMutex
	current settingsFile

	path    string
	watcher *fsnotify.Watcher
	logger  *observability.Logger
	done    chan struct{}
}

// NewRuntimeSettings builds the policy settings source. cfg's env
// defaults apply until the settings file, if any, is first read; a
// missing or unreadable file at startup is an error so a typoed path
// does not silently run on defaults.
func NewRuntimeSettings(cfg PolicyConfig, logger *observability.Logger) (*RuntimeSettings, error) {
	s := &RuntimeSettings{
		current: settingsFile{
			AllowCoexistence: cfg.AllowCoexistence,
			ExemptLogins:     cfg.ExemptLogins,
		},
		path:   cfg.SettingsFile,
		logger: logger,
		done:   make(chan struct{}),
	}

	if s.path == "" {
		return s, nil
	}

	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create settings watcher: %w", err)
	}
	// Watch the directory, not the file: editors and config rollouts
	// replace the file by rename, which drops a file-level watch.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch settings directory: %w", err)
	}
	s.watcher = watcher

	go s.watch()
	return s, nil
}

// AllowCoexistence reports whether a user may hold both a password
// and a federated identity.
func (s *RuntimeSettings) AllowCoexistence(_ context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.AllowCoexistence
}

// ExemptLogins returns the accounts the policy never applies to
func (s *RuntimeSettings) ExemptLogins(_ context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.current.ExemptLogins))
	copy(out, s.current.ExemptLogins)
	return out
}

// Close stops the file watcher
func (s *RuntimeSettings) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	return s.watcher.Close()
}

func (s *RuntimeSettings) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	var parsed settingsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse settings file: %w", err)
	}

	s.mu.Lock()
	s.current = parsed
	s.mu.Unlock()
	return nil
}

func (s *RuntimeSettings) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.reload(); err != nil {
				// Keep the last good values on a bad write.
				s.logger.WithError(err).Warn("settings file changed but could not be reloaded")
				continue
			}
			s.logger.Info("policy settings reloaded")
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("settings watcher error")
		}
	}
}
