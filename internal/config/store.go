package config

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"constitutional-gov/internal/logging"
)

// Store holds the current configuration snapshot behind an atomic
// pointer. Components read a snapshot per operation, so a reload
// applies to the next batch without restart.
type Store struct {
	current atomic.Pointer[Config]
	path    string
	logger  logging.Logger
}

// NewStore creates a store seeded with cfg. path is the YAML file to
// watch for hot reload; empty disables file watching (SIGHUP still works).
func NewStore(cfg *Config, path string, logger logging.Logger) *Store {
	s := &Store{path: path, logger: logger.WithComponent("config")}
	s.current.Store(cfg)
	return s
}

// Current returns the active configuration snapshot. Callers must not
// mutate the returned value.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Apply validates and swaps in a new configuration.
func (s *Store) Apply(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.current.Store(cfg)
	s.logger.Info("configuration applied",
		"workers", cfg.Processor.Workers,
		"cache_ttl", cfg.Cache.TTL.String(),
		"escalation_threshold", cfg.Scoring.EscalationThreshold)
	return nil
}

// reload rebuilds the configuration from disk and environment.
func (s *Store) reload() {
	cfg, err := Load(s.path)
	if err != nil {
		s.logger.Error("config reload failed, keeping previous snapshot", "error", err.Error())
		return
	}
	s.current.Store(cfg)
	s.logger.Info("configuration reloaded", "path", s.path)
}

// Watch starts the hot-reload listeners: fsnotify on the config file
// (when a path was given) and SIGHUP. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)

	var events chan fsnotify.Event
	if s.path != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(s.path); err != nil {
			return err
		}
		events = make(chan fsnotify.Event, 1)
		go func() {
			for ev := range watcher.Events {
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
					select {
					case events <- ev:
					default:
					}
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sighup:
			s.reload()
		case <-events:
			s.reload()
		}
	}
}
