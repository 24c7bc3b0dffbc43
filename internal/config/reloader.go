package config

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Reloader watches the config file and SIGHUP and applies the safe subset of
// configuration changes at runtime (currently the log level and the audit
// retention bound). Crypto, store, and gate settings require a restart: they
// are wired into constructed components.
type Reloader struct {
	path    string
	logger  *logrus.Logger
	watcher *fsnotify.Watcher
	sigCh   chan os.Signal
	done    chan struct{}

	mu      sync.RWMutex
	current *Config

	// OnReload is invoked with the freshly loaded config after each
	// successful reload.
	OnReload func(*Config)
}

// NewConfigReloader creates a reloader for path. An empty path disables file
// watching; SIGHUP still triggers a reload.
func NewConfigReloader(path string, initial *Config, logger *logrus.Logger) (*Reloader, error) {
	r := &Reloader{
		path:    path,
		logger:  logger,
		sigCh:   make(chan os.Signal, 1),
		done:    make(chan struct{}),
		current: initial,
	}

	if path != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return nil, err
		}
		r.watcher = watcher
	}

	signal.Notify(r.sigCh, syscall.SIGHUP)
	go r.loop()
	return r, nil
}

// Current returns the most recently loaded configuration.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Stop stops watching. Safe to call once.
func (r *Reloader) Stop() {
	close(r.done)
	signal.Stop(r.sigCh)
	if r.watcher != nil {
		r.watcher.Close()
	}
}

func (r *Reloader) loop() {
	var events chan fsnotify.Event
	var errs chan error
	if r.watcher != nil {
		events = r.watcher.Events
		errs = r.watcher.Errors
	}

	for {
		select {
		case <-r.done:
			return
		case <-r.sigCh:
			r.logger.Info("SIGHUP received, reloading configuration")
			r.reload()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				r.reload()
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			r.logger.WithError(err).Warn("config watcher error")
		}
	}
}

func (r *Reloader) reload() {
	cfg, err := LoadConfig(r.path)
	if err != nil {
		r.logger.WithError(err).Warn("config reload failed, keeping previous configuration")
		return
	}

	r.mu.Lock()
	r.current = cfg
	r.mu.Unlock()

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		r.logger.SetLevel(level)
	}
	if r.OnReload != nil {
		r.OnReload(cfg)
	}
	r.logger.WithField("log_level", cfg.LogLevel).Info("configuration reloaded")
}
