package runtimecfg

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/xiaonanln/hubgate/util/callcontext"
	"github.com/xiaonanln/hubgate/util/logger"
)

// PersistTimeout bounds a backend write made by Set when the caller's
// context carries no deadline.
const PersistTimeout = 5 * time.Second

// ErrNotFound is returned by a Backend when nothing has been persisted yet.
var ErrNotFound = errors.New("runtime config not found")

// Backend persists the runtime configuration.
type Backend interface {
	Name() string
	Load(ctx context.Context) (Config, error)
	Save(ctx context.Context, cfg Config) error
	Close() error
}

// Watcher is implemented by backends that can observe changes written by
// other processes. Watch blocks until ctx is done, calling fn for each change.
type Watcher interface {
	Watch(ctx context.Context, fn func(Config))
}

// Store is the process-wide holder of the runtime configuration. The
// in-memory value is authoritative; persistence failures are only logged.
//
// writeMu serializes whole mutations (merge, save, notify) so the backend and
// the listeners always end on the value held in memory. mu guards the fields
// and is never held across a backend call or a listener.
type Store struct {
	writeMu   sync.Mutex
	mu        sync.RWMutex
	cfg       Config
	backend   Backend
	listeners []func(Config)
	logger    *logger.Logger
}

// NewStore creates a store holding Default(). backend may be nil, in which
// case nothing is persisted.
func NewStore(backend Backend) *Store {
	return &Store{
		cfg:     Default(),
		backend: backend,
		logger:  logger.NewLogger("RuntimeConfig"),
	}
}

// Load reads the persisted configuration. A missing or unreadable value
// leaves the defaults in place; Load never fails.
func (s *Store) Load(ctx context.Context) Config {
	if s.backend == nil {
		return s.Get()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cfg, err := s.backend.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Infof("No runtime config in %s backend, using defaults", s.backend.Name())
		return s.Get()
	case err != nil:
		s.logger.Warnf("Failed to load runtime config from %s backend, using defaults: %v", s.backend.Name(), err)
		return s.Get()
	}

	cfg = cfg.Clamp()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Infof("Loaded runtime config from %s backend: testPeriodMs=%d testFailAfterMs=%d",
		s.backend.Name(), cfg.TestPeriodMs, cfg.TestFailAfterMs)
	return cfg
}

// Get returns the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// OnChange registers fn to be called with the new configuration after every
// Set or Apply. Listeners run synchronously on the caller's goroutine.
func (s *Store) OnChange(fn func(Config)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Set merges the present fields of p, clamps, persists and notifies
// listeners. It returns the resulting configuration. Concurrent calls are
// applied one at a time. Listeners must not call Set or Apply.
func (s *Store) Set(ctx context.Context, p Partial) Config {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	cfg := s.cfg.merge(p).Clamp()
	s.cfg = cfg
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	if s.backend != nil {
		saveCtx, cancel := callcontext.WithDefaultTimeout(ctx, PersistTimeout)
		if err := s.backend.Save(saveCtx, cfg); err != nil {
			s.logger.Errorf("Failed to persist runtime config to %s backend: %v", s.backend.Name(), err)
		}
		cancel()
	}
	origin := callcontext.Origin(ctx)
	if origin == "" {
		origin = "local"
	}
	s.logger.Infof("Runtime config set by %s: testPeriodMs=%d testFailAfterMs=%d", origin, cfg.TestPeriodMs, cfg.TestFailAfterMs)

	for _, fn := range listeners {
		fn(cfg)
	}
	return cfg
}

// Apply replaces the configuration with one observed from the backend,
// without writing it back. Listeners are notified only if the value changed.
func (s *Store) Apply(cfg Config) {
	cfg = cfg.Clamp()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.cfg == cfg {
		s.mu.Unlock()
		return
	}
	s.cfg = cfg
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.logger.Infof("Runtime config reloaded: testPeriodMs=%d testFailAfterMs=%d", cfg.TestPeriodMs, cfg.TestFailAfterMs)
	for _, fn := range listeners {
		fn(cfg)
	}
}

// Watch follows external changes if the backend supports it, and returns
// immediately otherwise. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) {
	w, ok := s.backend.(Watcher)
	if !ok {
		return
	}
	w.Watch(ctx, s.Apply)
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
