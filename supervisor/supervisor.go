// Package supervisor runs one engine per registered repository and follows
// changes to the registration list.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/yoanbernabeu/codetags/config"
	"github.com/yoanbernabeu/codetags/engine"
	"github.com/yoanbernabeu/codetags/store"
)

// Lifecycle states reported to Options.OnLifecycle.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateError    = "error"
	StateSkipped  = "skipped"
	StateRemoved  = "removed"
	StateStopped  = "stopped"
)

type Options struct {
	// Home is the state directory holding the registration list.
	Home   string
	Config *config.Config
	Logger *log.Logger

	// EngineConfig overrides the engine configuration derived from Config.
	EngineConfig func(repo config.Repository) engine.Config

	// OnReady is called once, after the first reconcile has started every
	// startable repository.
	OnReady func(active []config.Repository)

	// OnLifecycle observes per-repository state changes. It may be called
	// from several goroutines at once.
	OnLifecycle func(repo config.Repository, state, note string)
}

// managed is one repository's engine and the store it borrows. The engine
// is always stopped before the store is dropped.
type managed struct {
	repo   config.Repository
	store  *store.MemoryStore
	engine *engine.Engine
}

type Supervisor struct {
	opts         Options
	registryPath string
	logger       *log.Logger

	mu     sync.RWMutex
	active map[string]*managed

	// Reported on the last reconcile; only the Run goroutine touches them.
	skipped map[string]string
	warned  map[string]bool
}

func New(opts Options) *Supervisor {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Supervisor{
		opts:         opts,
		registryPath: config.GetRegistryPath(opts.Home),
		logger:       opts.Logger,
		active:       make(map[string]*managed),
	}
}

// Run reconciles the active repositories with the registration list until
// ctx is canceled, then stops every engine. The list is re-read whenever it
// changes on disk and on every reconcile tick. Failing to set up change
// notifications aborts the run.
func (s *Supervisor) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create registry watcher: %w", err)
	}
	defer w.Close()

	if err := os.MkdirAll(s.opts.Home, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.opts.Home, err)
	}
	// The list is replaced by rename, so watch its directory.
	if err := w.Add(s.opts.Home); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.opts.Home, err)
	}

	defer s.stopAll()

	s.reconcile(ctx)
	if s.opts.OnReady != nil {
		s.opts.OnReady(s.Active())
	}

	interval := time.Duration(s.opts.Config.Watch.ReconcileIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != config.RegistryFileName {
				continue
			}
			s.reconcile(ctx)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Printf("Warning: registry watcher error: %v", err)
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// Active returns the running repositories sorted by name.
func (s *Supervisor) Active() []config.Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repos := make([]config.Repository, 0, len(s.active))
	for _, m := range s.active {
		repos = append(repos, m.repo)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return repos
}

// Store returns the tag store of an active repository.
func (s *Supervisor) Store(name string) (store.TagStore, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.active[name]
	if !ok {
		return nil, false
	}
	return m.store, true
}

// desiredRepositories loads the registration list, keeping entries whose
// root is an existing directory. Malformed lines and missing roots are
// reported when they first show up, not on every reconcile.
func (s *Supervisor) desiredRepositories() (map[string]config.Repository, error) {
	repos, warnings, err := config.LoadRegistry(s.registryPath)
	if err != nil {
		return nil, err
	}

	warned := make(map[string]bool, len(warnings))
	for _, w := range warnings {
		msg := w.Error()
		if !s.warned[msg] {
			s.logger.Printf("Warning: %s", msg)
		}
		warned[msg] = true
	}
	s.warned = warned

	desired := make(map[string]config.Repository, len(repos))
	skipped := make(map[string]string)
	for _, repo := range repos {
		info, err := os.Stat(repo.Root)
		if err != nil || !info.IsDir() {
			if root, ok := s.skipped[repo.Name]; !ok || root != repo.Root {
				s.emit(repo, StateSkipped, "root does not exist")
			}
			skipped[repo.Name] = repo.Root
			continue
		}
		desired[repo.Name] = repo
	}
	s.skipped = skipped
	return desired, nil
}

// reconcile applies the symmetric difference between the registration list
// and the active repositories. A repository whose root changed is stopped
// and started again. A repository that fails to start is retried on the next
// reconcile.
func (s *Supervisor) reconcile(ctx context.Context) {
	desired, err := s.desiredRepositories()
	if err != nil {
		// Keep what is running.
		s.logger.Printf("Warning: %v", err)
		return
	}

	s.mu.Lock()
	var stopping []*managed
	for name, m := range s.active {
		if repo, ok := desired[name]; ok && repo.Root == m.repo.Root {
			continue
		}
		stopping = append(stopping, m)
		delete(s.active, name)
	}
	var starting []config.Repository
	for name, repo := range desired {
		if _, ok := s.active[name]; !ok {
			starting = append(starting, repo)
		}
	}
	s.mu.Unlock()

	limit := s.opts.Config.Watch.MaxParallelStarts
	if limit <= 0 {
		limit = 1
	}

	var stops errgroup.Group
	stops.SetLimit(limit)
	for _, m := range stopping {
		m := m
		stops.Go(func() error {
			m.engine.Stop()
			s.emit(m.repo, StateRemoved, "registration removed")
			return nil
		})
	}
	_ = stops.Wait()

	var starts errgroup.Group
	starts.SetLimit(limit)
	for _, repo := range starting {
		repo := repo
		starts.Go(func() error {
			s.start(ctx, repo)
			return nil
		})
	}
	_ = starts.Wait()
}

func (s *Supervisor) start(ctx context.Context, repo config.Repository) {
	s.emit(repo, StateStarting, repo.Root)

	st := store.NewMemoryStore()
	e := engine.New(repo, st, s.engineConfig(repo))
	if err := e.Start(ctx); err != nil {
		s.emit(repo, StateError, err.Error())
		return
	}

	s.mu.Lock()
	s.active[repo.Name] = &managed{repo: repo, store: st, engine: e}
	s.mu.Unlock()

	s.emit(repo, StateRunning, fmt.Sprintf("%d tags", st.Len()))
}

func (s *Supervisor) engineConfig(repo config.Repository) engine.Config {
	if s.opts.EngineConfig != nil {
		return s.opts.EngineConfig(repo)
	}
	return engine.NewConfig(s.opts.Config, s.logger)
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	all := make([]*managed, 0, len(s.active))
	for name, m := range s.active {
		all = append(all, m)
		delete(s.active, name)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, m := range all {
		m := m
		g.Go(func() error {
			m.engine.Stop()
			s.emit(m.repo, StateStopped, "shutdown")
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Supervisor) emit(repo config.Repository, state, note string) {
	if s.opts.OnLifecycle != nil {
		s.opts.OnLifecycle(repo, state, note)
		return
	}
	if state == StateError || state == StateSkipped {
		s.logger.Printf("Warning: %s %s: %s", repo.Name, state, note)
		return
	}
	s.logger.Printf("%s %s: %s", repo.Name, state, note)
}
