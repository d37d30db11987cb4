// Package engine keeps one repository's tag index synchronized with its
// source tree.
//
// An Engine walks the repository once (INIT), then follows filesystem
// notifications (WATCHING). A change to the ignore file triggers a full
// RESCAN before the engine returns to WATCHING. Every change that touches the
// index regenerates the repository's summary artifact.
//
// Notifications caused by the engine itself (stamping a file, writing the
// summary) are absorbed: a file is only reparsed when its modification time
// or size differs from the last processed one, and reparsing a stamped file
// writes nothing, so a stamping write costs exactly one extra no-op parse.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yoanbernabeu/codetags/codetag"
	"github.com/yoanbernabeu/codetags/config"
	"github.com/yoanbernabeu/codetags/indexer"
	"github.com/yoanbernabeu/codetags/store"
	"github.com/yoanbernabeu/codetags/summary"
	"github.com/yoanbernabeu/codetags/watcher"
)

var ErrAlreadyStarted = errors.New("engine already started")

type State int32

const (
	StateInit State = iota
	StateWatching
	StateRescan
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateWatching:
		return "WATCHING"
	case StateRescan:
		return "RESCAN"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config carries everything an engine needs besides its repository and
// store. Zero values fall back to the package defaults.
type Config struct {
	Parser           *codetag.Parser
	IgnoreFile       string
	SummaryFile      string
	RespectGitignore bool
	SkipDirs         []string
	SettleDelay      time.Duration
	Logger           *log.Logger
}

// NewConfig derives an engine configuration from the user settings.
func NewConfig(cfg *config.Config, logger *log.Logger) Config {
	return Config{
		Parser:           codetag.NewParser(codetag.WithExtensions(cfg.Extensions)),
		IgnoreFile:       cfg.IgnoreFile,
		SummaryFile:      cfg.SummaryFile,
		RespectGitignore: cfg.RespectGitignore,
		SkipDirs:         cfg.SkipDirs,
		SettleDelay:      time.Duration(cfg.Watch.SettleDelayMs) * time.Millisecond,
		Logger:           logger,
	}
}

// fileStamp is the last processed state of a file.
type fileStamp struct {
	mtime time.Time
	size  int64
}

type Engine struct {
	repo   config.Repository
	store  store.TagStore
	cfg    Config
	parser *codetag.Parser
	logger *log.Logger
	writer *summary.Writer

	state atomic.Int32

	// mu serializes processing; it guards everything below.
	mu      sync.Mutex
	ignore  *indexer.IgnoreMatcher
	scanner *indexer.Scanner
	stamps  map[string]fileStamp
	ignored map[string]bool

	lifeMu   sync.Mutex
	started  bool
	registry *watcher.Registry
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an engine for repo. The engine borrows st for its lifetime;
// the caller owns it and must Stop the engine before dropping the store.
func New(repo config.Repository, st store.TagStore, cfg Config) *Engine {
	if cfg.Parser == nil {
		cfg.Parser = codetag.NewParser()
	}
	if cfg.IgnoreFile == "" {
		cfg.IgnoreFile = indexer.DefaultIgnoreFile
	}
	if cfg.SummaryFile == "" {
		cfg.SummaryFile = summary.DefaultFileName
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	repo.Root = filepath.Clean(repo.Root)

	return &Engine{
		repo:    repo,
		store:   st,
		cfg:     cfg,
		parser:  cfg.Parser,
		logger:  cfg.Logger,
		writer:  summary.NewWriter(filepath.Join(repo.Root, cfg.SummaryFile)),
		stamps:  make(map[string]fileStamp),
		ignored: make(map[string]bool),
	}
}

func (e *Engine) Repository() config.Repository {
	return e.repo
}

func (e *Engine) Store() store.TagStore {
	return e.store
}

func (e *Engine) SummaryPath() string {
	return e.writer.Path()
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// WatchedDirs returns the directories currently registered for
// notifications, or nil when the engine is not watching.
func (e *Engine) WatchedDirs() []string {
	e.lifeMu.Lock()
	reg := e.registry
	e.lifeMu.Unlock()

	if reg == nil {
		return nil
	}
	return reg.Paths()
}

// Start performs the initial scan and then follows changes on a background
// goroutine until ctx is canceled or Stop is called. Every directory is
// registered for notifications before the scan, so nothing written during
// the scan is missed.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true
	e.setState(StateInit)

	if err := e.prepare(); err != nil {
		e.setState(StateStopped)
		return err
	}

	reg, err := watcher.New(e.cfg.SettleDelay, e.logger)
	if err != nil {
		e.setState(StateStopped)
		return err
	}
	if _, err := reg.Add(e.repo.Root); err != nil {
		_ = reg.Close()
		e.setState(StateStopped)
		return err
	}
	reg.AddRecursive(e.repo.Root, e.ignore.IsSkipDir)

	if err := e.initialScan(ctx); err != nil {
		_ = reg.Close()
		e.setState(StateStopped)
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.registry = reg
	e.cancel = cancel
	e.done = make(chan struct{})
	e.setState(StateWatching)

	go e.run(loopCtx, reg, e.done)
	return nil
}

// Scan runs the initial scan without watching: tags are stamped, indexed and
// the summary is written once.
func (e *Engine) Scan(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}
	e.setState(StateInit)
	if err := e.prepare(); err != nil {
		e.setState(StateStopped)
		return err
	}
	err := e.initialScan(ctx)
	e.setState(StateStopped)
	return err
}

// Stop ends the event loop, removes every watch and closes the notifier.
// An in-flight file rewrite completes first. Safe to call more than once
// and on an engine that never started.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.cancel != nil {
		e.cancel()
		<-e.done
		e.registry.RemoveAll()
		if err := e.registry.Close(); err != nil {
			e.logger.Printf("Warning: %s: failed to close notifier: %v", e.repo.Name, err)
		}
		e.cancel = nil
	}
	e.setState(StateStopped)
}

func (e *Engine) prepare() error {
	info, err := os.Stat(e.repo.Root)
	if err != nil {
		return fmt.Errorf("repository %s: %w", e.repo.Name, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("repository %s: %s is not a directory", e.repo.Name, e.repo.Root)
	}

	matcher, err := indexer.NewIgnoreMatcher(e.repo.Root, indexer.IgnoreOptions{
		FileName:         e.cfg.IgnoreFile,
		RespectGitignore: e.cfg.RespectGitignore,
		SkipDirs:         e.cfg.SkipDirs,
	})
	if err != nil {
		return fmt.Errorf("repository %s: %w", e.repo.Name, err)
	}

	e.mu.Lock()
	e.ignore = matcher
	e.scanner = indexer.NewScanner(e.repo.Root, matcher, e.parser.IsEligible)
	e.mu.Unlock()
	return nil
}

func (e *Engine) initialScan(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.scanner.Scan()
	if err != nil {
		return fmt.Errorf("repository %s: %w", e.repo.Name, err)
	}

	for _, f := range result.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.indexFile(f.Path, true)
	}

	e.ignored = make(map[string]bool, len(result.Ignored))
	for _, p := range result.Ignored {
		e.ignored[p] = true
	}

	e.regenerate()
	e.logger.Printf("Scanned %s: %d files, %d tags", e.repo.Root, len(result.Files), e.store.Len())
	return nil
}

func (e *Engine) run(ctx context.Context, reg *watcher.Registry, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-reg.Events():
			e.handleEvent(event)
		case err := <-reg.Errors():
			e.logger.Printf("Warning: %s: notifier error: %v", e.repo.Name, err)
		}
	}
}

func (e *Engine) handleEvent(event watcher.FileEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ignore.IsIgnoreFile(event.Path) {
		e.rescan()
		return
	}
	if event.Path == e.writer.Path() {
		// An edited summary is restored now; a deleted one on the next
		// change, so that removing a repository does not race its engine.
		if _, err := os.Stat(event.Path); err == nil {
			e.regenerate()
		}
		return
	}
	e.processPath(event.Path)
}

// processPath reconciles the index with the current state of one path.
func (e *Engine) processPath(path string) {
	info, err := os.Stat(path)
	if err != nil {
		// Gone or unreadable: drop it and everything below it.
		if e.forget(path) {
			e.logger.Printf("Removed %s from index", path)
			e.regenerate()
		}
		return
	}

	if info.IsDir() {
		if e.ignore.IsSkipDir(filepath.Base(path)) {
			return
		}
		if e.addDirectory(path) {
			e.regenerate()
		}
		return
	}

	if !info.Mode().IsRegular() || !e.parser.IsEligible(path) {
		return
	}

	if e.ignore.ShouldIgnore(path, false) {
		e.ignored[path] = true
		delete(e.stamps, path)
		if e.store.RemoveAllForFile(path) > 0 {
			e.regenerate()
		}
		return
	}
	delete(e.ignored, path)

	if e.indexFile(path, false) {
		e.regenerate()
	}
}

// indexFile parses path and replaces its tags. Unless force is set, a file
// whose modification time and size match the last processed ones is
// skipped. It reports whether the file was parsed.
func (e *Engine) indexFile(path string, force bool) bool {
	info, err := os.Stat(path)
	if err != nil {
		return e.forget(path)
	}

	stamp := fileStamp{mtime: info.ModTime(), size: info.Size()}
	if last, ok := e.stamps[path]; ok && !force && last == stamp {
		return false
	}
	// The pre-parse stamp is recorded: a stamping rewrite changes it, and
	// the next notification reparses once without writing.
	e.stamps[path] = stamp

	tags, err := e.parser.ParseFile(path, e.repo.Root, info.ModTime())
	if err != nil {
		e.logger.Printf("Warning: %v", err)
		delete(e.stamps, path)
		e.store.RemoveAllForFile(path)
		return true
	}

	e.store.ReplaceFile(path, tags)
	if len(tags) > 0 {
		e.logger.Printf("Indexed %s (%d tags)", path, len(tags))
	}
	return true
}

// addDirectory watches a directory that appeared and indexes the files
// that arrived with it.
func (e *Engine) addDirectory(dir string) bool {
	// Only the event loop gets here; registry is set before it starts.
	if e.registry != nil {
		e.registry.AddRecursive(dir, e.ignore.IsSkipDir)
	}

	result, err := e.scanner.ScanDir(dir)
	if err != nil {
		e.logger.Printf("Warning: %v", err)
		return false
	}

	changed := false
	for _, f := range result.Files {
		if e.indexFile(f.Path, false) {
			changed = true
		}
	}
	for _, p := range result.Ignored {
		e.ignored[p] = true
	}
	return changed
}

// forget drops the tags and tracking state of path and of every path below
// it. It reports whether anything was known about them.
func (e *Engine) forget(path string) bool {
	known := false
	for p := range e.stamps {
		if store.IsUnder(p, path) {
			delete(e.stamps, p)
			known = true
		}
	}
	for p := range e.ignored {
		if store.IsUnder(p, path) {
			delete(e.ignored, p)
		}
	}
	if e.store.RemoveAllUnder([]string{path}) > 0 {
		known = true
	}
	return known
}

// rescan applies a changed ignore file to the whole tree and regenerates the
// summary once.
func (e *Engine) rescan() {
	e.setState(StateRescan)
	defer e.setState(StateWatching)

	if err := e.ignore.Reload(); err != nil {
		e.logger.Printf("Warning: %s: %v", e.repo.Name, err)
	}

	result, err := e.scanner.Scan()
	if err != nil {
		e.logger.Printf("Warning: %s: rescan failed: %v", e.repo.Name, err)
		return
	}

	ignored := make(map[string]bool, len(result.Ignored))
	var newlyIgnored []string
	for _, p := range result.Ignored {
		ignored[p] = true
		if !e.ignored[p] {
			newlyIgnored = append(newlyIgnored, p)
		}
	}
	if len(newlyIgnored) > 0 {
		removed := e.store.RemoveAllUnder(newlyIgnored)
		for _, p := range newlyIgnored {
			delete(e.stamps, p)
		}
		e.logger.Printf("%s: %d files newly ignored, %d tags removed", e.repo.Name, len(newlyIgnored), removed)
	}

	// Files no longer ignored are new to the index; the rest are refreshed.
	for _, f := range result.Files {
		e.indexFile(f.Path, true)
	}

	e.ignored = ignored
	e.regenerate()
}

// regenerate rewrites the summary. Failures are logged and otherwise
// ignored; the next change retries.
func (e *Engine) regenerate() {
	if _, err := e.writer.Write(e.store.AllTags()); err != nil {
		e.logger.Printf("Warning: %s: %v", e.repo.Name, err)
	}
}
