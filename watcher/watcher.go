package watcher

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

// FileEvent is a settled notification for an absolute path.
type FileEvent struct {
	Type EventType
	Path string
}

// Handle identifies one directory watch. Handles are assigned by the
// registry in increasing order and are never reused.
type Handle int

var ErrClosed = errors.New("watch registry closed")

// Registry owns an fsnotify watcher and the bidirectional mapping between
// watch handles and the directories they cover. The mapping only grows until
// RemoveAll.
type Registry struct {
	watcher *fsnotify.Watcher
	settle  time.Duration
	logger  *log.Logger
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	byPath  map[string]Handle
	byWatch map[Handle]string
	next    Handle
	closed  bool

	// Settling state
	pending   map[string]FileEvent
	pendingMu sync.Mutex
	timer     *time.Timer
}

// New creates a registry. Create and write notifications are held for settle
// before delivery; repeated notifications for a path inside that window are
// merged into one.
func New(settle time.Duration, logger *log.Logger) (*Registry, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	r := &Registry{
		watcher: fsw,
		settle:  settle,
		logger:  logger,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		byPath:  make(map[string]Handle),
		byWatch: make(map[Handle]string),
		pending: make(map[string]FileEvent),
	}

	r.wg.Add(1)
	go r.processEvents()

	return r, nil
}

func (r *Registry) Events() <-chan FileEvent {
	return r.events
}

func (r *Registry) Errors() <-chan error {
	return r.errors
}

// Add watches dir. Adding a directory that is already registered re-arms the
// OS watch (it may have been dropped if the directory was recreated) and
// returns the existing handle.
func (r *Registry) Add(dir string) (Handle, error) {
	dir = filepath.Clean(dir)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	if err := r.watcher.Add(dir); err != nil {
		return 0, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	if h, ok := r.byPath[dir]; ok {
		return h, nil
	}
	r.next++
	r.byPath[dir] = r.next
	r.byWatch[r.next] = dir
	return r.next, nil
}

// AddRecursive watches root and every directory below it, except those whose
// base name skip reports true for. Registration failures are logged and the
// failing subtree is not descended. It returns the directories now watched.
func (r *Registry) AddRecursive(root string, skip func(name string) bool) []string {
	var added []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skip != nil && skip(d.Name()) {
			return filepath.SkipDir
		}
		if _, err := r.Add(path); err != nil {
			r.logger.Printf("Warning: %v", err)
			return filepath.SkipDir
		}
		added = append(added, path)
		return nil
	})
	return added
}

// Path returns the directory covered by h.
func (r *Registry) Path(h Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byWatch[h]
	return p, ok
}

// Lookup returns the handle watching dir.
func (r *Registry) Lookup(dir string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byPath[filepath.Clean(dir)]
	return h, ok
}

// Paths returns the sorted list of watched directories.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	paths := make([]string, 0, len(r.byPath))
	for p := range r.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.byPath)
}

// RemoveAll deregisters every watch and clears the mapping.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for p := range r.byPath {
		// The directory may already be gone, which drops the OS watch.
		_ = r.watcher.Remove(p)
	}
	r.byPath = make(map[string]Handle)
	r.byWatch = make(map[Handle]string)
}

// Close removes all watches, closes the notifier and waits for the
// delivery goroutine. Safe to call more than once.
func (r *Registry) Close() error {
	r.RemoveAll()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	err := r.watcher.Close()

	r.pendingMu.Lock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.pendingMu.Unlock()

	r.wg.Wait()
	return err
}

func (r *Registry) processEvents() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handleEvent(event)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			select {
			case r.errors <- err:
			case <-r.done:
				return
			default:
				r.logger.Printf("Warning: notifier error dropped: %v", err)
			}
		}
	}
}

func (r *Registry) handleEvent(event fsnotify.Event) {
	var evType EventType
	switch {
	case event.Has(fsnotify.Create):
		evType = EventCreate
	case event.Has(fsnotify.Write):
		evType = EventModify
	case event.Has(fsnotify.Remove):
		evType = EventDelete
	case event.Has(fsnotify.Rename):
		evType = EventRename
	default:
		return
	}

	fe := FileEvent{Type: evType, Path: filepath.Clean(event.Name)}
	if r.settle <= 0 || evType == EventDelete || evType == EventRename {
		r.deliver(fe)
		return
	}
	r.settleEvent(fe)
}

func (r *Registry) settleEvent(event FileEvent) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	// Merge events: a create stays a create when followed by writes
	if existing, ok := r.pending[event.Path]; !ok || existing.Type != EventCreate {
		r.pending[event.Path] = event
	}

	// Reset timer
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.settle, r.flush)
}

func (r *Registry) flush() {
	r.pendingMu.Lock()
	events := make([]FileEvent, 0, len(r.pending))
	for _, event := range r.pending {
		events = append(events, event)
	}
	r.pending = make(map[string]FileEvent)
	r.pendingMu.Unlock()

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	for _, event := range events {
		r.deliver(event)
	}
}

// deliver blocks until the event is consumed or the registry is closed.
func (r *Registry) deliver(event FileEvent) {
	select {
	case r.events <- event:
	case <-r.done:
	}
}

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "CREATE"
	case EventModify:
		return "MODIFY"
	case EventDelete:
		return "DELETE"
	case EventRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}
