package supervisor

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yoanbernabeu/codetags/config"
)

const (
	waitFor = 5 * time.Second
	tick    = 20 * time.Millisecond
)

type lifecycleLog struct {
	mu     sync.Mutex
	events []string
}

func (l *lifecycleLog) record(repo config.Repository, state, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, repo.Name+":"+state)
}

func (l *lifecycleLog) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func (l *lifecycleLog) count(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == event {
			n++
		}
	}
	return n
}

func newRepo(t *testing.T, name, tagLine string) config.Repository {
	t.Helper()
	root := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(root, 0755))
	if tagLine != "" {
		require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte(tagLine+"\n"), 0644))
	}
	return config.Repository{Name: name, Root: root}
}

func activeNames(s *Supervisor) string {
	var names []string
	for _, r := range s.Active() {
		names = append(names, r.Name)
	}
	return strings.Join(names, ",")
}

type harness struct {
	home   string
	sup    *Supervisor
	events *lifecycleLog
	cancel context.CancelFunc
	done   chan error
}

func startSupervisor(t *testing.T, home string, reconcile time.Duration) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Watch.ReconcileIntervalMs = int(reconcile / time.Millisecond)

	h := &harness{home: home, events: &lifecycleLog{}, done: make(chan error, 1)}
	ready := make(chan []config.Repository, 1)
	h.sup = New(Options{
		Home:        home,
		Config:      cfg,
		Logger:      log.New(io.Discard, "", 0),
		OnReady:     func(active []config.Repository) { ready <- active },
		OnLifecycle: h.events.record,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.sup.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	select {
	case <-ready:
	case err := <-h.done:
		t.Fatalf("Run() returned early: %v", err)
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for supervisor")
	}
	return h
}

func TestSupervisor_StartsRegisteredRepositories(t *testing.T) {
	home := t.TempDir()
	a := newRepo(t, "alpha", "// TODO: a")
	b := newRepo(t, "beta", "# NOTE: b")
	for _, r := range []config.Repository{a, b} {
		_, err := config.Register(config.GetRegistryPath(home), r)
		require.NoError(t, err)
	}

	h := startSupervisor(t, home, time.Hour)

	assert.Equal(t, "alpha,beta", activeNames(h.sup))
	st, ok := h.sup.Store("alpha")
	require.True(t, ok)
	assert.Equal(t, 1, st.Len())
	assert.FileExists(t, filepath.Join(a.Root, "codetags.md"))

	_, ok = h.sup.Store("gamma")
	assert.False(t, ok)
}

func TestSupervisor_FollowsRegistryChanges(t *testing.T) {
	home := t.TempDir()
	registry := config.GetRegistryPath(home)
	a := newRepo(t, "alpha", "// TODO: a")
	_, err := config.Register(registry, a)
	require.NoError(t, err)

	h := startSupervisor(t, home, time.Hour)
	require.Equal(t, "alpha", activeNames(h.sup))
	stA, _ := h.sup.Store("alpha")

	b := newRepo(t, "beta", "// BUG: b")
	_, err = config.Register(registry, b)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return activeNames(h.sup) == "alpha,beta" }, waitFor, tick)

	// Adding beta leaves alpha's engine and store untouched.
	stA2, _ := h.sup.Store("alpha")
	assert.Same(t, stA, stA2)

	_, err = config.Unregister(registry, "alpha")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return activeNames(h.sup) == "beta" }, waitFor, tick)
	assert.True(t, h.events.has("alpha:removed"))
}

func TestSupervisor_ChangedRootRestarts(t *testing.T) {
	home := t.TempDir()
	registry := config.GetRegistryPath(home)
	first := newRepo(t, "proj", "// TODO: first")
	second := newRepo(t, "proj", "// TODO: one\n// TODO: two")
	_, err := config.Register(registry, first)
	require.NoError(t, err)

	h := startSupervisor(t, home, time.Hour)
	require.Equal(t, "proj", activeNames(h.sup))

	_, err = config.Unregister(registry, "proj")
	require.NoError(t, err)
	_, err = config.Register(registry, second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		active := h.sup.Active()
		return len(active) == 1 && active[0].Root == second.Root
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		st, ok := h.sup.Store("proj")
		return ok && st.Len() == 2
	}, waitFor, tick)
}

func TestSupervisor_SkipsMissingRoots(t *testing.T) {
	home := t.TempDir()
	registry := config.GetRegistryPath(home)
	a := newRepo(t, "alpha", "")
	missing := config.Repository{Name: "ghost", Root: filepath.Join(t.TempDir(), "nope")}
	for _, r := range []config.Repository{a, missing} {
		_, err := config.Register(registry, r)
		require.NoError(t, err)
	}

	h := startSupervisor(t, home, time.Hour)

	assert.Equal(t, "alpha", activeNames(h.sup))
	assert.True(t, h.events.has("ghost:skipped"))
}

func TestSupervisor_ReportsMissingRootOnce(t *testing.T) {
	home := t.TempDir()
	registry := config.GetRegistryPath(home)
	missing := config.Repository{Name: "ghost", Root: filepath.Join(t.TempDir(), "nope")}
	_, err := config.Register(registry, missing)
	require.NoError(t, err)

	h := startSupervisor(t, home, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, h.events.count("ghost:skipped"))

	// Once the root exists the repository starts; losing it again is new.
	require.NoError(t, os.MkdirAll(missing.Root, 0755))
	require.Eventually(t, func() bool { return activeNames(h.sup) == "ghost" }, waitFor, tick)
	require.NoError(t, os.RemoveAll(missing.Root))
	require.Eventually(t, func() bool { return h.events.count("ghost:skipped") == 2 }, waitFor, tick)
}

func TestSupervisor_RetriesFailedStart(t *testing.T) {
	home := t.TempDir()
	broken := newRepo(t, "broken", "// TODO: later")
	// An unreadable ignore file fails the engine's start.
	ignorePath := filepath.Join(broken.Root, ".ctagsignore")
	require.NoError(t, os.Mkdir(ignorePath, 0755))
	_, err := config.Register(config.GetRegistryPath(home), broken)
	require.NoError(t, err)

	h := startSupervisor(t, home, 50*time.Millisecond)
	assert.Empty(t, h.sup.Active())
	assert.True(t, h.events.has("broken:error"))

	require.NoError(t, os.Remove(ignorePath))
	require.Eventually(t, func() bool { return activeNames(h.sup) == "broken" }, waitFor, tick)
}

func TestSupervisor_ShutdownStopsEngines(t *testing.T) {
	home := t.TempDir()
	a := newRepo(t, "alpha", "// TODO: a")
	_, err := config.Register(config.GetRegistryPath(home), a)
	require.NoError(t, err)

	h := startSupervisor(t, home, time.Hour)
	require.Equal(t, "alpha", activeNames(h.sup))

	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
		h.done <- err
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for Run to return")
	}
	assert.Empty(t, h.sup.Active())
	assert.True(t, h.events.has("alpha:stopped"))
}

func TestSupervisor_EmptyRegistry(t *testing.T) {
	h := startSupervisor(t, t.TempDir(), time.Hour)
	assert.Empty(t, h.sup.Active())
}
