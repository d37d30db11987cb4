package config

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegistryLine(t *testing.T) {
	tests := []struct {
		line string
		want Repository
		ok   bool
	}{
		{"app:/src/app", Repository{Name: "app", Root: "/src/app"}, true},
		{"app:/src/with:colon", Repository{Name: "app", Root: "/src/with:colon"}, true},
		{" app : /src/app/ ", Repository{Name: "app", Root: "/src/app"}, true},
		{"no-colon", Repository{}, false},
		{":/missing/name", Repository{}, false},
		{"missing-path:", Repository{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseRegistryLine(tt.line)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidRegistryLine)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadRegistry_MissingFile(t *testing.T) {
	repos, warnings, err := LoadRegistry(filepath.Join(t.TempDir(), RegistryFileName))
	require.NoError(t, err)
	assert.Empty(t, repos)
	assert.Empty(t, warnings)
}

func TestLoadRegistry_SkipsBadLinesAndDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), RegistryFileName)
	content := "a:/src/a\n\ngarbage\nb:/src/b\na:/elsewhere/a\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	repos, warnings, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, []Repository{
		{Name: "a", Root: "/src/a"},
		{Name: "b", Root: "/src/b"},
	}, repos)
	require.Len(t, warnings, 1)
	assert.True(t, errors.Is(warnings[0], ErrInvalidRegistryLine))
}

func TestRegisterAndUnregister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home", RegistryFileName)
	a := Repository{Name: "a", Root: "/src/a"}
	b := Repository{Name: "b", Root: "/src/b"}

	changed, err := Register(path, a)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = Register(path, b)
	require.NoError(t, err)
	assert.True(t, changed)

	// Registration is idempotent by name
	changed, err = Register(path, Repository{Name: "a", Root: "/other"})
	require.NoError(t, err)
	assert.False(t, changed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a:/src/a\nb:/src/b\n", string(data))

	removed, err := Unregister(path, "a")
	require.NoError(t, err)
	assert.Equal(t, a, removed)

	_, err = Unregister(path, "a")
	assert.ErrorIs(t, err, ErrRepoNotRegistered)

	repos, _, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, []Repository{b}, repos)
}

func TestRegister_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), RegistryFileName)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			_, err := Register(path, Repository{Name: name, Root: "/src/" + name})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	repos, _, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Len(t, repos, 10)
}

func TestRepositoryFor_PlainDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "project")
	require.NoError(t, os.Mkdir(dir, 0755))

	repo, err := RepositoryFor(dir)
	require.NoError(t, err)
	assert.Equal(t, "project", repo.Name)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, repo.Root)
}

func TestRepositoryFor_GitSubdirectory(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	root := filepath.Join(t.TempDir(), "myrepo")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0755))
	if out, err := exec.Command("git", "init", root).CombinedOutput(); err != nil {
		t.Fatalf("git init failed: %v: %s", err, out)
	}

	repo, err := RepositoryFor(filepath.Join(root, "src"))
	require.NoError(t, err)
	assert.Equal(t, "myrepo", repo.Name)
	assert.True(t, strings.HasSuffix(repo.Root, "myrepo"), "root %q", repo.Root)

	fromRoot, err := RepositoryFor(root)
	require.NoError(t, err)
	assert.Equal(t, fromRoot, repo, "subdirectory and root must register the same entry")
}
