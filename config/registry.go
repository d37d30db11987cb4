package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yoanbernabeu/codetags/git"
	"github.com/yoanbernabeu/codetags/internal/fileutil"
)

var (
	ErrRepoNotRegistered   = errors.New("repository is not registered")
	ErrInvalidRegistryLine = errors.New("invalid registry line")
)

// Repository is one registered source tree.
type Repository struct {
	Name string `json:"name"`
	Root string `json:"root"`
}

func (r Repository) String() string {
	return r.Name + ":" + r.Root
}

// ParseRegistryLine parses "name:absolute_path". The name ends at the first
// colon so that paths may contain colons.
func ParseRegistryLine(line string) (Repository, error) {
	name, root, ok := strings.Cut(line, ":")
	name = strings.TrimSpace(name)
	root = strings.TrimSpace(root)
	if !ok || name == "" || root == "" {
		return Repository{}, fmt.Errorf("%w: %q", ErrInvalidRegistryLine, line)
	}
	return Repository{Name: name, Root: filepath.Clean(root)}, nil
}

// LoadRegistry reads the registration list. A missing file is an empty list.
// Blank lines are skipped, malformed lines are returned as warnings, and a
// repeated name keeps its first entry.
func LoadRegistry(path string) ([]Repository, []error, error) {
	lock, err := fileutil.LockShared(path + ".lock")
	if err != nil {
		return nil, nil, err
	}
	defer lock.Unlock()

	return readRegistry(path)
}

func readRegistry(path string) ([]Repository, []error, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read registry: %w", err)
	}
	defer f.Close()

	var repos []Repository
	var warnings []error
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		repo, err := ParseRegistryLine(line)
		if err != nil {
			warnings = append(warnings, err)
			continue
		}
		if seen[repo.Name] {
			continue
		}
		seen[repo.Name] = true
		repos = append(repos, repo)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read registry: %w", err)
	}
	return repos, warnings, nil
}

// Register appends repo unless its name is already registered. It reports
// whether the registry changed.
func Register(path string, repo Repository) (bool, error) {
	changed := false
	err := updateRegistry(path, func(repos []Repository) []Repository {
		for _, r := range repos {
			if r.Name == repo.Name {
				return repos
			}
		}
		changed = true
		return append(repos, repo)
	})
	return changed, err
}

// Unregister removes the entry named name and returns it.
func Unregister(path, name string) (Repository, error) {
	var removed Repository
	found := false
	err := updateRegistry(path, func(repos []Repository) []Repository {
		kept := repos[:0]
		for _, r := range repos {
			if r.Name == name {
				removed = r
				found = true
				continue
			}
			kept = append(kept, r)
		}
		return kept
	})
	if err != nil {
		return Repository{}, err
	}
	if !found {
		return Repository{}, fmt.Errorf("%w: %s", ErrRepoNotRegistered, name)
	}
	return removed, nil
}

// updateRegistry rewrites the registry under an exclusive lock. Malformed
// lines are dropped on rewrite.
func updateRegistry(path string, update func([]Repository) []Repository) error {
	lock, err := fileutil.LockExclusive(path + ".lock")
	if err != nil {
		return err
	}
	defer lock.Unlock()

	repos, _, err := readRegistry(path)
	if err != nil {
		return err
	}
	repos = update(repos)

	var b strings.Builder
	for _, r := range repos {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	if err := fileutil.WriteFileAtomically(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}

// RepositoryFor builds the registration entry for dir: the git work tree
// containing dir when there is one, dir itself otherwise. The name is the
// root's base name; a linked worktree is named "<main>@<worktree>" so it does
// not collide with its main checkout.
func RepositoryFor(dir string) (Repository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Repository{}, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	// Resolve symlinks to handle symlinked directories
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return Repository{}, fmt.Errorf("failed to resolve symlinks: %w", err)
	}

	repo := Repository{Name: filepath.Base(abs), Root: abs}
	info, err := git.Detect(abs)
	if err != nil {
		// Not in a git repo - register the directory itself
		return repo, nil
	}

	repo.Root = info.Root
	repo.Name = filepath.Base(info.Root)
	if info.IsWorktree {
		repo.Name = filepath.Base(info.MainWorktree) + "@" + repo.Name
	}
	return repo, nil
}
