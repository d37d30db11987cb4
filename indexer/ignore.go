package indexer

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"
)

const (
	DefaultIgnoreFile = ".ctagsignore"
	gitignoreFile     = ".gitignore"
)

// DefaultSkipDirs are never walked nor watched.
var DefaultSkipDirs = []string{".git"}

type IgnoreOptions struct {
	// FileName is the per-repository ignore file, relative to the root.
	FileName string
	// RespectGitignore layers every .gitignore found in the tree on top of
	// the ignore file.
	RespectGitignore bool
	// SkipDirs are directory base names excluded from walks and watches.
	SkipDirs []string
}

// pattern is one compiled line of the ignore file.
type pattern struct {
	glob     string
	dirOnly  bool // trailing "/"
	anchored bool // leading "/"
	bad      bool // malformed, never matches
}

// nestedMatcher holds a gitignore matcher and its base directory
type nestedMatcher struct {
	matcher *ignore.GitIgnore
	baseDir string // slash path relative to the root, empty for the root .gitignore
}

// IgnoreMatcher decides whether repository paths are excluded from scanning.
// It is safe for concurrent use; Reload swaps the pattern set atomically.
type IgnoreMatcher struct {
	root     string
	opts     IgnoreOptions
	skipDirs map[string]bool

	mu             sync.RWMutex
	patterns       []pattern
	nestedMatchers []nestedMatcher
}

func NewIgnoreMatcher(root string, opts IgnoreOptions) (*IgnoreMatcher, error) {
	if opts.FileName == "" {
		opts.FileName = DefaultIgnoreFile
	}
	if opts.SkipDirs == nil {
		opts.SkipDirs = DefaultSkipDirs
	}

	m := &IgnoreMatcher{
		root:     filepath.Clean(root),
		opts:     opts,
		skipDirs: make(map[string]bool, len(opts.SkipDirs)),
	}
	for _, dir := range opts.SkipDirs {
		m.skipDirs[dir] = true
	}

	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// IgnoreFilePath returns the absolute path of the ignore file.
func (m *IgnoreMatcher) IgnoreFilePath() string {
	return filepath.Join(m.root, m.opts.FileName)
}

// Reload re-reads the ignore file and, when enabled, the .gitignore files.
// A missing ignore file yields an empty pattern set. On a read error the
// previous patterns are kept.
func (m *IgnoreMatcher) Reload() error {
	patterns, err := loadPatterns(m.IgnoreFilePath())
	if err != nil {
		return err
	}

	var nested []nestedMatcher
	if m.opts.RespectGitignore {
		nested = m.loadGitignores()
	}

	m.mu.Lock()
	m.patterns = patterns
	m.nestedMatchers = nested
	m.mu.Unlock()
	return nil
}

// IsIgnoreFile reports whether absPath is a file whose change requires a
// Reload: the ignore file itself, or any .gitignore when they are respected.
func (m *IgnoreMatcher) IsIgnoreFile(absPath string) bool {
	if filepath.Clean(absPath) == m.IgnoreFilePath() {
		return true
	}
	return m.opts.RespectGitignore && filepath.Base(absPath) == gitignoreFile
}

// IsSkipDir reports whether a directory with this base name is never walked.
func (m *IgnoreMatcher) IsSkipDir(name string) bool {
	return m.skipDirs[name]
}

// ShouldIgnore converts absPath to a root-relative path and matches it.
// The root itself is never ignored; paths outside the root are matched as
// given.
func (m *IgnoreMatcher) ShouldIgnore(absPath string, isDir bool) bool {
	rel, err := filepath.Rel(m.root, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = absPath
	}
	if rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)

	if m.Match(rel, isDir) {
		return true
	}
	return m.matchGitignore(rel, isDir)
}

// Match evaluates the ignore-file patterns against a slash-separated path
// relative to the root. The path itself and each of its ancestor directories
// are candidates; a pattern ending in "/" only matches directory candidates.
func (m *IgnoreMatcher) Match(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.patterns {
		if p.matches(rel, isDir) {
			return true
		}
	}
	return false
}

func (p pattern) matches(rel string, isDir bool) bool {
	if p.bad {
		return false
	}
	candidate, candidateIsDir := rel, isDir
	for {
		if (!p.dirOnly || candidateIsDir) && p.matchCandidate(candidate) {
			return true
		}
		i := strings.LastIndexByte(candidate, '/')
		if i < 0 {
			return false
		}
		candidate, candidateIsDir = candidate[:i], true
	}
}

// matchCandidate applies the glob to the candidate. Unanchored patterns may
// also match any "/"-delimited suffix, i.e. at any depth.
func (p pattern) matchCandidate(candidate string) bool {
	if globMatch(p.glob, candidate) {
		return true
	}
	if p.anchored {
		return false
	}
	for i := 0; i < len(candidate); i++ {
		if candidate[i] == '/' && globMatch(p.glob, candidate[i+1:]) {
			return true
		}
	}
	return false
}

func globMatch(glob, name string) bool {
	ok, err := path.Match(glob, name)
	return err == nil && ok
}

func compilePattern(line string) pattern {
	p := pattern{glob: line}
	if strings.HasSuffix(p.glob, "/") {
		p.dirOnly = true
		p.glob = strings.TrimRight(p.glob, "/")
	}
	if strings.HasPrefix(p.glob, "/") {
		p.anchored = true
		p.glob = strings.TrimLeft(p.glob, "/")
	}
	if _, err := path.Match(p.glob, ""); err != nil {
		p.bad = true
	}
	return p
}

// parsePatterns compiles ignore-file content. Blank lines and lines starting
// with "#" or a space are skipped.
func parsePatterns(content []byte) []pattern {
	var patterns []pattern
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" || line[0] == '#' || line[0] == ' ' {
			continue
		}
		p := compilePattern(line)
		if p.glob == "" {
			continue
		}
		patterns = append(patterns, p)
	}
	return patterns
}

func loadPatterns(file string) ([]pattern, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ignore file: %w", err)
	}
	return parsePatterns(content), nil
}

// loadGitignores walks the tree and compiles every .gitignore it finds.
func (m *IgnoreMatcher) loadGitignores() []nestedMatcher {
	var nested []nestedMatcher
	_ = filepath.WalkDir(m.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths
		}
		if d.IsDir() {
			if p != m.root && m.IsSkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != gitignoreFile {
			return nil
		}

		gi, err := ignore.CompileIgnoreFile(p)
		if err != nil {
			return nil // Skip invalid .gitignore files
		}
		relPath, err := filepath.Rel(m.root, filepath.Dir(p))
		if err != nil {
			return nil
		}
		if relPath == "." {
			relPath = ""
		}
		nested = append(nested, nestedMatcher{
			matcher: gi,
			baseDir: filepath.ToSlash(relPath),
		})
		return nil
	})
	return nested
}

// matchGitignore checks rel against the nested .gitignore files. A trailing
// "/" is only offered for directories, so a "build/" rule skips a file named
// build but still covers everything below a build directory.
func (m *IgnoreMatcher) matchGitignore(rel string, isDir bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.nestedMatchers) == 0 {
		return false
	}

	candidates := []string{rel}
	if isDir {
		candidates[0] = rel + "/"
	}
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		candidates = append(candidates, dir+"/")
	}

	for _, nm := range m.nestedMatchers {
		for _, c := range candidates {
			relPath := matcherRelPath(strings.TrimSuffix(c, "/"), nm.baseDir)
			if relPath == "" {
				continue
			}
			if strings.HasSuffix(c, "/") {
				relPath += "/"
			}
			if nm.matcher.MatchesPath(relPath) {
				return true
			}
		}
	}
	return false
}

// matcherRelPath computes the path relative to a matcher's base directory.
// Returns empty string if the path is outside the matcher's scope.
func matcherRelPath(rel, baseDir string) string {
	if baseDir == "" {
		return rel
	}
	if rel == baseDir {
		return ""
	}
	if strings.HasPrefix(rel, baseDir+"/") {
		return strings.TrimPrefix(rel, baseDir+"/")
	}
	return ""
}
