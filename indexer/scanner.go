package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type FileInfo struct {
	Path    string // absolute
	RelPath string // slash-separated, relative to the root
	ModTime time.Time
}

// ScanResult is one walk of a repository tree.
type ScanResult struct {
	// Dirs lists every directory to watch, root included.
	Dirs []string
	// Files are eligible regular files that are not ignored.
	Files []FileInfo
	// Ignored are eligible regular files matched by the ignore rules.
	Ignored []string
}

// Scanner walks a repository and splits its files into indexable and
// ignored sets.
type Scanner struct {
	root     string
	ignore   *IgnoreMatcher
	eligible func(path string) bool
}

// NewScanner returns a scanner for root. eligible filters files by name; a
// nil filter accepts every regular file.
func NewScanner(root string, ignore *IgnoreMatcher, eligible func(path string) bool) *Scanner {
	if eligible == nil {
		eligible = func(string) bool { return true }
	}
	return &Scanner{
		root:     filepath.Clean(root),
		ignore:   ignore,
		eligible: eligible,
	}
}

// Scan walks the whole tree.
func (s *Scanner) Scan() (*ScanResult, error) {
	return s.ScanDir(s.root)
}

// ScanDir walks the subtree rooted at dir, which must lie inside the root.
// Unreadable entries below dir are skipped.
func (s *Scanner) ScanDir(dir string) (*ScanResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	result := &ScanResult{}
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil // Skip inaccessible paths
		}

		if d.IsDir() {
			if path != s.root && s.ignore.IsSkipDir(d.Name()) {
				return filepath.SkipDir
			}
			result.Dirs = append(result.Dirs, path)
			return nil
		}

		if !d.Type().IsRegular() || !s.eligible(path) {
			return nil
		}

		if s.ignore.ShouldIgnore(path, false) {
			result.Ignored = append(result.Ignored, path)
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil // Vanished between readdir and stat
		}
		relPath, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		result.Files = append(result.Files, FileInfo{
			Path:    path,
			RelPath: filepath.ToSlash(relPath),
			ModTime: fi.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	return result, nil
}
