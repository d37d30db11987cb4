package store

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/yoanbernabeu/codetags/codetag"
)

var _ TagStore = (*MemoryStore)(nil)

// MemoryStore is the in-memory TagStore. It is rebuilt from a full scan on
// every start and never persisted.
type MemoryStore struct {
	tags  map[string]codetag.Tag        // id -> tag
	files map[string]map[string]struct{} // abs path -> ids
	mu    sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tags:  make(map[string]codetag.Tag),
		files: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Upsert(tag codetag.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertLocked(tag)
}

func (s *MemoryStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(id)
}

func (s *MemoryStore) RemoveAllForFile(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeFileLocked(path)
}

func (s *MemoryStore) RemoveAllUnder(prefixes []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for path := range s.files {
		for _, prefix := range prefixes {
			if IsUnder(path, prefix) {
				removed += s.removeFileLocked(path)
				break
			}
		}
	}
	return removed
}

func (s *MemoryStore) ReplaceFile(path string, tags []codetag.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeFileLocked(path)
	for _, tag := range tags {
		tag.AbsPath = path
		s.upsertLocked(tag)
	}
}

func (s *MemoryStore) AllTags() []codetag.Tag {
	s.mu.RLock()
	tags := make([]codetag.Tag, 0, len(s.tags))
	for _, tag := range s.tags {
		tags = append(tags, tag)
	}
	s.mu.RUnlock()

	SortTags(tags)
	return tags
}

func (s *MemoryStore) IDsForFile(path string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.files[path]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.tags)
}

func (s *MemoryStore) upsertLocked(tag codetag.Tag) {
	// An id that moves to another file must leave its old file set.
	if old, ok := s.tags[tag.ID]; ok && old.AbsPath != tag.AbsPath {
		s.unlinkLocked(old.AbsPath, tag.ID)
	}
	s.tags[tag.ID] = tag
	set, ok := s.files[tag.AbsPath]
	if !ok {
		set = make(map[string]struct{})
		s.files[tag.AbsPath] = set
	}
	set[tag.ID] = struct{}{}
}

func (s *MemoryStore) removeLocked(id string) {
	tag, ok := s.tags[id]
	if !ok {
		return
	}
	s.unlinkLocked(tag.AbsPath, id)
	delete(s.tags, id)
}

func (s *MemoryStore) removeFileLocked(path string) int {
	set, ok := s.files[path]
	if !ok {
		return 0
	}
	for id := range set {
		delete(s.tags, id)
	}
	delete(s.files, path)
	return len(set)
}

func (s *MemoryStore) unlinkLocked(path, id string) {
	set, ok := s.files[path]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(s.files, path)
	}
}

// IsUnder reports whether path equals prefix or is a descendant of it.
// "foobar/b.py" is not under "foo".
func IsUnder(path, prefix string) bool {
	if path == prefix {
		return true
	}
	prefix = strings.TrimSuffix(prefix, string(os.PathSeparator))
	return strings.HasPrefix(path, prefix+string(os.PathSeparator))
}

// SortTags orders tags by type, relative path, line and id.
func SortTags(tags []codetag.Tag) {
	sort.Slice(tags, func(i, j int) bool {
		a, b := tags[i], tags[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.RelPath != b.RelPath {
			return a.RelPath < b.RelPath
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.ID < b.ID
	})
}
