// Package summary renders a repository's tags as the codetags.md artifact.
package summary

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"github.com/yoanbernabeu/codetags/codetag"
)

const (
	DefaultFileName = "codetags.md"
	Header          = "# Codetags\n"
	TimeLayout      = "2006-01-02 15:04:05"
)

// Render builds the artifact: one "## TYPE" section per tag type in type
// order, entries ordered by relative path, line and id. Timestamps are
// rendered in local time.
func Render(tags []codetag.Tag) []byte {
	grouped := make(map[string][]codetag.Tag)
	for _, tag := range tags {
		grouped[tag.Type] = append(grouped[tag.Type], tag)
	}

	types := make([]string, 0, len(grouped))
	for t := range grouped {
		types = append(types, t)
	}
	sort.Strings(types)

	var buf bytes.Buffer
	buf.WriteString(Header)
	for _, t := range types {
		entries := grouped[t]
		sort.Slice(entries, func(i, j int) bool {
			a, b := entries[i], entries[j]
			if a.RelPath != b.RelPath {
				return a.RelPath < b.RelPath
			}
			if a.Line != b.Line {
				return a.Line < b.Line
			}
			return a.ID < b.ID
		})

		fmt.Fprintf(&buf, "## %s\n", t)
		for _, tag := range entries {
			fmt.Fprintf(&buf, "- **[%s]** %s\n", tag.ID, tag.Content)
			fmt.Fprintf(&buf, "  - *File:* %s:%d\n", tag.RelPath, tag.Line)
			fmt.Fprintf(&buf, "  - *Modified:* %s\n", tag.LastModified.Local().Format(TimeLayout))
		}
	}
	return buf.Bytes()
}

// Writer regenerates one artifact file. Content identical to what is on
// disk is not written again, so the writer's own notifications settle. The
// file is re-read whenever its mtime or size differ from the last write, so
// a hand edit is overwritten. A missing artifact is always written.
type Writer struct {
	path string

	mu    sync.Mutex
	last  []byte
	mtime time.Time
	size  int64
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

func (w *Writer) Path() string {
	return w.path
}

// Write renders tags and replaces the artifact atomically. It reports whether
// the file was written.
func (w *Writer) Write(tags []codetag.Tag) (bool, error) {
	content := Render(tags)

	w.mu.Lock()
	defer w.mu.Unlock()

	if info, err := os.Stat(w.path); err == nil {
		if w.last == nil || !info.ModTime().Equal(w.mtime) || info.Size() != w.size {
			w.last = nil
			if existing, err := os.ReadFile(w.path); err == nil {
				w.remember(existing, info)
			}
		}
		if w.last != nil && bytes.Equal(w.last, content) {
			return false, nil
		}
	}

	if err := atomic.WriteFile(w.path, bytes.NewReader(content)); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", w.path, err)
	}
	if info, err := os.Stat(w.path); err == nil {
		w.remember(content, info)
	} else {
		w.last = nil
	}
	return true, nil
}

func (w *Writer) remember(content []byte, info os.FileInfo) {
	w.last = content
	w.mtime = info.ModTime()
	w.size = info.Size()
}

// WriteEmpty creates an artifact holding only the header.
func WriteEmpty(path string) error {
	if err := atomic.WriteFile(path, bytes.NewReader([]byte(Header))); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
