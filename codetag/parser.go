package codetag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultExtensions is the allow-list of file extensions scanned for tags.
var DefaultExtensions = []string{
	".cpp", ".h", ".hpp", ".c",
	".java", ".js", ".ts", ".py",
	".rb", ".go", ".rs", ".php",
}

var commentMarkers = []string{"//", "/*", "#"}

// Parser extracts tags from source files and stamps missing identifiers.
type Parser struct {
	extensions map[string]bool
	newID      IDSource
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithIDSource replaces the random identifier source, e.g. with a
// deterministic one for reproducible fixtures.
func WithIDSource(src IDSource) ParserOption {
	return func(p *Parser) {
		if src != nil {
			p.newID = src
		}
	}
}

// WithExtensions replaces the extension allow-list.
func WithExtensions(exts []string) ParserOption {
	return func(p *Parser) {
		if len(exts) == 0 {
			return
		}
		p.extensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			p.extensions[ext] = true
		}
	}
}

func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		extensions: make(map[string]bool, len(DefaultExtensions)),
		newID:      RandomID,
	}
	for _, ext := range DefaultExtensions {
		p.extensions[ext] = true
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsEligible reports whether path has an allow-listed extension.
// Extension-less paths are never eligible.
func (p *Parser) IsEligible(path string) bool {
	ext := filepath.Ext(path)
	if ext == "" {
		return false
	}
	return p.extensions[ext]
}

// ParseFile reads absPath, stamps every tag line that has no identifier yet,
// rewrites the file if anything changed and returns the file's tags.
//
// mtime is used as LastModified unless the file was rewritten, in which case
// the refreshed modification time is used instead. RelPath is computed here,
// against repoRoot, and never recomputed later.
func (p *Parser) ParseFile(absPath, repoRoot string, mtime time.Time) ([]Tag, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", absPath, err)
	}

	lines, trailingNewline := splitLines(string(data))

	modified := false
	for i, line := range lines {
		stamped, changed := p.StampLine(line)
		if changed {
			lines[i] = stamped
			modified = true
		}
	}

	if modified {
		if err := writeLines(absPath, lines, trailingNewline); err != nil {
			return nil, err
		}
		if info, err := os.Stat(absPath); err == nil {
			mtime = info.ModTime()
		}
	}

	relPath := relativePath(absPath, repoRoot)

	var tags []Tag
	for i, line := range lines {
		kw, pos, ok := MatchTagLine(line)
		if !ok {
			continue
		}
		// Every tag line carries an id at this point.
		id, _ := FindID(line)
		tags = append(tags, Tag{
			ID:           id,
			Type:         kw,
			Content:      extractContent(line, kw, pos, id),
			AbsPath:      absPath,
			RelPath:      relPath,
			Line:         i + 1,
			LastModified: mtime,
		})
	}

	return tags, nil
}

// StampLine inserts a new identifier right after the keyword's colon when
// line is a tag line without an identifier. It returns the (possibly
// unchanged) line and whether it was modified.
func (p *Parser) StampLine(line string) (string, bool) {
	kw, pos, ok := MatchTagLine(line)
	if !ok || HasID(line) {
		return line, false
	}
	insertAt := pos + len(kw) + 1
	return line[:insertAt] + " " + p.newID() + line[insertAt:], true
}

// MatchTagLine finds the earliest "KEYWORD:" occurrence on the line that is
// preceded (at or before its position) by a comment marker. It returns the
// keyword and its byte offset.
func MatchTagLine(line string) (string, int, bool) {
	marker := firstCommentMarker(line)
	if marker < 0 {
		return "", -1, false
	}

	bestKW := ""
	bestPos := -1
	for _, kw := range Keywords {
		pos := strings.Index(line, kw+":")
		if pos < 0 || marker > pos {
			continue
		}
		if bestPos < 0 || pos < bestPos {
			bestKW = kw
			bestPos = pos
		}
	}
	if bestPos < 0 {
		return "", -1, false
	}
	return bestKW, bestPos, true
}

func firstCommentMarker(line string) int {
	first := -1
	for _, m := range commentMarkers {
		if i := strings.Index(line, m); i >= 0 && (first < 0 || i < first) {
			first = i
		}
	}
	return first
}

// extractContent returns the text after the keyword's colon, with the first
// occurrence of id removed and surrounding whitespace trimmed.
func extractContent(line, kw string, pos int, id string) string {
	rest := line[pos+len(kw)+1:]
	if i := strings.Index(rest, id); i >= 0 {
		rest = rest[:i] + rest[i+len(id):]
	}
	return strings.TrimSpace(rest)
}

func relativePath(absPath, repoRoot string) string {
	rel, err := filepath.Rel(repoRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(absPath)
	}
	return filepath.ToSlash(rel)
}

func splitLines(content string) ([]string, bool) {
	if content == "" {
		return nil, false
	}
	trailing := strings.HasSuffix(content, "\n")
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n"), trailing
}

// writeLines rewrites the file in place. The existing file mode is kept
// because os.WriteFile only applies the permission on creation.
func writeLines(path string, lines []string, trailingNewline bool) error {
	var b strings.Builder
	for i, line := range lines {
		b.WriteString(line)
		if i < len(lines)-1 || trailingNewline {
			b.WriteByte('\n')
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", path, err)
	}
	return nil
}
