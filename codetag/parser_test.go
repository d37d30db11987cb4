package codetag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() IDSource {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%08X", IDPrefix, n)
	}
}

func writeFile(t *testing.T, path, content string) time.Time {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.ModTime()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestMatchTagLine(t *testing.T) {
	tests := []struct {
		line string
		kw   string
		ok   bool
	}{
		{"// TODO: fix this", "TODO", true},
		{"# FIXME: python style", "FIXME", true},
		{"/* BUG: block comment */", "BUG", true},
		{"x := 1 // NOTE: trailing", "NOTE", true},
		{"// WARN: short form", "WARN", true},
		{"// WARNING: long form", "WARNING", true},
		{"// FIX: short fix", "FIX", true},
		{"TODO: no comment marker", "", false},
		{"s := \"TODO: in string\" // later", "", false},
		{"// todo: lowercase", "", false},
		{"// TODO without colon", "", false},
		{"// see NOTE: first, then TODO: second", "NOTE", true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			kw, _, ok := MatchTagLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kw, kw)
		})
	}
}

func TestFindID(t *testing.T) {
	tests := []struct {
		line string
		id   string
		ok   bool
	}{
		{"// TODO: CT-0A1B2C3D fix", "CT-0A1B2C3D", true},
		{"CT-DEADBEEF", "CT-DEADBEEF", true},
		{"// TODO: fix (CT-12345678)", "CT-12345678", true},
		{"// TODO: CT-0a1b2c3d lowercase", "", false},
		{"// TODO: CT-1234567 too short", "", false},
		{"// TODO: CT-123456789 too long", "", false},
		{"// TODO: xCT-12345678 glued before", "", false},
		{"// TODO: CT-12345678x glued after", "", false},
		{"// TODO: CT-XYZ then CT-ABCDEF01", "CT-ABCDEF01", true},
		{"// id before keyword CT-00000001 TODO: x", "CT-00000001", true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			id, ok := FindID(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestRandomID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := RandomID()
		require.True(t, IsValidID(id), "invalid id %q", id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 95)
}

func TestIsEligible(t *testing.T) {
	p := NewParser()
	assert.True(t, p.IsEligible("/repo/main.go"))
	assert.True(t, p.IsEligible("src/app.py"))
	assert.False(t, p.IsEligible("README.md"))
	assert.False(t, p.IsEligible("Makefile"))
	assert.False(t, p.IsEligible("/repo/codetags.md"))

	custom := NewParser(WithExtensions([]string{".md"}))
	assert.True(t, custom.IsEligible("README.md"))
	assert.False(t, custom.IsEligible("main.go"))
}

func TestParseFile_StampsAndExtracts(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "src", "main.go")
	mtime := writeFile(t, path, "package main\n\n// TODO: fix this\nfunc main() {}\n")

	p := NewParser(WithIDSource(sequentialIDs()))
	tags, err := p.ParseFile(path, root, mtime)
	require.NoError(t, err)
	require.Len(t, tags, 1)

	tag := tags[0]
	assert.Equal(t, "CT-00000001", tag.ID)
	assert.Equal(t, "TODO", tag.Type)
	assert.Equal(t, "fix this", tag.Content)
	assert.Equal(t, 3, tag.Line)
	assert.Equal(t, path, tag.AbsPath)
	assert.Equal(t, "src/main.go", tag.RelPath)

	assert.Equal(t, "package main\n\n// TODO: CT-00000001 fix this\nfunc main() {}\n", readFile(t, path))
}

func TestParseFile_Idempotent(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.py")
	mtime := writeFile(t, path, "# FIXME:   spaced out  \nx = 1\n# BUG: second\n")

	p := NewParser()
	first, err := p.ParseFile(path, root, mtime)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "spaced out", first[0].Content)
	assert.Equal(t, "second", first[1].Content)

	stamped := readFile(t, path)
	assert.Contains(t, stamped, "# FIXME: "+first[0].ID+"   spaced out")
	assert.Contains(t, stamped, "# BUG: "+first[1].ID+" second")

	info, err := os.Stat(path)
	require.NoError(t, err)
	second, err := p.ParseFile(path, root, info.ModTime())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, stamped, readFile(t, path), "reparse must not rewrite the file")
}

func TestParseFile_ReusesExistingIDAnywhereOnLine(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.js")
	content := "// [CT-ABCDEF01] TODO: already stamped\n"
	mtime := writeFile(t, path, content)

	p := NewParser(WithIDSource(sequentialIDs()))
	tags, err := p.ParseFile(path, root, mtime)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "CT-ABCDEF01", tags[0].ID)
	assert.Equal(t, "already stamped", tags[0].Content)
	assert.Equal(t, content, readFile(t, path))
	assert.Equal(t, mtime, tags[0].LastModified)
}

func TestParseFile_KeywordChangeKeepsID(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.go")
	mtime := writeFile(t, path, "// FIXME: CT-0000BEEF was a todo\n")

	tags, err := NewParser().ParseFile(path, root, mtime)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "CT-0000BEEF", tags[0].ID)
	assert.Equal(t, "FIXME", tags[0].Type)
}

func TestParseFile_UnrelatedEditKeepsIDs(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.rs")
	mtime := writeFile(t, path, "fn a() {}\n// TODO: one\n// NOTE: two\n")

	p := NewParser()
	before, err := p.ParseFile(path, root, mtime)
	require.NoError(t, err)
	require.Len(t, before, 2)

	edited := "// header line\n" + readFile(t, path) + "fn b() {}\n"
	mtime = writeFile(t, path, edited)

	after, err := p.ParseFile(path, root, mtime)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, before[1].ID, after[1].ID)
	assert.Equal(t, before[0].Line+1, after[0].Line)
}

func TestParseFile_PreservesMissingTrailingNewline(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.c")
	mtime := writeFile(t, path, "int x;\n/* NOTE: last */")

	_, err := NewParser(WithIDSource(sequentialIDs())).ParseFile(path, root, mtime)
	require.NoError(t, err)
	assert.Equal(t, "int x;\n/* NOTE: CT-00000001 last */", readFile(t, path))
}

func TestParseFile_NoTags(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "plain.go")
	mtime := writeFile(t, path, "package plain\n")

	tags, err := NewParser().ParseFile(path, root, mtime)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestParseFile_MissingFile(t *testing.T) {
	root := t.TempDir()
	_, err := NewParser().ParseFile(filepath.Join(root, "gone.go"), root, time.Now())
	require.Error(t, err)
}

func TestStampLine(t *testing.T) {
	p := NewParser(WithIDSource(sequentialIDs()))

	line, changed := p.StampLine("\t// TODO: indent")
	assert.True(t, changed)
	assert.Equal(t, "\t// TODO: CT-00000001 indent", line)

	line, changed = p.StampLine("// TODO:")
	assert.True(t, changed)
	assert.Equal(t, "// TODO: CT-00000002", line)
	assert.True(t, strings.HasSuffix(line, "CT-00000002"))

	_, changed = p.StampLine("// TODO: CT-00000002 done")
	assert.False(t, changed)

	_, changed = p.StampLine("plain code")
	assert.False(t, changed)
}
