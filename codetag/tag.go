// Package codetag detects codetag comments (TODO, FIXME, BUG, ...) in source
// files, stamps them with stable identifiers and turns them into Tag records.
//
// A line is a tag line when it contains a recognized keyword immediately
// followed by a colon, and a comment marker ("//", "/*" or "#") appears at or
// before the keyword. This is a proximity heuristic, not a lexer: a keyword
// inside a string literal that follows a "#" will also match.
//
// Lines without an identifier are rewritten in place so that the identifier
// directly follows the keyword's colon:
//
//	// TODO: fix this          ->  // TODO: CT-0A1B2C3D fix this
//
// Identifiers already present anywhere on the line are reused verbatim.
package codetag

import (
	"time"
)

// Keywords lists the recognized tag types in the order they are tried.
var Keywords = []string{"NOTE", "TODO", "WARNING", "WARN", "FIXME", "FIX", "BUG"}

// Tag is a single codetag found in a source file.
type Tag struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Content      string    `json:"content"`
	AbsPath      string    `json:"abs_path"`
	RelPath      string    `json:"rel_path"` // slash-separated, relative to the repository root
	Line         int       `json:"line"`     // 1-indexed
	LastModified time.Time `json:"last_modified"`
}
