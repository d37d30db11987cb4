package store

import (
	"github.com/yoanbernabeu/codetags/codetag"
)

// TagStore holds the tags of a single repository, indexed by id and by the
// absolute path of the file that owns them.
//
// Implementations must keep both indexes mutually consistent: an id is listed
// for a file if and only if a tag with that id and path exists. Every method
// is atomic with respect to concurrent callers.
type TagStore interface {
	// Upsert inserts or overwrites a tag by id.
	Upsert(tag codetag.Tag)

	// Remove deletes a tag by id. Removing an unknown id is a no-op.
	Remove(id string)

	// RemoveAllForFile deletes every tag owned by path and returns how many
	// were removed.
	RemoveAllForFile(path string) int

	// RemoveAllUnder deletes every tag whose file equals one of the prefixes
	// or lives below one of them, and returns how many were removed.
	RemoveAllUnder(prefixes []string) int

	// ReplaceFile removes every tag owned by path, then inserts tags.
	ReplaceFile(path string, tags []codetag.Tag)

	// AllTags returns a snapshot of every tag, ordered by type, relative
	// path, line and id.
	AllTags() []codetag.Tag

	// IDsForFile returns a sorted snapshot of the ids owned by path.
	IDsForFile(path string) []string

	// Len returns the number of tags.
	Len() int
}
