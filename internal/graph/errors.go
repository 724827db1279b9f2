package graph

import (
	"errors"
	"strings"
)

// Sentinel errors for graph construction misuse.
var (
	// ErrUnknownNode is returned when an edge or query references a
	// document that was never registered in the current build pass.
	ErrUnknownNode = errors.New("unknown node")

	// ErrDuplicateNode is returned when a document id is registered twice
	// in the same build pass.
	ErrDuplicateNode = errors.New("duplicate node")
)

// CycleError reports that no valid loading order exists. Path is the full
// cycle, starting and ending with the same document.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}
