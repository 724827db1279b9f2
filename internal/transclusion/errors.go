package transclusion

import (
	"fmt"
	"strings"
)

// MaxDepthExceededError is returned when nested inclusion goes deeper than
// the configured ceiling. Output is never silently truncated.
type MaxDepthExceededError struct {
	Source string
	Depth  int
	Max    int
	Path   []string
}

func (e *MaxDepthExceededError) Error() string {
	return fmt.Sprintf("transclusion depth %d exceeds maximum %d at %s (path: %s)",
		e.Depth, e.Max, e.Source, strings.Join(e.Path, " -> "))
}

// CircularDependencyError is returned when a document would include itself
// through the current resolution chain. Path ends with the repeated target.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return "circular transclusion: " + strings.Join(e.Path, " -> ")
}

// SectionNotFoundError is returned when a directive names a heading the
// target document does not contain.
type SectionNotFoundError struct {
	Target  string
	Heading string
}

func (e *SectionNotFoundError) Error() string {
	return fmt.Sprintf("section %q not found in %s", e.Heading, e.Target)
}

// TargetNotFoundError is returned when a directive names a document that
// cannot be read. Err keeps the collaborator's original failure.
type TargetNotFoundError struct {
	Target string
	Err    error
}

func (e *TargetNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transclusion target %s not found: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("transclusion target %s not found", e.Target)
}

func (e *TargetNotFoundError) Unwrap() error {
	return e.Err
}

// DirectiveError locates a failing directive in its source document. It
// wraps one of the structural errors above.
type DirectiveError struct {
	Source string
	Line   int
	Raw    string
	Err    error
}

func (e *DirectiveError) Error() string {
	return fmt.Sprintf("%s:%d %s: %v", e.Source, e.Line, e.Raw, e.Err)
}

func (e *DirectiveError) Unwrap() error {
	return e.Err
}
