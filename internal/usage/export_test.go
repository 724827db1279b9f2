package usage

import "time"

// SetClock replaces the store clock for tests in usage_test.
// This file only compiles during `go test`.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}
