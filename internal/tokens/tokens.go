// Package tokens provides pluggable token counting for budget math.
//
// The optimizer never calls a counter directly: it goes through a
// Fallback, which degrades to a word-based estimate when the configured
// counter fails, so budget accounting never hard-fails.
package tokens

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Counter counts the tokens in a piece of text.
type Counter interface {
	Count(text string) (int, error)
}

// CounterFunc adapts a function to the Counter interface.
type CounterFunc func(text string) (int, error)

// Count calls f(text).
func (f CounterFunc) Count(text string) (int, error) {
	return f(text)
}

// ─── Built-in counters ──────────────────────────────────────────────────────

// Heuristic approximates tokens as runes/4, the usual calibration for
// GPT/Claude tokenizers. Non-empty text counts as at least one token.
type Heuristic struct{}

// Count never fails.
func (Heuristic) Count(text string) (int, error) {
	return Estimate(text), nil
}

// Estimate is the Heuristic count as a plain function.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	if n < 4 {
		return 1
	}
	return n / 4
}

// Words estimates tokens from whitespace-delimited words, at 4 tokens per
// 3 words. It is the guaranteed fallback.
type Words struct{}

// Count never fails.
func (Words) Count(text string) (int, error) {
	return CountWords(text), nil
}

// CountWords is the Words count as a plain function.
func CountWords(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	if n := words * 4 / 3; n > 0 {
		return n
	}
	return 1
}

// ByName returns the built-in counter called name ("heuristic" or "words").
func ByName(name string) (Counter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "heuristic":
		return Heuristic{}, nil
	case "words":
		return Words{}, nil
	default:
		return nil, fmt.Errorf("unknown token counter %q (valid: heuristic, words)", name)
	}
}

// ─── Fallback ───────────────────────────────────────────────────────────────

// Fallback wraps a primary counter with the Words estimate. It is safe
// for concurrent use.
type Fallback struct {
	primary   Counter
	log       *zap.Logger
	once      sync.Once
	estimated atomic.Bool
}

// WithFallback returns a counter that uses primary and falls back to Words
// when primary is nil or returns an error. The switch is logged once.
func WithFallback(primary Counter, log *zap.Logger) *Fallback {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fallback{primary: primary, log: log}
}

// Count returns the primary count, or the word estimate on failure. It
// never returns an error; the signature satisfies Counter.
func (f *Fallback) Count(text string) (int, error) {
	return f.Tokens(text), nil
}

// Tokens is Count without the error.
func (f *Fallback) Tokens(text string) int {
	n, _ := f.Measure(text)
	return n
}

// Measure counts text and reports whether this count is a word estimate.
func (f *Fallback) Measure(text string) (n int, estimated bool) {
	if f.primary != nil {
		exact, err := f.primary.Count(text)
		if err == nil {
			return exact, false
		}
		f.degrade(err)
	} else {
		f.degrade(nil)
	}
	return CountWords(text), true
}

// Estimated reports whether any count so far, across all callers, came
// from the fallback. Use Measure to track a single operation.
func (f *Fallback) Estimated() bool {
	return f.estimated.Load()
}

func (f *Fallback) degrade(err error) {
	f.estimated.Store(true)
	f.once.Do(func() {
		f.log.Warn("token counter unavailable, using word-count estimates", zap.Error(err))
	})
}

// ─── Formatting ─────────────────────────────────────────────────────────────

// Footer returns a one-line footer with an estimated token count, appended
// to read-heavy tool responses.
func Footer(n int) string {
	return fmt.Sprintf("\n📏 ~%s tokens", FormatNumber(n))
}

// FormatNumber formats an integer with comma separators.
func FormatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}
