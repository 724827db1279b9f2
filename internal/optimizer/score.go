package optimizer

import (
	"context"
	"math"
	"path"
	"regexp"
	"strings"
	"time"
)

// ─── Access signals ─────────────────────────────────────────────────────────

// Signal is the usage history of one document.
type Signal struct {
	LastAccessAge time.Duration
	AccessCount   int
}

// SignalSource supplies access signals. ok=false means no history.
type SignalSource interface {
	AccessSignal(ctx context.Context, id string) (sig Signal, ok bool, err error)
}

// DefaultHalfLife is the recency decay half-life for access signals.
const DefaultHalfLife = 90 * 24 * time.Hour

// maxBoost caps the access multiplier; 1.0 is neutral.
const maxBoost = 1.5

// Boost turns a signal into a relevance multiplier in [1, maxBoost].
// Recency halves every halfLife; frequency saturates logarithmically.
func Boost(sig Signal, halfLife time.Duration) float64 {
	if sig.AccessCount <= 0 {
		return 1
	}
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	age := sig.LastAccessAge
	if age < 0 {
		age = 0
	}
	recency := math.Pow(0.5, float64(age)/float64(halfLife))
	frequency := math.Min(1, math.Log1p(float64(sig.AccessCount))/math.Log1p(20))
	return 1 + (maxBoost-1)*recency*frequency
}

// ─── Scorer ─────────────────────────────────────────────────────────────────

// Scorer rates documents against a task description using term overlap:
// BM25-style term-frequency saturation weighted by an idf normalized to
// [0,1], so terms found in nearly every document count for little. It is
// built once per optimization call over the candidate texts.
type Scorer struct {
	query  []string
	docs   int
	df     map[string]int
	avgLen float64
}

const (
	k1 = 1.2
	b  = 0.75

	// filenameBonus is added per query term found in a document's name.
	filenameBonus = 0.15
	maxNameBonus  = 0.3
)

var termPattern = regexp.MustCompile(`[a-z0-9]+`)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "with": true, "we": true, "our": true, "into": true,
}

// Terms lowercases text and splits it into scoring terms.
func Terms(text string) []string {
	raw := termPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if len(t) < 2 || stopWords[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// NewScorer indexes corpus (document text by id) for task.
func NewScorer(task string, corpus map[string]string) *Scorer {
	s := &Scorer{docs: len(corpus), df: make(map[string]int)}

	seen := make(map[string]bool)
	for _, t := range Terms(task) {
		if !seen[t] {
			seen[t] = true
			s.query = append(s.query, t)
		}
	}

	total := 0
	for _, text := range corpus {
		terms := Terms(text)
		total += len(terms)
		present := make(map[string]bool)
		for _, t := range terms {
			if seen[t] && !present[t] {
				present[t] = true
				s.df[t]++
			}
		}
	}
	if s.docs > 0 {
		s.avgLen = float64(total) / float64(s.docs)
	}
	if s.avgLen <= 0 {
		s.avgLen = 1
	}
	return s
}

// Empty reports whether the task has no usable terms.
func (s *Scorer) Empty() bool {
	return len(s.query) == 0
}

// Score rates the document id with text, in [0,1].
func (s *Scorer) Score(id, text string) float64 {
	base := s.ScoreText(text) + s.nameBonus(id)
	return clamp(base)
}

// ScoreText rates a piece of text without the name bonus, in [0,1].
// Query terms absent from the whole corpus do not dilute the score.
func (s *Scorer) ScoreText(text string) float64 {
	if s.Empty() || s.docs == 0 {
		return 0
	}
	terms := Terms(text)
	tf := make(map[string]int)
	for _, t := range terms {
		tf[t]++
	}
	norm := k1 * (1 - b + b*float64(len(terms))/s.avgLen)

	var sum float64
	known := 0
	for _, q := range s.query {
		df := s.df[q]
		if df == 0 {
			continue
		}
		known++
		f := float64(tf[q])
		if f == 0 {
			continue
		}
		sum += s.idf(df) * f / (f + norm)
	}
	if known == 0 {
		return 0
	}
	return clamp(sum / float64(known))
}

// idf is the BM25 idf divided by its maximum (a term in one document).
func (s *Scorer) idf(df int) float64 {
	n := float64(s.docs)
	raw := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
	top := math.Log(1 + (n-0.5)/1.5)
	if top <= 0 {
		return 1
	}
	return raw / top
}

func (s *Scorer) nameBonus(id string) float64 {
	name := strings.TrimSuffix(path.Base(id), path.Ext(id))
	// split camelCase so "techContext" yields "tech" and "context"
	name = camelBoundary.ReplaceAllString(name, "$1 $2")
	have := make(map[string]bool)
	for _, t := range Terms(name) {
		have[t] = true
	}
	var bonus float64
	for _, q := range s.query {
		if have[q] {
			bonus += filenameBonus
		}
	}
	return math.Min(bonus, maxNameBonus)
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
