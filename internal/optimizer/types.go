package optimizer

import (
	"errors"
	"fmt"
	"strings"
)

// ─── Strategy ───────────────────────────────────────────────────────────────

// Strategy selects how the budget is spent.
type Strategy string

const (
	// StrategyPriority includes whole documents in ascending tier order.
	StrategyPriority Strategy = "priority"
	// StrategyDependencyAware walks the loading order of the minimal
	// context of mandatory and relevant documents.
	StrategyDependencyAware Strategy = "dependency_aware"
	// StrategySectionLevel is dependency_aware at section granularity.
	StrategySectionLevel Strategy = "section_level"
	// StrategyHybrid applies section_level above the relevance threshold
	// and priority below it.
	StrategyHybrid Strategy = "hybrid"
)

// StrategyValues returns the enum values for tool definitions.
func StrategyValues() []string {
	return []string{
		string(StrategyPriority), string(StrategyDependencyAware),
		string(StrategySectionLevel), string(StrategyHybrid),
	}
}

// ParseStrategy validates s. The empty string selects hybrid.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyHybrid, nil
	case StrategyPriority, StrategyDependencyAware, StrategySectionLevel, StrategyHybrid:
		return st, nil
	default:
		return "", fmt.Errorf("%w %q (valid: %s)", ErrUnknownStrategy, s, strings.Join(StrategyValues(), ", "))
	}
}

// ─── Errors ─────────────────────────────────────────────────────────────────

var (
	// ErrInvalidBudget is returned for a non-positive token budget.
	ErrInvalidBudget = errors.New("token budget must be positive")
	// ErrUnknownStrategy is returned by ParseStrategy.
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// ─── Request / Result ───────────────────────────────────────────────────────

// Request is one optimization call.
type Request struct {
	Task      string
	Budget    int
	Strategy  Strategy
	Mandatory []string
	// Threshold overrides the configured relevance threshold when positive.
	Threshold float64
}

// Reason explains why a document was left out.
type Reason string

const (
	ReasonBelowThreshold     Reason = "below_relevance_threshold"
	ReasonBudgetExhausted    Reason = "budget_exhausted"
	ReasonDependencyExcluded Reason = "dependency_of_excluded"
	ReasonResolutionFailed   Reason = "resolution_failed"
)

// Status summarizes the outcome.
type Status string

const (
	// StatusComplete means every candidate was included in some form.
	StatusComplete Status = "complete"
	// StatusPartial means some documents were excluded.
	StatusPartial Status = "partial"
	// StatusOverBudget means mandatory documents alone exceed the budget.
	StatusOverBudget Status = "over_budget"
)

// SummaryLevel records which summarization fallback produced a selection.
type SummaryLevel int

const (
	SummaryNone SummaryLevel = iota
	// SummaryKeySections keeps headings plus the first lines under each.
	SummaryKeySections
	// SummaryCompressed keeps headings and code, shortening prose.
	SummaryCompressed
	// SummaryHeadings keeps headings only.
	SummaryHeadings
)

// String returns the level name used in results.
func (l SummaryLevel) String() string {
	switch l {
	case SummaryNone:
		return "none"
	case SummaryKeySections:
		return "key_sections"
	case SummaryCompressed:
		return "compressed"
	case SummaryHeadings:
		return "headings_only"
	default:
		return fmt.Sprintf("level_%d", int(l))
	}
}

// Selection is one included document or part of one.
type Selection struct {
	Document string `json:"document"`
	Tier     int    `json:"tier"`
	// Sections lists the included headings; empty means the whole document.
	Sections       []string     `json:"sections,omitempty"`
	Score          float64      `json:"score"`
	Tokens         int          `json:"tokens"`
	OriginalTokens int          `json:"original_tokens"`
	Summary        SummaryLevel `json:"summary_level"`
	SummaryName    string       `json:"summary"`
	Mandatory      bool         `json:"mandatory,omitempty"`
	Required       bool         `json:"required,omitempty"`
	Content        string       `json:"content,omitempty"`
}

// Exclusion is one document left out of the result.
type Exclusion struct {
	Document string  `json:"document"`
	Reason   Reason  `json:"reason"`
	Score    float64 `json:"score"`
	Tokens   int     `json:"tokens,omitempty"`
	Detail   string  `json:"detail,omitempty"`
}

// Result is the outcome of one optimization call. It is never mutated
// after it is returned.
type Result struct {
	ID              string      `json:"id"`
	Task            string      `json:"task"`
	Strategy        Strategy    `json:"strategy"`
	Status          Status      `json:"status"`
	Budget          int         `json:"budget"`
	TotalTokens     int         `json:"total_tokens"`
	Utilization     float64     `json:"utilization"`
	OverBudget      bool        `json:"over_budget"`
	EstimatedTokens bool        `json:"estimated_tokens"`
	Threshold       float64     `json:"threshold"`
	Selections      []Selection `json:"selections"`
	Exclusions      []Exclusion `json:"exclusions"`
	Warnings        []string    `json:"warnings,omitempty"`
}

// Selected returns the ids of the selected documents in result order.
func (r *Result) Selected() []string {
	out := make([]string, len(r.Selections))
	for i, s := range r.Selections {
		out[i] = s.Document
	}
	return out
}

// Excluded returns the exclusion for id, if any.
func (r *Result) Excluded(id string) (Exclusion, bool) {
	for _, e := range r.Exclusions {
		if e.Document == id {
			return e, true
		}
	}
	return Exclusion{}, false
}

// Content concatenates the selected content in result order.
func (r *Result) Content() string {
	var b strings.Builder
	for i, s := range r.Selections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.Content)
	}
	return b.String()
}
