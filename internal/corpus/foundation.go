package corpus

import (
	"github.com/HendryAvila/membank/internal/links"
)

// Foundation documents of a memory bank. They always load first and form
// the backbone the rest of the corpus hangs from.
const (
	ProjectBrief   = "projectbrief.md"
	ProductContext = "productContext.md"
	SystemPatterns = "systemPatterns.md"
	TechContext    = "techContext.md"
	ActiveContext  = "activeContext.md"
	Progress       = "progress.md"
)

// DefaultTier is assigned to documents outside the foundation set.
const DefaultTier = 4

type foundationEntry struct {
	tier int
	deps []string
}

var foundation = map[string]foundationEntry{
	ProjectBrief:   {tier: 0},
	ProductContext: {tier: 1, deps: []string{ProjectBrief}},
	SystemPatterns: {tier: 1, deps: []string{ProjectBrief}},
	TechContext:    {tier: 1, deps: []string{ProjectBrief}},
	ActiveContext:  {tier: 2, deps: []string{ProductContext, SystemPatterns, TechContext}},
	Progress:       {tier: 3, deps: []string{ActiveContext}},
}

// FoundationOrder lists the foundation documents in their canonical order.
var FoundationOrder = []string{
	ProjectBrief, ProductContext, SystemPatterns, TechContext, ActiveContext, Progress,
}

// Foundation returns the fixed priority tier and static dependencies for
// id. Non-foundation documents get DefaultTier and no dependencies.
func Foundation(id string) (int, []string) {
	entry, ok := foundation[id]
	if !ok {
		return DefaultTier, nil
	}
	deps := make([]string, len(entry.deps))
	copy(deps, entry.deps)
	return entry.tier, deps
}

// IsFoundation reports whether id is one of the core memory-bank files.
func IsFoundation(id string) bool {
	_, ok := foundation[id]
	return ok
}

func normalizeID(id string) string {
	return links.NormalizeTarget(id)
}
