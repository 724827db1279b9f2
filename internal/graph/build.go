package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HendryAvila/membank/internal/corpus"
	"github.com/HendryAvila/membank/internal/links"
	"go.uber.org/zap"
)

// BuildReport summarizes one corpus scan.
type BuildReport struct {
	Documents int               `json:"documents"`
	Links     int               `json:"links"`
	Broken    []links.Link      `json:"broken,omitempty"`
	Vanished  []string          `json:"vanished,omitempty"`
	Failed    map[string]string `json:"failed,omitempty"`
	BuiltAt   time.Time         `json:"built_at"`
	Duration  time.Duration     `json:"duration"`
}

// Report returns the scan summary recorded by Build. Graphs assembled by
// hand return a zero report.
func (g *Graph) Report() BuildReport {
	return g.report
}

// Build scans the corpus and returns a fresh graph. Read failures are
// handled at this boundary: a document that vanished between listing and
// reading is dropped and reported, any other read error is recorded per
// document, and links to absent documents are kept as broken links. Only a
// failure to enumerate the corpus aborts the build.
func Build(ctx context.Context, reader corpus.Reader, log *zap.Logger) (*Graph, error) {
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()

	ids, err := reader.ListDocumentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	g := New()
	g.report.Failed = make(map[string]string)

	for _, id := range ids {
		doc, err := reader.ReadDocument(ctx, id)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, corpus.ErrNotFound) {
				log.Warn("document vanished during scan", zap.String("id", id))
				g.report.Vanished = append(g.report.Vanished, id)
				continue
			}
			log.Warn("reading document", zap.String("id", id), zap.Error(err))
			g.report.Failed[id] = err.Error()
			continue
		}

		if err := g.AddDocument(doc.ID, doc.Tier, doc.StaticDeps); err != nil {
			return nil, err
		}
		node := g.nodes[doc.ID]
		node.Hash = doc.Hash
		node.Links = links.Extract(doc.ID, doc.Text)
	}

	for _, id := range g.IDs() {
		node := g.nodes[id]
		for _, l := range node.Links {
			g.report.Links++
			if !g.Has(l.Target) {
				g.report.Broken = append(g.report.Broken, l)
				continue
			}
			if l.Target == id && l.Kind == links.KindReference {
				continue
			}
			if err := g.AddLinkDependency(id, l.Target, KindFromLink(l.Kind)); err != nil {
				return nil, err
			}
		}
	}

	g.report.Documents = g.Len()
	g.report.BuiltAt = start
	g.report.Duration = time.Since(start)

	log.Debug("dependency graph built",
		zap.Int("documents", g.report.Documents),
		zap.Int("links", g.report.Links),
		zap.Int("broken", len(g.report.Broken)),
		zap.Duration("took", g.report.Duration),
	)
	return g, nil
}
