// Package resources implements MCP resource handlers for the memory bank.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (membank://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/engine"
)

const (
	// GraphURI addresses the dependency graph.
	GraphURI = "membank://graph"
	// documentPrefix addresses single resolved documents.
	documentPrefix = "membank://documents/"
)

// Handler manages memory-bank resource endpoints.
type Handler struct {
	bank *engine.Engine
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(bank *engine.Engine) *Handler {
	return &Handler{bank: bank}
}

// GraphResource returns the MCP resource definition for the dependency graph.
func (h *Handler) GraphResource() mcp.Resource {
	return mcp.NewResource(
		GraphURI,
		"Memory Bank Dependency Graph",
		mcp.WithResourceDescription("Documents, typed edges, loading order, cycles and broken links"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleGraph returns the current dependency graph as JSON.
func (h *Handler) HandleGraph(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	desc, err := h.bank.DescribeGraph(ctx)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling graph: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// DocumentTemplate returns the MCP resource template for resolved documents.
func (h *Handler) DocumentTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		documentPrefix+"{+id}",
		"Memory Bank Document",
		mcp.WithTemplateDescription("One memory-bank document with transclusions expanded"),
		mcp.WithTemplateMIMEType("text/markdown"),
	)
}

// HandleDocument returns one resolved document as markdown.
func (h *Handler) HandleDocument(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := DocumentID(req.Params.URI)
	if id == "" {
		return errorResource(req.Params.URI, "missing document id"), nil
	}

	view, err := h.bank.ReadDocument(ctx, engine.ReadRequest{ID: id})
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     view.Content,
		},
	}, nil
}

// DocumentURI returns the resource URI of a document id.
func DocumentURI(id string) string {
	return documentPrefix + id
}

// DocumentID extracts the document id from a document resource URI.
// It returns "" for any other URI.
func DocumentID(uri string) string {
	id, ok := strings.CutPrefix(uri, documentPrefix)
	if !ok {
		return ""
	}
	return strings.Trim(id, "/")
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
