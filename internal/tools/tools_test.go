package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/corpus"
	"github.com/HendryAvila/membank/internal/engine"
	"github.com/HendryAvila/membank/internal/optimizer"
	"github.com/HendryAvila/membank/internal/usage"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

var testBank = map[string]string{
	"projectbrief.md":  "# Brief\n## Goals\nShip the authentication service.\n## Risks\nTime.\n",
	"activeContext.md": "# Active\nWorking on login flows.\n![[projectbrief#Goals]]\n",
	"features/auth.md": "# Auth\nToken refresh and session expiry for authentication.\n",
	"loops/a.md":       "![[loops/b]]\n",
	"loops/b.md":       "![[loops/a]]\n",
}

// newTestBank creates an engine over a temp memory bank.
func newTestBank(t *testing.T, files map[string]string, store *usage.Store) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("setup: mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("setup: write %s: %v", name, err)
		}
	}

	var rec engine.Recorder
	if store != nil {
		rec = store
	}
	bank, err := engine.New(corpus.NewFileStore(dir), nil, rec, engine.Config{}, nil)
	if err != nil {
		t.Fatalf("setup: engine: %v", err)
	}
	return bank
}

// newTestUsage creates a usage store in a temp directory.
func newTestUsage(t *testing.T) *usage.Store {
	t.Helper()
	store, err := usage.New(usage.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create usage store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func call(t *testing.T, handle func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	res, err := handle(context.Background(), makeReq(args))
	if err != nil {
		t.Fatalf("Handle returned Go error: %v", err)
	}
	if res == nil {
		t.Fatal("Handle returned nil result")
	}
	return res
}

// ─── Definitions ─────────────────────────────────────────────────────────────

func TestDefinitions(t *testing.T) {
	bank := newTestBank(t, testBank, nil)

	tests := []struct {
		def      mcp.Tool
		name     string
		required []string
	}{
		{NewGraphTool(bank).Definition(), "memory_dependency_graph", nil},
		{NewResolveTool(bank).Definition(), "memory_resolve", []string{"id"}},
		{NewValidateLinksTool(bank).Definition(), "memory_validate_links", nil},
		{NewOptimizeTool(bank).Definition(), "memory_optimize_context", []string{"task", "budget"}},
		{NewReadTool(bank).Definition(), "memory_read", []string{"id"}},
		{NewListTool(bank).Definition(), "memory_list", nil},
		{NewStatsTool(bank, nil).Definition(), "memory_stats", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.def.Name != tt.name {
				t.Errorf("tool name = %q, want %q", tt.def.Name, tt.name)
			}
			if tt.def.Description == "" {
				t.Error("missing description")
			}
			for _, r := range tt.required {
				if _, ok := tt.def.InputSchema.Properties[r]; !ok {
					t.Errorf("missing %q parameter", r)
				}
				found := false
				for _, got := range tt.def.InputSchema.Required {
					if got == r {
						found = true
					}
				}
				if !found {
					t.Errorf("%q should be required", r)
				}
			}
		})
	}
}

// ─── GraphTool ───────────────────────────────────────────────────────────────

func TestGraphTool_JSON(t *testing.T) {
	tool := NewGraphTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	text := resultText(res)
	for _, want := range []string{`"nodes"`, `"edges"`, `"cycles"`, `"loops/a.md"`} {
		if !strings.Contains(text, want) {
			t.Errorf("graph JSON missing %s:\n%s", want, text)
		}
	}
}

func TestGraphTool_Mermaid(t *testing.T) {
	tool := NewGraphTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{"format": "mermaid", "refresh": true})
	text := resultText(res)
	if !strings.HasPrefix(text, "graph TD\n") {
		t.Errorf("expected mermaid diagram, got:\n%s", text)
	}
	if !strings.Contains(text, "==>|transclusion|") {
		t.Errorf("missing transclusion edge:\n%s", text)
	}
	if !strings.Contains(text, `["activeContext.md (tier 2)"]`) {
		t.Errorf("missing activeContext node label:\n%s", text)
	}
}

func TestGraphTool_UnknownFormat(t *testing.T) {
	tool := NewGraphTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{"format": "svg"})
	if !res.IsError {
		t.Fatal("expected error for unknown format")
	}
}

// ─── ResolveTool ─────────────────────────────────────────────────────────────

func TestResolveTool_Success(t *testing.T) {
	tool := NewResolveTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{"id": "activeContext"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	text := resultText(res)
	if !strings.Contains(text, "Ship the authentication service.") {
		t.Errorf("transclusion not expanded:\n%s", text)
	}
	if strings.Contains(text, "![[") {
		t.Errorf("directive left in output:\n%s", text)
	}
	if !strings.Contains(text, "Inlined: projectbrief.md") {
		t.Errorf("missing inlined list:\n%s", text)
	}
	if !strings.Contains(text, "📏 ~") {
		t.Errorf("missing token footer:\n%s", text)
	}
}

func TestResolveTool_MissingID(t *testing.T) {
	tool := NewResolveTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{})
	if !res.IsError {
		t.Fatal("expected error for missing id")
	}
}

func TestResolveTool_Circular(t *testing.T) {
	tool := NewResolveTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{"id": "loops/a"})
	if !res.IsError {
		t.Fatal("expected error for circular transclusion")
	}
	if !strings.Contains(resultText(res), "loops/a.md -> loops/b.md -> loops/a.md") {
		t.Errorf("error should carry the cycle path, got: %s", resultText(res))
	}
}

// ─── ValidateLinksTool ───────────────────────────────────────────────────────

func TestValidateLinksTool_ReportsBrokenLinks(t *testing.T) {
	tool := NewValidateLinksTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	report, ok := res.StructuredContent.(*engine.LinkReport)
	if !ok {
		t.Fatalf("structured content = %T, want *engine.LinkReport", res.StructuredContent)
	}
	if report.Valid {
		t.Error("report should be invalid with a transclusion loop")
	}
	if len(report.Broken) != 2 {
		t.Errorf("broken = %d, want 2 (one per loop document)", len(report.Broken))
	}
	if !strings.Contains(resultText(res), "❌") {
		t.Errorf("text fallback should flag broken links:\n%s", resultText(res))
	}
}

func TestValidateLinksTool_SingleValidDocument(t *testing.T) {
	tool := NewValidateLinksTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{"id": "activeContext"})
	report := res.StructuredContent.(*engine.LinkReport)
	if !report.Valid || report.Links != 1 {
		t.Errorf("report = %+v, want valid with 1 link", report)
	}
}

func TestValidateLinksTool_UnknownDocument(t *testing.T) {
	tool := NewValidateLinksTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{"id": "ghost"})
	if !res.IsError {
		t.Fatal("expected error for unknown document")
	}
}

// ─── OptimizeTool ────────────────────────────────────────────────────────────

func TestOptimizeTool_Validation(t *testing.T) {
	tool := NewOptimizeTool(newTestBank(t, testBank, nil))

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing task", map[string]interface{}{"budget": float64(100)}},
		{"missing budget", map[string]interface{}{"task": "auth"}},
		{"negative budget", map[string]interface{}{"task": "auth", "budget": float64(-5)}},
		{"unknown strategy", map[string]interface{}{"task": "auth", "budget": float64(100), "strategy": "greedy"}},
		{"threshold out of range", map[string]interface{}{"task": "auth", "budget": float64(100), "threshold": 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(t, tool.Handle, tt.args)
			if !res.IsError {
				t.Errorf("expected tool error, got: %s", resultText(res))
			}
		})
	}
}

func TestOptimizeTool_StructuredResult(t *testing.T) {
	tool := NewOptimizeTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{
		"task":      "fix authentication token refresh",
		"budget":    float64(2000),
		"strategy":  "priority",
		"mandatory": []interface{}{"activeContext"},
	})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	result, ok := res.StructuredContent.(*optimizer.Result)
	if !ok {
		t.Fatalf("structured content = %T, want *optimizer.Result", res.StructuredContent)
	}
	if result.Strategy != optimizer.StrategyPriority {
		t.Errorf("strategy = %s, want priority", result.Strategy)
	}

	selected := strings.Join(result.Selected(), ",")
	if selected != "projectbrief.md,activeContext.md,features/auth.md" {
		t.Errorf("selected = %s", selected)
	}
	for _, s := range result.Selections {
		if s.Document == "activeContext.md" && !s.Mandatory {
			t.Error("activeContext.md should be marked mandatory")
		}
		if s.Content == "" {
			t.Errorf("%s has no content", s.Document)
		}
	}
	if ex, ok := result.Excluded("loops/a.md"); !ok || ex.Reason != optimizer.ReasonResolutionFailed {
		t.Errorf("loops/a.md exclusion = %+v, want resolution_failed", ex)
	}

	text := resultText(res)
	for _, want := range []string{"## Optimized Context", "### Selected", "### Excluded", "resolution_failed"} {
		if !strings.Contains(text, want) {
			t.Errorf("text fallback missing %q", want)
		}
	}
}

func TestOptimizeTool_WithoutContent(t *testing.T) {
	tool := NewOptimizeTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{
		"task":            "authentication",
		"budget":          float64(2000),
		"include_content": false,
	})
	result := res.StructuredContent.(*optimizer.Result)
	if len(result.Selections) == 0 {
		t.Fatal("expected selections")
	}
	for _, s := range result.Selections {
		if s.Content != "" {
			t.Errorf("%s content should be stripped", s.Document)
		}
		if s.Tokens == 0 {
			t.Errorf("%s should keep its token count", s.Document)
		}
	}
}

func TestOptimizeTool_MandatoryAsCommaString(t *testing.T) {
	req := makeReq(map[string]interface{}{"mandatory": "projectbrief, activeContext ,"})
	got := stringsArg(req, "mandatory")
	if strings.Join(got, "|") != "projectbrief|activeContext" {
		t.Errorf("stringsArg = %v", got)
	}
}

// ─── ReadTool ────────────────────────────────────────────────────────────────

func TestReadTool_Section(t *testing.T) {
	tool := NewReadTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{"id": "projectbrief", "section": "Risks"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	text := resultText(res)
	if !strings.HasPrefix(text, "# projectbrief.md § Risks\n\nTime.\n") {
		t.Errorf("unexpected section output:\n%s", text)
	}
}

func TestReadTool_Raw(t *testing.T) {
	tool := NewReadTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{"id": "activeContext", "raw": true})
	if !strings.Contains(resultText(res), "![[projectbrief#Goals]]") {
		t.Errorf("raw read should keep directives:\n%s", resultText(res))
	}
}

func TestReadTool_Missing(t *testing.T) {
	tool := NewReadTool(newTestBank(t, testBank, nil))

	res := call(t, tool.Handle, map[string]interface{}{"id": "projectbrief", "section": "Budget"})
	if !res.IsError {
		t.Fatal("expected error for missing section")
	}
	res = call(t, tool.Handle, map[string]interface{}{"id": "ghost"})
	if !res.IsError {
		t.Fatal("expected error for missing document")
	}
}

// ─── ListTool ────────────────────────────────────────────────────────────────

func TestListTool_Standard(t *testing.T) {
	tool := NewListTool(newTestBank(t, testBank, nil))

	text := resultText(call(t, tool.Handle, map[string]interface{}{}))
	if !strings.Contains(text, "## Memory Bank (5 documents)") {
		t.Errorf("missing header:\n%s", text)
	}
	if !strings.Contains(text, "- **projectbrief.md** (tier 0, ~") {
		t.Errorf("missing projectbrief row:\n%s", text)
	}
	if strings.Index(text, "projectbrief.md") > strings.Index(text, "activeContext.md") {
		t.Errorf("foundation documents should come first:\n%s", text)
	}
}

func TestListTool_SummaryWithLimit(t *testing.T) {
	tool := NewListTool(newTestBank(t, testBank, nil))

	text := resultText(call(t, tool.Handle, map[string]interface{}{
		"detail_level": "summary",
		"limit":        float64(2),
	}))
	if !strings.Contains(text, "📊 Showing 2 of 5.") {
		t.Errorf("missing navigation hint:\n%s", text)
	}
	if !strings.Contains(text, SummaryFooter) {
		t.Errorf("missing summary footer:\n%s", text)
	}
	if strings.Contains(text, "tier") {
		t.Errorf("summary should list ids only:\n%s", text)
	}
}

func TestListTool_EmptyBank(t *testing.T) {
	tool := NewListTool(newTestBank(t, map[string]string{}, nil))

	text := resultText(call(t, tool.Handle, map[string]interface{}{}))
	if text != "No memory-bank documents found." {
		t.Errorf("unexpected output: %s", text)
	}
}

// ─── StatsTool ───────────────────────────────────────────────────────────────

func TestStatsTool_WithoutUsage(t *testing.T) {
	tool := NewStatsTool(newTestBank(t, testBank, nil), nil)

	text := resultText(call(t, tool.Handle, map[string]interface{}{}))
	if !strings.Contains(text, "- **Documents**: 5") {
		t.Errorf("missing document count:\n%s", text)
	}
	if !strings.Contains(text, "Usage tracking not available") {
		t.Errorf("should note missing usage store:\n%s", text)
	}
}

func TestStatsTool_WithUsage(t *testing.T) {
	store := newTestUsage(t)
	bank := newTestBank(t, testBank, store)

	opt := NewOptimizeTool(bank)
	call(t, opt.Handle, map[string]interface{}{"task": "authentication", "budget": float64(2000)})

	text := resultText(call(t, NewStatsTool(bank, store).Handle, map[string]interface{}{}))
	for _, want := range []string{"- **Optimizations**: 1", "### Most Used", "### Recent Optimizations", "**authentication** (hybrid)"} {
		if !strings.Contains(text, want) {
			t.Errorf("stats missing %q:\n%s", want, text)
		}
	}
}
