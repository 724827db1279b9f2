package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/membank/internal/config"
	"github.com/HendryAvila/membank/internal/engine"
	"github.com/HendryAvila/membank/internal/graph"
	"github.com/HendryAvila/membank/internal/optimizer"
	"github.com/HendryAvila/membank/internal/server"
	"github.com/HendryAvila/membank/internal/tokens"
)

// errInvalidLinks makes validate exit non-zero without repeating the report.
var errInvalidLinks = errors.New("memory bank has broken links")

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// ─── serve ──────────────────────────────────────────────────────────────────

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		Long: `Start the MCP server on stdin/stdout. Add it to your AI tool's MCP config:

  {
    "mcpServers": {
      "membank": {
        "command": "membank",
        "args": ["serve"]
      }
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cleanup, err := server.New(a.cfg, a.log)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer cleanup()
			// stdout carries the protocol; everything else goes to stderr.
			return mcpserver.ServeStdio(s)
		},
	}
}

// ─── graph ──────────────────────────────────────────────────────────────────

func (a *app) graphCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the document dependency graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bank, err := a.openBank()
			if err != nil {
				return err
			}
			defer bank.Close()

			out, err := bank.Engine.DependencyGraph(cmd.Context(), graph.Format(format))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(graph.FormatMermaid),
		"Output format: "+strings.Join(graph.FormatValues(), "|"))
	return cmd
}

// ─── resolve / read ─────────────────────────────────────────────────────────

func (a *app) resolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id>",
		Short: "Print a document with every transclusion expanded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bank, err := a.openBank()
			if err != nil {
				return err
			}
			defer bank.Close()

			res, err := bank.Engine.ResolveTransclusions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, strings.TrimRight(res.Content, "\n"))
			meta := fmt.Sprintf("~%s tokens", tokens.FormatNumber(res.Tokens))
			if len(res.Includes) > 0 {
				meta = "inlined " + strings.Join(res.Includes, ", ") + " · " + meta
			}
			fmt.Fprintln(cmd.ErrOrStderr(), a.styles.Muted.Render(meta))
			return nil
		},
	}
}

func (a *app) readCommand() *cobra.Command {
	var (
		section string
		raw     bool
	)
	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Print one document or one of its sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bank, err := a.openBank()
			if err != nil {
				return err
			}
			defer bank.Close()

			view, err := bank.Engine.ReadDocument(cmd.Context(), engine.ReadRequest{
				ID:      args[0],
				Section: section,
				Raw:     raw,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(view.Content, "\n"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&section, "section", "s", "", "Exact heading text of the section to print")
	cmd.Flags().BoolVar(&raw, "raw", false, "Do not expand transclusions")
	return cmd
}

// ─── validate ───────────────────────────────────────────────────────────────

func (a *app) validateCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate [id]",
		Short: "Check links and transclusions for problems",
		Long: `Check every link, or the links of one document, for missing targets,
missing sections, circular transclusions and excessive nesting. Exits
non-zero when a broken link is found.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bank, err := a.openBank()
			if err != nil {
				return err
			}
			defer bank.Close()

			var id string
			if len(args) == 1 {
				id = args[0]
			}
			report, err := bank.Engine.ValidateLinks(cmd.Context(), id)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(w, report); err != nil {
					return err
				}
			} else {
				st := a.styles
				if report.Valid {
					fmt.Fprintln(w, st.OK.Render(fmt.Sprintf("✓ %d links across %d documents, all valid", report.Links, report.Documents)))
				} else {
					fmt.Fprintln(w, st.Err.Render(fmt.Sprintf("✗ %d broken of %d links across %d documents", len(report.Broken), report.Links, report.Documents)))
				}
				for _, issue := range report.Broken {
					fmt.Fprintf(w, "  %s %s:%d %s %s\n", st.Err.Render("error"), issue.Source, issue.Line, issue.Raw, st.Muted.Render(issue.Problem))
				}
				for _, issue := range report.Warnings {
					loc := issue.Source
					if issue.Line > 0 {
						loc += ":" + strconv.Itoa(issue.Line)
					}
					fmt.Fprintf(w, "  %s %s %s\n", st.Warn.Render("warn"), loc, st.Muted.Render(issue.Problem))
				}
			}
			if !report.Valid {
				cmd.SilenceErrors = true
				return errInvalidLinks
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print machine-readable report")
	return cmd
}

// ─── optimize ───────────────────────────────────────────────────────────────

func (a *app) optimizeCommand() *cobra.Command {
	var (
		budget    int
		strategy  string
		mandatory []string
		threshold float64
		asJSON    bool
		quiet     bool
	)
	cmd := &cobra.Command{
		Use:   "optimize <task...>",
		Short: "Select the memory content that best fits a task and budget",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := optimizer.Request{
				Task:      strings.Join(args, " "),
				Budget:    budget,
				Strategy:  optimizer.Strategy(strategy),
				Mandatory: mandatory,
				Threshold: threshold,
			}
			if threshold < 0 || threshold > 1 {
				return fmt.Errorf("--threshold must be within [0,1], got %g", threshold)
			}

			bank, err := a.openBank()
			if err != nil {
				return err
			}
			defer bank.Close()

			res, err := bank.Engine.StreamContext(cmd.Context(), req, func(b optimizer.Batch) error {
				if !quiet && !asJSON {
					fmt.Fprintln(cmd.ErrOrStderr(), a.styles.Muted.Render(
						fmt.Sprintf("tier %d: %d selections, ~%s tokens", b.Tier, len(b.Selections), tokens.FormatNumber(b.Tokens))))
				}
				return nil
			})
			if err != nil && res == nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(w, res)
			}
			a.printResult(w, res)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVarP(&budget, "budget", "b", 8000, "Token budget")
	flags.StringVar(&strategy, "strategy", "", "Strategy: "+strings.Join(optimizer.StrategyValues(), "|")+" (default from config)")
	flags.StringSliceVarP(&mandatory, "mandatory", "m", nil, "Documents that must be included (comma-separated)")
	flags.Float64Var(&threshold, "threshold", 0, "Relevance threshold in [0,1] (default from config)")
	flags.BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Do not report progress on stderr")
	return cmd
}

func (a *app) printResult(w io.Writer, res *optimizer.Result) {
	st := a.styles
	fmt.Fprintln(w, st.Title.Render(fmt.Sprintf("%s · %s · ~%s of %s tokens (%.0f%%)",
		res.Strategy, res.Status, tokens.FormatNumber(res.TotalTokens), tokens.FormatNumber(res.Budget), res.Utilization*100)))

	rows := make([][]string, 0, len(res.Selections))
	for _, s := range res.Selections {
		detail := strings.Join(s.Sections, ", ")
		if s.Summary != optimizer.SummaryNone {
			detail = "summary " + s.Summary.String()
		}
		rows = append(rows, []string{s.Document, strconv.Itoa(s.Tier), fmt.Sprintf("%.2f", s.Score), tokens.FormatNumber(s.Tokens), detail})
	}
	if len(rows) > 0 {
		fmt.Fprint(w, st.table([]string{"DOCUMENT", "TIER", "SCORE", "TOKENS", "DETAIL"}, rows))
	}
	for _, e := range res.Exclusions {
		fmt.Fprintf(w, "%s %s %s\n", st.Muted.Render("excluded"), e.Document, st.Muted.Render(string(e.Reason)))
	}
	for _, warning := range res.Warnings {
		fmt.Fprintln(w, st.Warn.Render("warn "+warning))
	}
	if content := res.Content(); content != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.TrimRight(content, "\n"))
	}
}

// ─── list ───────────────────────────────────────────────────────────────────

func (a *app) listCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents in loading order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bank, err := a.openBank()
			if err != nil {
				return err
			}
			defer bank.Close()

			docs, err := bank.Engine.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(w, docs)
			}
			if len(docs) == 0 {
				fmt.Fprintln(w, a.styles.Muted.Render("No memory-bank documents found."))
				return nil
			}
			rows := make([][]string, len(docs))
			for i, d := range docs {
				rows[i] = []string{d.ID, strconv.Itoa(d.Tier), tokens.FormatNumber(d.Tokens), strings.Join(d.Dependencies, ", ")}
			}
			fmt.Fprint(w, a.styles.table([]string{"DOCUMENT", "TIER", "TOKENS", "DEPENDS ON"}, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print machine-readable listing")
	return cmd
}

// ─── stats ──────────────────────────────────────────────────────────────────

func (a *app) statsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show graph, cache and usage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bank, err := a.openBank()
			if err != nil {
				return err
			}
			defer bank.Close()

			ctx := cmd.Context()
			g, err := bank.Engine.Graph(ctx)
			if err != nil {
				return err
			}
			report := g.Report()

			w := cmd.OutOrStdout()
			st := a.styles
			fmt.Fprintln(w, st.Title.Render("Memory bank "+bank.Root))
			fmt.Fprintf(w, "documents  %d\n", report.Documents)
			fmt.Fprintf(w, "links      %d (%d broken)\n", report.Links, len(report.Broken))

			if bank.Usage == nil {
				fmt.Fprintln(w, st.Muted.Render("usage tracking not available"))
				return nil
			}
			stats, err := bank.Usage.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "tracked    %d (%d accesses, %d optimizations)\n", stats.Documents, stats.TotalAccesses, stats.Runs)

			top, err := bank.Usage.Top(ctx, limit)
			if err != nil {
				return err
			}
			if len(top) > 0 {
				rows := make([][]string, len(top))
				for i, acc := range top {
					rows[i] = []string{acc.Document, strconv.Itoa(acc.Count), acc.LastAccessed.Format("2006-01-02 15:04")}
				}
				fmt.Fprintln(w)
				fmt.Fprint(w, st.table([]string{"DOCUMENT", "ACCESSES", "LAST"}, rows))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of most used documents to show")
	return cmd
}

// ─── config ─────────────────────────────────────────────────────────────────

func (a *app) configCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default " + config.FileName,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			path := filepath.Join(dir, config.FileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.styles.OK.Render("wrote "+path))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(showCmd, initCmd)
	return configCmd
}
