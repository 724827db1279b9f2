// membank: memory-bank context server.
//
// Serves a directory of markdown memory files to AI coding tools over MCP
// (stdio transport), and exposes the same operations on the command line:
// dependency graphs, transclusion resolution, link validation and
// budget-aware context selection.
//
// Usage:
//
//	membank serve                      # Start MCP server (stdio transport)
//	membank optimize "fix login" -b 8000
//	membank validate
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
