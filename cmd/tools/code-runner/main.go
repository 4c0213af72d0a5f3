// Command code-runner is an MCP tool server that runs Rust exercises over
// stdio.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/crucible/internal/app"
	"github.com/michaelbrown/crucible/internal/config"
	"github.com/michaelbrown/crucible/internal/execution"
	"github.com/michaelbrown/crucible/internal/report"
	"github.com/michaelbrown/crucible/internal/runner"
)

// maxOutput bounds the text returned to the client.
const maxOutput = 16000

type executor interface {
	Run(ctx context.Context, req execution.Request) (report.Result, error)
}

func main() {
	// stdout belongs to the protocol
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(os.Getenv("CRUCIBLE_CONFIG"))
	if err != nil {
		logger.Error("loading config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if level, err := cfg.LogLevel(); err == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("initializing runner", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	if err := server.ServeStdio(newServer(a.Runner)); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
	}
}

func newServer(exec executor) *server.MCPServer {
	s := server.NewMCPServer("crucible-code-runner", "0.1.0")

	modes := make([]string, len(execution.Modes))
	for i, m := range execution.Modes {
		modes[i] = m.String()
	}

	s.AddTool(mcp.Tool{
		Name: "rust_run",
		Description: "Compile and run Rust code in a fresh cargo project. Modes: " +
			strings.Join(modes, ", ") + ". Returns the compiler and program output.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"mode": map[string]any{
					"type":        "string",
					"enum":        modes,
					"description": "Execution mode",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Rust source: main.rs for playground and rustlings modes, lib.rs for test",
				},
				"tests": map[string]any{
					"type":        "string",
					"description": "Integration tests (required for test mode)",
				},
				"cargo_toml": map[string]any{
					"type":        "string",
					"description": "Cargo.toml replacing the default manifest (optional)",
				},
				"n_tests": map[string]any{
					"type":        "integer",
					"description": "Number of tests the exercise expects to run (optional)",
				},
			},
			Required: []string{"mode", "code"},
		},
	}, runTool(exec))

	return s
}

func runTool(exec executor) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			return errResult("error: invalid arguments"), nil
		}

		modeName, _ := args["mode"].(string)
		m, err := execution.ParseMode(modeName)
		if err != nil {
			return errResult("error: " + err.Error()), nil
		}

		req := execution.Request{Mode: m}
		req.Code, _ = args["code"].(string)
		req.Tests, _ = args["tests"].(string)
		req.Manifest, _ = args["cargo_toml"].(string)
		if n, ok := args["n_tests"].(float64); ok {
			req.ExpectedTests = int(n)
		}

		res, err := exec.Run(ctx, req)
		if err != nil {
			if runner.IsEnvironment(err) {
				return errResult(fmt.Sprintf("environment error: %v", err)), nil
			}
			return errResult("error: " + err.Error()), nil
		}

		text := res.Output
		if len(text) > maxOutput {
			text = truncate(text, maxOutput) + "\n... (output truncated)"
		}
		if res.TimedOut {
			text += "\n(timed out)"
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
			IsError: !res.Success,
		}, nil
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
