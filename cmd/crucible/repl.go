package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/crucible/internal/app"
	"github.com/michaelbrown/crucible/internal/execution"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive Rust playground",
	Long: `Type or paste Rust source line by line, then run it.

Lines are collected into a buffer. /run builds and runs the buffer as a
program, /check compiles it first and runs it only if that succeeds.

Examples:
  crucible repl
  crucible repl --config ./crucible.yaml`,
	Args: cobra.NoArgs,
	RunE: runREPL,
}

func init() {
	rootCmd.AddCommand(replCmd)
}

func runREPL(cmd *cobra.Command, args []string) error {
	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing runner: %w", err)
	}
	defer a.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mrs>\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "crucible_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintln(out, "Crucible - Rust playground")
	fmt.Fprintln(out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(out)

	sess := newREPLSession(a.Runner, out)

	// Ctrl+C cancels the active run, not the whole REPL.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			sess.interrupt()
		}
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return nil
			}
			return err
		}

		if sess.handle(cmd.Context(), line) {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
	}
}

// replSession holds the source buffer and the cancel func of the run in
// flight.
type replSession struct {
	exec executor
	out  io.Writer
	buf  []string

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newREPLSession(exec executor, out io.Writer) *replSession {
	return &replSession{exec: exec, out: out}
}

// handle processes one input line and reports whether the REPL should exit.
func (s *replSession) handle(ctx context.Context, line string) (quit bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		s.buf = append(s.buf, line)
		return false
	}

	switch strings.ToLower(strings.Fields(trimmed)[0]) {
	case "/quit", "/exit", "/q":
		return true
	case "/run":
		s.run(ctx, execution.ModePlayground)
	case "/check":
		s.run(ctx, execution.ModeRustlingsCheck)
	case "/show":
		if len(s.buf) == 0 {
			fmt.Fprintln(s.out, "(buffer is empty)")
		}
		for i, l := range s.buf {
			fmt.Fprintf(s.out, "\033[90m%3d │\033[0m %s\n", i+1, l)
		}
		fmt.Fprintln(s.out)
	case "/reset":
		s.buf = nil
		fmt.Fprintln(s.out, "Buffer cleared.")
		fmt.Fprintln(s.out)
	case "/help":
		fmt.Fprintln(s.out, "Commands:")
		fmt.Fprintln(s.out, "  /run    - Build and run the buffer")
		fmt.Fprintln(s.out, "  /check  - Compile the buffer, run it if it compiles")
		fmt.Fprintln(s.out, "  /show   - Print the buffer")
		fmt.Fprintln(s.out, "  /reset  - Clear the buffer")
		fmt.Fprintln(s.out, "  /quit   - Exit")
		fmt.Fprintln(s.out)
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (try /help)\n\n", trimmed)
	}
	return false
}

func (s *replSession) source() string {
	return strings.Join(s.buf, "\n") + "\n"
}

func (s *replSession) run(parent context.Context, m execution.Mode) {
	if len(s.buf) == 0 {
		fmt.Fprintln(s.out, "Nothing to run; type some code first.")
		fmt.Fprintln(s.out)
		return
	}

	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	code, err := execute(ctx, s.exec, execution.Request{Mode: m, Code: s.source()}, s.out)
	switch {
	case err != nil && ctx.Err() != nil:
		fmt.Fprintln(s.out, "\n(interrupted)")
	case err != nil:
		fmt.Fprintf(s.out, "\n\033[31merror: %s\033[0m\n", err)
	case code == exitOK:
		fmt.Fprintln(s.out, "\033[32m✓ success\033[0m")
	default:
		fmt.Fprintln(s.out, "\033[31m✗ failed\033[0m")
	}
	fmt.Fprintln(s.out)
}

func (s *replSession) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}
