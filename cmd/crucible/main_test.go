package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelbrown/crucible/internal/config"
	"github.com/michaelbrown/crucible/internal/execution"
	"github.com/michaelbrown/crucible/internal/project"
	"github.com/michaelbrown/crucible/internal/report"
)

type stubExecutor struct {
	got []execution.Request
	res report.Result
	err error
	run func(ctx context.Context) error
}

func (s *stubExecutor) Run(ctx context.Context, req execution.Request) (report.Result, error) {
	s.got = append(s.got, req)
	if s.run != nil {
		if err := s.run(ctx); err != nil {
			return report.Result{}, err
		}
	}
	return s.res, s.err
}

func TestExecuteExitCodes(t *testing.T) {
	req := execution.Request{Mode: execution.ModePlayground, Code: "fn main() {}"}

	tests := []struct {
		name     string
		exec     *stubExecutor
		wantCode int
		wantOut  string
		wantErr  bool
	}{
		{
			name:     "success",
			exec:     &stubExecutor{res: report.Result{Output: "hi\n", Success: true}},
			wantCode: exitOK,
			wantOut:  "hi\n",
		},
		{
			name:     "submission failure",
			exec:     &stubExecutor{res: report.Result{Output: "error[E0425]\n"}},
			wantCode: exitFailed,
			wantOut:  "error[E0425]\n",
		},
		{
			name:     "environment error",
			exec:     &stubExecutor{err: &project.MaterializationError{Path: "/tmp/x", Err: errors.New("disk full")}},
			wantCode: exitEnvironment,
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			code, err := execute(context.Background(), tt.exec, req, &out)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantOut, out.String())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "environment error")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&config.Config{Log: config.LogConfig{Level: "warn", Format: "json"}}, &buf)
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(&config.Config{Log: config.LogConfig{Level: "chatty"}}, &buf)
	assert.Error(t, err)
}

func TestREPLBuffersAndRuns(t *testing.T) {
	exec := &stubExecutor{res: report.Result{Output: "42\n", Success: true}}
	var out bytes.Buffer
	s := newREPLSession(exec, &out)
	ctx := context.Background()

	assert.False(t, s.handle(ctx, "fn main() {"))
	assert.False(t, s.handle(ctx, `    println!("42");`))
	assert.False(t, s.handle(ctx, "}"))
	assert.False(t, s.handle(ctx, "/run"))

	require.Len(t, exec.got, 1)
	assert.Equal(t, execution.ModePlayground, exec.got[0].Mode)
	assert.Equal(t, "fn main() {\n    println!(\"42\");\n}\n", exec.got[0].Code)
	assert.Contains(t, out.String(), "42\n")
	assert.Contains(t, out.String(), "success")

	assert.False(t, s.handle(ctx, "/check"))
	require.Len(t, exec.got, 2)
	assert.Equal(t, execution.ModeRustlingsCheck, exec.got[1].Mode)
}

func TestREPLCommands(t *testing.T) {
	exec := &stubExecutor{}
	var out bytes.Buffer
	s := newREPLSession(exec, &out)
	ctx := context.Background()

	s.handle(ctx, "let x = 1;")
	s.handle(ctx, "/show")
	assert.Contains(t, out.String(), "let x = 1;")

	s.handle(ctx, "/reset")
	out.Reset()
	s.handle(ctx, "/run")
	assert.Contains(t, out.String(), "Nothing to run")
	assert.Empty(t, exec.got)

	out.Reset()
	s.handle(ctx, "/frobnicate")
	assert.Contains(t, out.String(), "Unknown command: /frobnicate")

	assert.True(t, s.handle(ctx, "/quit"))
	assert.True(t, s.handle(ctx, "  /Q  "))
}

func TestREPLInterrupt(t *testing.T) {
	started := make(chan struct{})
	exec := &stubExecutor{run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	var out bytes.Buffer
	s := newREPLSession(exec, &out)
	s.handle(context.Background(), "loop {}")

	go func() {
		<-started
		s.interrupt()
	}()
	s.handle(context.Background(), "/run")

	assert.True(t, strings.Contains(out.String(), "(interrupted)"))
}

func TestExecCommandsRegistered(t *testing.T) {
	for _, m := range execution.Modes {
		cmd, _, err := rootCmd.Find([]string{m.String()})
		require.NoError(t, err)
		assert.Equal(t, m.String(), cmd.Name())
		assert.NotNil(t, cmd.Flags().Lookup("code"))
	}

	cmd, _, err := rootCmd.Find([]string{"test"})
	require.NoError(t, err)
	for _, name := range []string{"tests", "cargo-toml", "n-tests"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}
