package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/byronwjones/chrysolite/internal/config"
	"github.com/byronwjones/chrysolite/internal/session"

	"github.com/kballard/go-shellquote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("command tests drive /bin/sh")
	}
}

func shellOptions(script string) runOptions {
	return runOptions{
		Path:              "/bin/sh",
		Args:              shellquote.Join("-c", script),
		OutputLatency:     50 * time.Millisecond,
		InactivityTimeout: 5 * time.Second,
	}
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name    string
		outcome session.ExitOutcome
		want    int
	}{
		{"success", session.ExitOutcome{ExitCode: 0}, 0},
		{"failure", session.ExitOutcome{ExitCode: 3}, 3},
		{"unknown", session.ExitOutcome{ExitCode: session.ExitCodeUnknown}, 1},
		{"timed out", session.ExitOutcome{ExitCode: session.ExitCodeUnknown, TimedOut: true}, timeoutExitCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitStatus(tt.outcome))
		})
	}
}

func TestSilentExit(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewSilentExit(7))
	code, ok := IsSilentExit(err)
	assert.True(t, ok)
	assert.Equal(t, 7, code)

	_, ok = IsSilentExit(errors.New("plain"))
	assert.False(t, ok)
}

func TestParseLevel(t *testing.T) {
	lvl, err := parseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = parseLevel("loud")
	assert.Error(t, err)
}

func TestPrinter(t *testing.T) {
	var out, errOut bytes.Buffer
	p := &printer{stdout: &out, stderr: &errOut}

	p.print(session.Message{Stream: session.StreamStdout, Text: "Name: ", Complete: false})
	p.print(session.Message{Stream: session.StreamStdout, Text: "hello", Complete: true})
	p.print(session.Message{Stream: session.StreamStderr, Text: "oops", Complete: true})

	assert.Equal(t, "Name: hello\n", out.String())
	assert.Equal(t, "oops\n", errOut.String())
}

func TestRunProgram_Output(t *testing.T) {
	requireShell(t)
	var out, errOut bytes.Buffer

	code, err := runProgram(context.Background(), shellOptions("echo one; echo two >&2; exit 5"),
		strings.NewReader(""), &out, &errOut)
	require.NoError(t, err)
	assert.Equal(t, 5, code)
	assert.Equal(t, "one\n", out.String())
	assert.Equal(t, "two\n", errOut.String())
}

func TestRunProgram_Input(t *testing.T) {
	requireShell(t)
	var out bytes.Buffer

	code, err := runProgram(context.Background(), shellOptions(`read name; echo "hello $name"`),
		strings.NewReader("world\n"), &out, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello world\n", out.String())
}

func TestRunProgram_Prompt(t *testing.T) {
	requireShell(t)
	var out bytes.Buffer

	code, err := runProgram(context.Background(), shellOptions(`printf 'Name: '; read name; echo "hi $name"`),
		strings.NewReader("ada\n"), &out, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "Name: hi ada\n", out.String())
}

func TestRunProgram_Timeout(t *testing.T) {
	requireShell(t)
	opts := shellOptions("sleep 5")
	opts.InactivityTimeout = 200 * time.Millisecond

	code, err := runProgram(context.Background(), opts, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, timeoutExitCode, code)
}

func TestRunProgram_ContextCancelKills(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	code, err := runProgram(ctx, shellOptions("sleep 5"), strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.NotEqual(t, 0, code)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestRunProgram_SpawnFailure(t *testing.T) {
	opts := runOptions{Path: "/nonexistent/chrysolite-test-binary"}
	_, err := runProgram(context.Background(), opts, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "chrysolite.lock")

	first, err := acquireLock(path)
	require.NoError(t, err)

	_, err = acquireLock(path)
	assert.Error(t, err)

	require.NoError(t, first.Unlock())
	second, err := acquireLock(path)
	require.NoError(t, err)
	second.Unlock()
}

func TestServe_NoApplication(t *testing.T) {
	cfg := config.Default()
	err := serve(context.Background(), "", cfg, false)
	assert.ErrorIs(t, err, ErrNoApplication)
}

func TestServe_LockHeld(t *testing.T) {
	cfg := config.Default()
	cfg.App.Path = "/bin/sh"
	cfg.LockFile = filepath.Join(t.TempDir(), "chrysolite.lock")

	held, err := acquireLock(cfg.LockFile)
	require.NoError(t, err)
	defer held.Unlock()

	err = serve(context.Background(), "", cfg, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestReloadTimings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chrysolite.toml")
	require.NoError(t, os.WriteFile(path, []byte("[app]\noutput_latency_ms = 120\ninactivity_timeout_ms = 4000\n"), 0644))

	a := newApp(config.Default(), slog.Default())
	reloadTimings(a, path, slog.Default())

	latency, timeout := a.Timings()
	assert.Equal(t, 120*time.Millisecond, latency)
	assert.Equal(t, 4*time.Second, timeout)
}

func TestReloadTimings_BadFileKeepsTimings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chrysolite.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = ["), 0644))

	a := newApp(config.Default(), slog.Default())
	reloadTimings(a, path, slog.Default())

	latency, timeout := a.Timings()
	assert.Equal(t, session.DefaultOutputLatency, latency)
	assert.Equal(t, session.DefaultInactivityTimeout, timeout)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "chrysolite "+Version+"\n", out.String())
}

func executeRoot(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	}()

	code := Execute()
	return code, out.String(), errOut.String()
}

func TestExecute_RunMirrorsExitStatusQuietly(t *testing.T) {
	requireShell(t)

	code, stdout, stderr := executeRoot(t, "run", "--", "/bin/sh", "-c", "echo hi; echo oops >&2; exit 3")
	assert.Equal(t, 3, code)
	assert.Equal(t, "hi\n", stdout)
	assert.Equal(t, "oops\n", stderr, "stderr carries only the program's own output")
}

func TestExecute_ReportsUsageErrors(t *testing.T) {
	code, _, stderr := executeRoot(t, "run")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
}
