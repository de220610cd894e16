package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/byronwjones/chrysolite/internal/app"
	"github.com/byronwjones/chrysolite/internal/config"
	"github.com/byronwjones/chrysolite/internal/observer"
	"github.com/byronwjones/chrysolite/internal/session"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
)

// timeoutExitCode matches coreutils timeout(1).
const timeoutExitCode = 124

var (
	runConfigPath string
	runLatencyMS  int
	runTimeoutMS  int
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- program [args...]",
	Short: "Drive a program from this terminal",
	Long: `Run starts program and relays its output message by message. Lines typed on
stdin are sent to the program. Prompts are shown as soon as the program pauses,
even without a trailing newline.

The program is killed after --timeout milliseconds without input or output.
chrysolite exits with the program's exit code, or 124 if it timed out.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadRunOptions(cmd, args)
		if err != nil {
			return err
		}
		code, err := runProgram(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if code != 0 {
			return NewSilentExit(code)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "config file (.toml, .yaml)")
	runCmd.Flags().IntVar(&runLatencyMS, "latency", 0, "pause in ms that ends an unterminated message")
	runCmd.Flags().IntVar(&runTimeoutMS, "timeout", 0, "inactivity timeout in ms")
	rootCmd.AddCommand(runCmd)
}

type runOptions struct {
	Path              string
	Args              string
	Dir               string
	Env               []string
	OutputLatency     time.Duration
	InactivityTimeout time.Duration
}

func loadRunOptions(cmd *cobra.Command, args []string) (runOptions, error) {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return runOptions{}, err
	}
	if cmd.Flags().Changed("latency") {
		cfg.App.OutputLatencyMS = runLatencyMS
	}
	if cmd.Flags().Changed("timeout") {
		cfg.App.InactivityTimeoutMS = runTimeoutMS
	}

	return runOptions{
		Path:              args[0],
		Args:              shellquote.Join(args[1:]...),
		Dir:               cfg.App.Dir,
		Env:               cfg.App.Env,
		OutputLatency:     cfg.App.OutputLatency(),
		InactivityTimeout: cfg.App.InactivityTimeout(),
	}, nil
}

// runProgram drives one execution to completion and returns the exit code
// chrysolite should report.
func runProgram(ctx context.Context, opts runOptions, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	gate := observer.NewGate()
	p := &printer{stdout: stdout, stderr: stderr}

	// Listener calls are serialized and the last one releases the gate, so
	// outcome is safe to read after Wait.
	var outcome session.ExitOutcome
	a := app.New(opts.Path, "",
		app.WithOutputLatency(opts.OutputLatency),
		app.WithInactivityTimeout(opts.InactivityTimeout),
		app.WithDir(opts.Dir),
		app.WithEnv(opts.Env),
		app.WithHistory(1),
		app.WithListener(session.ListenerFuncs{
			Message: p.print,
			Exited: func(o session.ExitOutcome) {
				outcome = o
				gate.Release()
			},
		}),
	)

	if err := a.Execute(opts.Args); err != nil {
		return 0, err
	}

	go forwardInput(stdin, a)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-sigCh:
			a.Kill()
		case <-ctx.Done():
			a.Kill()
		case <-stop:
		}
	}()

	// Kill always leads to an exit, so this cannot hang past a signal.
	if err := gate.Wait(context.Background()); err != nil {
		return 0, err
	}
	return exitStatus(outcome), nil
}

// forwardInput sends each line read from r to the program until r ends or
// the program stops.
func forwardInput(r io.Reader, a *app.App) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := a.SendInput(scanner.Text()); err != nil {
			return
		}
	}
}

func exitStatus(o session.ExitOutcome) int {
	switch {
	case o.TimedOut:
		return timeoutExitCode
	case o.ExitCode == session.ExitCodeUnknown:
		return 1
	default:
		return o.ExitCode
	}
}

type printer struct {
	stdout io.Writer
	stderr io.Writer
}

// print writes complete messages as lines and incomplete ones, usually
// prompts, as-is.
func (p *printer) print(m session.Message) {
	w := p.stdout
	if m.Stream == session.StreamStderr {
		w = p.stderr
	}
	if m.Complete {
		fmt.Fprintln(w, m.Text)
		return
	}
	fmt.Fprint(w, m.Text)
}
