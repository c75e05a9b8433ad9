package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/simscript/script"
	"github.com/wippyai/simscript/sim"
)

func main() {
	var (
		steps       = flag.Int("steps", 0, "Steps to run (0 uses the manifest setting)")
		logLevel    = flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
		logFile     = flag.String("log-file", "", "Write logs to a file instead of stderr")
		abort       = flag.Bool("abort-overruns", false, "Abort add-ons that overrun their execution budget")
		interval    = flag.Duration("interval", 100*time.Millisecond, "Wall time per step in interactive mode")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: simrun [-steps n] [-log-level level] <manifest.yaml>")
		fmt.Fprintln(os.Stderr, "       simrun -i <manifest.yaml>  (interactive mode)")
		os.Exit(1)
	}

	m, err := LoadManifest(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *steps > 0 {
		m.Settings.Steps = *steps
	}

	if *interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "stdout is not a terminal, running without TUI")
		*interactive = false
	}

	// The TUI owns the terminal, so it only logs to a file.
	dest := *logFile
	if dest == "" && !*interactive {
		dest = "stderr"
	}
	log, err := newLogger(*logLevel, dest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	cfg := sim.Config{Logger: log}
	if *interactive {
		err = runInteractive(m, cfg, *interval)
	} else {
		if *abort {
			cfg.ConfirmAbort = func(*script.Context, time.Duration) bool { return true }
		}
		err = runBatch(m, cfg, os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level, dest string) (*zap.Logger, error) {
	if dest == "" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{dest}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// runBatch runs the manifest for its step count. An interrupt requests a
// stop; stepping continues until the stop takes effect.
func runBatch(m *Manifest, cfg sim.Config, out io.Writer) error {
	ctx := context.Background()
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	cfg.Output = out
	cfg.OnScriptError = func(sc *script.Context, callback string, err error) {
		fmt.Fprintf(out, "%s: %s: %v\n", sc.Label(), callback, err)
	}
	s, err := sim.New(m.World(), m.Config(cfg))
	if err != nil {
		return err
	}
	if err := m.Populate(ctx, s); err != nil {
		s.End(ctx) //nolint:errcheck
		return err
	}
	if err := s.Init(ctx); err != nil {
		s.End(ctx) //nolint:errcheck
		return err
	}

	limit := m.Settings.Steps
	if limit <= 0 {
		limit = defaultSteps
	}
	for i := 0; !s.Stopped(); i++ {
		if i >= limit && !s.Stopping() {
			break
		}
		if sigCtx.Err() != nil && !s.Stopping() {
			s.RequestStop()
		}
		if err := s.Step(ctx); err != nil {
			return err
		}
	}

	snap := s.Snapshot()
	if err := s.End(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, summary(s, snap))
	return nil
}

// defaultSteps bounds a run whose manifest sets no step count.
const defaultSteps = 1000

func summary(s *sim.Session, snap sim.Snapshot) string {
	return fmt.Sprintf("session %s: %s steps, %s simulated, %d scripts",
		s.ID(), humanize.Comma(int64(snap.Steps)), snap.SimulationTime, len(snap.Scripts))
}
