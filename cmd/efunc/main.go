package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/efunc/internal/engine"
	"github.com/tinyrange/efunc/internal/ffi"
	"github.com/tinyrange/efunc/internal/manifest"
	"github.com/tinyrange/efunc/internal/trace"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "efunc: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "trace" {
		return runTrace(args[1:])
	}

	fs := flag.NewFlagSet("efunc", flag.ContinueOnError)
	debug := fs.Bool("debug", false, "Enable debug logging")
	useMmap := fs.Bool("mmap", false, "Allocate native memory with mmap instead of libc malloc")
	libc := fs.String("libc", "", "C library used for malloc/free (default: platform libc)")
	traceFile := fs.String("trace", "", "Record every native call to a binary trace file")
	repeat := fs.Int("repeat", 1, "Run the manifest N times")
	raw := fs.Bool("raw", false, "Print native strings without stripping terminal escapes")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: efunc [flags] <manifest.yaml|manifest.toml>\n")
		fmt.Fprintf(os.Stderr, "       efunc trace [flags] <file>\n\n")
		fmt.Fprintf(os.Stderr, "Load native libraries and call functions described by a manifest.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  efunc libc.yaml\n")
		fmt.Fprintf(os.Stderr, "  efunc -trace calls.trace -repeat 1000 libc.yaml\n")
		fmt.Fprintf(os.Stderr, "  efunc trace -call 3 calls.trace\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("manifest path required")
	}
	if *repeat < 1 {
		return fmt.Errorf("-repeat must be at least 1")
	}

	log := newLogger(os.Stderr, *debug)
	slog.SetDefault(log)

	m, err := manifest.Load(fs.Arg(0))
	if err != nil {
		return err
	}

	var engOpts []engine.NativeOption
	if *libc != "" {
		engOpts = append(engOpts, engine.WithLibc(*libc))
	}
	if *useMmap {
		engOpts = append(engOpts, engine.WithAllocator(engine.MmapAllocator()))
	}
	eng, err := engine.NewNative(engOpts...)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Close()

	rtOpts := []ffi.Option{ffi.WithLogger(log)}
	if *traceFile != "" {
		tr, err := trace.OpenFile(*traceFile)
		if err != nil {
			return fmt.Errorf("open trace: %w", err)
		}
		defer func() {
			if err := tr.Close(); err != nil {
				slog.Warn("close trace", "error", err)
			}
		}()
		rtOpts = append(rtOpts, ffi.WithTracer(tr))
	}
	rt := ffi.NewRuntime(eng, rtOpts...)

	runner, err := manifest.NewRunner(rt, m, log)
	if err != nil {
		return err
	}

	if *repeat == 1 {
		results, err := runner.Run()
		printResults(os.Stdout, results, *raw)
		return err
	}
	return repeatRun(runner, *repeat, *raw)
}

// repeatRun keeps the libraries open across iterations and prints only the
// final iteration's results.
func repeatRun(runner *manifest.Runner, n int, raw bool) error {
	if err := runner.Open(); err != nil {
		return err
	}
	defer runner.Close()

	pb := progressbar.Default(int64(n))
	defer pb.Close()

	var results []manifest.Result
	start := time.Now()
	for i := 0; i < n; i++ {
		vars, err := runner.ReadVariables()
		if err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}
		calls, err := runner.RunCalls()
		if err != nil {
			return fmt.Errorf("iteration %d: %w", i, err)
		}
		results = append(vars, calls...)
		pb.Add(1)
	}
	elapsed := time.Since(start)
	pb.Finish()

	printResults(os.Stdout, results, raw)
	slog.Info("repeat finished", "iterations", n, "elapsed", elapsed, "per_iteration", elapsed/time.Duration(n))
	return nil
}

func printResults(w io.Writer, results []manifest.Result, raw bool) {
	for _, res := range results {
		line := res.String()
		if !raw {
			line = ansi.Strip(line)
		}
		fmt.Fprintln(w, line)
	}
}

// newLogger writes text to a terminal and JSON otherwise.
func newLogger(w *os.File, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(w.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
