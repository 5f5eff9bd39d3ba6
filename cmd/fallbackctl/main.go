package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ueno-ryu/fallback-gateway/app"
	"github.com/ueno-ryu/fallback-gateway/config"
	"github.com/ueno-ryu/fallback-gateway/services/fallback"
	"github.com/ueno-ryu/fallback-gateway/services/invoker"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		backendsFlag = flag.String("backends", "", "comma-separated backend priority list (default: configured list)")
		binaryFlag   = flag.String("binary", "", "CLI binary to invoke (default: configured binary)")
		retriesFlag  = flag.Int("retries", 0, "max retries per backend before rotating")
		cyclesFlag   = flag.Int("cycles", 0, "max full passes through the backend list")
		timeoutFlag  = flag.Duration("timeout", 0, "per-attempt timeout (e.g. 90s)")
		verboseFlag  = flag.Bool("v", false, "log each attempt")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <prompt>\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}
	prompt := strings.Join(flag.Args(), " ")

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	if *backendsFlag != "" {
		cfg.Fallback.Backends = splitList(*backendsFlag)
	}
	if *binaryFlag != "" {
		cfg.Fallback.GeminiBinary = *binaryFlag
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	inv := invoker.NewCLIInvoker(cfg.Fallback.GeminiBinary, logger)
	executor, err := fallback.NewExecutor(fallback.ExecutorConfig{
		Backends:     cfg.Fallback.Backends,
		RetryBackoff: cfg.Fallback.RetryBackoff,
		CycleBackoff: cfg.Fallback.CycleBackoff,
	}, inv, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid backend configuration: %v\n", err)
		return 1
	}

	opts := fallback.Options{
		MaxRetriesPerBackend: cfg.Fallback.MaxRetriesPerBackend,
		MaxCycles:            cfg.Fallback.MaxCycles,
		AttemptTimeout:       cfg.Fallback.AttemptTimeout,
		Verbose:              *verboseFlag,
	}
	if *retriesFlag > 0 {
		opts.MaxRetriesPerBackend = *retriesFlag
	}
	if *cyclesFlag > 0 {
		opts.MaxCycles = *cyclesFlag
	}
	if *timeoutFlag > 0 {
		opts.AttemptTimeout = *timeoutFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	result, err := executor.Execute(ctx, prompt, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aborted: %v\n", err)
		return 1
	}

	if result.Succeeded() {
		if *verboseFlag {
			fmt.Fprintf(os.Stderr, "succeeded on %s after %d attempt(s) in %s (fallback used: %v)\n",
				result.BackendID, result.Attempts, time.Since(start).Round(time.Millisecond), result.FallbackUsed)
		}
		fmt.Println(result.Output)
		return 0
	}

	if result.EscalationNotice != "" {
		fmt.Fprintln(os.Stderr, result.EscalationNotice)
	} else {
		fmt.Fprintf(os.Stderr, "execution failed on %s: %s\n", result.BackendID, result.Reason)
	}
	return 1
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
