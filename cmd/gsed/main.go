// gsed - cognitive typing-state estimator daemon
//
// gsed reads key events, estimates whether the typist is in flow, incubating
// or stuck, and serves the estimate over local HTTP:
//
//	gsed                        Run with the default configuration
//	gsed -config gse.toml       Run with a configuration file
//	gsed -source rec.jsonl      Replay a recording instead of standard input
//	gsed -detach                Run in the background
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"gse/internal/config"
	"gse/internal/logging"
	"gse/internal/pidfile"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

type options struct {
	configPath  string
	source      string
	pace        bool
	logLevel    string
	detach      bool
	showVersion bool
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("gsed", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "configuration file (default "+config.ConfigPath()+")")
	fs.StringVar(&opts.source, "source", "", "key event recording to read, - for stdin (overrides input.source)")
	fs.BoolVar(&opts.pace, "pace", false, "replay the recording at its recorded speed")
	fs.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides logging.level)")
	fs.BoolVar(&opts.detach, "detach", false, "run in the background")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return opts, nil
}

func run(args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "gsed: %v\n", err)
		return 2
	}
	if opts.showVersion {
		fmt.Println("gsed", version)
		return 0
	}
	if opts.detach {
		return detach(args)
	}

	loader := config.NewLoader(opts.configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gsed: %v\n", err)
		return 1
	}
	applyFlags(cfg, opts)
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "gsed: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "gsed: %v\n", err)
		return 1
	}
	logging.SetDefault(logger)
	defer logger.Close()

	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir:  cfg.Daemon.CrashDir,
		Version:   version,
		Component: "gsed",
		Logger:    logger,
	})
	defer crash.RecoverGoroutine("main")

	lock, err := pidfile.Acquire(cfg.Daemon.PidFile)
	if err != nil {
		if errors.Is(err, pidfile.ErrLocked) {
			pid, _ := pidfile.Read(cfg.Daemon.PidFile)
			logger.Error("gsed is already running", "pid", pid, "pid_file", cfg.Daemon.PidFile)
		} else {
			logger.Error("acquire pid file", "error", err)
		}
		return 1
	}
	defer lock.Release()

	d, err := newDaemon(cfg, logger, crash)
	if err != nil {
		logger.Error("start daemon", "error", err)
		return 1
	}

	loader.OnChange(func(old, new *config.Config) {
		applyFlags(new, opts)
		d.reconfigure(old, new)
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload disabled", "path", loader.Path(), "error", err)
	}
	defer loader.Close()
	go func() {
		for err := range loader.Errors() {
			logger.Warn("config reload failed; keeping previous settings", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("gsed started", "version", version, "pid", os.Getpid(), "config", loader.Path())
	if err := d.run(ctx); err != nil {
		logger.Error("daemon stopped with error", "error", err)
		return 1
	}
	logger.Info("gsed stopped")
	return 0
}

// applyFlags lets command line flags win over the file and environment.
func applyFlags(cfg *config.Config, opts *options) {
	if opts.source != "" {
		cfg.Input.Source = opts.source
	}
	if opts.pace {
		cfg.Input.Pace = true
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
}

// detach re-executes gsed without -detach in a new session.
func detach(args []string) int {
	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "gsed: %v\n", err)
		return 1
	}

	childArgs := make([]string, 0, len(args))
	for _, a := range args {
		if a == "-detach" || a == "--detach" || a == "-detach=true" || a == "--detach=true" {
			continue
		}
		childArgs = append(childArgs, a)
	}

	cmd := exec.Command(exe, childArgs...)
	cmd.SysProcAttr = daemonSysProcAttr()
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "gsed: start background process: %v\n", err)
		return 1
	}
	fmt.Printf("gsed running in background (pid %d)\n", cmd.Process.Pid)
	if err := cmd.Process.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "gsed: %v\n", err)
		return 1
	}
	return 0
}
