package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"pbx-monitor/internal/config"
	"pbx-monitor/internal/logging"
	"pbx-monitor/internal/runtime"
	"pbx-monitor/internal/ui/dashboard"
)

var BuildVersion = "dev"

const (
	exitRuntimeFailure = 1
	exitUsage          = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.ParseOptions(nil)
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	if err := config.ValidateRequired(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	lock, lockedByOther, lockErr := acquireInstanceLock()
	if lockErr != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize single-instance lock:", lockErr)
		return exitUsage
	}
	if lockedByOther {
		fmt.Fprintln(os.Stderr, "PBX monitor is already running.")
		return exitRuntimeFailure
	}
	defer func() {
		_ = lock.Release()
	}()

	logger := logging.New(opts.Debug)
	defer func() {
		_ = logger.Close()
	}()
	if opts.LogPersist {
		if err := logger.EnableFilePersistence(opts.LogDir, 0); err != nil {
			logger.Warn("failed to enable file log persistence", logging.Field("error", err))
		}
	}

	if opts.TUI {
		err = dashboard.Run(rootCtx, BuildVersion, opts, logger)
	} else {
		err = runDaemon(rootCtx, opts, logger)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pbx monitor exited", logging.Field("error", err))
		return exitRuntimeFailure
	}
	return 0
}

func runDaemon(ctx context.Context, opts config.Options, logger *logging.Logger) error {
	logger.Info("starting pbx monitor", logging.Field("version", BuildVersion))
	service, err := runtime.NewService(opts, logger)
	if err != nil {
		return err
	}
	return service.RunContext(ctx)
}
