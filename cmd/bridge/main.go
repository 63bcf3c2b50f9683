package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pushbridge/internal/app"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var (
		cfgPath     string
		showVersion bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("pushbridge", version)
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	// Under systemd (Type=notify) this flips the unit to "active"; elsewhere
	// it is a no-op.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	reason := app.StopUnknown
	select {
	case sig := <-sigCh:
		switch sig {
		case syscall.SIGTERM:
			reason = app.StopSIGTERM
		default:
			reason = app.StopSIGINT
		}
		cancel()
	case <-a.Done():
		reason = app.StopFatalError
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil && reason == app.StopFatalError {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
