package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"tickler/internal/app"
	"tickler/items/journal"
	"tickler/items/speedtest"
)

func main() {
	var cfgPath, mode string
	flag.StringVar(&cfgPath, "config", "./tickler.yaml", "path to config file (yaml or json)")
	flag.StringVar(&mode, "mode", "auto", "auto | new-session | full-session | resume")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, map[string]app.BodyFactory{
		"prompt":    journal.Factory,
		"speedtest": speedtest.Factory,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Recover(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal recover:", err)
		os.Exit(1)
	}

	if mode != "auto" {
		if err := a.RunOnce(ctx, mode); err != nil {
			if errors.Is(err, app.ErrDuplicateInstance) {
				return
			}
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		if errors.Is(err, app.ErrDuplicateInstance) {
			return
		}
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.Stop()
}
