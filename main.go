package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"spectro/cmd"
	applog "spectro/internal/log"
	"spectro/pkg/build"
)

// main is the entry point for the spectrogram application.
//
// Startup validates build information and parses the command line. The
// selected command then runs until it finishes, the source ends or an
// interrupt cancels the context, after which the pipeline is stopped and
// its transports closed.
func main() {
	// Development builds carry no ldflags and report "unknown". A release
	// missing some of them is worth a warning.
	if err := build.Initialize(); err != nil {
		if build.Get().Dev() {
			applog.Debugf("Main: %v", err)
		} else {
			applog.Warnf("Main: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		stop()
		applog.Fatalf("%v", err)
	}
}
