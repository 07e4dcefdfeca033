package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Exit status 3 means the daemon refused to stop because files are still
// being optimized; scripts can retry later or pass --force.
const (
	exitFailure = 1
	exitBusy    = 3
)

var errDaemonBusy = errors.New("daemon busy")

func main() {
	err := newRootCommand().Execute()
	if err == nil {
		return
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "faststart: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if errors.Is(err, errDaemonBusy) {
		return exitBusy
	}
	return exitFailure
}
