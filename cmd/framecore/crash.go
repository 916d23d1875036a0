package main

import (
	"fmt"
	"os"
	"runtime/debug"
)

// handleCrash restores the terminal and dumps the stack for a panic that
// escaped the frame loop. restore must be safe to call more than once.
func handleCrash(r any, restore func()) {
	if r == nil {
		return
	}
	if restore != nil {
		restore()
	}
	os.Stdout.Sync()
	os.Stderr.Sync()

	fmt.Fprintf(os.Stderr, "\r\n\x1b[31m程式崩潰: %v\x1b[0m\r\n", r)
	fmt.Fprintf(os.Stderr, "Stack Trace:\r\n%s\r\n", debug.Stack())
	os.Stderr.Sync()

	os.Exit(2)
}
