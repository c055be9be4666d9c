package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	exitFailure    = 1
	exitJobsFailed = 2
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stderr))
}

// execute runs the root command and maps its error to an exit code. A run
// whose jobs finished without all succeeding exits 2 so schedulers such as
// cron can tell it apart from a command that could not run at all.
func execute(args []string, stderr io.Writer) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	err := cmd.Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return exitFailure
	case errors.Is(err, errJobsFailed):
		fmt.Fprintln(stderr, err)
		return exitJobsFailed
	default:
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
}
