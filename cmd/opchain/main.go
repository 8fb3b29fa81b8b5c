// Command opchain builds a chain of linear operator blocks from a YAML
// configuration, prepares its statistics and runs the adjoint and inverse
// self-tests.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

var exitFunc = os.Exit

// errSuiteFailed reports a completed test run with failures.
var errSuiteFailed = errors.New("self-tests failed")

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

// cli runs the command tree and maps the outcome to an exit code:
// 0 success, 1 failed self-tests, 2 any other error.
func cli(args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errSuiteFailed):
		return 1
	default:
		_, _ = fmt.Fprintf(stderr, "opchain: %v\n", err)
		return 2
	}
}
