// Package main runs the varkeep command line.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/varkeep/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
