package main

import (
	"context"
	"fmt"
	"os"

	"diagnosis-runner/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "diagctl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
