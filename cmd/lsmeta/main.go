package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/TOMATOFGY/oceanbase/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}

	// Command failures have already been reported by the formatter.
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(cli.ExitCommandError)
}
