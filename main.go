package main

import (
	"os"

	"github.com/compozy/strata/cli"
	"github.com/compozy/strata/cli/helpers"
)

func main() {
	cmd := cli.RootCmd()
	if err := cmd.Execute(); err != nil {
		helpers.OutputError(os.Stderr, err, helpers.FormatText)
		os.Exit(1)
	}
}
