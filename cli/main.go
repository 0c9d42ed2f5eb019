package main

import (
	"os"

	"github.com/lightwatch/lightwatch/cli/cmd"
	"github.com/lightwatch/lightwatch/cli/pkg/output"
)

func main() {
	if err := cmd.Execute(); err != nil {
		output.Error("%v", err)
		os.Exit(1)
	}
}
