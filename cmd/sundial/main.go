package main

import (
	"os"

	"github.com/bnema/sundial/cmd"
)

func main() {
	os.Exit(cmd.ExitCode(cmd.Execute()))
}
