// Command ncd runs dataflow programs written in CUE.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ncd/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// Commands that already reported their failure return an empty message.
	if msg := err.Error(); msg != "" {
		fmt.Fprintln(os.Stderr, "ncd:", msg)
	}
	os.Exit(cli.GetExitCode(err))
}
