// Agent-tracker records agent interaction events and serves analytics over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/kon-rad/agent-tracker/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
