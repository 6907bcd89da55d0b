// fotactl is the operator CLI for a running fotad daemon.
package main

import (
	"os"

	"fotad.sh/cmd/fotactl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
