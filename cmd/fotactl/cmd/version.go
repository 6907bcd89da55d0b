package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"fotad.sh/internal/version"
)

func newVersionCmd() *cobra.Command {
	var client bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show client and server version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s %s\n", bold("fotactl:"), version.String())
			if client {
				return nil
			}

			var health map[string]string
			if err := newClient().get("/health", &health); err != nil {
				printError("server unreachable: %v", err)
				return nil
			}
			fmt.Printf("%s %s (%s)\n", bold("fotad:"), health["version"], health["status"])
			return nil
		},
	}

	cmd.Flags().BoolVar(&client, "client", false, "show only the client version")
	return cmd
}
