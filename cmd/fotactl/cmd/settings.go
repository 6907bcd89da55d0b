package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage daemon settings",
	}

	cmd.AddCommand(
		newSettingsCredentialsCmd(),
		newSettingsWaitCmd(),
	)
	return cmd
}

func newSettingsCredentialsCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Show or set the global SSH credentials",
		Long: `Without flags, shows the configured global username and whether a
password is stored. With --username and --password, replaces both. Routers
with per-device credentials are unaffected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()

			if username == "" && password == "" {
				var creds struct {
					Username    string `json:"username"`
					PasswordSet bool   `json:"passwordSet"`
				}
				if err := client.get("/api/settings/credentials", &creds); err != nil {
					return err
				}
				userLabel := creds.Username
				if userLabel == "" {
					userLabel = "-"
				}
				fmt.Printf("%s %s\n", bold("Username:"), userLabel)
				if creds.PasswordSet {
					fmt.Printf("%s %s\n", bold("Password:"), green("set"))
				} else {
					fmt.Printf("%s %s\n", bold("Password:"), yellow("not set"))
				}
				return nil
			}

			if username == "" {
				return fmt.Errorf("--username is required when setting credentials")
			}
			body := map[string]string{"username": username, "password": password}
			if err := client.put("/api/settings/credentials", body, nil); err != nil {
				return err
			}
			printSuccess("global credentials updated")
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "global SSH username")
	cmd.Flags().StringVar(&password, "password", "", "global SSH password")
	return cmd
}

func newSettingsWaitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wait [minutes]",
		Short: "Show or set the inter-batch pause in minutes",
		Long: `The pause between rollout batches lets the access network reconverge
after a wave of reboots. Zero disables the pause.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()

			if len(args) == 0 {
				var wait map[string]int
				if err := client.get("/api/settings/batch-wait", &wait); err != nil {
					return err
				}
				fmt.Printf("%s %d\n", bold("Batch wait minutes:"), wait["minutes"])
				return nil
			}

			minutes, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("minutes must be an integer: %q", args[0])
			}
			if err := client.put("/api/settings/batch-wait", map[string]int{"minutes": minutes}, nil); err != nil {
				return err
			}
			printSuccess("batch wait set to %d minutes", minutes)
			return nil
		},
	}
}
