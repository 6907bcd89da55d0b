package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fotad.sh/internal/version"
)

var (
	cfgFile string
	noColor bool

	// Color functions shared by all commands.
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fotactl",
	Short: "fotactl - operator CLI for the fotad rollout daemon",
	Long: `fotactl manages a fotad daemon: router inventory, firmware scans,
batched rollout jobs, settings and the firmware version table.

The daemon address comes from --server, the FOTACTL_SERVER environment
variable, or a config file.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		return err
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fotactl.yaml)")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "fotad server address")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))

	rootCmd.AddCommand(
		newRoutersCmd(),
		newScanCmd(),
		newSettingsCmd(),
		newVersionsCmd(),
		newRolloutCmd(),
		newHistoryCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".fotactl")
			viper.SetConfigType("yaml")
		}
	}

	viper.SetEnvPrefix("FOTACTL")
	viper.AutomaticEnv()

	// A missing config file is fine; flags and env cover everything.
	_ = viper.ReadInConfig()

	if noColor {
		color.NoColor = true
	}
}

func printSuccess(format string, args ...any) {
	fmt.Printf("%s %s\n", green("✓"), fmt.Sprintf(format, args...))
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", red("✗"), fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("%s %s\n", cyan("→"), fmt.Sprintf(format, args...))
}
