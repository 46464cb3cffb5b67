package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

// Global flags.
var (
	configPath    string
	repoURL       string
	branch        string
	dir           string
	metricsListen string
)

var rootCmd = &cobra.Command{
	Use:   "lazygit",
	Short: "Browse a remote git repository without cloning its content",
	Long: `lazygit opens a remote repository lazily: only the tree is fetched up
front and file content is downloaded the first time a file is read.
Settings come from a YAML file (--config) and may be overridden with flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "lazygit %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&repoURL, "url", "", "repository URL (overrides repo.url)")
	rootCmd.PersistentFlags().StringVar(&branch, "branch", "", "branch to open (overrides repo.branch)")
	rootCmd.PersistentFlags().StringVar(&dir, "dir", "", "working tree directory (overrides repo.dir)")
	rootCmd.PersistentFlags().StringVar(&metricsListen, "metrics-listen", "", "address to serve Prometheus metrics on")

	rootCmd.AddCommand(versionCmd, catCmd, lsCmd, statusCmd)
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
