package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmgilman/go/lazygit/remote"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the branch and materialization state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "repository:     %s\n", remote.RepoName(repo.URL()))
		fmt.Fprintf(out, "branch:         %s\n", repo.BranchName())
		fmt.Fprintf(out, "ref:            %s\n", repo.CurrentRef())
		fmt.Fprintf(out, "default branch: %s\n", repo.DefaultBranch())
		fmt.Fprintf(out, "lazy:           %t\n", repo.Lazy())
		fmt.Fprintf(out, "placeholders:   %d\n", repo.Placeholders())

		checkedOut := repo.CheckedOut()
		fmt.Fprintf(out, "checked out:    %d\n", len(checkedOut))
		for _, p := range checkedOut {
			fmt.Fprintf(out, "  %s\n", p)
		}
		return nil
	},
}
