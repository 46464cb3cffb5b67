package cmd

import (
	"fmt"
	"path"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jmgilman/go/lazygit/intercept"
)

var lsCmd = &cobra.Command{
	Use:   "ls [dir]",
	Short: "List a directory without materializing its files",
	Long: `Lists a directory of the working tree. Files that have not been
downloaded yet are marked with "~", ignored entries with "!".`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "/"
		if len(args) == 1 {
			target = args[0]
		}

		repo, err := openRepo(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		if err := repo.EnsureFirstBatch(cmd.Context()); err != nil {
			return err
		}

		entries, err := repo.FS().ReadDir(target)
		if err != nil {
			return err
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

		out := cmd.OutOrStdout()
		for _, e := range entries {
			p := path.Join(target, e.Name())
			if intercept.IsMetadata(p) {
				continue
			}

			mark := " "
			switch {
			case repo.IsPlaceholder(p):
				mark = "~"
			case repo.Ignored(p):
				mark = "!"
			}

			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			fmt.Fprintf(out, "%s %s\n", mark, name)
		}
		return nil
	},
}
