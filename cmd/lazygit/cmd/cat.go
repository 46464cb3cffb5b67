package cmd

import (
	"io"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file, materializing it first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepo(cmd.Context())
		if err != nil {
			return err
		}
		defer repo.Close()

		f, err := repo.FS().Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(cmd.OutOrStdout(), f)
		return err
	},
}
