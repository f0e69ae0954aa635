package cmd

import (
	"io"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat <ref>",
	Short: "Resolve a reference and write its content to stdout",
	Long:  "Resolve a reference and stream its content. With --no-cache nothing is written to disk.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

func init() {
	addOptionFlags(catCmd)
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) (err error) {
	opts, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}
	c, err := openCache()
	if err != nil {
		return err
	}

	rc, err := c.Open(cmd.Context(), args[0], opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(cmd.OutOrStdout(), rc)
	return err
}
