package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dirCmd = &cobra.Command{
	Use:   "dir [handler]",
	Short: "Print the cache directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDir,
}

func init() {
	rootCmd.AddCommand(dirCmd)
}

func runDir(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}

	dir := c.Dir()
	if len(args) > 0 {
		if _, ok := c.Handler(args[0]); !ok {
			return fmt.Errorf("no handler named %q", args[0])
		}
		dir = c.Subdir(args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), dir)
	return nil
}
