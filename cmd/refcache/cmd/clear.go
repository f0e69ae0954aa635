package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear [handler]",
	Short: "Remove cached artifacts",
	Long:  "Remove every cached artifact, or only those of one handler.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}

	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	if err := c.Clear(name); err != nil {
		return err
	}

	if name == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", c.Dir())
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", c.Subdir(name))
	}
	return nil
}
