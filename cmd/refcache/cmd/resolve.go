package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <ref>",
	Short: "Resolve a reference and print the local path",
	Long: `Resolve a reference through the handler chain and print the final reference.

Examples:
  refcache resolve data/logs.tar.gz/app/2024.log
  refcache resolve oci://ghcr.io/org/assets:v1/config.yaml
  refcache resolve --git https://github.com/org/repo.git --branch main README.md`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	addOptionFlags(resolveCmd)
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	opts, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}
	c, err := openCache()
	if err != nil {
		return err
	}

	res, err := c.Resolve(cmd.Context(), args[0], opts)
	if err != nil {
		return err
	}
	if !res.Local {
		c.Logger().Warn("reference does not exist locally", "ref", res.Ref)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Ref)
	return nil
}
