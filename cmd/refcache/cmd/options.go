package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aweris/refcache"
)

// addOptionFlags registers the option-bag flags shared by resolve and cat.
func addOptionFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("tar", "", "tar archive holding the reference")
	flags.String("zip", "", "zip archive holding the reference")
	flags.String("password", "", "password for encrypted zip entries")
	flags.String("git", "", "git repository the reference lives in")
	flags.String("branch", "", "git branch to check out")
	flags.String("revision", "", "git revision to reset to")
	flags.String("as-of", "", "use the last git commit before this date")
	flags.Bool("pull", false, "pull the git working directory first")
	flags.StringArrayP("option", "o", nil, "extra option as key=value (repeatable)")
}

var optionFlags = map[string]string{
	"tar":      refcache.OptTar,
	"zip":      refcache.OptZip,
	"password": refcache.OptPassword,
	"git":      refcache.OptGit,
	"branch":   refcache.OptBranch,
	"revision": refcache.OptRevision,
	"as-of":    refcache.OptAsOf,
}

// optionsFromFlags collects the flags that were set into an option bag.
func optionsFromFlags(cmd *cobra.Command) (refcache.Options, error) {
	opts := refcache.Options{}

	extra, err := cmd.Flags().GetStringArray("option")
	if err != nil {
		return nil, err
	}
	for _, kv := range extra {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q, expected key=value", kv)
		}
		opts[key] = value
	}

	for flag, key := range optionFlags {
		if cmd.Flags().Changed(flag) {
			opts[key] = cmd.Flags().Lookup(flag).Value.String()
		}
	}
	if cmd.Flags().Changed("pull") {
		pull, _ := cmd.Flags().GetBool("pull")
		opts[refcache.OptPull] = pull
	}
	return opts, nil
}
