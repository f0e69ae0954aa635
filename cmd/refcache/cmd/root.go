package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/refcache"
	"github.com/aweris/refcache/handler"
)

var rootCmd = &cobra.Command{
	Use:           "refcache",
	Short:         "Resolve file references into cached local paths",
	Long:          "Resolve compressed files, archive members, OCI images and git checkouts into local paths, caching every intermediate result.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ~/.config/refcache/config.yaml)")
	flags.String("cache-dir", "", "cache directory (default: ~/.cache/refcache)")
	flags.Bool("no-cache", false, "do not persist artifacts, stream content instead")
	flags.StringSlice("handlers", nil, "handler chain in dispatch order (default: "+strings.Join(handler.DefaultOrder, ",")+")")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
	flags.Bool("oci-insecure", false, "allow plain HTTP registries")

	viper.BindPFlag("cache_dir", flags.Lookup("cache-dir"))
	viper.BindPFlag("no_cache", flags.Lookup("no-cache"))
	viper.BindPFlag("handlers", flags.Lookup("handlers"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("oci.insecure", flags.Lookup("oci-insecure"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		if expanded, err := homedir.Expand(cfg); err == nil {
			cfg = expanded
		}
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("REFCACHE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("cache_dir", refcache.DefaultDir())
	viper.SetDefault("handlers", handler.DefaultOrder)
	viper.SetDefault("git.executable", "git")
	viper.SetDefault("oci.concurrency", 4)

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "refcache")
	}
	if home, err := homedir.Dir(); err == nil {
		return filepath.Join(home, ".config", "refcache")
	}
	return ".refcache"
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log_level"))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

// openCache builds the engine and its handler chain from configuration.
func openCache() (*refcache.Cache, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	opts := []refcache.CacheOption{refcache.WithLogger(logger)}
	if viper.GetBool("no_cache") {
		opts = append(opts, refcache.WithoutCache())
	} else {
		opts = append(opts, refcache.WithCacheDir(viper.GetString("cache_dir")))
	}
	c := refcache.New(opts...)
	if err := c.EnsureDir(); err != nil {
		return nil, err
	}

	err = handler.Register(c, viper.GetStringSlice("handlers"), handler.Config{
		Logger:         logger,
		GitExecutable:  viper.GetString("git.executable"),
		OCIInsecure:    viper.GetBool("oci.insecure"),
		OCIConcurrency: viper.GetInt("oci.concurrency"),
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
