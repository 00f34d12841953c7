// Command tiercache inspects and maintains a tiercache disk root and runs
// synthetic workloads against a cache.
package main

import (
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/jmgilman/go/errors"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/IvanBrykalov/tiercache/cache"
	"github.com/IvanBrykalov/tiercache/config"
)

const appName = "tiercache"

var (
	configFile string
	logger     = log.NewWithOptions(os.Stderr, log.Options{Prefix: appName})

	rootCmd = &cobra.Command{
		Use:           appName,
		Short:         "Inspect and maintain a two-tier memory/disk cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadConfig()
		},
	}
)

// loadConfig reads the config file (explicit or from the default places)
// and applies the log level.
func loadConfig() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		dirs, err := gap.NewScope(gap.User, appName).ConfigDirs()
		if err != nil {
			logger.Warn("could not resolve configuration directories", "err", err)
		}
		if c := os.Getenv("TIERCACHE_CONFIG_HOME"); c != "" {
			dirs = append([]string{c}, dirs...)
		}
		for _, d := range dirs {
			viper.AddConfigPath(d)
		}
		viper.SetConfigName(appName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return errors.Wrap(err, errors.CodeInvalidConfig, "failed to read config file")
		}
	}
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug("using configuration file", "path", used)
	}

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}
	lvl, _ := cfg.Level()
	logger.SetLevel(lvl)
	return nil
}

// openManager builds a Manager from the loaded configuration. tweak may
// adjust the options before New.
func openManager(tweak func(*cache.Options)) (*cache.Manager, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options(logger)
	if err != nil {
		return nil, err
	}
	if opts.DiskRoot == "" {
		opts.DiskRoot = cache.DefaultDiskRoot()
	}
	if abs, err := filepath.Abs(opts.DiskRoot); err == nil {
		opts.DiskRoot = abs
	}
	if tweak != nil {
		tweak(&opts)
	}
	logger.Debug("opening cache", "disk_root", opts.DiskRoot, "max_memory", opts.MaxMemoryBytes)
	return cache.New(opts)
}

func init() {
	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix(appName)
	viper.AutomaticEnv()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default: tiercache.yaml in the user config dir)")
	pf.String("disk-root", "", "disk tier directory (default: user cache dir)")
	pf.String("max-memory", "", "memory tier budget, e.g. 64MiB")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.Bool("compression", false, "zstd-compress disk payloads")

	_ = viper.BindPFlag("disk_root", pf.Lookup("disk-root"))
	_ = viper.BindPFlag("max_memory", pf.Lookup("max-memory"))
	_ = viper.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("compression", pf.Lookup("compression"))

	rootCmd.AddCommand(statsCmd, lsCmd, cleanupCmd, clearCmd, benchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}
