// cmd/bloodlink/main.go
package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"bloodlink/internal/common/config"
	"bloodlink/internal/common/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func (o *rootOptions) load() (*config.Config, error) {
	if o.configPath != "" {
		return config.LoadFromFile(o.configPath)
	}
	return config.Load()
}

func (o *rootOptions) logger(cfg *config.Config) (*zap.Logger, logger.Logger) {
	opts := logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}
	if o.logLevel != "" {
		opts.Level = o.logLevel
	}
	zl := logger.NewWithOptions(opts)
	return zl, logger.NewZapAdapter(zl)
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "bloodlink",
		Short:         "Match blood donors to requests and dispatch their notifications",
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: configs/config.yaml with an APP_ENVIRONMENT overlay)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newCheckCompatCommand(),
		newReindexCommand(opts),
		newTemplatesCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "bloodlink:", err)
		os.Exit(1)
	}
}
