package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/CaseSolvedUK/rest-migrate/pkg/config"
	"github.com/CaseSolvedUK/rest-migrate/pkg/logger"
)

var version = "0.1.0"

// globalFlags are shared by every command
type globalFlags struct {
	configFile string
	treeFile   string
	logLevel   string
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	var cfg *config.Config

	root := &cobra.Command{
		Use:   "restmigrate",
		Short: "Migrate data from REST APIs into a record store",
		Long: `restmigrate describes REST APIs as a tree of segments, compiles the tree
into request URLs, fetches the JSON records and imports them into a record
store through per-field mappings.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(flags.configFile)
			if err != nil {
				return err
			}
			if flags.treeFile != "" {
				cfg.Tree.File = flags.treeFile
			}
			if flags.logLevel != "" {
				cfg.Logging.Level = flags.logLevel
			}
			return logger.Init(logger.Config{
				Level:       cfg.Logging.Level,
				Development: cfg.Logging.Development,
				Encoding:    cfg.Logging.Encoding,
				OutputPaths: []string{"stderr"},
			})
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")
	root.PersistentFlags().StringVar(&flags.treeFile, "tree", "", "Path to the segment tree file (overrides tree.file)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	getCfg := func() *config.Config { return cfg }

	root.AddCommand(
		newVersionCmd(),
		newImportCmd(getCfg),
		newGetCmd(getCfg),
		newFieldsCmd(getCfg),
		newTreeCmd(getCfg),
		newConfigCmd(getCfg),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "restmigrate v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
