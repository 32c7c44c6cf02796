// Kestrel CLI - runs and inspects compiled program images.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/kestrel/config"
)

var log = commonlog.GetLogger("kestrel.cli")

// errUncaught reports a script exception that has already been printed.
var errUncaught = errors.New("uncaught exception")

// cliOptions holds the flags shared by every command.
type cliOptions struct {
	configPath string
	verbose    int
	stressGC   bool
	maxFrames  int
	noColor    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errUncaught) {
			fmt.Fprintln(os.Stderr, red(err.Error()))
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "kestrel",
		Short:         "Run and inspect Kestrel bytecode images",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to kestrel.toml (default: search upward from the current directory)")
	flags.CountVarP(&opts.verbose, "verbose", "v", "increase log verbosity (repeatable)")
	flags.BoolVar(&opts.stressGC, "stress-gc", false, "collect garbage on every allocation")
	flags.IntVar(&opts.maxFrames, "max-frames", 0, "maximum script call depth")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(newRunCmd(opts), newDisasmCmd(opts), newGCCmd(opts))
	return root
}

// loadConfig resolves the configuration file and applies flag overrides.
func (o *cliOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		var wd string
		if wd, err = os.Getwd(); err == nil {
			cfg, err = config.FindAndLoad(wd)
		}
	}
	if err != nil {
		return nil, err
	}

	cfg.Log.Verbosity += o.verbose
	if o.stressGC {
		cfg.GC.Stress = true
	}
	if o.maxFrames != 0 {
		cfg.VM.MaxFrames = o.maxFrames
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ConfigureLogging()
	if cfg.Path != "" {
		log.Debugf("using %s", cfg.Path)
	}
	return cfg, nil
}
