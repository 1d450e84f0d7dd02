package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/RuiFG/streaming/streaming-table/internal/config"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
)

var (
	configFile  string
	logLevel    string
	profileMode string

	settings config.Notebook
	profiler interface{ Stop() }
)

// Command is the root of the notebook cli.
var Command = &cobra.Command{
	Use:           "notebook",
	Short:         "structured streaming lessons over a micro-batch query engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if settings, err = config.Load(configFile); err != nil {
			return err
		}
		if logLevel != "" {
			settings.Log.Level = logLevel
		}
		if err = setupLog(settings.Log); err != nil {
			return err
		}
		profiler = startProfile(profileMode)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if profiler != nil {
			profiler.Stop()
		}
	},
}

func init() {
	flags := Command.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file, notebook.yml in . or ./config/ by default")
	flags.StringVar(&logLevel, "log-level", "", "overrides log.level")
	flags.StringVar(&profileMode, "profile", "", "cpu, mem, goroutine or block")
}

func setupLog(c config.Log) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	encoder, err := log.ParseOutputEncoder(c.Encoder)
	if err != nil {
		return err
	}
	log.Setup(log.DefaultOptions().
		WithLevel(level).
		WithOutputEncoder(encoder).
		WithLevelEncoder(log.BracketLevelEncoder).
		WithNamed(config.AppName))
	return nil
}

func startProfile(mode string) interface{ Stop() } {
	var option func(*profile.Profile)
	switch mode {
	case "cpu":
		option = profile.CPUProfile
	case "mem":
		option = profile.MemProfile
	case "goroutine":
		option = profile.GoroutineProfile
	case "block":
		option = profile.BlockProfile
	default:
		return nil
	}
	return profile.Start(option, profile.ProfilePath("."), profile.NoShutdownHook)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := Command.ExecuteContext(ctx); err != nil {
		log.Global().Errorw("notebook failed.", "err", err)
		stop()
		os.Exit(1)
	}
}
