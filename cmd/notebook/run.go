package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/RuiFG/streaming/streaming-table/broadcaster"
	"github.com/RuiFG/streaming/streaming-table/common/safe"
	"github.com/RuiFG/streaming/streaming-table/execution"
	"github.com/RuiFG/streaming/streaming-table/internal/config"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/RuiFG/streaming/streaming-table/metrics"
	"github.com/RuiFG/streaming/streaming-table/notebook"
	"github.com/RuiFG/streaming/streaming-table/stream"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/uber-go/tally/v4"
	"go.uber.org/multierr"
)

func init() {
	Command.AddCommand(&cobra.Command{
		Use:   "lessons",
		Short: "list the lessons",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, lesson := range notebook.Lessons() {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", lesson.Name, lesson.Title)
			}
		},
	})
	Command.AddCommand(&cobra.Command{
		Use:   "run <lesson|all>",
		Short: "run one lesson, or all of them in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLessons(cmd.Context(), cmd, settings, args[0])
		},
	})
}

func runLessons(ctx context.Context, cmd *cobra.Command, c config.Notebook, name string) (err error) {
	trigger, err := execution.ParseTrigger(c.Trigger)
	if err != nil {
		return err
	}
	scope, closeMetrics := serveMetrics(c.Metrics)
	defer func() { err = multierr.Append(err, closeMetrics()) }()

	session := stream.NewSession(stream.SessionOptions{
		Name:           config.AppName,
		CheckpointRoot: c.CheckpointRoot,
		Out:            cmd.OutOrStdout(),
		Logger:         log.Global(),
		Scope:          scope,
	})
	defer func() { err = multierr.Append(err, session.Stop()) }()

	env := &notebook.Env{
		Session: session,
		DataDir: c.DataDir,
		Out:     cmd.OutOrStdout(),
		Logger:  log.Global(),
		Broadcast: broadcaster.Options{
			Addr:  c.Broadcast.Addr,
			File:  c.Broadcast.File,
			Delay: c.Broadcast.Delay,
			Loop:  c.Broadcast.Loop,
		},
		SocketDuration: c.SocketDuration,
		Trigger:        trigger,
	}
	return notebook.Run(ctx, env, name)
}

// serveMetrics exposes the session scope on Addr/metrics when enabled.
func serveMetrics(c config.Metrics) (tally.Scope, func() error) {
	if !c.Enabled {
		return tally.NoopScope, func() error { return nil }
	}
	reporter := metrics.NewPrometheusReporter(nil)
	scope, closer := metrics.NewRootScope(metrics.Options{
		Prefix:    c.Prefix,
		Reporter:  reporter,
		Separator: metrics.Separator,
		Interval:  c.Interval,
	})
	mux := http.NewServeMux()
	mux.Handle("/metrics", reporter.HTTPHandler())
	server := &http.Server{Addr: c.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger := log.Global().Named("metrics")
	safe.Go(func() error {
		logger.Infow("serving metrics.", "addr", c.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("metrics server failed.", "err", err)
			return err
		}
		return nil
	})
	return scope, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return multierr.Combine(server.Shutdown(ctx), closer.Close())
	}
}
