package main

import (
	"path/filepath"

	"github.com/RuiFG/streaming/streaming-table/broadcaster"
	"github.com/RuiFG/streaming/streaming-table/log"
	"github.com/spf13/cobra"
)

func init() {
	Command.AddCommand(&cobra.Command{
		Use:   "broadcast [file]",
		Short: "serve the lines of a file to one socket client",
		Long:  `serve the lines of a file to one socket client, the socket-word-count lesson reads them`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options := broadcaster.Options{
				Addr:   settings.Broadcast.Addr,
				File:   settings.Broadcast.File,
				Delay:  settings.Broadcast.Delay,
				Loop:   settings.Broadcast.Loop,
				Logger: log.Global(),
			}
			if len(args) == 1 {
				options.File = args[0]
			} else if !filepath.IsAbs(options.File) {
				options.File = filepath.Join(settings.DataDir, options.File)
			}
			b := broadcaster.New(options)
			if err := b.Serve(cmd.Context()); err != nil {
				return err
			}
			log.Global().Infow("broadcast finished.", "lines", b.Sent())
			return nil
		},
	})
}
