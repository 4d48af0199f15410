package main

import (
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KarpelesLab/audiofetch/internal/logger"
)

func init() {
	rootCmd.AddCommand(prefetchCmd)
}

// prefetchCmd fills the cache with complete downloads.
var prefetchCmd = &cobra.Command{
	Use:   "prefetch <url>...",
	Short: "Download files into the cache",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if mgr.Cache == nil {
			logger.Named("cli").Warn("cache is disabled, prefetched files will be discarded")
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(max(1, cfg.Fetch.MaxConcurrent))
		for _, u := range args {
			g.Go(func() error {
				af, err := mgr.Open(ctx, u, cfg.Fetch.BytesPerSecond)
				if err != nil {
					return err
				}
				defer af.Close()
				// reading to the end completes the download
				if _, err := io.Copy(io.Discard, af); err != nil {
					return err
				}
				logger.Named("cli").Infof("%s: %s", af.Kind(), u)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		// cache writes finish in the background
		mgr.Wait()
		return nil
	},
}
