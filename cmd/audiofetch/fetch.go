package main

import (
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/KarpelesLab/audiofetch/internal/logger"
)

var (
	fetchOut string
	fetchBps int64
)

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVarP(&fetchOut, "output", "o", "", "Write to this file instead of stdout")
	fetchCmd.Flags().Int64Var(&fetchBps, "bps", 0, "Expected playback rate in bytes per second")
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <url|path>",
	Short: "Read a file through the streaming engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bps := fetchBps
		if bps == 0 {
			bps = cfg.Fetch.BytesPerSecond
		}

		start := time.Now()
		af, err := mgr.Open(cmd.Context(), args[0], bps)
		if err != nil {
			return err
		}
		defer af.Close()

		var out io.Writer = cmd.OutOrStdout()
		if fetchOut != "" {
			f, err := os.Create(fetchOut)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		n, err := io.Copy(out, af)
		if err != nil {
			return err
		}
		logger.Named("cli").Infof("read %s (%s) from %s in %s", humanize.IBytes(uint64(n)), af.Kind(), args[0], time.Since(start))
		return nil
	},
}
