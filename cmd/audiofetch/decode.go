package main

import (
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/spf13/cobra"
)

var (
	decodeSeek    time.Duration
	decodeSeconds time.Duration
)

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().DurationVar(&decodeSeek, "seek", 0, "Start decoding at this position")
	decodeCmd.Flags().DurationVar(&decodeSeconds, "duration", 10*time.Second, "Amount of audio to decode")
}

// decodeCmd plays an mp3 into nowhere, the way a player would consume it.
var decodeCmd = &cobra.Command{
	Use:   "decode <url|path>",
	Short: "Decode part of an mp3 file and report timings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		af, err := mgr.Open(cmd.Context(), args[0], cfg.Fetch.BytesPerSecond)
		if err != nil {
			return err
		}
		defer af.Close()
		opened := time.Since(start)

		// the decoder seeks to the end to measure the stream
		ctl := af.StreamLoaderController()
		ctl.SetRandomAccessMode()
		dec, err := mp3.NewDecoder(af)
		ctl.SetStreamMode()
		if err != nil {
			return fmt.Errorf("decoding %s: %w", args[0], err)
		}

		// 16 bit stereo
		pcmRate := int64(dec.SampleRate()) * 4
		if decodeSeek > 0 {
			off := int64(decodeSeek.Seconds()*float64(dec.SampleRate())) * 4
			if _, err := dec.Seek(off, io.SeekStart); err != nil {
				return err
			}
		}

		n, err := io.CopyN(io.Discard, dec, int64(decodeSeconds.Seconds()*float64(pcmRate)))
		if err != nil && err != io.EOF {
			return err
		}

		total := time.Duration(float64(dec.Length()) / float64(pcmRate) * float64(time.Second))
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %d Hz, %s long, opened in %s, decoded %s in %s\n",
			args[0], af.Kind(), dec.SampleRate(), total.Round(time.Millisecond), opened,
			time.Duration(float64(n)/float64(pcmRate)*float64(time.Second)).Round(time.Millisecond),
			time.Since(start))
		return nil
	},
}
