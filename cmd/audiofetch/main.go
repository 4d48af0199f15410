// Command audiofetch downloads, probes and caches remote audio files with
// the streaming engine.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
