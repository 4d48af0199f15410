package audiofetch

import "time"

const (
	// MinimumDownloadSize is the smallest range ever requested over HTTP.
	// Smaller requests are grown to this size.
	MinimumDownloadSize = 64 * 1024

	// MinimumThroughput is the slowest transfer rate still considered
	// alive. It bounds how long a reader waits without progress.
	MinimumThroughput = 8 * 1024

	// DownloadTimeout is how long a blocked reader waits for progress
	// before giving up.
	DownloadTimeout = time.Duration(MinimumDownloadSize/MinimumThroughput) * time.Second

	// ReadAheadBeforePlayback is the amount of audio fetched when a stream
	// is opened.
	ReadAheadBeforePlayback = time.Second

	// ReadAheadDuringPlayback is the amount of audio requested past the
	// read cursor while playing sequentially.
	ReadAheadDuringPlayback = 5 * time.Second

	// PrefetchThresholdFactor multiplies ping time by playback rate to
	// get the number of bytes kept pending during streaming.
	PrefetchThresholdFactor = 4

	// MaximumAssumedPingTime caps measured latency.
	MaximumAssumedPingTime = 1500 * time.Millisecond

	// InitialPingTimeEstimate is used until a real sample exists.
	InitialPingTimeEstimate = 500 * time.Millisecond

	// chunkSize is the size of individual body reads written to disk.
	chunkSize = 32 * 1024

	// fetchAttempts is the number of times a failing range request is
	// tried before its bytes are given back.
	fetchAttempts = 3

	// fetchRetryDelay is multiplied by the attempt number between tries.
	fetchRetryDelay = 250 * time.Millisecond

	// pingSamples is the number of latency samples kept.
	pingSamples = 3
)

// bytesFor returns the number of bytes of audio played in d at bps.
func bytesFor(d time.Duration, bps int64) int64 {
	return int64(d.Seconds() * float64(bps))
}
