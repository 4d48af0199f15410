package audiofetch

import "time"

// Metrics receives observations about downloads and the cache. A nil
// Metrics on the Manager disables collection.
type Metrics interface {
	// ObservePing records the latency of one range request.
	ObservePing(d time.Duration)

	// ObserveRequest records a finished range request: the bytes it
	// delivered, how long it ran and how it ended.
	ObserveRequest(bytes int64, d time.Duration, err error)

	// ObserveCacheLookup records a cache hit or miss on open.
	ObserveCacheLookup(hit bool)

	// ObserveCacheSave records a completed download written to the cache.
	ObserveCacheSave(bytes int64, err error)
}
