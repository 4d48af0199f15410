package audiofetch

import "time"

// StreamLoaderController remote-controls the download of one file. It is a
// small value and may be copied freely; all copies drive the same file.
//
// Controllers for local and cached files only know the file size and
// report everything as available.
type StreamLoaderController struct {
	state *fileState
	size  int64
}

func newController(st *fileState) StreamLoaderController {
	return StreamLoaderController{state: st, size: st.size}
}

// Len returns the file size.
func (c StreamLoaderController) Len() int64 {
	return c.size
}

// IsEmpty reports whether the file has no bytes.
func (c StreamLoaderController) IsEmpty() bool {
	return c.size == 0
}

// MimeType returns the content type announced by the server, if any.
func (c StreamLoaderController) MimeType() string {
	if c.state == nil {
		return ""
	}
	return c.state.mimeType
}

// PingTime returns the current latency estimate used for prefetch sizing.
func (c StreamLoaderController) PingTime() time.Duration {
	if c.state == nil {
		return 0
	}
	return c.state.pingTime()
}

// Throughput returns the measured download rate in bytes per second.
func (c StreamLoaderController) Throughput() int64 {
	if c.state == nil {
		return 0
	}
	return c.state.getThroughput()
}

// ReadPosition returns the playback read cursor.
func (c StreamLoaderController) ReadPosition() int64 {
	if c.state == nil {
		return 0
	}
	return c.state.readPos.Load()
}

// Progress returns the fraction of the file downloaded, between 0 and 1.
func (c StreamLoaderController) Progress() float64 {
	if c.state == nil {
		return 1
	}
	return c.state.progressRatio()
}

// RangeAvailable reports whether r (clamped to the file) is downloaded.
func (c StreamLoaderController) RangeAvailable(r Range) bool {
	if c.state == nil {
		return true
	}
	return c.state.rangeAvailable(r)
}

// RangeToEndAvailable reports whether everything from the read position
// to the end of the file is downloaded.
func (c StreamLoaderController) RangeToEndAvailable() bool {
	if c.state == nil {
		return true
	}
	pos := c.state.readPos.Load()
	return c.state.rangeAvailable(Range{Start: pos, Length: c.size - pos})
}

// Fetch asks for r without waiting. Parts already downloaded or requested
// are skipped. If the download has already stopped the call does nothing.
func (c StreamLoaderController) Fetch(r Range) {
	if c.state == nil {
		return
	}
	c.state.request(r)
}

// FetchBlocking asks for r and waits until it is downloaded. r is clamped
// to the file, so a range starting at or past the end returns at once.
// It returns ErrWaitTimeout if the download makes no progress for
// DownloadTimeout; the caller decides whether to retry.
func (c StreamLoaderController) FetchBlocking(r Range) error {
	if c.state == nil {
		return nil
	}
	r = r.clamp(c.size)
	if r.IsEmpty() {
		return nil
	}
	return c.state.waitFor(r)
}

// FetchNextAndWait requests requestLen bytes from the read position but
// only waits for the first waitLen of them.
func (c StreamLoaderController) FetchNextAndWait(requestLen, waitLen int64) error {
	if c.state == nil {
		return nil
	}
	pos := c.state.readPos.Load()
	c.Fetch(Range{Start: pos, Length: requestLen})
	return c.FetchBlocking(Range{Start: pos, Length: waitLen})
}

// SetStreamMode enables read-ahead for sequential playback.
func (c StreamLoaderController) SetStreamMode() {
	if c.state == nil {
		return
	}
	c.state.mode.set(modeStreaming)
	c.state.queue.poke()
}

// SetRandomAccessMode disables read-ahead, for seek-heavy access.
func (c StreamLoaderController) SetRandomAccessMode() {
	if c.state == nil {
		return
	}
	c.state.mode.set(modeRandomAccess)
}

// Close tells the scheduler to stop fetching. Reads already waiting on data
// that is in flight are not interrupted.
func (c StreamLoaderController) Close() {
	if c.state == nil {
		return
	}
	c.state.queue.push(command{kind: cmdClose})
}
