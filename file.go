package audiofetch

import (
	"os"
	"sync"
)

// StreamingFile is a remote file exposed as a local, seekable reader while
// it is still being downloaded. Reads block until the bytes they need are
// on disk. It implements io.Reader, io.ReaderAt, io.Seeker and io.Closer.
//
// The fetch scheduler writes the temporary file through its own handle;
// StreamingFile only ever reads it through a separate read-only handle.
type StreamingFile struct {
	path  string   // temporary file on disk
	local *os.File // read-only view of path
	pos   int64    // read position in file

	state *fileState
	sched *scheduler
	dlm   *Manager

	closed bool
	lk     sync.Mutex
}

// Len returns the size of the remote file.
func (f *StreamingFile) Len() int64 {
	return f.state.size
}

// MimeType returns the content type announced by the server.
func (f *StreamingFile) MimeType() string {
	return f.state.mimeType
}

// StreamLoaderController returns a controller bound to this file.
func (f *StreamingFile) StreamLoaderController() StreamLoaderController {
	return newController(f.state)
}
