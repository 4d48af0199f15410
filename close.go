package audiofetch

import "os"

// Close stops the download, closes the local file and removes it from
// disk. A completed download handed to the cache keeps its own handle and
// is not affected.
//
// Close waits for a Read in progress, which returns once its data arrived
// or it timed out.
func (f *StreamingFile) Close() error {
	f.lk.Lock()
	defer f.lk.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	if f.sched != nil {
		f.sched.stop()
	}
	f.dlm.forget(f)

	err := f.local.Close()
	if rmErr := os.Remove(f.path); rmErr != nil && !os.IsNotExist(rmErr) {
		f.dlm.logf("failed to remove %s: %s", f.path, rmErr)
	}
	return err
}
