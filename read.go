package audiofetch

import (
	"io"
	"os"
)

// Seek sets the position for the next Read. Seeking never waits for data;
// availability is only checked by Read. While seeking to an offset that is
// not downloaded yet, read-ahead is suspended so an abandoned position does
// not trigger a large speculative fetch.
func (f *StreamingFile) Seek(offset int64, whence int) (int64, error) {
	f.lk.Lock()
	defer f.lk.Unlock()

	if f.closed {
		return 0, os.ErrClosed
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = f.pos + offset
	case io.SeekEnd:
		target = f.state.size + offset
	default:
		return f.pos, errInvalidSeek
	}
	if target < 0 {
		return f.pos, errInvalidSeek
	}
	if target == f.pos {
		return f.pos, nil
	}

	if f.state.availableFrom(target) == 0 {
		prev := f.state.mode.enterSeek()
		defer f.state.mode.leaveSeek(prev)
	}

	if _, err := f.local.Seek(target, io.SeekStart); err != nil {
		return f.pos, err
	}
	f.pos = target
	f.state.readPos.Store(target)
	return f.pos, nil
}

// Read reads from the current position. In streaming mode it asks for
// ReadAheadDuringPlayback worth of audio past what is read, in random
// access mode exactly what is read. It only waits for the byte at the
// cursor and then returns whatever contiguous data is available.
func (f *StreamingFile) Read(p []byte) (int, error) {
	f.lk.Lock()
	defer f.lk.Unlock()

	if f.closed {
		return 0, os.ErrClosed
	}
	size := f.state.size
	if f.pos >= size {
		return 0, io.EOF
	}
	length := min(int64(len(p)), size-f.pos)
	if length == 0 {
		return 0, nil
	}

	want := length
	if f.state.mode.get() == modeStreaming {
		want = min(length+bytesFor(ReadAheadDuringPlayback, f.state.bps), size-f.pos)
	}
	f.state.request(Range{Start: f.pos, Length: want})

	if err := f.state.waitFor(Range{Start: f.pos, Length: 1}); err != nil {
		f.dlm.logf("read at %d on %s: %s", f.pos, f.state.id, err)
		return 0, err
	}

	n := min(length, f.state.availableFrom(f.pos))
	if _, err := f.local.Seek(f.pos, io.SeekStart); err != nil {
		return 0, err
	}
	read, err := io.ReadFull(f.local, p[:n])
	f.pos += int64(read)
	f.state.readPos.Store(f.pos)
	return read, err
}

// ReadAt waits for the whole span to be downloaded and reads it from disk.
// It does not move the read position.
func (f *StreamingFile) ReadAt(p []byte, off int64) (int, error) {
	size := f.state.size
	if off >= size {
		return 0, io.EOF
	}
	n := min(int64(len(p)), size-off)

	if err := f.StreamLoaderController().FetchBlocking(Range{Start: off, Length: n}); err != nil {
		return 0, err
	}

	read, err := f.local.ReadAt(p[:n], off)
	if err == nil && read < len(p) {
		err = io.EOF
	}
	return read, err
}
