package audiofetch

import "sync/atomic"

// accessMode selects the read-ahead policy of a streaming file.
type accessMode int32

const (
	// modeStreaming reads ahead, for sequential playback.
	modeStreaming accessMode = iota
	// modeRandomAccess requests exactly what is read, for seeking.
	modeRandomAccess
)

func (m accessMode) String() string {
	switch m {
	case modeStreaming:
		return "streaming"
	case modeRandomAccess:
		return "random-access"
	default:
		return "unknown"
	}
}

// modeSwitch holds the access mode. Besides the explicit setters, the
// only transitions are entering and leaving a seek to an offset that is
// not downloaded yet.
type modeSwitch struct {
	v atomic.Int32
}

func (m *modeSwitch) get() accessMode {
	return accessMode(m.v.Load())
}

func (m *modeSwitch) set(mode accessMode) {
	m.v.Store(int32(mode))
}

// enterSeek forces random access and returns the mode to restore.
func (m *modeSwitch) enterSeek() accessMode {
	return accessMode(m.v.Swap(int32(modeRandomAccess)))
}

// leaveSeek restores streaming if it was active before enterSeek.
func (m *modeSwitch) leaveSeek(prev accessMode) {
	if prev == modeStreaming {
		m.v.CompareAndSwap(int32(modeRandomAccess), int32(modeStreaming))
	}
}
