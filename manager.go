package audiofetch

import (
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/KarpelesLab/audiofetch/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Manager opens audio files and holds what their downloads share: the HTTP
// client, the cache, logging and a limit on concurrent requests.
type Manager struct {
	// MaxConcurrent is the maximum number of HTTP requests running at once
	// across all open files. Each file never has more than one. Changing
	// it after the first request has no effect. Default is 10, 0 means no
	// limit.
	MaxConcurrent int

	// Client is the http client used to access urls to be downloaded
	Client *http.Client

	// TmpDir is where temporary files are created, and by default will be os.TempDir()
	TmpDir string

	// UserAgent is sent with every request when not empty.
	UserAgent string

	// Cache receives completed downloads and serves them on later opens.
	// A nil Cache disables caching.
	Cache *Cache

	// Logger receives debug and warning messages. Nil disables logging.
	Logger *zap.SugaredLogger

	// Metrics receives observations, nil disables them.
	Metrics Metrics

	slotsOnce sync.Once
	slots     *semaphore.Weighted

	streams   map[*StreamingFile]struct{}
	streamsLk sync.Mutex
	watchers  sync.WaitGroup
}

// DefaultManager is used by the package level Open and MimeType. It has no
// cache.
var DefaultManager = NewManager()

// NewManager returns a Manager with default settings and no cache.
func NewManager() *Manager {
	return &Manager{
		MaxConcurrent: 10,
		Client:        http.DefaultClient,
		TmpDir:        os.TempDir(),
		Logger:        logger.Named("audiofetch"),
		streams:       make(map[*StreamingFile]struct{}),
	}
}

func (dlm *Manager) logf(format string, args ...interface{}) {
	if dlm.Logger != nil {
		dlm.Logger.Debugf(format, args...)
	}
}

func (dlm *Manager) warnf(format string, args ...interface{}) {
	if dlm.Logger != nil {
		dlm.Logger.Warnf(format, args...)
	}
}

func (dlm *Manager) acquireSlot(ctx context.Context) error {
	dlm.slotsOnce.Do(func() {
		if dlm.MaxConcurrent > 0 {
			dlm.slots = semaphore.NewWeighted(int64(dlm.MaxConcurrent))
		}
	})
	if dlm.slots == nil {
		return nil
	}
	return dlm.slots.Acquire(ctx, 1)
}

func (dlm *Manager) releaseSlot() {
	if dlm.slots != nil {
		dlm.slots.Release(1)
	}
}

func (dlm *Manager) track(f *StreamingFile) {
	dlm.streamsLk.Lock()
	defer dlm.streamsLk.Unlock()
	if dlm.streams == nil {
		dlm.streams = make(map[*StreamingFile]struct{})
	}
	dlm.streams[f] = struct{}{}
}

func (dlm *Manager) forget(f *StreamingFile) {
	dlm.streamsLk.Lock()
	defer dlm.streamsLk.Unlock()
	delete(dlm.streams, f)
}

// Streams returns the number of streaming files currently open.
func (dlm *Manager) Streams() int {
	dlm.streamsLk.Lock()
	defer dlm.streamsLk.Unlock()
	return len(dlm.streams)
}

// Wait blocks until every completed download has been written to the
// cache.
func (dlm *Manager) Wait() {
	dlm.watchers.Wait()
}

// Close closes all streaming files still open and waits for pending cache
// writes.
func (dlm *Manager) Close() error {
	dlm.streamsLk.Lock()
	open := make([]*StreamingFile, 0, len(dlm.streams))
	for f := range dlm.streams {
		open = append(open, f)
	}
	dlm.streamsLk.Unlock()

	var lastErr error
	for _, f := range open {
		if err := f.Close(); err != nil {
			lastErr = err
		}
	}
	dlm.Wait()
	return lastErr
}
