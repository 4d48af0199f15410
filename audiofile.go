package audiofetch

import (
	"context"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

// Kind tells where the bytes of an AudioFile come from.
type Kind int

const (
	// Local is a file on the local filesystem, opened directly.
	Local Kind = iota
	// Cached is a previously completed download served from the cache.
	Cached
	// Streaming is a remote file being downloaded while it is read.
	Streaming
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "local"
	case Cached:
		return "cached"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// AudioFile gives uniform Read and Seek access to a local, cached or
// streaming file.
type AudioFile struct {
	kind   Kind
	src    io.ReadSeekCloser
	size   int64
	stream *StreamingFile
}

// Open opens location with the DefaultManager.
func Open(ctx context.Context, location string, bps int64) (*AudioFile, error) {
	return DefaultManager.Open(ctx, location, bps)
}

// remoteURL reports whether location is an http(s) URL. Anything else is
// treated as a local path.
func remoteURL(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Open opens location, bps being the rate at which the decoder is expected
// to consume bytes. Local paths are opened directly. URLs are served from
// the cache when present; otherwise they are streamed, and the completed
// download is written to the cache in the background.
func (dlm *Manager) Open(ctx context.Context, location string, bps int64) (*AudioFile, error) {
	if !remoteURL(location) {
		f, err := os.Open(location)
		if err != nil {
			return nil, err
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		return &AudioFile{kind: Local, src: f, size: st.Size()}, nil
	}

	key := Key(location)
	if dlm.Cache != nil {
		hit := dlm.Cache.IsFileCached(key)
		if dlm.Metrics != nil {
			dlm.Metrics.ObserveCacheLookup(hit)
		}
		if hit {
			af, err := dlm.openCached(key)
			if err == nil {
				dlm.logf("cache hit for %s", location)
				return af, nil
			}
			dlm.warnf("failed to open cached %s, streaming instead: %s", location, err)
		}
	}

	f, complete, err := dlm.OpenStreaming(ctx, location, bps)
	if err != nil {
		return nil, err
	}
	dlm.watch(key, complete)

	return &AudioFile{kind: Streaming, src: f, size: f.Len(), stream: f}, nil
}

func (dlm *Manager) openCached(key string) (*AudioFile, error) {
	f, err := dlm.Cache.OpenFile(key)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &AudioFile{kind: Cached, src: f, size: st.Size()}, nil
}

// watch stores the completed download in the cache. Failures are only
// logged, the reader has its own copy.
func (dlm *Manager) watch(key string, complete <-chan *os.File) {
	dlm.watchers.Add(1)
	go func() {
		defer dlm.watchers.Done()

		f, ok := <-complete
		if !ok {
			return
		}
		defer f.Close()

		if dlm.Cache == nil {
			return
		}
		start := time.Now()
		n, err := dlm.Cache.SaveFile(key, f)
		if dlm.Metrics != nil {
			dlm.Metrics.ObserveCacheSave(n, err)
		}
		if err != nil {
			dlm.warnf("failed to cache %s: %s", key, err)
			return
		}
		dlm.logf("cached %s (%s) in %s", key, humanize.IBytes(uint64(n)), time.Since(start))
	}()
}

// Kind returns where the file is read from.
func (a *AudioFile) Kind() Kind {
	return a.kind
}

// Len returns the file size.
func (a *AudioFile) Len() int64 {
	return a.size
}

func (a *AudioFile) Read(p []byte) (int, error) {
	return a.src.Read(p)
}

func (a *AudioFile) Seek(offset int64, whence int) (int64, error) {
	return a.src.Seek(offset, whence)
}

// Close closes the file. Closing a streaming file stops its download.
func (a *AudioFile) Close() error {
	return a.src.Close()
}

// StreamLoaderController returns a controller for the file. Local and
// cached files get a controller that only knows the size.
func (a *AudioFile) StreamLoaderController() StreamLoaderController {
	if a.stream != nil {
		return a.stream.StreamLoaderController()
	}
	return StreamLoaderController{size: a.size}
}

// MimeType returns the content type announced by the server for streaming
// files, and an empty string otherwise.
func (a *AudioFile) MimeType() string {
	if a.stream != nil {
		return a.stream.MimeType()
	}
	return ""
}
