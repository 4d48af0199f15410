package audiofetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenAndRead(t *testing.T) {
	server := newRangeServer(t, testData)
	dm := newTestManager(t)

	f, complete, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	require.NotNil(t, complete)
	defer f.Close()

	require.Equal(t, int64(len(testData)), f.Len())
	require.Equal(t, "audio/mpeg", f.MimeType())
	require.Equal(t, 1, dm.Streams())

	buf := make([]byte, 1024)
	n, err := io.ReadFull(f, buf)
	require.NoError(t, err)
	require.Equal(t, 1024, n)
	require.Equal(t, testData[:1024], buf)
}

func TestReadWholeFile(t *testing.T) {
	server := newRangeServer(t, testData)
	dm := newTestManager(t)

	f, complete, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, testData, data)

	ctl := f.StreamLoaderController()
	require.True(t, ctl.RangeAvailable(Range{0, f.Len()}))
	require.True(t, ctl.RangeToEndAvailable())
	require.Equal(t, 1.0, ctl.Progress())

	// the completed file is handed over exactly once
	select {
	case done, ok := <-complete:
		require.True(t, ok)
		require.NotNil(t, done)
		defer done.Close()

		_, err := done.Seek(0, io.SeekStart)
		require.NoError(t, err)
		onDisk, err := io.ReadAll(done)
		require.NoError(t, err)
		require.Equal(t, testData, onDisk)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not complete")
	}
	_, ok := <-complete
	require.False(t, ok)
}

func TestPrefetchCompletesWithoutReads(t *testing.T) {
	server := newRangeServer(t, testData)
	dm := newTestManager(t)

	f, complete, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	defer f.Close()

	select {
	case done := <-complete:
		require.NotNil(t, done)
		done.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("streaming mode did not prefetch the file")
	}
	require.True(t, f.StreamLoaderController().RangeAvailable(Range{0, f.Len()}))
}

func TestSmallFile(t *testing.T) {
	small := testData[:10000]
	server := newRangeServer(t, small)
	dm := newTestManager(t)

	f, _, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, int64(10000), f.Len())
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, small, data)
}

func TestSeek(t *testing.T) {
	server := newRangeServer(t, testData)
	dm := newTestManager(t)

	f, _, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	defer f.Close()

	pos, err := f.Seek(1000, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(1000), pos)

	pos, err = f.Seek(500, io.SeekCurrent)
	require.NoError(t, err)
	require.Equal(t, int64(1500), pos)

	pos, err = f.Seek(-100, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(len(testData))-100, pos)

	buf := make([]byte, 100)
	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)
	require.Equal(t, testData[len(testData)-100:], buf)

	_, err = f.Seek(-1, io.SeekStart)
	require.Error(t, err)

	_, err = f.Seek(0, 999)
	require.Error(t, err)
}

func TestRandomAccessSeekAndRead(t *testing.T) {
	server := newRangeServer(t, testData)
	dm := newTestManager(t)

	f, _, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	defer f.Close()
	f.StreamLoaderController().SetRandomAccessMode()

	for _, off := range []int64{200000, 70000, 150000, 10} {
		_, err := f.Seek(off, io.SeekStart)
		require.NoError(t, err)
		buf := make([]byte, 2048)
		_, err = io.ReadFull(f, buf)
		require.NoError(t, err)
		require.Equal(t, testData[off:off+2048], buf, "offset %d", off)
	}
}

func TestReadAt(t *testing.T) {
	server := newRangeServer(t, testData)
	dm := newTestManager(t)

	f, _, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.ReadAt(buf, 100000)
	require.NoError(t, err)
	require.Equal(t, 512, n)
	require.Equal(t, testData[100000:100512], buf)

	// short read at the end
	n, err = f.ReadAt(buf, int64(len(testData))-10)
	require.Equal(t, io.EOF, err)
	require.Equal(t, 10, n)
	require.Equal(t, testData[len(testData)-10:], buf[:n])
}

func TestConcurrentReadAt(t *testing.T) {
	server := newRangeServer(t, testData)
	dm := newTestManager(t)
	dm.MaxConcurrent = 2

	f, _, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	defer f.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(off int64) {
			defer wg.Done()
			buf := make([]byte, 256)
			_, err := f.ReadAt(buf, off)
			if err != nil {
				t.Errorf("concurrent ReadAt failed: %v", err)
				return
			}
			if string(buf) != string(testData[off:off+256]) {
				t.Errorf("data mismatch at %d", off)
			}
		}(int64(i) * 30000)
	}
	wg.Wait()
}

func TestReadBeyondEOF(t *testing.T) {
	server := newRangeServer(t, testData)
	dm := newTestManager(t)

	f, _, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Seek(0, io.SeekEnd)
	require.NoError(t, err)

	buf := make([]byte, 100)
	_, err = f.Read(buf)
	require.Equal(t, io.EOF, err)

	_, err = f.ReadAt(buf, int64(len(testData)+1000))
	require.Equal(t, io.EOF, err)
}

func TestOpenErrors(t *testing.T) {
	dm := newTestManager(t)

	t.Run("status", func(t *testing.T) {
		server := newRangeServer(t, testData)
		server.hold = func(r *http.Request, start int64) bool { return false }
		_, _, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
		var sce *StatusCodeError
		require.ErrorAs(t, err, &sce)
		require.Equal(t, http.StatusInternalServerError, sce.Code)
	})

	t.Run("no range support", func(t *testing.T) {
		u := httpServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write(testData)
		})
		_, _, err := dm.OpenStreaming(context.Background(), u, 16000)
		var sce *StatusCodeError
		require.ErrorAs(t, err, &sce)
		require.Equal(t, http.StatusOK, sce.Code)
	})

	t.Run("missing content range", func(t *testing.T) {
		u := httpServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPartialContent)
			w.Write(testData[:100])
		})
		_, _, err := dm.OpenStreaming(context.Background(), u, 16000)
		require.ErrorIs(t, err, ErrHeader)
	})

	t.Run("no data", func(t *testing.T) {
		u := httpServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Header().Set("Content-Range", "bytes 0-65535/262144")
			w.WriteHeader(http.StatusPartialContent)
		})
		_, _, err := dm.OpenStreaming(context.Background(), u, 16000)
		require.ErrorIs(t, err, ErrNoData)
	})

	t.Run("missing content type", func(t *testing.T) {
		u := httpServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header()["Content-Type"] = nil // no sniffing
			w.Header().Set("Content-Range", "bytes 0-65535/262144")
			w.WriteHeader(http.StatusPartialContent)
			w.Write(testData[:65536])
		})
		_, _, err := dm.OpenStreaming(context.Background(), u, 16000)
		require.ErrorIs(t, err, ErrHeader)
		var he *HeaderError
		require.ErrorAs(t, err, &he)
		require.Equal(t, "Content-Type", he.Header)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		server := newRangeServer(t, testData)
		_, _, err := dm.OpenStreaming(ctx, server.URL, 16000)
		require.ErrorIs(t, err, context.Canceled)
	})

	// nothing leaked
	require.Equal(t, 0, dm.Streams())
	entries, err := os.ReadDir(dm.TmpDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFailingRangeTimesOut(t *testing.T) {
	server := newRangeServer(t, testData)
	server.hold = func(r *http.Request, start int64) bool { return start == 0 }
	dm := newTestManager(t)

	f, complete, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	defer f.Close()
	f.state.timeout = 300 * time.Millisecond

	_, err = f.Seek(200000, io.SeekStart)
	require.NoError(t, err)
	_, err = f.Read(make([]byte, 100))
	require.ErrorIs(t, err, ErrWaitTimeout)

	var timeout interface{ Timeout() bool }
	require.True(t, errors.As(err, &timeout))
	require.True(t, timeout.Timeout())

	// never marked downloaded
	require.False(t, f.StreamLoaderController().RangeAvailable(Range{200000, 100}))

	f.Close()
	_, ok := <-complete
	require.False(t, ok)
}

func TestCloseStopsDownload(t *testing.T) {
	server := newRangeServer(t, testData)
	server.hold = func(r *http.Request, start int64) bool {
		if start == 0 {
			return true
		}
		<-r.Context().Done()
		return false
	}
	dm := newTestManager(t)

	f, complete, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)

	buf := make([]byte, 1024)
	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)

	path := f.path
	require.NoError(t, f.Close())
	require.Equal(t, 0, dm.Streams())

	_, ok := <-complete
	require.False(t, ok)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestControllerClose(t *testing.T) {
	server := newRangeServer(t, testData)
	server.hold = func(r *http.Request, start int64) bool {
		if start == 0 {
			return true
		}
		<-r.Context().Done()
		return false
	}
	dm := newTestManager(t)

	f, complete, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	defer f.Close()

	f.StreamLoaderController().Close()
	select {
	case _, ok := <-complete:
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	// later fetches are dropped
	f.StreamLoaderController().Fetch(Range{100000, 10})
	require.Equal(t, 0, queuedLen(f.state.queue))
}

func TestManagerLimitsConcurrentRequests(t *testing.T) {
	var (
		lk       sync.Mutex
		inflight int
		peak     int
	)
	server := newRangeServer(t, testData)
	server.hold = func(r *http.Request, start int64) bool {
		lk.Lock()
		inflight++
		peak = max(peak, inflight)
		lk.Unlock()
		time.Sleep(5 * time.Millisecond)
		lk.Lock()
		inflight--
		lk.Unlock()
		return true
	}
	dm := newTestManager(t)
	dm.MaxConcurrent = 1

	var files []*StreamingFile
	for i := 0; i < 3; i++ {
		f, _, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
		require.NoError(t, err)
		files = append(files, f)
	}
	for _, f := range files {
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		require.Equal(t, testData, data)
		f.Close()
	}

	lk.Lock()
	defer lk.Unlock()
	require.Equal(t, 1, peak)
}

// stallPrefetch holds every request other than the opening one and those
// starting at one of demanded until the client gives up on it.
func stallPrefetch(r *http.Request, start int64, demanded ...int64) bool {
	if start == 0 {
		return true
	}
	for _, d := range demanded {
		if start == d {
			return true
		}
	}
	<-r.Context().Done()
	return false
}

func TestDemandGrowsToMinimumDownloadSize(t *testing.T) {
	var (
		lk     sync.Mutex
		ranges []string
	)
	server := newRangeServer(t, testData)
	server.hold = func(r *http.Request, start int64) bool {
		lk.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		lk.Unlock()
		return stallPrefetch(r, start, 200000)
	}
	dm := newTestManager(t)

	f, _, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	defer f.Close()

	f.StreamLoaderController().SetRandomAccessMode()
	_, err = f.Seek(200000, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 100)
	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)
	require.Equal(t, testData[200000:200100], buf)

	lk.Lock()
	defer lk.Unlock()
	require.Equal(t, "bytes=0-65535", ranges[0])

	// 100 bytes grown to 64KiB, clamped to the end of the file
	var demand []string
	for _, v := range ranges {
		if v == "bytes=200000-262143" {
			demand = append(demand, v)
		}
	}
	require.Len(t, demand, 1, "requests: %v", ranges)
}

func TestDemandPreemptsPrefetch(t *testing.T) {
	size := int64(len(testData))
	u := httpServer(t, func(w http.ResponseWriter, r *http.Request) {
		start, end, ok := parseRangeHeader(r.Header.Get("Range"), size)
		if !ok {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
		if start != MinimumDownloadSize {
			w.Write(testData[start : end+1])
			return
		}
		// one chunk of prefetch, then nothing
		w.Write(testData[start : start+chunkSize])
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})
	dm := newTestManager(t)

	f, _, err := dm.OpenStreaming(context.Background(), u, 16000)
	require.NoError(t, err)
	defer f.Close()
	ctl := f.StreamLoaderController()

	// the prefetch is stuck mid-body
	require.Eventually(t, func() bool {
		return ctl.RangeAvailable(Range{MinimumDownloadSize, chunkSize})
	}, 5*time.Second, 5*time.Millisecond)

	ctl.SetRandomAccessMode()
	require.NoError(t, ctl.FetchBlocking(Range{200000, 100}))
	require.True(t, ctl.RangeAvailable(Range{200000, 100}))

	// the rest of the prefetch is no longer requested
	require.Eventually(t, func() bool {
		requested, downloaded := f.state.snapshot()
		return requested.Minus(downloaded).IsEmpty()
	}, 5*time.Second, 5*time.Millisecond)

	requested, downloaded := f.state.snapshot()
	require.True(t, downloaded.ContainsRange(Range{MinimumDownloadSize, chunkSize}))
	require.False(t, requested.Contains(MinimumDownloadSize+chunkSize))
	require.False(t, downloaded.Contains(MinimumDownloadSize+chunkSize))
}

func TestRetryAfterFailedRequest(t *testing.T) {
	var attempts atomic.Int32
	server := newRangeServer(t, testData)
	server.hold = func(r *http.Request, start int64) bool {
		if start == 200000 {
			// the first attempt fails
			return attempts.Add(1) > 1
		}
		return stallPrefetch(r, start)
	}
	dm := newTestManager(t)

	f, _, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	defer f.Close()

	f.StreamLoaderController().SetRandomAccessMode()
	_, err = f.Seek(200000, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 100)
	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)
	require.Equal(t, testData[200000:200100], buf)
	require.Equal(t, int32(2), attempts.Load())
}

func TestCloseWaitsForRead(t *testing.T) {
	demanded := make(chan struct{})
	var once sync.Once
	server := newRangeServer(t, testData)
	server.hold = func(r *http.Request, start int64) bool {
		if start == 200000 {
			once.Do(func() { close(demanded) })
		}
		return stallPrefetch(r, start)
	}
	dm := newTestManager(t)

	f, _, err := dm.OpenStreaming(context.Background(), server.URL, 16000)
	require.NoError(t, err)
	f.state.timeout = 300 * time.Millisecond

	f.StreamLoaderController().SetRandomAccessMode()
	_, err = f.Seek(200000, io.SeekStart)
	require.NoError(t, err)

	readErr := make(chan error, 1)
	go func() {
		_, err := f.Read(make([]byte, 100))
		readErr <- err
	}()

	select {
	case <-demanded:
	case <-time.After(5 * time.Second):
		t.Fatal("read did not request its data")
	}

	started := time.Now()
	require.NoError(t, f.Close())
	require.Greater(t, time.Since(started), 100*time.Millisecond)

	// the read ran to its timeout instead of seeing a closed file
	select {
	case err := <-readErr:
		require.ErrorIs(t, err, ErrWaitTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("read did not return")
	}

	_, err = f.Read(make([]byte, 100))
	require.ErrorIs(t, err, os.ErrClosed)
}
