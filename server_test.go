package audiofetch

import (
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
)

// testData is random data used for testing
var testData []byte

func init() {
	// 256KB, four MinimumDownloadSize blocks
	testData = make([]byte, 256*1024)
	rand.Read(testData)
}

// rangeServer serves data with Range support. Requests are counted and
// may be held by setting hold.
type rangeServer struct {
	*httptest.Server
	data     []byte
	mime     string
	requests atomic.Int32

	// hold, when set, is called before serving a request starting at
	// start. Returning false fails the request with a 500.
	hold func(r *http.Request, start int64) bool
}

func newRangeServer(t *testing.T, data []byte) *rangeServer {
	s := &rangeServer{data: data, mime: "audio/mpeg"}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *rangeServer) serve(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	size := int64(len(s.data))

	start, end, ok := parseRangeHeader(r.Header.Get("Range"), size)
	if !ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		w.Write(s.data)
		return
	}
	if s.hold != nil && !s.hold(r, start) {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", s.mime)
	w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(size, 10))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(s.data[start : end+1])
}

// parseRangeHeader parses "bytes=X-" or "bytes=X-Y", clamping Y to the
// last byte.
func parseRangeHeader(v string, size int64) (int64, int64, bool) {
	spec, ok := strings.CutPrefix(v, "bytes=")
	if !ok {
		return 0, 0, false
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start >= size {
		return 0, 0, false
	}
	end := size - 1
	if last != "" {
		e, err := strconv.ParseInt(last, 10, 64)
		if err != nil || e < start {
			return 0, 0, false
		}
		end = min(e, size-1)
	}
	return start, end, true
}

// newTestManager returns a quiet manager with its temporary files in a
// test directory.
func newTestManager(t *testing.T) *Manager {
	dm := NewManager()
	dm.Logger = nil
	dm.TmpDir = t.TempDir()
	t.Cleanup(func() { dm.Close() })
	return dm
}

// httpServer serves h and returns its URL.
func httpServer(t *testing.T, h http.HandlerFunc) string {
	s := httptest.NewServer(h)
	t.Cleanup(s.Close)
	return s.URL
}
