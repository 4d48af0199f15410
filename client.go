package audiofetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// contentRange is a parsed Content-Range header. end is inclusive.
type contentRange struct {
	start, end, total int64
}

// parseContentRange parses "bytes <start>-<end>/<total>".
func parseContentRange(v string) (contentRange, error) {
	bad := &HeaderError{Header: "Content-Range", Value: v}
	if v == "" {
		return contentRange{}, &HeaderError{Header: "Content-Range"}
	}

	spec, ok := strings.CutPrefix(v, "bytes ")
	if !ok {
		return contentRange{}, bad
	}
	span, total, ok := strings.Cut(spec, "/")
	if !ok {
		return contentRange{}, bad
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return contentRange{}, bad
	}

	var res contentRange
	var err error
	if res.start, err = strconv.ParseInt(strings.TrimSpace(first), 10, 64); err != nil {
		return contentRange{}, bad
	}
	if res.end, err = strconv.ParseInt(strings.TrimSpace(last), 10, 64); err != nil {
		return contentRange{}, bad
	}
	if res.total, err = strconv.ParseInt(strings.TrimSpace(total), 10, 64); err != nil {
		// "*" total is useless to us, we need to know the size
		return contentRange{}, bad
	}
	if res.start < 0 || res.end < res.start || res.end >= res.total {
		return contentRange{}, bad
	}
	return res, nil
}

// rangeRequest issues a GET for r and returns the 206 response together with
// the time it took for the response headers to arrive. Any other status is
// an error.
func (dlm *Manager) rangeRequest(ctx context.Context, u string, r Range) (*http.Response, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.Start, r.End()-1))
	if dlm.UserAgent != "" {
		req.Header.Set("User-Agent", dlm.UserAgent)
	}

	start := time.Now()
	resp, err := dlm.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	ping := time.Since(start)

	if resp.StatusCode != http.StatusPartialContent {
		// drain a little so the connection can be reused
		io.CopyN(io.Discard, resp.Body, 4096)
		resp.Body.Close()
		return nil, ping, &StatusCodeError{Code: resp.StatusCode, Status: resp.Status}
	}

	if dlm.Metrics != nil {
		dlm.Metrics.ObservePing(ping)
	}
	return resp, ping, nil
}

// checkResponseStart makes sure the server answered for the offset we
// asked, so data is never written at the wrong place.
func checkResponseStart(resp *http.Response, want int64) error {
	cr, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	if cr.start != want {
		return &HeaderError{Header: "Content-Range", Value: resp.Header.Get("Content-Range")}
	}
	return nil
}
