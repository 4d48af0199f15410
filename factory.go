package audiofetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// OpenStreaming starts downloading u and returns a file that can be read
// while the download goes on. The opening request asks for
// ReadAheadBeforePlayback of audio at bps (at least MinimumDownloadSize);
// its 206 response gives the file size and content type.
//
// The returned channel receives the temporary file once every byte is
// downloaded, then is closed. It is closed without a value if the download
// stops first. The receiver must close the file it gets.
func (dlm *Manager) OpenStreaming(ctx context.Context, u string, bps int64) (*StreamingFile, <-chan *os.File, error) {
	initial := max(int64(MinimumDownloadSize), bytesFor(ReadAheadBeforePlayback, bps))

	sctx, cancel := context.WithCancel(context.Background())
	// the caller's context only bounds the open
	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	f, ch, err := dlm.openStreaming(sctx, cancel, u, bps, initial)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, err
	}
	return f, ch, nil
}

func (dlm *Manager) openStreaming(ctx context.Context, cancel context.CancelFunc, u string, bps, initial int64) (*StreamingFile, <-chan *os.File, error) {
	if err := dlm.acquireSlot(ctx); err != nil {
		return nil, nil, err
	}
	resp, ping, err := dlm.rangeRequest(ctx, u, Range{Start: 0, Length: initial})
	if err != nil {
		dlm.releaseSlot()
		return nil, nil, err
	}
	// from here the slot is tied to resp

	fail := func(err error) (*StreamingFile, <-chan *os.File, error) {
		resp.Body.Close()
		dlm.releaseSlot()
		return nil, nil, err
	}

	cr, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return fail(err)
	}
	if cr.start != 0 {
		return fail(&HeaderError{Header: "Content-Range", Value: resp.Header.Get("Content-Range")})
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		return fail(&HeaderError{Header: "Content-Type"})
	}

	first, err := readFirstChunk(resp)
	if err != nil {
		return fail(err)
	}

	tmp, err := os.CreateTemp(dlm.TmpDir, "audiofetch-*.tmp")
	if err != nil {
		return fail(err)
	}
	cleanup := func(err error) (*StreamingFile, <-chan *os.File, error) {
		tmp.Close()
		os.Remove(tmp.Name())
		return fail(err)
	}
	if err := tmp.Truncate(cr.total); err != nil {
		return cleanup(err)
	}
	if _, err := tmp.WriteAt(first, 0); err != nil {
		return cleanup(err)
	}
	local, err := os.Open(tmp.Name())
	if err != nil {
		return cleanup(err)
	}

	st := newFileState(uuid.NewString(), u, cr.total, mimeType, bps)
	st.addPing(ping)
	// the opening response covers [0, end], nobody should request it again
	st.status.requested.AddRange(Range{Start: 0, Length: cr.end + 1})
	st.markDownloaded(Range{Start: 0, Length: int64(len(first))})

	sched := newScheduler(ctx, cancel, dlm, st, tmp)
	f := &StreamingFile{
		path:  tmp.Name(),
		local: local,
		state: st,
		sched: sched,
		dlm:   dlm,
	}
	dlm.track(f)

	dlm.logf("stream %s: opened %s (%s, %s), ping %s", st.id, u, humanize.IBytes(uint64(cr.total)), st.mimeType, ping)

	rest := Range{Start: int64(len(first)), Length: cr.end + 1 - int64(len(first))}
	go sched.run(resp, rest)

	return f, sched.complete, nil
}

// readFirstChunk reads up to chunkSize bytes, failing with ErrNoData if the
// body ends before anything arrives.
func readFirstChunk(resp *http.Response) ([]byte, error) {
	buf := make([]byte, chunkSize)
	n, err := io.ReadAtLeast(resp.Body, buf, 1)
	if n == 0 {
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("reading first chunk: %w", err)
	}
	return buf[:n], nil
}
