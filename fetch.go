package audiofetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

var errPreempted = errors.New("audiofetch: transfer preempted")

// transfer is one HTTP range request being consumed.
type transfer struct {
	rng         Range
	speculative bool        // prefetch nobody is waiting for
	preempt     atomic.Bool // set when demanded data should go first

	ctx    context.Context // cancelled on preemption
	cancel context.CancelFunc
}

type transferResult struct {
	t    *transfer
	rest Range // part of t.rng that was not fetched
	err  error
}

// scheduler drives the download of one streaming file. It owns the write
// handle of the temporary file, consumes the command queue and keeps at
// most one HTTP request in flight.
type scheduler struct {
	dlm   *Manager
	state *fileState
	file  *os.File // write handle, nil once handed off
	buf   []byte

	// complete receives the finished file once, then is closed. It is
	// closed without a value if the download did not complete.
	complete chan *os.File

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	pending  RangeSet // demanded and requested, not sent yet
	inflight *transfer
	results  chan transferResult
	failures int // consecutive failed transfers
}

// newScheduler builds a scheduler running under ctx; cancel must cancel
// ctx. The opening request shares ctx so stopping interrupts it too.
func newScheduler(ctx context.Context, cancel context.CancelFunc, dlm *Manager, st *fileState, file *os.File) *scheduler {
	return &scheduler{
		dlm:      dlm,
		state:    st,
		file:     file,
		buf:      make([]byte, chunkSize),
		complete: make(chan *os.File, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		results:  make(chan transferResult, 1),
	}
}

// stop makes the scheduler exit and waits for it.
func (s *scheduler) stop() {
	s.state.queue.close()
	s.cancel()
	<-s.done
}

// run is the scheduler loop. initial is the response of the opening
// request, still to be consumed for rest; it holds a manager slot.
func (s *scheduler) run(initial *http.Response, rest Range) {
	defer close(s.done)
	defer s.shutdown()

	if initial != nil {
		s.launch(&transfer{rng: rest}, initial)
	}

	for {
		cmds, open := s.state.queue.drain()
		for _, c := range cmds {
			switch c.kind {
			case cmdClose:
				s.dlm.logf("stream %s: closed", s.state.id)
				return
			case cmdFetch:
				s.accept(c.rng)
			}
		}
		if !open {
			return
		}

		if s.inflight == nil {
			if s.state.isComplete() {
				s.finish()
				return
			}
			s.next()
		}

		select {
		case <-s.state.queue.notify:
		case res := <-s.results:
			s.handle(res)
		case <-s.ctx.Done():
			return
		}
	}
}

// accept queues a demanded range, already marked requested by the sender.
// Short ranges are grown to MinimumDownloadSize with bytes nobody asked
// for yet.
func (s *scheduler) accept(r Range) {
	if r.Length < MinimumDownloadSize {
		s.pending.AddRangeSet(s.state.claim(Range{Start: r.Start, Length: MinimumDownloadSize}))
	}
	s.pending.AddRange(r)
	s.failures = 0

	if s.inflight != nil && s.inflight.speculative && !s.inflight.preempt.Load() {
		s.dlm.logf("stream %s: preempting prefetch of %s", s.state.id, s.inflight.rng)
		s.inflight.preempt.Store(true)
		s.inflight.cancel()
	}
}

// next starts the most useful request: demanded data first, closest to the
// read position, then in streaming mode enough prefetch to keep
// PrefetchThresholdFactor round trips of audio pending.
func (s *scheduler) next() {
	if !s.pending.IsEmpty() {
		r := s.pickPending()
		s.pending.SubtractRange(r)
		s.launch(&transfer{rng: r}, nil)
		return
	}

	if s.state.mode.get() != modeStreaming || s.failures >= fetchAttempts {
		return
	}

	desired := int64(PrefetchThresholdFactor * s.state.pingTime().Seconds() * float64(s.state.bps))
	desired = max(desired, MinimumDownloadSize)
	pending := s.state.pendingBytes()
	if pending >= desired {
		return
	}

	r, ok := s.state.claimNext(s.state.readPos.Load(), max(desired-pending, MinimumDownloadSize))
	if !ok {
		return
	}
	s.launch(&transfer{rng: r, speculative: true}, nil)
}

// pickPending returns the first pending range not entirely behind the read
// position, or the first one.
func (s *scheduler) pickPending() Range {
	pos := s.state.readPos.Load()
	rs := s.pending.Ranges()
	for _, r := range rs {
		if r.End() > pos {
			return r
		}
	}
	return rs[0]
}

func (s *scheduler) launch(t *transfer, resp *http.Response) {
	// inflight is what keeps a single request per file: launch only runs
	// when it is nil. The gate mirrors it so the transfer goroutine holds
	// the admission for as long as it runs.
	if !s.state.gate.TryAcquire(1) {
		panic("audiofetch: launch with a transfer in flight")
	}
	t.ctx, t.cancel = context.WithCancel(s.ctx)
	s.inflight = t
	go s.transfer(t, resp)
}

func (s *scheduler) handle(res transferResult) {
	s.inflight = nil
	s.state.releaseRequested(res.rest)

	switch {
	case res.err == nil:
		s.failures = 0
	case errors.Is(res.err, errPreempted), s.ctx.Err() != nil:
	default:
		s.failures++
		s.dlm.warnf("stream %s: fetching %s failed: %s", s.state.id, res.rest, res.err)
	}
}

// finish hands the completed file to whoever waits for it.
func (s *scheduler) finish() {
	s.dlm.logf("stream %s: download complete (%s)", s.state.id, humanize.IBytes(uint64(s.state.size)))
	s.complete <- s.file
	s.file = nil
}

func (s *scheduler) shutdown() {
	s.state.queue.close()
	s.cancel()
	if s.inflight != nil {
		s.handle(<-s.results)
	}
	if s.file != nil && s.state.isComplete() {
		// the reader may close right after the last byte landed
		s.finish()
	}
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	close(s.complete)
	s.state.wake()
}

// transfer fetches t.rng, writing each chunk to disk as it arrives. Failed
// requests are retried fetchAttempts times in a row before giving up; any
// progress resets the count.
func (s *scheduler) transfer(t *transfer, resp *http.Response) {
	defer t.cancel()

	started := time.Now()
	off, end := t.rng.Start, t.rng.End()
	failures := 0

	var err error
	for off < end {
		if resp == nil {
			if failures > 0 {
				select {
				case <-time.After(time.Duration(failures) * fetchRetryDelay):
				case <-t.ctx.Done():
				}
			}
			resp, err = s.open(t.ctx, Range{Start: off, Length: end - off})
			if err != nil {
				if t.preempt.Load() {
					err = errPreempted
					break
				}
				failures++
				if s.ctx.Err() != nil || failures >= fetchAttempts {
					break
				}
				continue
			}
		}

		var n int64
		n, err = s.copyBody(t, resp.Body, off, end)
		resp.Body.Close()
		resp = nil
		s.dlm.releaseSlot()
		off += n

		if err != nil && t.preempt.Load() {
			err = errPreempted
		}
		if err == nil || errors.Is(err, errPreempted) || s.ctx.Err() != nil {
			break
		}
		if n > 0 {
			failures = 0
		}
		failures++
		if failures >= fetchAttempts {
			break
		}
		s.dlm.logf("stream %s: retrying at %d: %s", s.state.id, off, err)
	}
	if resp != nil {
		resp.Body.Close()
		s.dlm.releaseSlot()
	}

	fetched := off - t.rng.Start
	elapsed := time.Since(started)
	s.state.addThroughput(fetched, elapsed)
	if s.dlm.Metrics != nil {
		mErr := err
		if errors.Is(err, errPreempted) {
			mErr = nil
		}
		s.dlm.Metrics.ObserveRequest(fetched, elapsed, mErr)
	}

	s.state.gate.Release(1)
	s.results <- transferResult{t: t, rest: Range{Start: off, Length: end - off}, err: err}
}

// open acquires a manager slot and starts a request for r. On success the
// slot stays held until the body is consumed.
func (s *scheduler) open(ctx context.Context, r Range) (*http.Response, error) {
	if err := s.dlm.acquireSlot(ctx); err != nil {
		return nil, err
	}

	s.dlm.logf("stream %s: requesting %s", s.state.id, r)
	resp, ping, err := s.dlm.rangeRequest(ctx, s.state.url, r)
	if err != nil {
		s.dlm.releaseSlot()
		return nil, err
	}
	s.state.addPing(ping)

	if err := checkResponseStart(resp, r.Start); err != nil {
		resp.Body.Close()
		s.dlm.releaseSlot()
		return nil, err
	}
	return resp, nil
}

// copyBody writes body to the file from off up to end, marking every
// chunk downloaded as soon as it is on disk.
func (s *scheduler) copyBody(t *transfer, body io.Reader, off, end int64) (int64, error) {
	var n int64
	for off+n < end {
		if t.preempt.Load() {
			return n, errPreempted
		}

		want := min(int64(len(s.buf)), end-off-n)
		read, err := io.ReadFull(body, s.buf[:want])
		if read > 0 {
			if _, werr := s.file.WriteAt(s.buf[:read], off+n); werr != nil {
				return n, werr
			}
			s.state.markDownloaded(Range{Start: off + n, Length: int64(read)})
			n += int64(read)
		}
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return n, err
		}
	}
	return n, nil
}
