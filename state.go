package audiofetch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
	"golang.org/x/sync/semaphore"
)

// downloadStatus tracks which bytes were asked for and which ones landed on
// disk. Bytes may be downloaded without having been requested (the body of
// the opening response), readers only ever look at downloaded.
type downloadStatus struct {
	requested  RangeSet
	downloaded RangeSet
}

// fileState is shared by a StreamingFile, its controllers and its fetch
// scheduler. Everything below lk is guarded by it.
type fileState struct {
	id       string
	url      string
	size     int64
	mimeType string
	bps      int64 // assumed decoder consumption rate
	timeout  time.Duration

	mode    modeSwitch
	gate    *semaphore.Weighted // one HTTP request in flight
	readPos atomic.Int64
	queue   *commandQueue

	lk         sync.Mutex
	cd         *sync.Cond
	status     downloadStatus
	blocks     *roaring.Bitmap // MinimumDownloadSize blocks fully downloaded
	progress   uint64          // bumped each time downloaded grows
	pings      []time.Duration
	throughput int64 // bytes per second
}

func newFileState(id, u string, size int64, mimeType string, bps int64) *fileState {
	st := &fileState{
		id:       id,
		url:      u,
		size:     size,
		mimeType: mimeType,
		bps:      bps,
		timeout:  DownloadTimeout,
		gate:     semaphore.NewWeighted(1),
		queue:    newCommandQueue(),
		blocks:   roaring.New(),
	}
	st.cd = sync.NewCond(&st.lk)
	return st
}

// request enqueues a Fetch for every part of r that is neither downloaded
// nor already requested, and marks those parts requested. It returns the
// number of commands sent. If the scheduler is gone nothing is marked.
func (st *fileState) request(r Range) int {
	st.lk.Lock()
	defer st.lk.Unlock()

	return st.requestLocked(r)
}

func (st *fileState) requestLocked(r Range) int {
	r = r.clamp(st.size)
	if r.IsEmpty() {
		return 0
	}

	missing := NewRangeSet(r)
	missing.SubtractRangeSet(st.status.downloaded)
	missing.SubtractRangeSet(st.status.requested)

	sent := 0
	for _, m := range missing.Ranges() {
		if !st.queue.push(command{kind: cmdFetch, rng: m}) {
			// scheduler is done, nothing more will be fetched
			break
		}
		st.status.requested.AddRange(m)
		sent++
	}
	return sent
}

// claim marks as requested the parts of r that nobody asked for yet and
// returns them.
func (st *fileState) claim(r Range) RangeSet {
	st.lk.Lock()
	defer st.lk.Unlock()

	missing := NewRangeSet(r.clamp(st.size))
	missing.SubtractRangeSet(st.status.downloaded)
	missing.SubtractRangeSet(st.status.requested)
	st.status.requested.AddRangeSet(missing)
	return missing
}

// claimNext claims up to n unrequested bytes at or after from, wrapping
// around to the start of the file.
func (st *fileState) claimNext(from, n int64) (Range, bool) {
	st.lk.Lock()
	defer st.lk.Unlock()

	covered := st.status.downloaded.Union(st.status.requested)
	for _, span := range []Range{{Start: from, Length: st.size - from}, {Start: 0, Length: from}} {
		gaps := NewRangeSet(span.clamp(st.size))
		gaps.SubtractRangeSet(covered)
		if gaps.IsEmpty() {
			continue
		}
		r := gaps.Ranges()[0]
		if r.Length > n {
			r.Length = n
		}
		st.status.requested.AddRange(r)
		return r, true
	}
	return Range{}, false
}

// markDownloaded records r as written to disk and wakes blocked readers.
func (st *fileState) markDownloaded(r Range) {
	if r.IsEmpty() {
		return
	}

	st.lk.Lock()
	defer st.lk.Unlock()

	st.status.downloaded.AddRange(r)
	st.progress++

	first := r.Start / MinimumDownloadSize
	last := (r.End() - 1) / MinimumDownloadSize
	for b := first; b <= last; b++ {
		blk := Range{Start: b * MinimumDownloadSize, Length: MinimumDownloadSize}.clamp(st.size)
		if st.status.downloaded.ContainsRange(blk) {
			st.blocks.Add(uint32(b))
		}
	}

	st.cd.Broadcast()
}

// releaseRequested gives r back after a failed or abandoned request so it
// can be asked for again. Readers are woken but this does not count as
// progress.
func (st *fileState) releaseRequested(r Range) {
	if r.IsEmpty() {
		return
	}

	st.lk.Lock()
	defer st.lk.Unlock()

	st.status.requested.SubtractRange(r)
	st.cd.Broadcast()
}

// wake broadcasts on the condition, used by wait timers.
func (st *fileState) wake() {
	st.lk.Lock()
	st.cd.Broadcast()
	st.lk.Unlock()
}

// waitUntil waits for one wakeup or the deadline, whichever comes first.
// It returns false without waiting once the deadline has passed. Must be
// called with lk held.
func (st *fileState) waitUntil(deadline time.Time) bool {
	d := time.Until(deadline)
	if d <= 0 {
		return false
	}
	t := time.AfterFunc(d, st.wake)
	st.cd.Wait()
	t.Stop()
	return true
}

// waitFor requests r and blocks until it is downloaded. Parts of r that are neither
// downloaded nor requested (a request failed in between) are asked for
// again on every wakeup. It fails with ErrWaitTimeout when nothing was
// downloaded for DownloadTimeout.
func (st *fileState) waitFor(r Range) error {
	st.lk.Lock()
	defer st.lk.Unlock()

	deadline := time.Now().Add(st.timeout)
	for {
		have := st.status.downloaded.ContainedLengthFromValue(r.Start)
		if have >= r.Length {
			return nil
		}
		st.requestLocked(Range{Start: r.Start + have, Length: r.Length - have})

		gen := st.progress
		if !st.waitUntil(deadline) {
			return ErrWaitTimeout
		}
		if st.progress != gen {
			deadline = time.Now().Add(st.timeout)
		}
	}
}

// availableFrom returns the length of the downloaded run starting at off.
func (st *fileState) availableFrom(off int64) int64 {
	st.lk.Lock()
	defer st.lk.Unlock()

	return st.status.downloaded.ContainedLengthFromValue(off)
}

func (st *fileState) rangeAvailable(r Range) bool {
	st.lk.Lock()
	defer st.lk.Unlock()

	return st.status.downloaded.ContainsRange(r.clamp(st.size))
}

// pendingBytes returns how many requested bytes have not arrived yet.
func (st *fileState) pendingBytes() int64 {
	st.lk.Lock()
	defer st.lk.Unlock()

	return st.status.requested.Minus(st.status.downloaded).Len()
}

func (st *fileState) blockCount() uint64 {
	n := st.size / MinimumDownloadSize
	if st.size%MinimumDownloadSize != 0 {
		n++
	}
	return uint64(n)
}

// isComplete reports whether every byte of the file is on disk.
func (st *fileState) isComplete() bool {
	st.lk.Lock()
	defer st.lk.Unlock()

	return st.blocks.GetCardinality() == st.blockCount()
}

// progressRatio returns the fraction of blocks fully downloaded.
func (st *fileState) progressRatio() float64 {
	st.lk.Lock()
	defer st.lk.Unlock()

	total := st.blockCount()
	if total == 0 {
		return 1
	}
	return float64(st.blocks.GetCardinality()) / float64(total)
}

// addPing records a latency sample, capped to MaximumAssumedPingTime.
func (st *fileState) addPing(d time.Duration) {
	d = min(d, MaximumAssumedPingTime)

	st.lk.Lock()
	defer st.lk.Unlock()

	st.pings = append(st.pings, d)
	if len(st.pings) > pingSamples {
		st.pings = st.pings[len(st.pings)-pingSamples:]
	}
}

// pingTime returns the worst of the recent samples, or the initial
// estimate when nothing was measured yet.
func (st *fileState) pingTime() time.Duration {
	st.lk.Lock()
	defer st.lk.Unlock()

	if len(st.pings) == 0 {
		return InitialPingTimeEstimate
	}
	var res time.Duration
	for _, p := range st.pings {
		res = max(res, p)
	}
	return res
}

func (st *fileState) addThroughput(bytes int64, d time.Duration) {
	if bytes <= 0 || d <= 0 {
		return
	}
	rate := int64(float64(bytes) / d.Seconds())

	st.lk.Lock()
	defer st.lk.Unlock()

	if st.throughput == 0 {
		st.throughput = rate
	} else {
		st.throughput = (st.throughput + rate) / 2
	}
}

func (st *fileState) getThroughput() int64 {
	st.lk.Lock()
	defer st.lk.Unlock()
	return st.throughput
}

// snapshot returns copies of the download status, for diagnostics.
func (st *fileState) snapshot() (requested, downloaded RangeSet) {
	st.lk.Lock()
	defer st.lk.Unlock()

	return st.status.requested.Clone(), st.status.downloaded.Clone()
}
