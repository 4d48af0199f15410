package audiofetch

import (
	"fmt"
	"sort"
	"strings"
)

// Range is a half-open byte interval [Start, Start+Length) within one file.
// A zero-length range is valid and covers nothing.
type Range struct {
	Start  int64
	Length int64
}

// End returns the first offset past the range.
func (r Range) End() int64 {
	return r.Start + r.Length
}

// IsEmpty reports whether the range covers no byte.
func (r Range) IsEmpty() bool {
	return r.Length <= 0
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End())
}

// clamp limits r to [0, size). A range starting at or past size becomes
// empty but keeps its start.
func (r Range) clamp(size int64) Range {
	if r.Start < 0 {
		r.Length += r.Start
		r.Start = 0
	}
	if r.Start >= size {
		return Range{Start: r.Start}
	}
	if r.End() > size {
		r.Length = size - r.Start
	}
	if r.Length < 0 {
		r.Length = 0
	}
	return r
}

// RangeSet is a set of byte offsets stored as sorted, disjoint intervals.
// Adjacent or overlapping intervals are always merged, so the interval
// holding an offset is also the longest covered run through it.
//
// The zero value is an empty set. A RangeSet is not safe for concurrent use.
type RangeSet struct {
	ranges []Range
}

// NewRangeSet returns a set holding the given ranges.
func NewRangeSet(rs ...Range) RangeSet {
	var s RangeSet
	for _, r := range rs {
		s.AddRange(r)
	}
	return s
}

// find returns the index of the first interval ending after off.
func (s *RangeSet) find(off int64) int {
	return sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].End() > off
	})
}

// AddRange merges r into the set.
func (s *RangeSet) AddRange(r Range) {
	if r.IsEmpty() {
		return
	}

	// first interval that touches r (ends at or after r.Start)
	i := sort.Search(len(s.ranges), func(i int) bool {
		return s.ranges[i].End() >= r.Start
	})

	start, end := r.Start, r.End()
	j := i
	for j < len(s.ranges) && s.ranges[j].Start <= end {
		if s.ranges[j].Start < start {
			start = s.ranges[j].Start
		}
		if s.ranges[j].End() > end {
			end = s.ranges[j].End()
		}
		j++
	}

	tail := append([]Range{{Start: start, Length: end - start}}, s.ranges[j:]...)
	s.ranges = append(s.ranges[:i], tail...)
}

// AddRangeSet merges every interval of o into the set.
func (s *RangeSet) AddRangeSet(o RangeSet) {
	for _, r := range o.ranges {
		s.AddRange(r)
	}
}

// SubtractRange removes r from the set.
func (s *RangeSet) SubtractRange(r Range) {
	if r.IsEmpty() || len(s.ranges) == 0 {
		return
	}

	out := make([]Range, 0, len(s.ranges)+1)
	for _, cur := range s.ranges {
		if cur.End() <= r.Start || cur.Start >= r.End() {
			out = append(out, cur)
			continue
		}
		if cur.Start < r.Start {
			out = append(out, Range{Start: cur.Start, Length: r.Start - cur.Start})
		}
		if cur.End() > r.End() {
			out = append(out, Range{Start: r.End(), Length: cur.End() - r.End()})
		}
	}
	s.ranges = out
}

// SubtractRangeSet removes every interval of o from the set.
func (s *RangeSet) SubtractRangeSet(o RangeSet) {
	for _, r := range o.ranges {
		s.SubtractRange(r)
	}
}

// Union returns a new set covering s and o.
func (s RangeSet) Union(o RangeSet) RangeSet {
	res := s.Clone()
	res.AddRangeSet(o)
	return res
}

// Minus returns a new set covering s but not o.
func (s RangeSet) Minus(o RangeSet) RangeSet {
	res := s.Clone()
	res.SubtractRangeSet(o)
	return res
}

// Intersection returns a new set covering offsets present in both s and o.
func (s RangeSet) Intersection(o RangeSet) RangeSet {
	var res RangeSet
	i, j := 0, 0
	for i < len(s.ranges) && j < len(o.ranges) {
		a, b := s.ranges[i], o.ranges[j]
		start := max(a.Start, b.Start)
		end := min(a.End(), b.End())
		if start < end {
			res.ranges = append(res.ranges, Range{Start: start, Length: end - start})
		}
		if a.End() < b.End() {
			i++
		} else {
			j++
		}
	}
	return res
}

// Contains reports whether off is covered.
func (s RangeSet) Contains(off int64) bool {
	i := s.find(off)
	return i < len(s.ranges) && s.ranges[i].Start <= off
}

// ContainedLengthFromValue returns the length of the covered run starting
// exactly at off, or 0 when off is not covered.
func (s RangeSet) ContainedLengthFromValue(off int64) int64 {
	i := s.find(off)
	if i < len(s.ranges) && s.ranges[i].Start <= off {
		return s.ranges[i].End() - off
	}
	return 0
}

// ContainsRange reports whether every byte of r is covered.
func (s RangeSet) ContainsRange(r Range) bool {
	if r.IsEmpty() {
		return true
	}
	return s.ContainedLengthFromValue(r.Start) >= r.Length
}

// Ranges returns a copy of the disjoint intervals in ascending order.
func (s RangeSet) Ranges() []Range {
	res := make([]Range, len(s.ranges))
	copy(res, s.ranges)
	return res
}

// Len returns the number of covered bytes.
func (s RangeSet) Len() int64 {
	var n int64
	for _, r := range s.ranges {
		n += r.Length
	}
	return n
}

// IsEmpty reports whether the set covers nothing.
func (s RangeSet) IsEmpty() bool {
	return len(s.ranges) == 0
}

// Clone returns an independent copy of the set.
func (s RangeSet) Clone() RangeSet {
	return RangeSet{ranges: s.Ranges()}
}

func (s RangeSet) String() string {
	parts := make([]string, len(s.ranges))
	for i, r := range s.ranges {
		parts[i] = r.String()
	}
	return "{" + strings.Join(parts, " ") + "}"
}
