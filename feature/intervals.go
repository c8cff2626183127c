package feature

import (
	"fmt"
	"sort"

	"playprofile/eventlog"
)

type interval struct {
	start float64
	end   float64
}

type intervalScan struct {
	intervals []interval
	flags     []Flag
	notes     []string
}

// scanIntervals pairs start/stop events accepted by match. Streams are keyed
// by event type plus the optional payload stream, so concurrent streams pair
// independently. A start left open runs to the session end; a stop with no
// open start is ignored.
func scanIntervals(s eventlog.Session, match func(eventlog.Event) bool) intervalScan {
	var out intervalScan
	open := make(map[string]float64)
	flagged := make(map[Flag]bool)
	flag := func(f Flag) {
		if !flagged[f] {
			flagged[f] = true
			out.flags = append(out.flags, f)
		}
	}

	for _, e := range s.Events {
		if !match(e) {
			continue
		}
		state, ok := e.PayloadString(eventlog.PayloadState)
		if !ok {
			continue
		}
		stream, _ := e.PayloadString(eventlog.PayloadStream)
		key := string(e.Type) + "/" + stream

		switch state {
		case eventlog.StateStart:
			if started, active := open[key]; active {
				flag(FlagDuplicateStart)
				out.notes = append(out.notes, fmt.Sprintf("duplicate start for %s at %.3fs (open since %.3fs) ignored", key, e.Timestamp, started))
				continue
			}
			open[key] = e.Timestamp
		case eventlog.StateStop:
			started, active := open[key]
			if !active {
				flag(FlagUnmatchedStop)
				out.notes = append(out.notes, fmt.Sprintf("unmatched stop for %s at %.3fs ignored", key, e.Timestamp))
				continue
			}
			delete(open, key)
			out.intervals = append(out.intervals, interval{start: started, end: e.Timestamp})
		}
	}

	keys := make([]string, 0, len(open))
	for k := range open {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		flag(FlagUnmatchedStart)
		out.notes = append(out.notes, fmt.Sprintf("unmatched start for %s at %.3fs extended to end_time", k, open[k]))
		out.intervals = append(out.intervals, interval{start: open[k], end: s.EndTime})
	}

	clipped := out.intervals[:0]
	for _, iv := range out.intervals {
		if iv.start < s.StartTime || iv.end > s.EndTime {
			flag(FlagOutsideWindow)
		}
		if iv.start < s.StartTime {
			iv.start = s.StartTime
		}
		if iv.end > s.EndTime {
			iv.end = s.EndTime
		}
		if iv.end > iv.start {
			clipped = append(clipped, iv)
		}
	}
	out.intervals = clipped
	return out
}

// measure returns the covered time under policy and whether any intervals overlap.
func measure(intervals []interval, policy OverlapPolicy) (float64, bool) {
	if len(intervals) == 0 {
		return 0, false
	}
	sorted := append([]interval(nil), intervals...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].start != sorted[j].start {
			return sorted[i].start < sorted[j].start
		}
		return sorted[i].end < sorted[j].end
	})

	var sum, union float64
	overlap := false
	cur := sorted[0]
	sum = cur.end - cur.start
	for _, iv := range sorted[1:] {
		sum += iv.end - iv.start
		if iv.start < cur.end {
			overlap = true
			if iv.end > cur.end {
				cur.end = iv.end
			}
			continue
		}
		union += cur.end - cur.start
		cur = iv
	}
	union += cur.end - cur.start

	if policy == OverlapSum {
		return sum, overlap
	}
	return union, overlap
}

func intervalRatio(s eventlog.Session, policy OverlapPolicy, match func(eventlog.Event) bool) Result {
	if len(s.Events) == 0 {
		return Result{}
	}
	scan := scanIntervals(s, match)
	res := Result{Flags: scan.flags, Notes: scan.notes}
	covered, overlap := measure(scan.intervals, policy)
	if overlap {
		res.Flags = append(res.Flags, FlagOverlappingActivity)
	}
	duration := s.Duration()
	if duration <= 0 {
		res.Flags = append(res.Flags, FlagEmptyWindow)
		return res
	}
	res.Value = covered / duration
	return res
}
