// Package stats is the Statistics Collector: a realtime atomic
// counter set plus a 24-hour, one-minute-resolution history ring, both
// updated on every request completion. The counters themselves are atomic;
// rotating a history bucket to a new minute takes a short mutex. The
// realtime counters are exposed to Prometheus.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	historyBuckets = 1440 // 24h at 1-minute resolution
	bucketDuration = time.Minute
)

// StatusClass buckets a response status into one of the three tracked
// counters.
type StatusClass int

const (
	Status2xx StatusClass = iota
	Status4xx
	Status5xx
)

// ClassOf maps an HTTP status code to its StatusClass. Any code outside
// 2xx/4xx/5xx (1xx/3xx) is not counted in a status bucket.
func ClassOf(code int) (StatusClass, bool) {
	switch {
	case code >= 200 && code < 300:
		return Status2xx, true
	case code >= 400 && code < 500:
		return Status4xx, true
	case code >= 500 && code < 600:
		return Status5xx, true
	default:
		return 0, false
	}
}

// Counters is one set of the five tracked values: requests, bytes, and
// the three status buckets.
type Counters struct {
	Requests  uint64
	Bytes     uint64
	Status2xx uint64
	Status4xx uint64
	Status5xx uint64
}

type atomicCounters struct {
	requests  atomic.Uint64
	bytes     atomic.Uint64
	status2xx atomic.Uint64
	status4xx atomic.Uint64
	status5xx atomic.Uint64
}

func (c *atomicCounters) snapshot() Counters {
	return Counters{
		Requests:  c.requests.Load(),
		Bytes:     c.bytes.Load(),
		Status2xx: c.status2xx.Load(),
		Status4xx: c.status4xx.Load(),
		Status5xx: c.status5xx.Load(),
	}
}

func (c *atomicCounters) record(bytesSent int64, class StatusClass, ok bool) {
	c.requests.Add(1)
	c.bytes.Add(uint64(bytesSent))
	if !ok {
		return
	}
	switch class {
	case Status2xx:
		c.status2xx.Add(1)
	case Status4xx:
		c.status4xx.Add(1)
	case Status5xx:
		c.status5xx.Add(1)
	}
}

type bucket struct {
	minute int64 // unix minute this bucket represents; 0 means unused
	atomicCounters
}

// Collector is the process-wide statistics sink. Safe for concurrent
// use from every request-completion path.
type Collector struct {
	realtime atomicCounters

	mu      sync.Mutex // guards bucket rotation only, never the hot counters
	buckets [historyBuckets]bucket
	nowFn   func() time.Time
}

// New builds a Collector. nowFn defaults to time.Now and is overridable for
// tests that need deterministic bucket boundaries.
func New() *Collector {
	return &Collector{nowFn: time.Now}
}

// Record is called once per completed request: increments
// requests and bytes, and exactly one status bucket when the status falls in
// a tracked class.
func (c *Collector) Record(bytesSent int64, status int) {
	class, ok := ClassOf(status)
	c.realtime.record(bytesSent, class, ok)

	minute := c.nowFn().Unix() / int64(bucketDuration/time.Second)
	idx := int(((minute % historyBuckets) + historyBuckets) % historyBuckets)

	c.mu.Lock()
	b := &c.buckets[idx]
	if b.minute != minute {
		*b = bucket{minute: minute}
	}
	c.mu.Unlock()

	b.record(bytesSent, class, ok)
}

// Realtime returns the counters accumulated since process start.
func (c *Collector) Realtime() Counters { return c.realtime.snapshot() }

// HistoryPoint is one minute's worth of history, with its wall-clock minute
// for the caller to render a timestamp.
type HistoryPoint struct {
	UnixMinute int64
	Counters
}

// History returns hours*60 one-minute points ending with the current
// (still open) minute, oldest first; minutes with no recorded request carry
// zero counters. hours is clamped to the 24h the ring retains.
func (c *Collector) History(hours int) []HistoryPoint {
	if hours <= 0 || hours > historyBuckets/60 {
		hours = historyBuckets / 60
	}
	want := hours * 60
	nowMinute := c.nowFn().Unix() / int64(bucketDuration/time.Second)

	out := make([]HistoryPoint, 0, want)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := want - 1; i >= 0; i-- {
		minute := nowMinute - int64(i)
		idx := int(((minute % historyBuckets) + historyBuckets) % historyBuckets)
		b := &c.buckets[idx]
		if b.minute != minute {
			// Slot never used or overwritten: no requests recorded for this minute.
			out = append(out, HistoryPoint{UnixMinute: minute * int64(bucketDuration/time.Second)})
			continue
		}
		out = append(out, HistoryPoint{UnixMinute: minute * int64(bucketDuration/time.Second), Counters: b.snapshot()})
	}
	return out
}
