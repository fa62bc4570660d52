// Package stats implements the request/channel counters (Component B) and
// their periodic durable snapshot to disk.
package stats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Snapshot is the JSON shape persisted to disk and returned by GET /stats.
type Snapshot struct {
	RequestCounts         map[string]int64           `json:"request_counts"`
	RequestTimes          map[string]float64          `json:"request_times"`
	IPCounts              map[string]map[string]int64 `json:"ip_counts"`
	RequestArrivals       map[string][]time.Time      `json:"request_arrivals"`
	ChannelSuccessCounts  map[string]int64            `json:"channel_success_counts"`
	ChannelFailureCounts  map[string]int64            `json:"channel_failure_counts"`
	ChannelSuccessPercent []ChannelRate               `json:"channel_success_percentages"`
	ChannelFailurePercent []ChannelRate               `json:"channel_failure_percentages"`
}

// ChannelRate is one provider's success/failure percentage, used for the
// sorted-descending summary views.
type ChannelRate struct {
	Channel string  `json:"channel"`
	Percent float64 `json:"percent"`
}

// Recorder accumulates per-endpoint request/channel counters in memory and
// periodically persists a snapshot to disk via an atomic
// write-temp-then-rename, so a crash mid-write never corrupts the previous
// good snapshot. Request counters are keyed by endpoint, the
// "<METHOD> <path>" string identifying one route (e.g. "GET /v1/models"),
// mirroring the upstream's per-route accounting; channel outcome counters
// are keyed by provider name.
type Recorder struct {
	mu sync.Mutex

	requestCounts  map[string]int64
	requestTimes   map[string]float64
	ipCounts       map[string]map[string]int64
	channelSuccess map[string]int64
	channelFailure map[string]int64

	// requestArrivals tracks recent request timestamps per endpoint for the
	// 24h-retention rolling-window accounting.
	requestArrivals map[string][]time.Time

	path         string
	saveInterval time.Duration
	lastSave     time.Time
}

// New returns a Recorder that persists to path no more often than interval.
func New(path string, interval time.Duration) *Recorder {
	return &Recorder{
		requestCounts:   make(map[string]int64),
		requestTimes:    make(map[string]float64),
		ipCounts:        make(map[string]map[string]int64),
		channelSuccess:  make(map[string]int64),
		channelFailure:  make(map[string]int64),
		requestArrivals: make(map[string][]time.Time),
		path:            path,
		saveInterval:    interval,
	}
}

// RecordRequest registers one inbound request against endpoint ("<METHOD>
// <path>"), attributing elapsed to the endpoint's cumulative process time and
// ip to that endpoint's per-IP counter, and appending arrival to its rolling
// arrival-timestamp window.
func (r *Recorder) RecordRequest(endpoint, ip string, elapsed time.Duration, arrival time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requestCounts[endpoint]++
	r.requestTimes[endpoint] += elapsed.Seconds()

	ips, ok := r.ipCounts[endpoint]
	if !ok {
		ips = make(map[string]int64)
		r.ipCounts[endpoint] = ips
	}
	ips[ip]++

	r.requestArrivals[endpoint] = append(r.requestArrivals[endpoint], arrival)
}

// RecordOutcome registers a dispatch-loop attempt's success or failure
// against the named provider channel.
func (r *Recorder) RecordOutcome(provider string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.channelSuccess[provider]++
	} else {
		r.channelFailure[provider]++
	}
}

// CleanupStale drops request-arrival timestamps older than the retention
// window (24h). Once an endpoint's arrival list empties, its request-count,
// request-time, and ip-count entries are deleted along with it, together,
// matching the upstream's all-four-maps cleanup.
func (r *Recorder) CleanupStale(retention time.Duration) {
	cutoff := time.Now().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	for endpoint, arrivals := range r.requestArrivals {
		kept := arrivals[:0]
		for _, ts := range arrivals {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(r.requestArrivals, endpoint)
			delete(r.requestCounts, endpoint)
			delete(r.requestTimes, endpoint)
			delete(r.ipCounts, endpoint)
		} else {
			r.requestArrivals[endpoint] = kept
		}
	}
}

// Snapshot returns a deep copy of the current counters, including the
// sorted-descending channel success/failure percentage views.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		RequestCounts:        copyInt64Map(r.requestCounts),
		RequestTimes:         copyFloatMap(r.requestTimes),
		IPCounts:             copyNestedMap(r.ipCounts),
		RequestArrivals:      copyArrivalsMap(r.requestArrivals),
		ChannelSuccessCounts: copyInt64Map(r.channelSuccess),
		ChannelFailureCounts: copyInt64Map(r.channelFailure),
	}

	channels := make(map[string]bool)
	for c := range r.channelSuccess {
		channels[c] = true
	}
	for c := range r.channelFailure {
		channels[c] = true
	}
	for c := range channels {
		s, f := r.channelSuccess[c], r.channelFailure[c]
		total := s + f
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(s) / float64(total)
		}
		snap.ChannelSuccessPercent = append(snap.ChannelSuccessPercent, ChannelRate{c, pct})
		snap.ChannelFailurePercent = append(snap.ChannelFailurePercent, ChannelRate{c, 100 - pct})
	}
	sort.Slice(snap.ChannelSuccessPercent, func(i, j int) bool {
		return snap.ChannelSuccessPercent[i].Percent > snap.ChannelSuccessPercent[j].Percent
	})
	sort.Slice(snap.ChannelFailurePercent, func(i, j int) bool {
		return snap.ChannelFailurePercent[i].Percent > snap.ChannelFailurePercent[j].Percent
	})

	return snap
}

func copyInt64Map(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyNestedMap(m map[string]map[string]int64) map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(m))
	for k, v := range m {
		out[k] = copyInt64Map(v)
	}
	return out
}

func copyArrivalsMap(m map[string][]time.Time) map[string][]time.Time {
	out := make(map[string][]time.Time, len(m))
	for k, v := range m {
		cp := make([]time.Time, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// MaybeSave persists a snapshot to disk if saveInterval has elapsed since
// the last successful save. Intended to be called periodically (e.g. from a
// ticker goroutine) — it is a no-op, not an error, when called too soon.
func (r *Recorder) MaybeSave() error {
	r.mu.Lock()
	due := time.Since(r.lastSave) >= r.saveInterval
	r.mu.Unlock()
	if !due {
		return nil
	}
	return r.Save()
}

// Save unconditionally writes the current snapshot to disk via an atomic
// write-temp-then-rename, so a concurrent reader (or a crash mid-write)
// never observes a partially written file. This is a deliberate hardening
// over a plain truncate-and-write.
func (r *Recorder) Save() error {
	snap := r.Snapshot()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".stats-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return err
	}

	r.mu.Lock()
	r.lastSave = time.Now()
	r.mu.Unlock()
	return nil
}

// Load restores counters from a previously saved snapshot, if the file
// exists. Missing files are not an error — a fresh install simply starts
// from zero.
func (r *Recorder) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if snap.RequestCounts != nil {
		r.requestCounts = snap.RequestCounts
	}
	if snap.RequestTimes != nil {
		r.requestTimes = snap.RequestTimes
	}
	if snap.IPCounts != nil {
		r.ipCounts = snap.IPCounts
	}
	if snap.RequestArrivals != nil {
		r.requestArrivals = snap.RequestArrivals
	}
	if snap.ChannelSuccessCounts != nil {
		r.channelSuccess = snap.ChannelSuccessCounts
	}
	if snap.ChannelFailureCounts != nil {
		r.channelFailure = snap.ChannelFailureCounts
	}
	return nil
}
