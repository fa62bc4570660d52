package stats

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRecorderCountsRequestsAndOutcomes(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "stats.json"), time.Hour)

	now := time.Now()
	r.RecordRequest("POST /v1/chat/completions", "1.2.3.4", 100*time.Millisecond, now)
	r.RecordRequest("POST /v1/chat/completions", "1.2.3.4", 200*time.Millisecond, now)
	r.RecordRequest("GET /v1/models", "5.6.7.8", 50*time.Millisecond, now)

	r.RecordOutcome("openai-main", true)
	r.RecordOutcome("openai-main", true)
	r.RecordOutcome("openai-main", false)

	snap := r.Snapshot()
	if snap.RequestCounts["POST /v1/chat/completions"] != 2 {
		t.Fatalf("request count = %d, want 2", snap.RequestCounts["POST /v1/chat/completions"])
	}
	if snap.RequestCounts["GET /v1/models"] != 1 {
		t.Fatalf("request count = %d, want 1", snap.RequestCounts["GET /v1/models"])
	}
	if diff := snap.RequestTimes["POST /v1/chat/completions"] - 0.3; diff > 0.001 || diff < -0.001 {
		t.Fatalf("request time = %.4f, want 0.3", snap.RequestTimes["POST /v1/chat/completions"])
	}
	if snap.IPCounts["POST /v1/chat/completions"]["1.2.3.4"] != 2 {
		t.Fatalf("ip count = %d, want 2", snap.IPCounts["POST /v1/chat/completions"]["1.2.3.4"])
	}
	if len(snap.RequestArrivals["POST /v1/chat/completions"]) != 2 {
		t.Fatalf("arrivals = %d, want 2", len(snap.RequestArrivals["POST /v1/chat/completions"]))
	}
	if snap.ChannelSuccessCounts["openai-main"] != 2 || snap.ChannelFailureCounts["openai-main"] != 1 {
		t.Fatalf("unexpected channel counters: %+v", snap)
	}

	if len(snap.ChannelSuccessPercent) != 1 || snap.ChannelSuccessPercent[0].Channel != "openai-main" {
		t.Fatalf("unexpected success percentages: %+v", snap.ChannelSuccessPercent)
	}
	want := 100.0 * 2 / 3
	if diff := snap.ChannelSuccessPercent[0].Percent - want; diff > 0.01 || diff < -0.01 {
		t.Fatalf("success percent = %.4f, want %.4f", snap.ChannelSuccessPercent[0].Percent, want)
	}
}

func TestRecorderSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	r := New(path, time.Hour)
	r.RecordRequest("GET /v1/models", "1.2.3.4", 75*time.Millisecond, time.Now())
	r.RecordOutcome("openai-main", true)

	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r2 := New(path, time.Hour)
	if err := r2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := r2.Snapshot()
	if snap.RequestCounts["GET /v1/models"] != 1 {
		t.Fatalf("loaded request count = %d, want 1", snap.RequestCounts["GET /v1/models"])
	}
	if snap.IPCounts["GET /v1/models"]["1.2.3.4"] != 1 {
		t.Fatalf("loaded ip count = %d, want 1", snap.IPCounts["GET /v1/models"]["1.2.3.4"])
	}
	if diff := snap.RequestTimes["GET /v1/models"] - 0.075; diff > 0.001 || diff < -0.001 {
		t.Fatalf("loaded request time = %.4f, want 0.075", snap.RequestTimes["GET /v1/models"])
	}
	if snap.ChannelSuccessCounts["openai-main"] != 1 {
		t.Fatalf("loaded channel success = %d, want 1", snap.ChannelSuccessCounts["openai-main"])
	}
}

func TestRecorderLoadMissingFileIsNotAnError(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "does-not-exist.json"), time.Hour)
	if err := r.Load(); err != nil {
		t.Fatalf("Load on missing file should be a no-op, got %v", err)
	}
}

func TestRecorderMaybeSaveRespectsInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	r := New(path, time.Hour)
	r.RecordRequest("GET /v1/models", "1.2.3.4", 10*time.Millisecond, time.Now())

	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	r.RecordRequest("GET /v1/models", "1.2.3.4", 10*time.Millisecond, time.Now())
	// Immediately after a save, MaybeSave should be a no-op (interval not elapsed).
	if err := r.MaybeSave(); err != nil {
		t.Fatalf("MaybeSave: %v", err)
	}

	// The file on disk still holds the snapshot written by Save.
	r2 := New(path, time.Hour)
	if err := r2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := r2.Snapshot().RequestCounts["GET /v1/models"]; got != 1 {
		t.Fatalf("MaybeSave wrote within the interval: saved count = %d, want 1", got)
	}
}

func TestRecorderCleanupStaleDropsOldArrivalsAndCounters(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "stats.json"), time.Hour)
	r.RecordRequest("GET /v1/models", "1.2.3.4", 10*time.Millisecond, time.Now())

	r.mu.Lock()
	r.requestArrivals["GET /v1/models"][0] = time.Now().Add(-48 * time.Hour)
	r.mu.Unlock()

	r.CleanupStale(24 * time.Hour)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.requestArrivals["GET /v1/models"]; ok {
		t.Fatal("stale arrival entry should have been cleaned up")
	}
	if _, ok := r.requestCounts["GET /v1/models"]; ok {
		t.Fatal("stale request count should have been cleaned up alongside arrivals")
	}
	if _, ok := r.requestTimes["GET /v1/models"]; ok {
		t.Fatal("stale request time should have been cleaned up alongside arrivals")
	}
	if _, ok := r.ipCounts["GET /v1/models"]; ok {
		t.Fatal("stale ip counts should have been cleaned up alongside arrivals")
	}
}

func TestRecorderKeepsFreshEndpointAfterCleanup(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "stats.json"), time.Hour)
	r.RecordRequest("GET /v1/models", "1.2.3.4", 10*time.Millisecond, time.Now())

	r.CleanupStale(24 * time.Hour)

	snap := r.Snapshot()
	if snap.RequestCounts["GET /v1/models"] != 1 {
		t.Fatalf("fresh endpoint should survive cleanup, got %+v", snap.RequestCounts)
	}
}
