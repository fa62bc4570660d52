package translate

import "testing"

func TestScanSSEEventsExtractsDataPayloads(t *testing.T) {
	raw := []byte("event: message\n" +
		"data: {\"a\":1}\n\n" +
		": keep-alive\n" +
		"data: {\"a\":2}\n\n" +
		"data: [DONE]\n\n")

	var got []string
	err := ScanSSEEvents(raw, func(payload []byte) bool {
		got = append(got, string(payload))
		return false
	})
	if err != nil {
		t.Fatalf("ScanSSEEvents: %v", err)
	}

	want := []string{`{"a":1}`, `{"a":2}`, "[DONE]"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestScanSSEEventsStopsEarly(t *testing.T) {
	raw := []byte("data: a\n\ndata: b\n\ndata: c\n\n")

	var got []string
	err := ScanSSEEvents(raw, func(payload []byte) bool {
		got = append(got, string(payload))
		return string(payload) == "b"
	})
	if err != nil {
		t.Fatalf("ScanSSEEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected scan to stop after the 2nd event, got %v", got)
	}
}
