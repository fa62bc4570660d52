package translate

import (
	"bufio"
	"bytes"
)

// doneSentinel is the OpenAI-convention terminal payload that
// OpenAITranslator recognizes in an upstream stream.
const doneSentinel = "[DONE]"

// ScanSSEEvents reads raw from an upstream SSE body and invokes onEvent for
// each "data: <payload>" line's payload (sentinel lines included, verbatim,
// so each engine-specific translator can recognize its own terminal
// marker). Lines that aren't a data field (comments, event:, id:, blank
// keep-alives) are skipped.
func ScanSSEEvents(raw []byte, onEvent func(payload []byte) (stop bool)) error {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(line[len("data:"):])
		if len(payload) == 0 {
			continue
		}
		if onEvent(payload) {
			break
		}
	}
	return scanner.Err()
}
