package backend

import (
	"bufio"
	"io"
	"strings"
)

// maxEventBytes bounds one SSE line. Message rows may carry data URIs.
const maxEventBytes = 16 << 20

type sseEvent struct {
	Type string
	Data string
}

// readEvents parses a text/event-stream body and calls fn for every complete
// event until the body ends or fn returns false.
func readEvents(r io.Reader, fn func(sseEvent) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxEventBytes)

	var (
		eventType string
		eventData strings.Builder
	)
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			// A blank line terminates the event.
			if eventData.Len() > 0 || eventType != "" {
				if !fn(sseEvent{Type: eventType, Data: eventData.String()}) {
					return nil
				}
			}
			eventType = ""
			eventData.Reset()
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if eventData.Len() > 0 {
				eventData.WriteByte('\n')
			}
			eventData.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
