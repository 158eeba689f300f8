package stream

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"testing"
)

// scriptedWriter is a concurrency-safe ResponseWriter whose writes start
// failing with failErr after failAfter successful writes.
type scriptedWriter struct {
	mu        sync.Mutex
	header    http.Header
	status    int
	buf       bytes.Buffer
	writes    int
	failAfter int
	failErr   error
	flushes   int
}

func newScriptedWriter() *scriptedWriter {
	return &scriptedWriter{header: make(http.Header), failAfter: -1}
}

func (w *scriptedWriter) Header() http.Header {
	return w.header
}

func (w *scriptedWriter) WriteHeader(status int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
}

func (w *scriptedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAfter >= 0 && w.writes >= w.failAfter {
		return 0, w.failErr
	}
	w.writes++
	return w.buf.Write(p)
}

func (w *scriptedWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func (w *scriptedWriter) failWith(err error, after int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failErr = err
	w.failAfter = after
}

func (w *scriptedWriter) body() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

type parsedFrame struct {
	comment string
	event   string
	data    string
}

func parseFrames(t *testing.T, body string) []parsedFrame {
	t.Helper()
	var frames []parsedFrame
	for _, block := range strings.Split(body, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var frame parsedFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, ": "):
				frame.comment = strings.TrimPrefix(line, ": ")
			case strings.HasPrefix(line, "event: "):
				frame.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				frame.data = strings.TrimPrefix(line, "data: ")
			default:
				t.Fatalf("unexpected frame line %q in body %q", line, body)
			}
		}
		frames = append(frames, frame)
	}
	return frames
}

func dataFrames(frames []parsedFrame) []parsedFrame {
	out := make([]parsedFrame, 0, len(frames))
	for _, frame := range frames {
		if frame.event != "" {
			out = append(out, frame)
		}
	}
	return out
}

func decodeDone(t *testing.T, frame parsedFrame) Done {
	t.Helper()
	if frame.event != "done" {
		t.Fatalf("expected done frame, got %q", frame.event)
	}
	var done Done
	if err := json.Unmarshal([]byte(frame.data), &done); err != nil {
		t.Fatalf("decode done frame: %v (%s)", err, frame.data)
	}
	return done
}

var errBrokenPipe = syscall.EPIPE
