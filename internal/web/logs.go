package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogBuffer keeps the most recent log lines in a ring so /api/logs can show
// what the daemon printed. Every line gets a sequence number; clients poll
// with ?since=N to fetch only newer lines.
// maxLineBytes caps a line still waiting for its newline; past it the held
// bytes are stored as a line of their own.
const maxLineBytes = 64 * 1024

type LogBuffer struct {
	mu      sync.Mutex
	ring    []string
	head    int // index of the oldest line
	n       int
	next    uint64 // sequence number of the next line
	partial []byte
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{ring: make([]string, maxLines)}
}

// Write implements io.Writer. Bytes after the last newline are held until
// the line completes.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := p
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := data[:i]
		if len(b.partial) > 0 {
			line = append(b.partial, line...)
			b.partial = nil
		}
		b.appendLocked(strings.TrimRight(string(line), "\r"))
		data = data[i+1:]
	}
	if len(data) > 0 {
		b.partial = append(b.partial, data...)
		if len(b.partial) >= maxLineBytes {
			b.appendLocked(string(b.partial))
			b.partial = nil
		}
	}
	return len(p), nil
}

func (b *LogBuffer) appendLocked(line string) {
	if line == "" {
		return
	}
	if b.n < len(b.ring) {
		b.ring[(b.head+b.n)%len(b.ring)] = line
		b.n++
	} else {
		b.ring[b.head] = line
		b.head = (b.head + 1) % len(b.ring)
	}
	b.next++
}

// dropped is how many lines have been overwritten.
func (b *LogBuffer) droppedLocked() uint64 {
	return b.next - uint64(b.n)
}

type LogsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Dropped uint64   `json:"dropped"`
	Next    uint64   `json:"next"`
	Lines   []string `json:"lines"`
}

// Snapshot returns up to tail of the newest lines.
func (b *LogBuffer) Snapshot(tail int) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tail <= 0 {
		tail = 200
	}
	if tail > b.n {
		tail = b.n
	}
	return b.rangeLocked(b.n-tail, b.n), b.droppedLocked()
}

// Since returns the retained lines with sequence number >= seq and the
// sequence number to ask for next.
func (b *LogBuffer) Since(seq uint64) (lines []string, next uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	first := b.droppedLocked()
	if seq < first {
		seq = first
	}
	if seq > b.next {
		seq = b.next
	}
	return b.rangeLocked(int(seq-first), b.n), b.next
}

func (b *LogBuffer) rangeLocked(from, to int) []string {
	out := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, b.ring[(b.head+i)%len(b.ring)])
	}
	return out
}

func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()

		var lines []string
		var dropped, next uint64
		if s := strings.TrimSpace(q.Get("since")); s != "" {
			seq, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
				return
			}
			lines, next = b.Since(seq)
		} else {
			tail := 200
			if s := strings.TrimSpace(q.Get("tail")); s != "" {
				v, err := strconv.Atoi(s)
				if err != nil || v < 1 || v > 5000 {
					http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
					return
				}
				tail = v
			}
			lines, dropped = b.Snapshot(tail)
			b.mu.Lock()
			next = b.next
			b.mu.Unlock()
		}

		if strings.EqualFold(q.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, line := range lines {
				_, _ = w.Write([]byte(line))
				_, _ = w.Write([]byte("\n"))
			}
			return
		}

		writeJSON(w, LogsResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Dropped: dropped,
			Next:    next,
			Lines:   lines,
		})
	})
}
