package transport

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

// reconnectInterval is how often a side FIFO writer retries opening once
// the kernel reports no reader (spec.md §4.3 "FIFO reconnect").
const reconnectInterval = 500 * time.Millisecond

// resolveSource turns a read target spec into an io.ReadCloser. spec is
// one of: nil/"" (stdin), an int file descriptor, or a path. FIFOs and
// regular files are opened identically; opening a FIFO for reading blocks
// until a writer connects, which is the kernel's own reconnect behavior
// and needs no retry loop on the read side.
func resolveSource(spec interface{}) (io.ReadCloser, string, error) {
	switch v := spec.(type) {
	case nil:
		return io.NopCloser(os.Stdin), "stdin", nil
	case string:
		if v == "" || v == "stdin" {
			return io.NopCloser(os.Stdin), "stdin", nil
		}
		f, err := os.Open(v)
		if err != nil {
			return nil, v, err
		}
		return f, v, nil
	case int:
		return os.NewFile(uintptr(v), fmt.Sprintf("fd:%d", v)), fmt.Sprintf("fd:%d", v), nil
	default:
		return nil, "", fmt.Errorf("transport: unsupported source spec %T", spec)
	}
}

// Target is a write endpoint that tolerates a FIFO with no reader:
// writes are silently discarded while a reconnect goroutine retries the
// open every 500 ms, matching spec.md §4.3's "silently discarded" clause.
type Target struct {
	ChannelID string

	mu     sync.Mutex
	w      io.WriteCloser
	path   string
	isFIFO bool
	closed bool
	stopCh chan struct{}
}

// resolveTarget turns a write target spec into a Target. spec is one of:
// nil/"" (stdout), "stderr", an int fd, or a path.
func resolveTarget(spec interface{}, channelID string) (*Target, error) {
	switch v := spec.(type) {
	case nil:
		return &Target{ChannelID: channelID, w: os.Stdout, path: "stdout"}, nil
	case string:
		switch v {
		case "", "stdout":
			return &Target{ChannelID: channelID, w: os.Stdout, path: "stdout"}, nil
		case "stderr":
			return &Target{ChannelID: channelID, w: os.Stderr, path: "stderr"}, nil
		default:
			t := &Target{ChannelID: channelID, path: v, isFIFO: true, stopCh: make(chan struct{})}
			t.tryOpen()
			if t.w == nil {
				go t.reconnectLoop()
			}
			return t, nil
		}
	case int:
		return &Target{ChannelID: channelID, w: os.NewFile(uintptr(v), fmt.Sprintf("fd:%d", v)), path: fmt.Sprintf("fd:%d", v)}, nil
	default:
		return nil, fmt.Errorf("transport: unsupported target spec %T", spec)
	}
}

// tryOpen attempts a single non-blocking open of t.path, creating a
// regular file if it does not exist at all (spec.md §4.7: side targets
// "ensured to exist"). A FIFO with no reader yields a nil w, not an
// error: the caller schedules a retry.
func (t *Target) tryOpen() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := os.Stat(t.path); os.IsNotExist(err) {
		if f, createErr := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY, 0o644); createErr == nil {
			f.Close()
		}
	}

	f, err := os.OpenFile(t.path, os.O_WRONLY|os.O_NONBLOCK, 0o644)
	if err != nil {
		t.w = nil
		return
	}
	t.w = f
}

func (t *Target) reconnectLoop() {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.mu.Lock()
			alreadyOpen := t.w != nil
			t.mu.Unlock()
			if alreadyOpen {
				return
			}
			t.tryOpen()
			t.mu.Lock()
			opened := t.w != nil
			t.mu.Unlock()
			if opened {
				return
			}
		}
	}
}

// Write writes raw bytes, discarding them silently if the target has no
// open writer yet (FIFO reconnect window).
func (t *Target) Write(p []byte) (int, error) {
	t.mu.Lock()
	w := t.w
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return 0, io.ErrClosedPipe
	}
	if w == nil {
		return len(p), nil
	}
	n, err := w.Write(p)
	if err != nil {
		t.mu.Lock()
		t.w = nil
		t.mu.Unlock()
		if t.isFIFO {
			go t.reconnectLoop()
		}
	}
	return n, err
}

// Close shuts the target down, stopping any in-flight reconnect loop.
func (t *Target) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.stopCh != nil {
		close(t.stopCh)
	}
	if t.w != nil && t.path != "stdout" && t.path != "stderr" {
		return t.w.Close()
	}
	return nil
}

// ParseFD parses the numeric-fd form accepted by Read/Write targets.
func ParseFD(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
