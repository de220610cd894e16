package session

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"
)

// FlushFunc receives a framed message. complete is true when the message
// was terminated by a newline and false when it was cut by the latency
// timer or by the end of the stream.
type FlushFunc func(text string, complete bool)

// Framer splits a character stream into messages. A newline ends a message;
// so does a pause longer than the latency threshold after any other
// character, which lets callers see prompts that are never terminated.
//
// Output is decoded as UTF-8 one rune at a time. Bytes that are not valid
// UTF-8 are replaced with U+FFFD, so such output does not round-trip.
//
// The flush callback runs with the framer's lock held, so flushes from one
// Framer are strictly ordered and must not call back into it.
type Framer struct {
	latency time.Duration
	flush   FlushFunc

	mu    sync.Mutex
	buf   strings.Builder
	timer *time.Timer
	armed bool
}

// NewFramer creates a framer. latency is clamped to MinOutputLatency.
func NewFramer(latency time.Duration, flush FlushFunc) *Framer {
	if latency < MinOutputLatency {
		latency = MinOutputLatency
	}
	return &Framer{latency: latency, flush: flush}
}

// Run reads r one rune at a time until it is exhausted or fails, then
// flushes whatever is left. Read errors are treated as end of stream.
func (f *Framer) Run(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		ch, _, err := br.ReadRune()
		if err != nil {
			break
		}
		f.feed(ch)
	}

	f.mu.Lock()
	f.disarmLocked()
	f.emitLocked(false)
	f.mu.Unlock()
}

func (f *Framer) feed(ch rune) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disarmLocked()
	f.buf.WriteRune(ch)
	if ch == '\n' {
		f.emitLocked(true)
		return
	}
	f.armLocked()
}

// armLocked (re)starts the latency timer.
func (f *Framer) armLocked() {
	f.armed = true
	if f.timer != nil {
		f.timer.Reset(f.latency)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(f.latency, func() { f.expire(t) })
	f.timer = t
}

// disarmLocked stops the latency timer. If the timer has already elapsed
// but its callback has not flushed yet, the expiry wins: the buffer as it
// stood when the timer fired is flushed here, and the late callback is
// orphaned so it does nothing.
func (f *Framer) disarmLocked() {
	if !f.armed {
		return
	}
	f.armed = false
	if !f.timer.Stop() {
		f.timer = nil
		f.emitLocked(false)
	}
}

func (f *Framer) expire(t *time.Timer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.armed || f.timer != t {
		return
	}
	f.armed = false
	f.emitLocked(false)
}

func (f *Framer) emitLocked(complete bool) {
	text := f.buf.String()
	f.buf.Reset()
	if strings.TrimSpace(text) == "" {
		return
	}
	if complete {
		text = strings.TrimSuffix(text, "\n")
		text = strings.TrimSuffix(text, "\r")
	}
	f.flush(text, complete)
}
