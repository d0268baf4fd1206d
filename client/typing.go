package client

import (
	"log"
	"sync"
	"time"
)

// DefaultTypingIdle is how long after the last keystroke typing stops.
const DefaultTypingIdle = 1200 * time.Millisecond

// TypingDebouncer turns a stream of keystrokes into one typing-start and,
// after a quiet period, one typing-stop.
type TypingDebouncer struct {
	idle time.Duration
	emit func(typing bool)

	mu     sync.Mutex
	typing bool
	gen    uint64
	timer  *time.Timer
}

// NewTypingDebouncer calls emit on every transition. emit runs without the
// debouncer lock held.
func NewTypingDebouncer(idle time.Duration, emit func(typing bool)) *TypingDebouncer {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingDebouncer{idle: idle, emit: emit}
}

// Keystroke records activity and restarts the idle timer.
func (d *TypingDebouncer) Keystroke() {
	d.mu.Lock()
	started := !d.typing
	d.typing = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.idle, func() { d.expire(gen) })
	d.mu.Unlock()

	if started {
		d.emit(true)
	}
}

// Stop ends typing immediately, e.g. when the message is sent.
func (d *TypingDebouncer) Stop() {
	d.mu.Lock()
	wasTyping := d.typing
	d.typing = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if wasTyping {
		d.emit(false)
	}
}

func (d *TypingDebouncer) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.typing {
		d.mu.Unlock()
		return
	}
	d.typing = false
	d.timer = nil
	d.mu.Unlock()

	d.emit(false)
}

// Typing returns a debouncer that reports typing in room over this client.
func (c *Client) Typing(room string, idle time.Duration) *TypingDebouncer {
	return NewTypingDebouncer(idle, func(typing bool) {
		if err := c.SetTyping(room, typing); err != nil && err != ErrNotConnected {
			log.Printf("client: typing update failed: %v", err)
		}
	})
}
