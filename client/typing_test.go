package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type transitions struct {
	mu  sync.Mutex
	got []bool
}

func (r *transitions) emit(typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, typing)
}

func (r *transitions) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool{}, r.got...)
}

func TestTypingDebouncerStartsOnceAndStopsAfterIdle(t *testing.T) {
	rec := &transitions{}
	d := NewTypingDebouncer(50*time.Millisecond, rec.emit)

	d.Keystroke()
	d.Keystroke()
	d.Keystroke()
	require.Equal(t, []bool{true}, rec.snapshot())

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, []bool{true, false}, rec.snapshot())
}

func TestTypingDebouncerStopIsImmediate(t *testing.T) {
	rec := &transitions{}
	d := NewTypingDebouncer(time.Hour, rec.emit)

	d.Keystroke()
	d.Stop()
	d.Stop()

	require.Equal(t, []bool{true, false}, rec.snapshot())
}
