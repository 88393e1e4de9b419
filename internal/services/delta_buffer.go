package services

import (
	"strings"
	"sync"
	"time"
)

// deltaBuffer coalesces token deltas so the notifier sees chunked updates
// instead of one event per token. A chunk goes out when the flush window has
// elapsed since the last emit or the pending bytes pass the watermark.
// Concatenating every emitted chunk (plus FlushRemaining) reproduces the full
// text exactly.
type deltaBuffer struct {
	mu        sync.Mutex
	window    time.Duration
	watermark int
	emit      func(chunk string)

	pending   strings.Builder
	flushed   strings.Builder
	lastFlush time.Time
	now       func() time.Time
}

func newDeltaBuffer(window time.Duration, watermark int, emit func(chunk string)) *deltaBuffer {
	return &deltaBuffer{
		window:    window,
		watermark: watermark,
		emit:      emit,
		lastFlush: time.Now(),
		now:       time.Now,
	}
}

func (b *deltaBuffer) Add(delta string) {
	if delta == "" {
		return
	}
	b.mu.Lock()
	b.pending.WriteString(delta)
	shouldFlush := b.pending.Len() >= b.watermark || b.now().Sub(b.lastFlush) >= b.window
	var chunk string
	if shouldFlush {
		chunk = b.takeLocked()
	}
	b.mu.Unlock()

	if chunk != "" {
		b.emit(chunk)
	}
}

// FlushRemaining emits whatever is still pending. Call on normal completion;
// skipping it on abort is what discards the unsent tail.
func (b *deltaBuffer) FlushRemaining() {
	b.mu.Lock()
	chunk := b.takeLocked()
	b.mu.Unlock()

	if chunk != "" {
		b.emit(chunk)
	}
}

// Flushed returns the text already delivered to the client.
func (b *deltaBuffer) Flushed() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushed.String()
}

func (b *deltaBuffer) takeLocked() string {
	if b.pending.Len() == 0 {
		return ""
	}
	chunk := b.pending.String()
	b.pending.Reset()
	b.flushed.WriteString(chunk)
	b.lastFlush = b.now()
	return chunk
}
