package stt

import (
	"context"
	"sync"
)

// TranscribeFunc transcribes one complete utterance of mono 16-bit PCM.
type TranscribeFunc func(ctx context.Context, pcm []byte) (string, error)

// Batch is a Recognizer for engines that only accept whole recordings. It
// buffers everything passed to Feed and hands the complete utterance to its
// TranscribeFunc when Result is called.
type Batch struct {
	fn      TranscribeFunc
	onClose func() error

	mu     sync.Mutex
	buf    []byte
	closed bool
}

var _ Recognizer = (*Batch)(nil)

// NewBatch returns a Batch recognizer calling fn. onClose, if non-nil, runs
// once on the first Close.
func NewBatch(fn TranscribeFunc, onClose func() error) *Batch {
	return &Batch{fn: fn, onClose: onClose}
}

// Feed appends pcm to the pending utterance.
func (b *Batch) Feed(_ context.Context, pcm []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.buf = append(b.buf, pcm...)
	return nil
}

// Result transcribes the pending utterance and clears it, whether or not the
// engine succeeds. An empty utterance yields "" without calling the engine.
func (b *Batch) Result(ctx context.Context) (string, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", ErrClosed
	}
	pcm := b.buf
	b.buf = nil
	b.mu.Unlock()

	if len(pcm) == 0 {
		return "", nil
	}
	return b.fn(ctx, pcm)
}

// Close discards any pending audio.
func (b *Batch) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.buf = nil
	b.mu.Unlock()

	if b.onClose != nil {
		return b.onClose()
	}
	return nil
}
