// Package mock provides an in-memory [audio.Source] for unit tests.
//
// The mock replays a scripted list of frames and then reports end of stream.
// It is safe for concurrent use and records every call so tests can assert on
// call counts.
//
// Typical usage:
//
//	src := &mock.Source{Frames: [][]byte{loud, loud, quiet}}
//	frame, err := src.ReadFrame(ctx)
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/zhuli/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Source is a scripted [audio.Source].
type Source struct {
	mu sync.Mutex

	// Frames are returned by ReadFrame in order.
	Frames [][]byte

	// Err, when non-nil, is returned once Frames are exhausted instead of
	// io.EOF.
	Err error

	// ErrAt, when non-nil, maps a zero-based read index to an error returned
	// in place of the frame at that index.
	ErrAt map[int]error

	// CloseError is returned by Close.
	CloseError error

	// CallCountReadFrame records how many times ReadFrame was called.
	CallCountReadFrame int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	pos    int
	closed bool
}

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.CallCountReadFrame
	s.CallCountReadFrame++

	if s.closed {
		return nil, audio.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.ErrAt[idx]; ok {
		return nil, err
	}
	if s.pos >= len(s.Frames) {
		if s.Err != nil {
			return nil, s.Err
		}
		return nil, io.EOF
	}
	f := s.Frames[s.pos]
	s.pos++
	return f, nil
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return s.CloseError
}

// Closed reports whether Close has been called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Tone returns one frame of n samples with constant absolute amplitude amp,
// alternating sign so that its RMS equals amp.
func Tone(n int, amp int16) []byte {
	buf := make([]byte, n*2)
	for i := range n {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		buf[i*2] = byte(v)
		buf[i*2+1] = byte(uint16(v) >> 8)
	}
	return buf
}
