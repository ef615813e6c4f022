// Package mock provides scripted test doubles for the vad interfaces.
//
// A Session replays a fixed list of events, one per frame, then repeats
// EventResult:
//
//	sess := &mock.Session{
//	    Events:      []vad.Event{{Type: vad.SpeechStart}, {Type: vad.SpeechEnd}},
//	    EventResult: vad.Event{Type: vad.Silence},
//	}
package mock

import (
	"errors"
	"sync"

	"github.com/MrWong99/zhuli/pkg/provider/vad"
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("mock vad: session closed")

// Engine hands out Session, or a fresh silent Session when it is nil, and
// remembers every Config it was asked for.
type Engine struct {
	Session vad.SessionHandle
	Err     error

	mu      sync.Mutex
	configs []vad.Config
}

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{EventResult: vad.Event{Type: vad.Silence}}, nil
}

// Configs returns the configs passed to NewSession, oldest first.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// Session replays Events and then EventResult. Its zero EventResult is
// SpeechStart, so most tests set it to Silence.
type Session struct {
	Events          []vad.Event
	EventResult     vad.Event
	ProcessFrameErr error
	CloseErr        error

	// ResetCallCount counts calls to Reset.
	ResetCallCount int

	mu     sync.Mutex
	frames [][]byte
	next   int
	closed bool
}

func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, ErrClosed
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	switch {
	case s.ProcessFrameErr != nil:
		return vad.Event{}, s.ProcessFrameErr
	case s.next < len(s.Events):
		s.next++
		return s.Events[s.next-1], nil
	default:
		return s.EventResult, nil
	}
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.ResetCallCount++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.CloseErr
}

// Frames returns copies of the frames seen so far.
func (s *Session) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.frames...)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
