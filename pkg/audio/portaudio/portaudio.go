// Package portaudio implements an [audio.Source] that captures the default
// input device through PortAudio (github.com/gordonklaus/portaudio).
//
// The PortAudio shared library and headers must be installed at build time.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/zhuli/pkg/audio"
)

var _ audio.Source = (*Microphone)(nil)

// PortAudio keeps global state; Initialize/Terminate are reference counted by
// the library but we serialise them so that a restart closing the old
// microphone cannot race with opening the new one.
var libMu sync.Mutex

// Microphone reads mono 16-bit frames from the default input device.
type Microphone struct {
	cfg    audio.Config
	buf    []int16
	stream *portaudio.Stream

	mu     sync.Mutex
	closed bool
}

// Open initialises PortAudio and starts a blocking input stream on the
// default device at cfg.SampleRate with cfg.FrameSize samples per buffer.
func Open(cfg audio.Config) (*Microphone, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("portaudio: invalid config %+v", cfg)
	}

	libMu.Lock()
	defer libMu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	m := &Microphone{
		cfg: cfg,
		buf: make([]int16, cfg.FrameSize),
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(cfg.SampleRate), len(m.buf), m.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open default stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}
	m.stream = stream

	slog.Debug("microphone opened", "sample_rate", cfg.SampleRate, "frame_size", cfg.FrameSize)
	return m, nil
}

// ReadFrame blocks until one full buffer has been captured. Input overflows
// are logged and the (complete) frame is still returned, since a dropped
// chunk of background audio is harmless for utterance detection.
func (m *Microphone) ReadFrame(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, audio.ErrClosed
	}

	if err := m.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("portaudio: read: %w", err)
		}
		slog.Debug("microphone input overflowed")
	}

	frame := make([]byte, len(m.buf)*2)
	for i, s := range m.buf {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(s))
	}
	return frame, nil
}

// Close stops the stream and releases PortAudio. Calling Close more than once
// is safe.
func (m *Microphone) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	libMu.Lock()
	defer libMu.Unlock()

	var errs []error
	if err := m.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
	}
	if err := m.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	slog.Debug("microphone closed")
	return errors.Join(errs...)
}
