package wavfile_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/zhuli/pkg/audio"
	"github.com/MrWong99/zhuli/pkg/audio/wavfile"
)

// writeWAV writes samples as a 16-bit WAV file and returns its path.
func writeWAV(t *testing.T, samples []int, rate, channels int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	return path
}

func TestSource_FramesAndEOF(t *testing.T) {
	t.Parallel()
	samples := make([]int, 10)
	for i := range samples {
		samples[i] = (i + 1) * 100
	}
	path := writeWAV(t, samples, 16000, 1)

	src, err := wavfile.Open(path, audio.Config{SampleRate: 16000, FrameSize: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	var frames [][]byte
	for {
		f, err := src.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		frames = append(frames, f)
	}

	// 10 samples in frames of 4 → 3 frames, the last zero-padded.
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if len(f) != 8 {
			t.Errorf("frame %d: %d bytes, want 8", i, len(f))
		}
	}
	if got := int16(binary.LittleEndian.Uint16(frames[0][0:])); got != 100 {
		t.Errorf("first sample = %d, want 100", got)
	}
	last := frames[2]
	if got := int16(binary.LittleEndian.Uint16(last[2:])); got != 1000 {
		t.Errorf("last real sample = %d, want 1000", got)
	}
	if got := int16(binary.LittleEndian.Uint16(last[4:])); got != 0 {
		t.Errorf("padding sample = %d, want 0", got)
	}
}

func TestSource_DownmixesAndResamples(t *testing.T) {
	t.Parallel()
	// 8 stereo frames at 32 kHz → 4 mono samples at 16 kHz.
	samples := []int{100, 300, 100, 300, 100, 300, 100, 300, 100, 300, 100, 300, 100, 300, 100, 300}
	path := writeWAV(t, samples, 32000, 2)

	src, err := wavfile.Open(path, audio.Config{SampleRate: 16000, FrameSize: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f, err := src.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	for i := range 4 {
		if got := int16(binary.LittleEndian.Uint16(f[i*2:])); got != 200 {
			t.Errorf("sample %d = %d, want 200", i, got)
		}
	}
	if _, err := src.ReadFrame(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("second ReadFrame err = %v, want io.EOF", err)
	}
}

func TestSource_Closed(t *testing.T) {
	t.Parallel()
	path := writeWAV(t, []int{1, 2, 3, 4}, 16000, 1)
	src, err := wavfile.Open(path, audio.Config{SampleRate: 16000, FrameSize: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := src.ReadFrame(context.Background()); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("ReadFrame after Close: err = %v, want ErrClosed", err)
	}
}

func TestSource_RealtimeRespectsContext(t *testing.T) {
	t.Parallel()
	// One frame of 16000 samples at 16 kHz takes a full second to "capture".
	path := writeWAV(t, make([]int, 16000), 16000, 1)
	src, err := wavfile.Open(path, audio.Config{SampleRate: 16000, FrameSize: 16000}, wavfile.WithRealtime(true))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = src.ReadFrame(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("ReadFrame took %v; should return promptly on cancellation", elapsed)
	}
}

func TestOpen_InvalidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := os.WriteFile(path, []byte("definitely not RIFF"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := wavfile.Open(path, audio.Config{SampleRate: 16000, FrameSize: 4})
	if err == nil || !strings.Contains(err.Error(), "not a valid WAV") {
		t.Errorf("err = %v, want invalid WAV error", err)
	}
}
