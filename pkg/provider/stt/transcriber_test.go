package stt_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/zhuli/pkg/provider/stt"
	"github.com/MrWong99/zhuli/pkg/provider/stt/mock"
)

func TestTranscriber_Transcribe(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		result   string
		opts     []stt.TranscriberOption
		wantText string
		wantOK   bool
	}{
		{name: "plain", result: "zhu li turn on the light", wantText: "zhu li turn on the light", wantOK: true},
		{name: "normalised", result: "  Zhu Li, turn on the light. ", wantText: "zhu li turn on the light", wantOK: true},
		{name: "apostrophe kept", result: "Don't stop", wantText: "don't stop", wantOK: true},
		{name: "raw when normalisation off", result: " Zhu Li, go! ", opts: []stt.TranscriberOption{stt.WithNormalize(false)}, wantText: "Zhu Li, go!", wantOK: true},
		{name: "empty", result: "", wantOK: false},
		{name: "whitespace", result: " \t ", wantOK: false},
		{name: "punctuation only", result: "...", wantOK: false},
		{name: "huh", result: "huh", wantOK: false},
		{name: "huh with punctuation", result: "Huh?", wantOK: false},
		{name: "huh filtered without normalisation", result: "huh", opts: []stt.TranscriberOption{stt.WithNormalize(false)}, wantOK: false},
		{name: "extra noise token", result: "the", opts: []stt.TranscriberOption{stt.WithNoiseTokens("The", "")}, wantOK: false},
		{name: "noise token inside sentence", result: "huh turn on the light", wantText: "huh turn on the light", wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := &mock.Recognizer{Results: []string{tt.result}}
			tr := stt.NewTranscriber(rec, tt.opts...)

			text, ok, err := tr.Transcribe(context.Background(), []byte{1, 2})
			if err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if ok != tt.wantOK || text != tt.wantText {
				t.Errorf("Transcribe = (%q, %v), want (%q, %v)", text, ok, tt.wantText, tt.wantOK)
			}
		})
	}
}

func TestTranscriber_FeedsUtterance(t *testing.T) {
	t.Parallel()
	rec := &mock.Recognizer{Results: []string{"a", "b"}}
	tr := stt.NewTranscriber(rec)
	ctx := context.Background()

	if _, _, err := tr.Transcribe(ctx, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, _, err := tr.Transcribe(ctx, []byte{5, 6}); err != nil {
		t.Fatalf("second: %v", err)
	}
	if len(rec.Fed) != 2 {
		t.Fatalf("Result called %d times, want 2", len(rec.Fed))
	}
	if !bytes.Equal(rec.Fed[0], []byte{1, 2, 3, 4}) || !bytes.Equal(rec.Fed[1], []byte{5, 6}) {
		t.Errorf("fed audio = %v, want each utterance separately", rec.Fed)
	}
}

func TestTranscriber_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("engine down")

	t.Run("feed", func(t *testing.T) {
		t.Parallel()
		rec := &mock.Recognizer{FeedErr: boom}
		if _, _, err := stt.NewTranscriber(rec).Transcribe(context.Background(), []byte{0, 0}); !errors.Is(err, boom) {
			t.Errorf("err = %v, want %v", err, boom)
		}
		if rec.ResultCallCount != 0 {
			t.Error("Result should not be called after a failed Feed")
		}
	})
	t.Run("result", func(t *testing.T) {
		t.Parallel()
		rec := &mock.Recognizer{ResultErr: boom}
		if _, _, err := stt.NewTranscriber(rec).Transcribe(context.Background(), []byte{0, 0}); !errors.Is(err, boom) {
			t.Errorf("err = %v, want %v", err, boom)
		}
	})
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"Zhu Li, do the thing!", "zhu li do the thing"},
		{"it’s on", "it's on"},
		{"'quoted'", "quoted"},
		{"multiple   spaces\tand\ttabs", "multiple spaces and tabs"},
		{"50% + more", "50 more"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := stt.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBatch(t *testing.T) {
	t.Parallel()
	var got [][]byte
	closed := 0
	b := stt.NewBatch(func(_ context.Context, pcm []byte) (string, error) {
		got = append(got, pcm)
		return "ok", nil
	}, func() error { closed++; return nil })
	ctx := context.Background()

	if text, err := b.Result(ctx); err != nil || text != "" {
		t.Errorf("empty Result = (%q, %v), want (\"\", nil)", text, err)
	}
	if len(got) != 0 {
		t.Error("engine called for empty utterance")
	}

	_ = b.Feed(ctx, []byte{1, 2})
	_ = b.Feed(ctx, []byte{3, 4})
	if text, err := b.Result(ctx); err != nil || text != "ok" {
		t.Fatalf("Result = (%q, %v)", text, err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], []byte{1, 2, 3, 4}) {
		t.Errorf("engine received %v, want one concatenated utterance", got)
	}

	_ = b.Feed(ctx, []byte{9, 9})
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = b.Close()
	if closed != 1 {
		t.Errorf("onClose ran %d times, want 1", closed)
	}
	if err := b.Feed(ctx, []byte{1}); !errors.Is(err, stt.ErrClosed) {
		t.Errorf("Feed after Close err = %v, want ErrClosed", err)
	}
	if _, err := b.Result(ctx); !errors.Is(err, stt.ErrClosed) {
		t.Errorf("Result after Close err = %v, want ErrClosed", err)
	}
}
