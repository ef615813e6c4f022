package resilience

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/zhuli/pkg/provider/stt"
	sttmock "github.com/MrWong99/zhuli/pkg/provider/stt/mock"
)

func newFallbackRecognizer(t *testing.T, fb *STTFallback) stt.Recognizer {
	t.Helper()
	rec, err := fb.NewRecognizer(context.Background(), stt.Config{SampleRate: 16000})
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	return rec
}

func transcribe(t *testing.T, rec stt.Recognizer, pcm []byte) (string, error) {
	t.Helper()
	if err := rec.Feed(context.Background(), pcm); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	return rec.Result(context.Background())
}

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	primaryRec := &sttmock.Recognizer{Results: []string{"from primary"}}
	primary := &sttmock.Provider{Recognizer: primaryRec}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	text, err := transcribe(t, newFallbackRecognizer(t, fb), []byte{1, 2})
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if text != "from primary" {
		t.Errorf("text = %q, want from primary", text)
	}
	if len(primary.NewRecognizerCalls) != 1 || primary.NewRecognizerCalls[0].Cfg.SampleRate != 16000 {
		t.Errorf("primary NewRecognizer calls = %+v", primary.NewRecognizerCalls)
	}
	if len(secondary.NewRecognizerCalls) != 0 {
		t.Errorf("secondary called %d times, want 0", len(secondary.NewRecognizerCalls))
	}
}

func TestSTTFallback_ReplaysUtteranceToFallback(t *testing.T) {
	primaryRec := &sttmock.Recognizer{ResultErr: errors.New("primary down")}
	secondaryRec := &sttmock.Recognizer{Results: []string{"from secondary"}}
	fb := NewSTTFallback(&sttmock.Provider{Recognizer: primaryRec}, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", &sttmock.Provider{Recognizer: secondaryRec})

	text, err := transcribe(t, newFallbackRecognizer(t, fb), []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if text != "from secondary" {
		t.Errorf("text = %q, want from secondary", text)
	}
	if len(secondaryRec.Fed) != 1 || !bytes.Equal(secondaryRec.Fed[0], []byte{1, 2, 3, 4}) {
		t.Errorf("secondary received %v, want the full utterance", secondaryRec.Fed)
	}
	if !primaryRec.Closed() {
		t.Error("failed primary recognizer should be discarded")
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	fb := NewSTTFallback(&sttmock.Provider{NewRecognizerErr: errors.New("primary down")}, "primary", FallbackConfig{})
	fb.AddFallback("secondary", &sttmock.Provider{Recognizer: &sttmock.Recognizer{FeedErr: errors.New("secondary down")}})

	_, err := transcribe(t, newFallbackRecognizer(t, fb), []byte{1, 2})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_BreakerOutlivesRecognizer(t *testing.T) {
	primary := &sttmock.Provider{Recognizer: &sttmock.Recognizer{ResultErr: errors.New("down")}}
	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})

	for range 2 {
		rec := newFallbackRecognizer(t, fb)
		_, _ = transcribe(t, rec, []byte{1, 2})
		_ = rec.Close()
	}
	if err := fb.Check(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Check = %v, want ErrCircuitOpen", err)
	}

	// A fresh recognizer, as built after a pipeline restart, fails fast.
	calls := len(primary.NewRecognizerCalls)
	_, err := transcribe(t, newFallbackRecognizer(t, fb), []byte{1, 2})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if len(primary.NewRecognizerCalls) != calls {
		t.Error("open breaker should not create a new backend recognizer")
	}
}

func TestSTTFallback_EmptyUtterance(t *testing.T) {
	primary := &sttmock.Provider{}
	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	rec := newFallbackRecognizer(t, fb)

	text, err := rec.Result(context.Background())
	if err != nil || text != "" {
		t.Errorf("Result = (%q, %v), want empty", text, err)
	}
	if len(primary.NewRecognizerCalls) != 0 {
		t.Error("backend should not be touched for an empty utterance")
	}
}

func TestSTTFallback_CloseClosesBackends(t *testing.T) {
	primaryRec := &sttmock.Recognizer{Results: []string{"ok"}}
	fb := NewSTTFallback(&sttmock.Provider{Recognizer: primaryRec}, "primary", FallbackConfig{})
	rec := newFallbackRecognizer(t, fb)
	if _, err := transcribe(t, rec, []byte{1, 2}); err != nil {
		t.Fatalf("Result: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !primaryRec.Closed() {
		t.Error("backend recognizer not closed")
	}
	if err := rec.Feed(context.Background(), []byte{1}); !errors.Is(err, stt.ErrClosed) {
		t.Errorf("Feed after Close err = %v, want ErrClosed", err)
	}
	if got := fb.Names(); len(got) != 1 || got[0] != "primary" {
		t.Errorf("Names = %v", got)
	}
}
