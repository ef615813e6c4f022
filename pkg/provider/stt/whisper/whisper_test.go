package whisper_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/zhuli/pkg/audio/wavfile"
	"github.com/MrWong99/zhuli/pkg/provider/stt"
	"github.com/MrWong99/zhuli/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// inferenceRequest captures what the mock whisper-server received.
type inferenceRequest struct {
	language   string
	model      string
	pcm        []byte
	sampleRate int
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText and records every request.
func newMockServer(t *testing.T, status int, responseText string) (*httptest.Server, func() []inferenceRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []inferenceRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		pcm, format, err := wavfile.Decode(bytes.NewReader(data))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mu.Lock()
		reqs = append(reqs, inferenceRequest{
			language:   r.FormValue("language"),
			model:      r.FormValue("model"),
			pcm:        pcm,
			sampleRate: format.SampleRate,
		})
		mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, "boom", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv, func() []inferenceRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]inferenceRequest(nil), reqs...)
	}
}

func newRecognizer(t *testing.T, p *whisper.Provider, cfg stt.Config) stt.Recognizer {
	t.Helper()
	rec, err := p.NewRecognizer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewRecognizer: %v", err)
	}
	t.Cleanup(func() { _ = rec.Close() })
	return rec
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNewRecognizer_CancelledContext(t *testing.T) {
	t.Parallel()
	p, _ := whisper.New("http://localhost:8080")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.NewRecognizer(ctx, stt.Config{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ---- inference --------------------------------------------------------------

func TestRecognizer_UploadsUtteranceAsWAV(t *testing.T) {
	t.Parallel()
	srv, requests := newMockServer(t, http.StatusOK, "  Zhu Li, turn on the light. ")

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("small"), whisper.WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := newRecognizer(t, p, stt.Config{SampleRate: 16000})
	ctx := context.Background()

	_ = rec.Feed(ctx, []byte{1, 0, 2, 0})
	_ = rec.Feed(ctx, []byte{3, 0})
	text, err := rec.Result(ctx)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if text != "Zhu Li, turn on the light." {
		t.Errorf("text = %q", text)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("server saw %d requests, want 1", len(reqs))
	}
	got := reqs[0]
	if !bytes.Equal(got.pcm, []byte{1, 0, 2, 0, 3, 0}) {
		t.Errorf("uploaded pcm = %v", got.pcm)
	}
	if got.sampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", got.sampleRate)
	}
	if got.language != "de" || got.model != "small" {
		t.Errorf("language/model = %q/%q, want de/small", got.language, got.model)
	}
}

func TestRecognizer_ConfigLanguageWins(t *testing.T) {
	t.Parallel()
	srv, requests := newMockServer(t, http.StatusOK, "hi")
	p, _ := whisper.New(srv.URL, whisper.WithLanguage("en"))
	rec := newRecognizer(t, p, stt.Config{SampleRate: 16000, Language: "fr"})

	_ = rec.Feed(context.Background(), []byte{0, 0})
	if _, err := rec.Result(context.Background()); err != nil {
		t.Fatalf("Result: %v", err)
	}
	if lang := requests()[0].language; lang != "fr" {
		t.Errorf("language = %q, want fr", lang)
	}
}

func TestRecognizer_EmptyUtteranceSkipsServer(t *testing.T) {
	t.Parallel()
	srv, requests := newMockServer(t, http.StatusOK, "never")
	p, _ := whisper.New(srv.URL)
	rec := newRecognizer(t, p, stt.Config{SampleRate: 16000})

	text, err := rec.Result(context.Background())
	if err != nil || text != "" {
		t.Errorf("Result = (%q, %v), want empty", text, err)
	}
	if n := len(requests()); n != 0 {
		t.Errorf("server saw %d requests, want 0", n)
	}
}

func TestRecognizer_ServerError(t *testing.T) {
	t.Parallel()
	srv, _ := newMockServer(t, http.StatusInternalServerError, "")
	p, _ := whisper.New(srv.URL)
	rec := newRecognizer(t, p, stt.Config{SampleRate: 16000})

	_ = rec.Feed(context.Background(), []byte{0, 0})
	if _, err := rec.Result(context.Background()); err == nil {
		t.Fatal("expected error for HTTP 500")
	}

	// The failed utterance is discarded; the next one starts clean.
	if text, err := rec.Result(context.Background()); err != nil || text != "" {
		t.Errorf("Result after failure = (%q, %v), want empty", text, err)
	}
}
