package stt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
)

// DefaultNoiseToken is produced by some engines for breath and background
// noise. It is always filtered.
const DefaultNoiseToken = "huh"

// TranscriberOption is a functional option for [NewTranscriber].
type TranscriberOption func(*Transcriber)

// WithNoiseTokens adds phrases that are treated as "nothing was said". Tokens
// are compared after normalisation, so case and punctuation do not matter.
func WithNoiseTokens(tokens ...string) TranscriberOption {
	return func(t *Transcriber) {
		for _, tok := range tokens {
			if n := Normalize(tok); n != "" {
				t.noise[n] = struct{}{}
			}
		}
	}
}

// WithNormalize controls whether recognised text is normalised before it is
// returned (see [Normalize]). Enabled by default.
func WithNormalize(enabled bool) TranscriberOption {
	return func(t *Transcriber) { t.normalize = enabled }
}

// WithLogger sets the logger used for debug output. Defaults to
// slog.Default().
func WithLogger(l *slog.Logger) TranscriberOption {
	return func(t *Transcriber) { t.log = l }
}

// Transcriber turns one utterance into text using a Recognizer.
type Transcriber struct {
	rec       Recognizer
	noise     map[string]struct{}
	normalize bool
	log       *slog.Logger
}

// NewTranscriber wraps rec.
func NewTranscriber(rec Recognizer, opts ...TranscriberOption) *Transcriber {
	t := &Transcriber{
		rec:       rec,
		noise:     map[string]struct{}{DefaultNoiseToken: {}},
		normalize: true,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Transcribe feeds pcm to the recognizer and returns the recognised text.
// ok is false when the engine produced nothing usable: empty text or a noise
// token. That is not an error.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte) (text string, ok bool, err error) {
	if err := t.rec.Feed(ctx, pcm); err != nil {
		return "", false, fmt.Errorf("stt: feed: %w", err)
	}
	raw, err := t.rec.Result(ctx)
	if err != nil {
		return "", false, fmt.Errorf("stt: result: %w", err)
	}

	norm := Normalize(raw)
	if norm == "" {
		return "", false, nil
	}
	if _, noise := t.noise[norm]; noise {
		t.log.Debug("dropping noise transcript", "text", raw)
		return "", false, nil
	}
	if t.normalize {
		return norm, true, nil
	}
	return strings.TrimSpace(raw), true, nil
}

// Close closes the underlying recognizer.
func (t *Transcriber) Close() error {
	return t.rec.Close()
}

// Normalize lower-cases s, drops punctuation other than apostrophes inside
// words, and collapses runs of white space. Cloud engines return "Zhu Li, turn
// on the light." where vosk returns "zhu li turn on the light"; both normalise
// to the latter.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\'' || r == '’':
			b.WriteRune('\'')
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	fields := strings.Fields(b.String())
	for i, f := range fields {
		fields[i] = strings.Trim(f, "'")
	}
	return strings.Join(strings.Fields(strings.Join(fields, " ")), " ")
}
