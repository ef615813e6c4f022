package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/zhuli/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker, which outlives the
// recognizers handed out by NewRecognizer: a pipeline rebuilt after an error
// still skips an engine that kept failing.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in failover order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// Check reports an error when every backend's breaker is open. It has the
// signature of a readiness checker.
func (f *STTFallback) Check(context.Context) error {
	if !f.group.Available() {
		return fmt.Errorf("stt: %w", ErrCircuitOpen)
	}
	return nil
}

// NewRecognizer returns a recognizer that buffers each utterance and replays
// it to the next backend when one fails. Backend recognizers are created on
// first use.
func (f *STTFallback) NewRecognizer(ctx context.Context, cfg stt.Config) (stt.Recognizer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &fallbackRecognizer{
		group: f.group,
		cfg:   cfg,
		recs:  make(map[string]stt.Recognizer),
	}, nil
}

type fallbackRecognizer struct {
	group  *FallbackGroup[stt.Provider]
	cfg    stt.Config
	recs   map[string]stt.Recognizer
	buf    []byte
	closed bool
}

func (r *fallbackRecognizer) Feed(_ context.Context, pcm []byte) error {
	if r.closed {
		return stt.ErrClosed
	}
	r.buf = append(r.buf, pcm...)
	return nil
}

func (r *fallbackRecognizer) Result(ctx context.Context) (string, error) {
	if r.closed {
		return "", stt.ErrClosed
	}
	pcm := r.buf
	r.buf = nil
	if len(pcm) == 0 {
		return "", nil
	}

	return ExecuteWithResult(r.group, func(name string, p stt.Provider) (string, error) {
		rec, err := r.recognizer(ctx, name, p)
		if err != nil {
			return "", err
		}
		if err := rec.Feed(ctx, pcm); err != nil {
			r.discard(name)
			return "", err
		}
		text, err := rec.Result(ctx)
		if err != nil {
			r.discard(name)
			return "", err
		}
		return text, nil
	})
}

func (r *fallbackRecognizer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for name, rec := range r.recs {
		if err := rec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stt %s: %w", name, err))
		}
	}
	clear(r.recs)
	return errors.Join(errs...)
}

func (r *fallbackRecognizer) recognizer(ctx context.Context, name string, p stt.Provider) (stt.Recognizer, error) {
	if rec, ok := r.recs[name]; ok {
		return rec, nil
	}
	rec, err := p.NewRecognizer(ctx, r.cfg)
	if err != nil {
		return nil, err
	}
	r.recs[name] = rec
	return rec, nil
}

// discard drops a recognizer that failed mid-utterance so that the next
// attempt starts from a fresh one.
func (r *fallbackRecognizer) discard(name string) {
	if rec, ok := r.recs[name]; ok {
		_ = rec.Close()
		delete(r.recs, name)
	}
}
