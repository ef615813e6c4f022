// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller creates recognizers with the expected
// Config. Use Recognizer to script the text returned for each utterance and
// inspect which audio was delivered.
//
// Example:
//
//	rec := &mock.Recognizer{Results: []string{"zhu li turn on the light"}}
//	p := &mock.Provider{Recognizer: rec}
//	r, _ := p.NewRecognizer(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/zhuli/pkg/provider/stt"
)

// NewRecognizerCall records a single invocation of Provider.NewRecognizer.
type NewRecognizerCall struct {
	// Cfg is the Config passed to NewRecognizer.
	Cfg stt.Config
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Recognizer is returned by NewRecognizer. If nil, NewRecognizer returns a
	// new default Recognizer.
	Recognizer stt.Recognizer

	// NewRecognizerErr, if non-nil, is returned as the error from
	// NewRecognizer.
	NewRecognizerErr error

	// NewRecognizerCalls records every call to NewRecognizer.
	NewRecognizerCalls []NewRecognizerCall
}

// NewRecognizer records the call and returns Recognizer, NewRecognizerErr.
func (p *Provider) NewRecognizer(_ context.Context, cfg stt.Config) (stt.Recognizer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NewRecognizerCalls = append(p.NewRecognizerCalls, NewRecognizerCall{Cfg: cfg})
	if p.NewRecognizerErr != nil {
		return nil, p.NewRecognizerErr
	}
	if p.Recognizer != nil {
		return p.Recognizer, nil
	}
	return &Recognizer{}, nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Recognizer is a mock implementation of stt.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Results are returned by successive Result calls. Once exhausted, Result
	// returns "".
	Results []string

	// FeedErr, if non-nil, is returned by every Feed call.
	FeedErr error

	// ResultErr, if non-nil, is returned by every Result call.
	ResultErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// Fed holds, per Result call, the concatenation of all audio fed before it.
	Fed [][]byte

	// FeedCallCount is the number of times Feed was called.
	FeedCallCount int

	// ResultCallCount is the number of times Result was called.
	ResultCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	pending []byte
	next    int
}

// Feed records a copy of pcm and returns FeedErr.
func (r *Recognizer) Feed(_ context.Context, pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FeedCallCount++
	if r.FeedErr != nil {
		return r.FeedErr
	}
	r.pending = append(r.pending, pcm...)
	return nil
}

// Result records the pending audio and returns the next scripted text.
func (r *Recognizer) Result(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ResultCallCount++
	r.Fed = append(r.Fed, r.pending)
	r.pending = nil
	if r.ResultErr != nil {
		return "", r.ResultErr
	}
	if r.next < len(r.Results) {
		text := r.Results[r.next]
		r.next++
		return text, nil
	}
	return "", nil
}

// Close records the call and returns CloseErr.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCallCount++
	return r.CloseErr
}

// Closed reports whether Close has been called at least once.
func (r *Recognizer) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CloseCallCount > 0
}

// Ensure Recognizer implements stt.Recognizer at compile time.
var _ stt.Recognizer = (*Recognizer)(nil)
