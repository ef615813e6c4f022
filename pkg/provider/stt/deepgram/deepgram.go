// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Each utterance opens its own stream. Audio is written as it is fed; Result
// sends CloseStream, which makes Deepgram flush every pending final result and
// close the socket, and returns the finals joined in order.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/zhuli/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint. Intended for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithKeywords adds vocabulary hints, such as the assistant's name, that
// Deepgram should favour.
func WithKeywords(keywords ...string) Option {
	return func(p *Provider) {
		p.keywords = append(p.keywords, keywords...)
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
	keywords []string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NewRecognizer returns a recognizer for cfg. The stream is opened on the
// first Feed.
func (p *Provider) NewRecognizer(ctx context.Context, cfg stt.Config) (stt.Recognizer, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("deepgram: context already cancelled: %w", err)
	}
	u, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}
	return &recognizer{apiKey: p.apiKey, url: u}, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.Config) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	for _, kw := range p.keywords {
		q.Add("keyterm", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- recognizer ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// stream is one open Deepgram connection. readLoop owns finals until done is
// closed.
type stream struct {
	conn   *websocket.Conn
	finals []string
	done   chan struct{}
}

type recognizer struct {
	apiKey string
	url    string

	mu     sync.Mutex
	cur    *stream
	closed bool
}

func (r *recognizer) Feed(ctx context.Context, pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return stt.ErrClosed
	}
	if r.cur == nil {
		s, err := r.dial(ctx)
		if err != nil {
			return err
		}
		r.cur = s
	}
	if err := r.cur.conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		r.abort()
		return fmt.Errorf("deepgram: write audio: %w", err)
	}
	return nil
}

func (r *recognizer) Result(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", stt.ErrClosed
	}
	s := r.cur
	if s == nil {
		return "", nil
	}
	r.cur = nil

	if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.conn.CloseNow()
		<-s.done
		return "", fmt.Errorf("deepgram: close stream: %w", err)
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		s.conn.CloseNow()
		<-s.done
		return "", ctx.Err()
	}
	s.conn.Close(websocket.StatusNormalClosure, "utterance complete")
	return strings.Join(s.finals, " "), nil
}

func (r *recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.abort()
	return nil
}

func (r *recognizer) dial(ctx context.Context) (*stream, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.apiKey)

	conn, _, err := websocket.Dial(ctx, r.url, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	s := &stream{conn: conn, done: make(chan struct{})}
	go s.readLoop()
	return s, nil
}

// abort tears down the current stream, if any. Must be called with r.mu held.
func (r *recognizer) abort() {
	if r.cur == nil {
		return
	}
	r.cur.conn.CloseNow()
	<-r.cur.done
	r.cur = nil
}

// readLoop collects final transcripts until Deepgram closes the socket.
func (s *stream) readLoop() {
	defer close(s.done)
	for {
		_, msg, err := s.conn.Read(context.Background())
		if err != nil {
			// Normal close after CloseStream, or an aborted connection.
			return
		}
		if text, ok := parseDeepgramResponse(msg); ok {
			s.finals = append(s.finals, text)
		}
	}
}

// parseDeepgramResponse extracts the transcript of a final Results message.
// Returns ("", false) for anything else, including interim results and empty
// transcripts.
func parseDeepgramResponse(data []byte) (string, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false
	}
	if resp.Type != "Results" || !resp.IsFinal {
		return "", false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return "", false
	}
	text := strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
	return text, text != ""
}
