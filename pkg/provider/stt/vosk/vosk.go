// Package vosk provides an STT provider backed by a vosk-server instance
// (https://github.com/alphacep/vosk-server) over its WebSocket protocol.
//
// Each utterance uses its own connection. The recognizer sends a config
// message carrying the sample rate, streams the PCM as binary messages (the
// server answers every chunk with a partial or intermediate result), then
// sends the end-of-stream marker and reads the final result. Intermediate and
// final texts are joined in order.
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/zhuli/pkg/provider/stt"
)

const (
	defaultServerURL  = "ws://localhost:2700"
	defaultSampleRate = 16000
	defaultChunkBytes = 8000

	// eofMessage is compared byte-for-byte by the server.
	eofMessage = `{"eof" : 1}`
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the vosk Provider.
type Option func(*Provider)

// WithChunkBytes sets the size of binary messages sent to the server.
// Defaults to 8000 bytes (a quarter second at 16 kHz).
func WithChunkBytes(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.chunkBytes = n
		}
	}
}

// WithModel asks the server to use a specific model. Only servers started with
// several models honour it.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// Provider implements stt.Provider for vosk-server.
type Provider struct {
	serverURL  string
	model      string
	chunkBytes int
}

// New creates a new vosk Provider. An empty serverURL selects
// ws://localhost:2700.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	if !strings.HasPrefix(serverURL, "ws://") && !strings.HasPrefix(serverURL, "wss://") {
		return nil, fmt.Errorf("vosk: server URL %q must use ws:// or wss://", serverURL)
	}
	p := &Provider{
		serverURL:  serverURL,
		chunkBytes: defaultChunkBytes,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NewRecognizer returns a recognizer for cfg. No connection is made until the
// first Feed.
func (p *Provider) NewRecognizer(ctx context.Context, cfg stt.Config) (stt.Recognizer, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("vosk: context already cancelled: %w", err)
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	return &recognizer{p: p, sampleRate: sr}, nil
}

// ---- recognizer ----

type configMessage struct {
	Config struct {
		SampleRate int    `json:"sample_rate"`
		Model      string `json:"model,omitempty"`
	} `json:"config"`
}

// response is any message the server sends. Partial results carry Partial;
// intermediate and final results carry Text.
type response struct {
	Text    *string `json:"text"`
	Partial *string `json:"partial"`
}

type recognizer struct {
	p          *Provider
	sampleRate int

	conn   *websocket.Conn
	texts  []string
	closed bool
}

func (r *recognizer) Feed(ctx context.Context, pcm []byte) error {
	if r.closed {
		return stt.ErrClosed
	}
	if r.conn == nil {
		if err := r.open(ctx); err != nil {
			return err
		}
	}
	for len(pcm) > 0 {
		n := min(len(pcm), r.p.chunkBytes)
		if err := r.conn.Write(ctx, websocket.MessageBinary, pcm[:n]); err != nil {
			r.drop()
			return fmt.Errorf("vosk: write audio: %w", err)
		}
		if err := r.readOne(ctx); err != nil {
			r.drop()
			return err
		}
		pcm = pcm[n:]
	}
	return nil
}

func (r *recognizer) Result(ctx context.Context) (string, error) {
	if r.closed {
		return "", stt.ErrClosed
	}
	if r.conn == nil {
		return "", nil
	}
	defer r.finish()

	if err := r.conn.Write(ctx, websocket.MessageText, []byte(eofMessage)); err != nil {
		return "", fmt.Errorf("vosk: write eof: %w", err)
	}
	if err := r.readOne(ctx); err != nil {
		return "", err
	}
	return strings.Join(r.texts, " "), nil
}

func (r *recognizer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.drop()
	return nil
}

// open dials the server and sends the config message.
func (r *recognizer) open(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, r.p.serverURL, nil)
	if err != nil {
		return fmt.Errorf("vosk: dial %s: %w", r.p.serverURL, err)
	}
	var cfg configMessage
	cfg.Config.SampleRate = r.sampleRate
	cfg.Config.Model = r.p.model
	msg, err := json.Marshal(cfg)
	if err != nil {
		conn.CloseNow()
		return fmt.Errorf("vosk: encode config: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		conn.CloseNow()
		return fmt.Errorf("vosk: write config: %w", err)
	}
	r.conn = conn
	r.texts = nil
	return nil
}

// readOne reads the server's answer to the last message and keeps any
// non-empty text.
func (r *recognizer) readOne(ctx context.Context) error {
	typ, data, err := r.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("vosk: read result: %w", err)
	}
	if typ != websocket.MessageText {
		return errors.New("vosk: unexpected binary message from server")
	}
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("vosk: parse result: %w", err)
	}
	if resp.Text != nil {
		if t := strings.TrimSpace(*resp.Text); t != "" {
			r.texts = append(r.texts, t)
		}
	}
	return nil
}

// finish closes the per-utterance connection after the final result.
func (r *recognizer) finish() {
	if r.conn == nil {
		return
	}
	r.conn.Close(websocket.StatusNormalClosure, "utterance complete")
	r.conn = nil
	r.texts = nil
}

// drop aborts the connection without a closing handshake.
func (r *recognizer) drop() {
	if r.conn == nil {
		return
	}
	r.conn.CloseNow()
	r.conn = nil
	r.texts = nil
}
