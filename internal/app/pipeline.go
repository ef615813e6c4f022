package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/zhuli/internal/dispatch"
	"github.com/MrWong99/zhuli/internal/listen"
	"github.com/MrWong99/zhuli/internal/match"
	"github.com/MrWong99/zhuli/internal/observe"
	"github.com/MrWong99/zhuli/internal/supervisor"
	"github.com/MrWong99/zhuli/pkg/audio"
	"github.com/MrWong99/zhuli/pkg/bus"
	"github.com/MrWong99/zhuli/pkg/provider/stt"
	"github.com/MrWong99/zhuli/pkg/provider/vad"
)

var _ supervisor.Pipeline = (*pipeline)(nil)

// pipeline is one listen → transcribe → match → dispatch chain. It is driven
// by a single goroutine.
type pipeline struct {
	src         audio.Source
	sess        vad.SessionHandle
	seg         *listen.Segmenter
	transcriber *stt.Transcriber
	matcher     *match.Matcher
	dispatcher  *dispatch.Dispatcher
	client      bus.Client

	sampleRate int
	log        *slog.Logger
	metrics    *observe.Metrics
	onClose    func()
}

// Step waits for one utterance and handles it. At the end of the audio
// stream the audio gathered so far is handled first and io.EOF returned
// afterwards.
func (p *pipeline) Step(ctx context.Context) error {
	pcm, err := p.seg.Next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("listen: %w", err)
	}
	if len(pcm) > 0 {
		if herr := p.handle(ctx, pcm); herr != nil {
			return herr
		}
	}
	return err
}

func (p *pipeline) handle(ctx context.Context, pcm []byte) (err error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.utterance")
	defer func() { observe.EndSpan(span, err) }()

	p.metrics.Utterances.Add(ctx, 1)
	if p.sampleRate > 0 {
		p.metrics.UtteranceDuration.Record(ctx, float64(len(pcm)/2)/float64(p.sampleRate))
	}

	start := time.Now()
	sttCtx, sttSpan := observe.StartSpan(ctx, "stt.transcribe")
	text, ok, err := p.transcriber.Transcribe(sttCtx, pcm)
	observe.EndSpan(sttSpan, err)
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	switch {
	case err != nil:
		p.metrics.RecordTranscript(ctx, "error")
		return fmt.Errorf("transcribe: %w", err)
	case !ok:
		p.metrics.RecordTranscript(ctx, "noise")
		return nil
	}
	p.metrics.RecordTranscript(ctx, "text")
	observe.TraceLogger(ctx, p.log).Info("heard", "text", text)

	_, _, err = p.dispatcher.Dispatch(ctx, p.matcher.Match(ctx, text))
	return err
}

// Close releases the recognizer, VAD session, microphone and bus connection.
func (p *pipeline) Close() error {
	if p.onClose != nil {
		p.onClose()
	}
	return errors.Join(
		p.transcriber.Close(),
		p.sess.Close(),
		p.src.Close(),
		p.client.Close(),
	)
}
