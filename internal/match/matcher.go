package match

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/zhuli/internal/command"
	"github.com/MrWong99/zhuli/internal/observe"
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithLogger sets the logger used for the per-transcript score report.
// Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) { m.log = l }
}

// WithMetrics records every decision on met.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Matcher) { m.metrics = met }
}

// Matcher binds an assistant name and a command table. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	name    string
	table   *command.Table
	log     *slog.Logger
	metrics *observe.Metrics
}

// New returns a [Matcher] for the assistant called name.
func New(name string, table *command.Table, opts ...Option) *Matcher {
	m := &Matcher{
		name:  name,
		table: table,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Name returns the assistant name the matcher prefixes every key with.
func (m *Matcher) Name() string { return m.name }

// Match behaves like the package-level [Match] and additionally logs the full
// sorted score list at debug level and records metrics.
func (m *Matcher) Match(ctx context.Context, text string) Result {
	scores := Rank(text, m.name, m.table)
	if m.log.Enabled(ctx, slog.LevelDebug) {
		m.log.DebugContext(ctx, "similarity", "input", text, "scores", formatScores(scores))
	}

	r := decide(text, m.table, scores)
	if m.metrics != nil {
		switch r := r.(type) {
		case Matched:
			m.metrics.RecordMatch(ctx, "matched", r.Key, r.Score)
		case Unmatched:
			m.metrics.RecordMatch(ctx, "unmatched", "", r.Scores.Best().Value)
		}
	}
	return r
}

func formatScores(scores Scores) string {
	var b strings.Builder
	for i, s := range scores {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %.3f", s.Display, s.Value)
	}
	return b.String()
}
