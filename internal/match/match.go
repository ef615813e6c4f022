// Package match scores a transcript against every phrase of a command table
// using Jaro-Winkler similarity and decides whether the best phrase clears
// its own threshold.
//
// Each command key is compared as the display string "<name> <key>", lower
// cased, so the assistant's name is part of what the speaker has to say.
// Scores are sorted descending; ties keep the table's file order, which makes
// the outcome a pure function of the transcript and the table.
package match

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/zhuli/internal/command"
)

// Score is the similarity of a transcript to one command.
type Score struct {
	// Key is the command table key.
	Key string

	// Display is the phrase the transcript was compared against, in its
	// original casing ("Zhu Li turn on the light").
	Display string

	// Value is the Jaro-Winkler similarity in [0,1].
	Value float64
}

// Scores is a list of [Score] sorted by descending Value. It marshals to an
// ordered JSON object mapping each key to a [display, score] pair.
type Scores []Score

// MarshalJSON encodes s as {"<key>": ["<display>", <score>], ...} keeping the
// slice order.
func (s Scores) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, sc := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(sc.Key)
		if err != nil {
			return nil, err
		}
		pair, err := json.Marshal([]any{sc.Display, sc.Value})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(pair)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Best returns the highest score, or the zero Score for an empty list.
func (s Scores) Best() Score {
	if len(s) == 0 {
		return Score{}
	}
	return s[0]
}

// Result is the outcome of matching a transcript. It is either [Matched] or
// [Unmatched].
type Result interface {
	// Text returns the transcript the result was computed for.
	Text() string

	result()
}

// Matched reports that the best-scoring command met its threshold.
type Matched struct {
	Input string
	Key   string
	Score float64
}

// Unmatched reports that no command met its threshold. Scores holds every
// command's score, best first.
type Unmatched struct {
	Input  string
	Scores Scores
}

func (m Matched) Text() string   { return m.Input }
func (u Unmatched) Text() string { return u.Input }

func (Matched) result()   {}
func (Unmatched) result() {}

// Display returns the phrase a command is compared against.
func Display(name, key string) string {
	return name + " " + key
}

// Rank scores text against every command of table and returns the scores
// sorted descending. Commands with equal scores keep their table order.
func Rank(text, name string, table *command.Table) Scores {
	scores := make(Scores, 0, table.Len())
	for key := range table.All() {
		display := Display(name, key)
		scores = append(scores, Score{
			Key:     key,
			Display: display,
			Value:   matchr.JaroWinkler(text, strings.ToLower(display), false),
		})
	}
	slices.SortStableFunc(scores, func(a, b Score) int {
		switch {
		case a.Value > b.Value:
			return -1
		case a.Value < b.Value:
			return 1
		}
		return 0
	})
	return scores
}

// Match ranks text against table and returns [Matched] when the best score is
// at least the threshold of that command, [Unmatched] otherwise. An empty
// table never matches.
func Match(text, name string, table *command.Table) Result {
	return decide(text, table, Rank(text, name, table))
}

func decide(text string, table *command.Table, scores Scores) Result {
	if len(scores) == 0 {
		return Unmatched{Input: text, Scores: scores}
	}
	best := scores[0]
	action, err := table.Get(best.Key)
	if err == nil && best.Value >= action.Threshold {
		return Matched{Input: text, Key: best.Key, Score: best.Value}
	}
	return Unmatched{Input: text, Scores: scores}
}
