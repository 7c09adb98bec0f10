package pipeline

import (
	"context"
	"database/sql"

	"textmill/internal/jobs"
	"textmill/internal/stats"
	"textmill/internal/textproc"
)

// TextConsumer extracts JSON "text" fields, cleans them and counts words.
// Counts are written when the job is marked processed, so a job's words are
// counted exactly once.
type TextConsumer struct {
	counter *stats.WordCounter
}

// NewTextConsumer returns the default consumer. A nil counter skips counting.
func NewTextConsumer(counter *stats.WordCounter) *TextConsumer {
	return &TextConsumer{counter: counter}
}

// Consume implements Consumer.
func (c *TextConsumer) Consume(_ context.Context, _ *jobs.Job, text string) (Result, error) {
	texts := textproc.ExtractTexts(text)
	cleaned := make([]string, 0, len(texts))
	for _, t := range texts {
		cleaned = append(cleaned, textproc.Clean(t))
	}
	counts := textproc.CountWords(cleaned...)

	res := Result{Texts: len(texts)}
	for _, n := range counts {
		res.Words += n
	}
	if c.counter != nil && len(counts) > 0 {
		res.Apply = func(ctx context.Context, tx *sql.Tx) error {
			return c.counter.IncrementTx(ctx, tx, counts)
		}
	}
	return res, nil
}
