package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"textmill/internal/database"
	"textmill/internal/ingesterr"
)

const incrementWordSQL = `INSERT INTO word_counts (word, count) VALUES (?, ?)
    ON CONFLICT(word) DO UPDATE SET count = count + excluded.count`

// WordCount is a single word frequency.
type WordCount struct {
	Word  string `json:"word"`
	Count int64  `json:"count"`
}

// WordCounter maintains the word_counts table.
type WordCounter struct {
	db *database.DB
}

// NewWordCounter returns a counter backed by db.
func NewWordCounter(db *database.DB) *WordCounter {
	return &WordCounter{db: db}
}

// Increment adds amount to word, creating it when absent.
func (w *WordCounter) Increment(ctx context.Context, word string, amount int64) error {
	if word == "" {
		return nil
	}
	if _, err := w.db.ExecWithRetry(ctx, incrementWordSQL, word, amount); err != nil {
		return storeErr("increment word", err)
	}
	return nil
}

// IncrementBatch applies counts in one transaction.
func (w *WordCounter) IncrementBatch(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	ctx = database.EnsureContext(ctx)
	err := w.db.InTx(ctx, func(tx *sql.Tx) error {
		return w.IncrementTx(ctx, tx, counts)
	})
	if err != nil {
		return storeErr("increment words", err)
	}
	return nil
}

// IncrementTx applies counts inside a caller-owned transaction. Words are
// written in sorted order so concurrent writers touch rows consistently.
func (w *WordCounter) IncrementTx(ctx context.Context, tx *sql.Tx, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, incrementWordSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	words := make([]string, 0, len(counts))
	for word := range counts {
		if word != "" {
			words = append(words, word)
		}
	}
	slices.Sort(words)
	for _, word := range words {
		if _, err := stmt.ExecContext(ctx, word, counts[word]); err != nil {
			return fmt.Errorf("increment %q: %w", word, err)
		}
	}
	return nil
}

// Count returns the frequency of word, zero when unknown.
func (w *WordCounter) Count(ctx context.Context, word string) (int64, error) {
	ctx = database.EnsureContext(ctx)
	var count int64
	err := w.db.SQL().QueryRowContext(ctx, `SELECT count FROM word_counts WHERE word = ?`, word).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("count word", err)
	}
	return count, nil
}

// Top returns the n most frequent words, ties broken alphabetically.
func (w *WordCounter) Top(ctx context.Context, n int) ([]WordCount, error) {
	if n <= 0 {
		return nil, nil
	}
	ctx = database.EnsureContext(ctx)
	rows, err := w.db.SQL().QueryContext(ctx,
		`SELECT word, count FROM word_counts ORDER BY count DESC, word ASC LIMIT ?`, n)
	if err != nil {
		return nil, storeErr("top words", err)
	}
	defer rows.Close()

	var out []WordCount
	for rows.Next() {
		var wc WordCount
		if err := rows.Scan(&wc.Word, &wc.Count); err != nil {
			return nil, storeErr("top words", err)
		}
		out = append(out, wc)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("top words", err)
	}
	return out, nil
}

// Reset zeroes every count while keeping the known words.
func (w *WordCounter) Reset(ctx context.Context) error {
	if _, err := w.db.ExecWithRetry(ctx, `UPDATE word_counts SET count = 0`); err != nil {
		return storeErr("reset words", err)
	}
	return nil
}

// Delete removes word entirely.
func (w *WordCounter) Delete(ctx context.Context, word string) error {
	if _, err := w.db.ExecWithRetry(ctx, `DELETE FROM word_counts WHERE word = ?`, word); err != nil {
		return storeErr("delete word", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return ingesterr.Wrap(ingesterr.ErrStoreUnavailable, "stats", op, "", err)
}
