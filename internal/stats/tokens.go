package stats

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"textmill/internal/database"
)

// Token maps a vocabulary piece to its id.
type Token struct {
	Piece string `json:"piece"`
	ID    int64  `json:"id"`
}

// TokenStore maintains the tokens table. Pieces and ids are both unique.
type TokenStore struct {
	db *database.DB
}

// NewTokenStore returns a token store backed by db.
func NewTokenStore(db *database.DB) *TokenStore {
	return &TokenStore{db: db}
}

const addTokenSQL = `INSERT OR IGNORE INTO tokens (piece, id) VALUES (?, ?)`

// Add records piece with id. It reports false when the piece or the id is
// already taken, in which case the existing mapping is kept.
func (s *TokenStore) Add(ctx context.Context, piece string, id int64) (bool, error) {
	res, err := s.db.ExecWithRetry(ctx, addTokenSQL, piece, id)
	if err != nil {
		return false, storeErr("add token", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("add token", err)
	}
	return affected > 0, nil
}

// ID looks up the id of piece.
func (s *TokenStore) ID(ctx context.Context, piece string) (int64, bool, error) {
	ctx = database.EnsureContext(ctx)
	var id int64
	err := s.db.SQL().QueryRowContext(ctx, `SELECT id FROM tokens WHERE piece = ?`, piece).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr("token id", err)
	}
	return id, true, nil
}

// Piece looks up the piece stored under id.
func (s *TokenStore) Piece(ctx context.Context, id int64) (string, bool, error) {
	ctx = database.EnsureContext(ctx)
	var piece string
	err := s.db.SQL().QueryRowContext(ctx, `SELECT piece FROM tokens WHERE id = ?`, id).Scan(&piece)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("token piece", err)
	}
	return piece, true, nil
}

// All returns every token ordered by id.
func (s *TokenStore) All(ctx context.Context) ([]Token, error) {
	ctx = database.EnsureContext(ctx)
	rows, err := s.db.SQL().QueryContext(ctx, `SELECT piece, id FROM tokens ORDER BY id`)
	if err != nil {
		return nil, storeErr("list tokens", err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		var tok Token
		if err := rows.Scan(&tok.Piece, &tok.ID); err != nil {
			return nil, storeErr("list tokens", err)
		}
		out = append(out, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list tokens", err)
	}
	return out, nil
}

// Delete removes piece.
func (s *TokenStore) Delete(ctx context.Context, piece string) error {
	if _, err := s.db.ExecWithRetry(ctx, `DELETE FROM tokens WHERE piece = ?`, piece); err != nil {
		return storeErr("delete token", err)
	}
	return nil
}

// Reset removes every token.
func (s *TokenStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecWithRetry(ctx, `DELETE FROM tokens`); err != nil {
		return storeErr("reset tokens", err)
	}
	return nil
}

// ImportVocab loads a SentencePiece vocabulary ("piece<TAB>score" per line).
// A piece's id is its zero-based line number. Blank lines still consume an id.
// It returns the number of tokens added; existing mappings are left as-is.
func (s *TokenStore) ImportVocab(ctx context.Context, r io.Reader) (int, error) {
	ctx = database.EnsureContext(ctx)
	var entries []Token
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var line int64
	for scanner.Scan() {
		piece, _, _ := strings.Cut(scanner.Text(), "\t")
		if piece != "" {
			entries = append(entries, Token{Piece: piece, ID: line})
		}
		line++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read vocab: %w", err)
	}

	var added int
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		added = 0
		stmt, err := tx.PrepareContext(ctx, addTokenSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, tok := range entries {
			res, err := stmt.ExecContext(ctx, tok.Piece, tok.ID)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			added += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, storeErr("import vocab", err)
	}
	return added, nil
}
