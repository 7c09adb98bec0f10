// Package content reads a job's member out of its archive and returns it as
// text, removing one layer of member-level compression when the name says so.
// It never touches the job store; marking progress belongs to the caller.
package content

import (
	"context"
	"errors"
	"fmt"

	"textmill/internal/charset"
	"textmill/internal/codec"
	"textmill/internal/config"
	"textmill/internal/handles"
	"textmill/internal/ingesterr"
	"textmill/internal/jobs"
)

// Reader resolves jobs to decoded text.
type Reader struct {
	cache    *handles.Cache
	codecs   *codec.Registry
	decoder  *charset.Decoder
	maxBytes int64
}

// New constructs a Reader. maxBytes bounds both the stored and the
// decompressed size of a member; zero disables the bound.
func New(cache *handles.Cache, codecs *codec.Registry, decoder *charset.Decoder, maxBytes int64) *Reader {
	return &Reader{cache: cache, codecs: codecs, decoder: decoder, maxBytes: maxBytes}
}

// NewFromConfig builds the codec registry and charset decoder from cfg.
func NewFromConfig(cfg *config.Config, cache *handles.Cache) (*Reader, error) {
	codecs, err := codec.NewRegistry(cfg.Decode.SecondarySuffixes)
	if err != nil {
		return nil, fmt.Errorf("decode.secondary_suffixes: %w", err)
	}
	decoder, err := charset.New(cfg.Decode.Encoding, cfg.Decode.Errors)
	if err != nil {
		return nil, fmt.Errorf("decode.encoding: %w", err)
	}
	return New(cache, codecs, decoder, cfg.Decode.MaxMemberBytes), nil
}

// Read returns the decoded text of job's member.
func (r *Reader) Read(ctx context.Context, job *jobs.Job) (string, error) {
	if job == nil {
		return "", errors.New("content read: job is nil")
	}
	return r.ReadMember(ctx, job.ArchivePath, job.MemberPath)
}

// ReadMember returns the decoded text of memberPath inside archivePath.
//
// Failures carry an ingesterr kind: ArchiveUnreadable when the archive cannot
// be opened, MemberNotFound when the member is absent, CorruptMember when its
// bytes cannot be read, decompressed or decoded.
func (r *Reader) ReadMember(ctx context.Context, archivePath, memberPath string) (string, error) {
	data, err := r.ReadBytes(ctx, archivePath, memberPath)
	if err != nil {
		return "", err
	}
	text, err := r.decoder.Decode(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", memberPath, err)
	}
	return text, nil
}

// ReadBytes returns the member's bytes after secondary decompression.
func (r *Reader) ReadBytes(ctx context.Context, archivePath, memberPath string) ([]byte, error) {
	raw, err := r.readStored(ctx, archivePath, memberPath)
	if err != nil {
		return nil, err
	}
	c, ok := r.codecs.ForName(memberPath)
	if !ok {
		return raw, nil
	}
	out, err := codec.Decompress(c, raw, r.maxBytes)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.ErrCorruptMember, "content", "decompress", memberPath, err)
	}
	return out, nil
}

// readStored copies the stored member bytes and releases the archive lease
// before any decompression or decoding work starts.
func (r *Reader) readStored(ctx context.Context, archivePath, memberPath string) ([]byte, error) {
	lease, err := r.cache.Acquire(ctx, archivePath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ensureKind(ingesterr.ErrArchiveUnreadable, "open archive", archivePath, err)
	}
	defer lease.Release()

	member, err := lease.Archive().Lookup(memberPath)
	if err != nil {
		return nil, ensureKind(ingesterr.ErrMemberNotFound, "lookup", memberPath, err)
	}
	if member.IsDir() {
		return nil, ingesterr.Wrap(ingesterr.ErrMemberNotFound, "content", "lookup", memberPath+" is a directory", nil)
	}
	rc, err := member.Open()
	if err != nil {
		return nil, ensureKind(ingesterr.ErrCorruptMember, "open member", memberPath, err)
	}
	defer rc.Close()

	data, err := codec.ReadAll(rc, r.maxBytes)
	if err != nil {
		return nil, ensureKind(ingesterr.ErrCorruptMember, "read member", memberPath, err)
	}
	return data, nil
}

// ensureKind tags err with marker unless it already carries a kind.
func ensureKind(marker error, op, subject string, err error) error {
	if ingesterr.KindOf(err) != ingesterr.KindUnknown {
		return err
	}
	return ingesterr.Wrap(marker, "content", op, subject, err)
}
