// Package charset turns raw member bytes into text using the configured
// character encoding and decode-error policy.
package charset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"textmill/internal/ingesterr"
)

// Decode-error policies.
const (
	Strict  = "strict"
	Replace = "replace"
	Ignore  = "ignore"
)

const utf8BOM = "\xef\xbb\xbf"

// Decoder decodes bytes in one encoding under one policy. It is safe for
// concurrent use.
type Decoder struct {
	name     string
	policy   string
	encoding encoding.Encoding
	// replacement is the encoded form of U+FFFD, nil when the encoding
	// cannot represent it.
	replacement []byte
}

// New resolves an IANA encoding name ("utf-8", "latin1", "windows-1252",
// "utf-16le", ...) and a policy.
func New(name, policy string) (*Decoder, error) {
	policy = strings.ToLower(strings.TrimSpace(policy))
	switch policy {
	case "":
		policy = Ignore
	case Strict, Replace, Ignore:
	default:
		return nil, fmt.Errorf("unsupported decode policy %q", policy)
	}

	normalized := strings.ToLower(strings.TrimSpace(name))
	d := &Decoder{name: normalized, policy: policy}
	if isUTF8(normalized) {
		d.name = "utf-8"
		return d, nil
	}
	enc, err := ianaindex.IANA.Encoding(normalized)
	if err != nil {
		return nil, fmt.Errorf("resolve encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("resolve encoding %q: no decoder available", name)
	}
	d.encoding = enc
	if encoded, err := enc.NewEncoder().Bytes([]byte(string(utf8.RuneError))); err == nil {
		d.replacement = encoded
	}
	return d, nil
}

// Name returns the canonical encoding name.
func (d *Decoder) Name() string { return d.name }

// Policy returns the decode-error policy.
func (d *Decoder) Policy() string { return d.policy }

// Decode converts data to a string. Under the strict policy invalid input
// fails with ingesterr.ErrCorruptMember; replace substitutes U+FFFD and ignore
// drops the offending bytes.
func (d *Decoder) Decode(data []byte) (string, error) {
	if d.encoding == nil {
		return d.decodeUTF8(data)
	}
	out, err := d.encoding.NewDecoder().Bytes(data)
	if err != nil {
		return "", ingesterr.Wrap(ingesterr.ErrCorruptMember, "charset", "decode", d.name, err)
	}
	text := string(out)
	if !strings.ContainsRune(text, utf8.RuneError) || d.policy == Replace {
		return text, nil
	}
	if d.replacement != nil {
		return d.decodeRunes(data)
	}
	// The encoding cannot represent U+FFFD, so every one came from invalid input.
	if d.policy == Strict {
		return "", ingesterr.Wrap(ingesterr.ErrCorruptMember, "charset", "decode",
			fmt.Sprintf("invalid %s sequence at rune %d", d.name, strings.IndexRune(text, utf8.RuneError)), nil)
	}
	return strings.ReplaceAll(text, string(utf8.RuneError), ""), nil
}

// decodeRunes decodes one rune per step so a U+FFFD produced from invalid
// input can be told apart from an encoded U+FFFD.
func (d *Decoder) decodeRunes(data []byte) (string, error) {
	dec := d.encoding.NewDecoder()
	var b strings.Builder
	b.Grow(len(data))
	var buf [utf8.UTFMax]byte
	// Three bytes fit U+FFFD but never U+FFFD plus another rune.
	single := utf8.RuneLen(utf8.RuneError)
	for pos := 0; pos < len(data); {
		nDst, nSrc, err := dec.Transform(buf[:single], data[pos:], true)
		if errors.Is(err, transform.ErrShortDst) && nDst == 0 && nSrc == 0 {
			nDst, nSrc, err = dec.Transform(buf[:], data[pos:], true)
		}
		if err != nil && !errors.Is(err, transform.ErrShortDst) {
			return "", ingesterr.Wrap(ingesterr.ErrCorruptMember, "charset", "decode", d.name, err)
		}
		if nDst == 0 && nSrc == 0 {
			return "", ingesterr.Wrap(ingesterr.ErrCorruptMember, "charset", "decode", d.name, io.ErrNoProgress)
		}
		out := buf[:nDst]
		source := data[pos : pos+nSrc]
		if string(out) == string(utf8.RuneError) && !bytes.HasSuffix(d.replacement, source) {
			if d.policy == Strict {
				return "", ingesterr.Wrap(ingesterr.ErrCorruptMember, "charset", "decode",
					fmt.Sprintf("invalid %s sequence at byte %d", d.name, pos), nil)
			}
		} else {
			b.Write(out)
		}
		pos += nSrc
	}
	return b.String(), nil
}

func (d *Decoder) decodeUTF8(data []byte) (string, error) {
	text := strings.TrimPrefix(string(data), utf8BOM)
	if utf8.ValidString(text) {
		return text, nil
	}
	if d.policy == Strict {
		offset := invalidOffset(text)
		return "", ingesterr.Wrap(ingesterr.ErrCorruptMember, "charset", "decode",
			fmt.Sprintf("invalid utf-8 sequence at byte %d", offset), nil)
	}

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			if d.policy == Replace {
				b.WriteRune(utf8.RuneError)
			}
			i++
			continue
		}
		b.WriteString(text[i : i+size])
		i += size
	}
	return b.String(), nil
}

func invalidOffset(text string) int {
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}

func isUTF8(name string) bool {
	switch name {
	case "", "utf-8", "utf8", "unicode-1-1-utf-8":
		return true
	}
	return false
}
