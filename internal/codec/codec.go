package codec

import (
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec describes one compression format.
type Codec struct {
	Name     string
	Suffixes []string
	magic    []byte
	open     func(io.Reader) (io.ReadCloser, error)
}

// NewReader wraps r with a decompressor for this codec.
func (c Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	rc, err := c.open(r)
	if err != nil {
		return nil, fmt.Errorf("%s reader: %w", c.Name, err)
	}
	return rc, nil
}

// ErrTooLarge is returned by ReadAll when the stream exceeds its limit.
var ErrTooLarge = errors.New("content exceeds size limit")

var known = []Codec{
	{
		Name:     "gzip",
		Suffixes: []string{".gz", ".gzip"},
		magic:    []byte{0x1f, 0x8b},
		open: func(r io.Reader) (io.ReadCloser, error) {
			gr, err := gzip.NewReader(r)
			if err != nil {
				return nil, err
			}
			return gr, nil
		},
	},
	{
		Name:     "bzip2",
		Suffixes: []string{".bz2", ".bzip2"},
		magic:    []byte("BZh"),
		open: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(bzip2.NewReader(r)), nil
		},
	},
	{
		Name:     "xz",
		Suffixes: []string{".xz"},
		magic:    []byte{0xfd, '7', 'z', 'X', 'Z', 0x00},
		open: func(r io.Reader) (io.ReadCloser, error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(xr), nil
		},
	},
	{
		Name:     "zstd",
		Suffixes: []string{".zst", ".zstd"},
		magic:    []byte{0x28, 0xb5, 0x2f, 0xfd},
		open: func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		},
	},
	{
		Name:     "lz4",
		Suffixes: []string{".lz4"},
		magic:    []byte{0x04, 0x22, 0x4d, 0x18},
		open: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(lz4.NewReader(r)), nil
		},
	},
}

// MagicLen is the number of leading bytes Sniff needs to recognise every codec.
const MagicLen = 6

// Sniff identifies a codec from the leading bytes of a stream.
func Sniff(header []byte) (Codec, bool) {
	for _, c := range known {
		if bytes.HasPrefix(header, c.magic) {
			return c, true
		}
	}
	return Codec{}, false
}

// Lookup returns the codec registered for suffix (".xz", "xz").
func Lookup(suffix string) (Codec, bool) {
	suffix = normalizeSuffix(suffix)
	for _, c := range known {
		for _, s := range c.Suffixes {
			if s == suffix {
				return c, true
			}
		}
	}
	return Codec{}, false
}

// Registry resolves member names to codecs using a configured suffix list.
type Registry struct {
	suffixes []string
	codecs   map[string]Codec
}

// NewRegistry builds a registry for the given suffixes. Unknown suffixes are
// rejected so misconfiguration surfaces at startup.
func NewRegistry(suffixes []string) (*Registry, error) {
	reg := &Registry{codecs: make(map[string]Codec, len(suffixes))}
	for _, raw := range suffixes {
		suffix := normalizeSuffix(raw)
		if suffix == "" {
			continue
		}
		c, ok := Lookup(suffix)
		if !ok {
			return nil, fmt.Errorf("unsupported compression suffix %q", raw)
		}
		if _, dup := reg.codecs[suffix]; dup {
			continue
		}
		reg.codecs[suffix] = c
		reg.suffixes = append(reg.suffixes, suffix)
	}
	sort.SliceStable(reg.suffixes, func(i, j int) bool {
		return len(reg.suffixes[i]) > len(reg.suffixes[j])
	})
	return reg, nil
}

// ForName returns the codec matching the end of name, case-insensitively.
// Names without a registered suffix report false and are read as-is.
func (r *Registry) ForName(name string) (Codec, bool) {
	if r == nil {
		return Codec{}, false
	}
	lower := strings.ToLower(name)
	for _, suffix := range r.suffixes {
		if strings.HasSuffix(lower, suffix) && len(lower) > len(suffix) {
			return r.codecs[suffix], true
		}
	}
	return Codec{}, false
}

// Suffixes returns the registered suffixes, longest first.
func (r *Registry) Suffixes() []string {
	out := make([]string, len(r.suffixes))
	copy(out, r.suffixes)
	return out
}

// ReadAll reads r to EOF, failing with ErrTooLarge once more than limit bytes
// arrive. A limit <= 0 disables the check.
func ReadAll(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	return data, nil
}

// Decompress decodes data with c, bounded by limit.
func Decompress(c Codec, data []byte, limit int64) ([]byte, error) {
	rc, err := c.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	out, err := ReadAll(rc, limit)
	if err != nil {
		return nil, fmt.Errorf("%s decode: %w", c.Name, err)
	}
	return out, nil
}

func normalizeSuffix(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(value, ".") {
		value = "." + value
	}
	return value
}
