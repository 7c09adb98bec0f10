package archive

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"

	"textmill/internal/codec"
)

const tarBlockSize = 512

var (
	zipLocalMagic = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	zipSpanMagic  = []byte("PK\x07\x08")
)

// Detect identifies the archive format of path from its content.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	header := make([]byte, tarBlockSize)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read signature: %w", err)
	}
	header = header[:n]

	if hasZipMagic(header) && isZip(f) {
		return FormatZip, nil
	}
	if c, ok := codec.Sniff(header); ok {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
		if compressedTar(f, c) {
			return tarFormat(c), nil
		}
		return "", ErrNotArchive
	}
	if validTarHeader(header) {
		return FormatTar, nil
	}
	// Self-extracting and prefixed ZIPs only carry a trailing directory.
	if isZip(f) {
		return FormatZip, nil
	}
	return "", ErrNotArchive
}

func hasZipMagic(header []byte) bool {
	return bytes.HasPrefix(header, zipLocalMagic) ||
		bytes.HasPrefix(header, zipEmptyMagic) ||
		bytes.HasPrefix(header, zipSpanMagic)
}

func isZip(f *os.File) bool {
	size, err := fileSize(f)
	if err != nil || size == 0 {
		return false
	}
	_, err = zip.NewReader(f, size)
	return err == nil
}

func compressedTar(r io.Reader, c codec.Codec) bool {
	rc, err := c.NewReader(bufio.NewReader(r))
	if err != nil {
		return false
	}
	defer rc.Close()
	block := make([]byte, tarBlockSize)
	if _, err := io.ReadFull(rc, block); err != nil {
		return false
	}
	return validTarHeader(block)
}

// tarFormat names a compressed tar after the codec's primary suffix,
// e.g. "tar.gz".
func tarFormat(c codec.Codec) Format {
	return Format(string(FormatTar) + c.Suffixes[0])
}

// compressionOf returns the codec wrapping a tar format, if any.
func compressionOf(format Format) (codec.Codec, bool) {
	suffix := strings.TrimPrefix(string(format), string(FormatTar))
	if suffix == "" {
		return codec.Codec{}, false
	}
	return codec.Lookup(suffix)
}

// validTarHeader checks the header checksum of the first tar block. Both the
// unsigned sum and the historic signed sum are accepted.
func validTarHeader(block []byte) bool {
	if len(block) < tarBlockSize {
		return false
	}
	if bytes.Equal(block, make([]byte, tarBlockSize)) {
		return false
	}
	field := strings.Trim(string(block[148:156]), " \x00")
	want, err := strconv.ParseInt(field, 8, 64)
	if err != nil {
		return false
	}
	var unsigned, signed int64
	for i, b := range block[:tarBlockSize] {
		if i >= 148 && i < 156 {
			b = ' '
		}
		unsigned += int64(b)
		signed += int64(int8(b))
	}
	return want == unsigned || want == signed
}
