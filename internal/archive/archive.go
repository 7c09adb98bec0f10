package archive

import (
	"errors"
	"io"
	"os"

	"textmill/internal/ingesterr"
)

// Format names a recognised archive container.
type Format string

const (
	FormatZip Format = "zip"
	FormatTar Format = "tar"
)

// ErrNotArchive is returned by Detect for files that carry no supported
// archive signature.
var ErrNotArchive = errors.New("not a supported archive")

// Member is one entry inside an archive.
type Member interface {
	Name() string
	Size() int64
	IsDir() bool
	// Open returns a reader over the member's stored bytes.
	Open() (io.ReadCloser, error)
}

// Archive is an open archive handle.
type Archive interface {
	Path() string
	Format() Format
	// Members lists directories and regular files in archive order. When a
	// name occurs more than once only the last entry is listed.
	Members() ([]Member, error)
	// Lookup finds a member by its exact stored name.
	Lookup(name string) (Member, error)
	// Sequential reports whether member reads must be serialized.
	Sequential() bool
	Close() error
}

// Open detects the format of path and opens it.
func Open(path string) (Archive, error) {
	format, err := Detect(path)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.ErrArchiveUnreadable, "archive", "detect", path, err)
	}
	var arch Archive
	if format == FormatZip {
		arch, err = openZip(path)
	} else {
		arch, err = openTar(path, format)
	}
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.ErrArchiveUnreadable, "archive", "open", path, err)
	}
	return arch, nil
}

func memberNotFound(path, name string) error {
	return ingesterr.Wrap(ingesterr.ErrMemberNotFound, "archive", "lookup", path+": "+name, nil)
}

func fileSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
