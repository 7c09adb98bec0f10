package archive

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"textmill/internal/codec"
	"textmill/internal/ingesterr"
)

type tarEntry struct {
	arch   *tarArchive
	name   string
	size   int64
	dir    bool
	index  int
	offset int64
}

type tarArchive struct {
	path       string
	format     Format
	compressed *codec.Codec
	file       *os.File
	sequential bool

	entries []*tarEntry
	byName  map[string]*tarEntry

	mu     sync.Mutex
	cursor *tarCursor
}

// tarCursor is a forward-only position in the tar stream. next is the index
// of the entry the following Next call returns.
type tarCursor struct {
	closer io.Closer
	tr     *tar.Reader
	next   int
}

func openTar(path string, format Format) (*tarArchive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	arch := &tarArchive{
		path:   path,
		format: format,
		file:   f,
		byName: make(map[string]*tarEntry),
	}
	if c, ok := compressionOf(format); ok {
		arch.compressed = &c
		arch.sequential = true
	}
	if err := arch.index(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return arch, nil
}

// index scans every header once. For plain tars it records each entry's data
// offset so members can later be read with ReadAt.
func (a *tarArchive) index() error {
	var (
		counter *countingReader
		src     io.Reader
		closer  io.Closer
	)
	if a.compressed == nil {
		counter = &countingReader{f: a.file}
		src = counter
	} else {
		rc, err := a.compressed.NewReader(bufio.NewReader(a.file))
		if err != nil {
			return err
		}
		src, closer = rc, rc
	}
	if closer != nil {
		defer closer.Close()
	}

	tr := tar.NewReader(src)
	for i := 0; ; i++ {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar header %d: %w", i, err)
		}
		if isSparse(hdr) {
			a.sequential = true
		}
		entry := &tarEntry{
			arch:  a,
			name:  strings.TrimSuffix(hdr.Name, "/"),
			size:  hdr.Size,
			index: i,
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			entry.dir = true
			entry.size = 0
		case tar.TypeReg, tar.TypeGNUSparse:
		default:
			continue
		}
		if counter != nil {
			entry.offset = counter.pos
		}
		if prev, dup := a.byName[entry.name]; dup {
			a.removeEntry(prev)
		}
		a.byName[entry.name] = entry
		a.entries = append(a.entries, entry)
	}
	return nil
}

func (a *tarArchive) removeEntry(target *tarEntry) {
	for i, e := range a.entries {
		if e == target {
			a.entries = append(a.entries[:i], a.entries[i+1:]...)
			return
		}
	}
}

func isSparse(hdr *tar.Header) bool {
	if hdr.Typeflag == tar.TypeGNUSparse {
		return true
	}
	for key := range hdr.PAXRecords {
		if strings.HasPrefix(key, "GNU.sparse.") {
			return true
		}
	}
	return false
}

func (a *tarArchive) Path() string     { return a.path }
func (a *tarArchive) Format() Format   { return a.format }
func (a *tarArchive) Sequential() bool { return a.sequential }

func (a *tarArchive) Members() ([]Member, error) {
	out := make([]Member, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e)
	}
	return out, nil
}

func (a *tarArchive) Lookup(name string) (Member, error) {
	e, ok := a.byName[name]
	if !ok {
		e, ok = a.byName[strings.TrimSuffix(name, "/")]
	}
	if !ok {
		return nil, memberNotFound(a.path, name)
	}
	return e, nil
}

func (a *tarArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeCursor()
	return a.file.Close()
}

func (a *tarArchive) closeCursor() {
	if a.cursor != nil && a.cursor.closer != nil {
		_ = a.cursor.closer.Close()
	}
	a.cursor = nil
}

// openAt positions the cursor on entry index and returns a reader over its
// data. The reader is valid until the next call.
func (a *tarArchive) openAt(index int) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cursor == nil || a.cursor.next > index {
		a.closeCursor()
		if _, err := a.file.Seek(0, io.SeekStart); err != nil {
			return nil, ingesterr.Wrap(ingesterr.ErrArchiveUnreadable, "archive", "rewind", a.path, err)
		}
		cursor := &tarCursor{}
		var src io.Reader = bufio.NewReader(a.file)
		if a.compressed != nil {
			rc, err := a.compressed.NewReader(src)
			if err != nil {
				return nil, ingesterr.Wrap(ingesterr.ErrArchiveUnreadable, "archive", "rewind", a.path, err)
			}
			src, cursor.closer = rc, rc
		}
		cursor.tr = tar.NewReader(src)
		a.cursor = cursor
	}

	for a.cursor.next <= index {
		if _, err := a.cursor.tr.Next(); err != nil {
			a.closeCursor()
			return nil, ingesterr.Wrap(ingesterr.ErrCorruptMember, "archive", "seek member", a.path, err)
		}
		a.cursor.next++
	}
	return io.NopCloser(a.cursor.tr), nil
}

func (e *tarEntry) Name() string { return e.name }
func (e *tarEntry) Size() int64  { return e.size }
func (e *tarEntry) IsDir() bool  { return e.dir }

func (e *tarEntry) Open() (io.ReadCloser, error) {
	if e.dir {
		return io.NopCloser(strings.NewReader("")), nil
	}
	if e.arch.sequential {
		return e.arch.openAt(e.index)
	}
	return io.NopCloser(io.NewSectionReader(e.arch.file, e.offset, e.size)), nil
}

// countingReader tracks the absolute offset of a plain tar stream. It
// forwards Seek so tar.Reader can skip entry data without reading it.
type countingReader struct {
	f   *os.File
	pos int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.f.Read(p)
	c.pos += int64(n)
	return n, err
}

func (c *countingReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := c.f.Seek(offset, whence)
	if err == nil {
		c.pos = pos
	}
	return pos, err
}
