package testsupport

import (
	"archive/tar"
	"bytes"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Entry describes one archive member written by the fixture builders.
type Entry struct {
	Name string
	Body []byte
	Dir  bool
}

// File returns a regular-file entry.
func File(name, body string) Entry {
	return Entry{Name: name, Body: []byte(body)}
}

// Dir returns a directory entry.
func Dir(name string) Entry {
	return Entry{Name: name, Dir: true}
}

// Bzip2JSON is a bzip2 stream holding `{"text": "bzip2 member"}` followed by
// a newline. No bzip2 encoder is available to build it at test time.
var Bzip2JSON = mustHex("425a6839314159265359bfc6261600000bd9800010500010101222545a200022991ea69a36a7a8530004d1014113259bb08cf9d6de163e2ee48a70a1217f8c4c2c")

var fixtureTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// WriteZip writes a ZIP archive containing entries.
func WriteZip(t testing.TB, path string, entries ...Entry) {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range entries {
		header := &zip.FileHeader{Name: entry.Name, Method: zip.Deflate, Modified: fixtureTime}
		if entry.Dir {
			header.Name = ensureSlash(entry.Name)
			header.Method = zip.Store
		}
		w, err := zw.CreateHeader(header)
		if err != nil {
			t.Fatalf("zip header %s: %v", entry.Name, err)
		}
		if !entry.Dir {
			if _, err := w.Write(entry.Body); err != nil {
				t.Fatalf("zip write %s: %v", entry.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	WriteFile(t, path, buf.Bytes())
}

// WriteTar writes a TAR archive containing entries. compression is one of
// "", "gz", "xz", "zst", "lz4" and wraps the whole tar stream.
func WriteTar(t testing.TB, path, compression string, entries ...Entry) {
	t.Helper()

	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for _, entry := range entries {
		header := &tar.Header{
			Name:    entry.Name,
			Mode:    0o644,
			ModTime: fixtureTime,
			Size:    int64(len(entry.Body)),
		}
		if entry.Dir {
			header.Name = ensureSlash(entry.Name)
			header.Typeflag = tar.TypeDir
			header.Mode = 0o755
			header.Size = 0
		} else {
			header.Typeflag = tar.TypeReg
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("tar header %s: %v", entry.Name, err)
		}
		if !entry.Dir {
			if _, err := tw.Write(entry.Body); err != nil {
				t.Fatalf("tar write %s: %v", entry.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}

	data := raw.Bytes()
	if compression != "" {
		data = Compress(t, compression, data)
	}
	WriteFile(t, path, data)
}

// Compress encodes data with the named codec ("gz", "xz", "zst", "lz4").
func Compress(t testing.TB, codec string, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch codec {
	case "gz":
		w = gzip.NewWriter(&buf)
	case "xz":
		w, err = xz.NewWriter(&buf)
	case "zst":
		w, err = zstd.NewWriter(&buf)
	case "lz4":
		w = lz4.NewWriter(&buf)
	default:
		t.Fatalf("unknown fixture codec %q", codec)
	}
	if err != nil {
		t.Fatalf("%s writer: %v", codec, err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("%s write: %v", codec, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("%s close: %v", codec, err)
	}
	return buf.Bytes()
}

// InputPath joins name onto the config's input directory.
func InputPath(dir, name string) string {
	return filepath.Join(dir, filepath.FromSlash(name))
}

// Touch creates an empty file.
func Touch(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	_ = f.Close()
}

func ensureSlash(name string) string {
	if len(name) > 0 && name[len(name)-1] == '/' {
		return name
	}
	return name + "/"
}

func mustHex(value string) []byte {
	data, err := hex.DecodeString(value)
	if err != nil {
		panic(err)
	}
	return data
}
