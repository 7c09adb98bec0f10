package archive

import (
	"io"
	"strings"

	"github.com/klauspost/compress/zip"
)

type zipArchive struct {
	path    string
	rc      *zip.ReadCloser
	members []Member
	byName  map[string]*zipMember
}

type zipMember struct {
	file *zip.File
}

func openZip(path string) (*zipArchive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	arch := &zipArchive{
		path:   path,
		rc:     rc,
		byName: make(map[string]*zipMember, len(rc.File)),
	}
	for _, f := range rc.File {
		arch.byName[f.Name] = &zipMember{file: f}
	}
	seen := make(map[string]struct{}, len(arch.byName))
	for i := len(rc.File) - 1; i >= 0; i-- {
		name := rc.File[i].Name
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		arch.members = append(arch.members, arch.byName[name])
	}
	for i, j := 0, len(arch.members)-1; i < j; i, j = i+1, j-1 {
		arch.members[i], arch.members[j] = arch.members[j], arch.members[i]
	}
	return arch, nil
}

func (a *zipArchive) Path() string     { return a.path }
func (a *zipArchive) Format() Format   { return FormatZip }
func (a *zipArchive) Sequential() bool { return false }

func (a *zipArchive) Members() ([]Member, error) {
	out := make([]Member, len(a.members))
	copy(out, a.members)
	return out, nil
}

func (a *zipArchive) Lookup(name string) (Member, error) {
	m, ok := a.byName[name]
	if !ok {
		return nil, memberNotFound(a.path, name)
	}
	return m, nil
}

func (a *zipArchive) Close() error {
	return a.rc.Close()
}

func (m *zipMember) Name() string { return m.file.Name }
func (m *zipMember) Size() int64  { return int64(m.file.UncompressedSize64) }

func (m *zipMember) IsDir() bool {
	return strings.HasSuffix(m.file.Name, "/") || m.file.FileInfo().IsDir()
}

func (m *zipMember) Open() (io.ReadCloser, error) {
	return m.file.Open()
}
