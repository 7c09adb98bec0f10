package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"textmill/internal/logging"
)

// LocateOptions configures Locate.
type LocateOptions struct {
	// Extensions is the allow-list of name suffixes, e.g. ".zip", ".tar.gz".
	Extensions []string
	// FollowSymlinks descends into symlinked directories and accepts
	// symlinked files. Each real directory is walked at most once.
	FollowSymlinks bool
	Logger         *slog.Logger
}

// Location is an archive found by Locate.
type Location struct {
	Path   string `json:"path"`
	Format Format `json:"format"`
	Size   int64  `json:"size"`
}

// Locate walks root and returns every file whose name matches an allowed
// extension and whose content carries a supported archive signature. Paths are
// absolute, resolved through symlinks, and unique; order follows the lexical walk but is not part of the
// contract. Unreadable entries below root are skipped.
func Locate(ctx context.Context, root string, opts LocateOptions) ([]Location, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", absRoot)
	}

	l := &locator{
		ctx:        ctx,
		opts:       opts,
		logger:     logging.NewComponentLogger(opts.Logger, "locator"),
		extensions: normalizeExtensions(opts.Extensions),
		seenDirs:   make(map[string]struct{}),
		seenFiles:  make(map[string]struct{}),
	}
	if err := l.walk(absRoot); err != nil {
		return nil, err
	}
	return l.found, nil
}

// Paths extracts the paths of locations.
func Paths(locations []Location) []string {
	out := make([]string, len(locations))
	for i, loc := range locations {
		out[i] = loc.Path
	}
	return out
}

type locator struct {
	ctx        context.Context
	opts       LocateOptions
	logger     *slog.Logger
	extensions []string
	seenDirs   map[string]struct{}
	seenFiles  map[string]struct{}
	found      []Location
}

func (l *locator) walk(dir string) error {
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		l.logger.Debug("skipping unresolvable directory", logging.String("path", dir), logging.Error(err))
		return nil
	}
	if _, seen := l.seenDirs[real]; seen {
		l.logger.Debug("skipping directory already walked", logging.String("path", dir), logging.String("real_path", real))
		return nil
	}
	l.seenDirs[real] = struct{}{}

	return filepath.WalkDir(real, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := l.ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == real {
				return err
			}
			l.logger.Debug("skipping unreadable entry", logging.String("path", path), logging.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			l.seenDirs[path] = struct{}{}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return l.visitSymlink(path)
		}
		if d.Type().IsRegular() {
			l.consider(path)
		}
		return nil
	})
}

func (l *locator) visitSymlink(path string) error {
	if !l.opts.FollowSymlinks {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		l.logger.Debug("skipping broken symlink", logging.String("path", path), logging.Error(err))
		return nil
	}
	if info.IsDir() {
		return l.walk(path)
	}
	if info.Mode().IsRegular() {
		l.consider(path)
	}
	return nil
}

func (l *locator) consider(path string) {
	if !l.matchesExtension(filepath.Base(path)) {
		return
	}
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		real = path
	}
	if _, dup := l.seenFiles[real]; dup {
		return
	}
	format, err := Detect(path)
	if err != nil {
		if !errors.Is(err, ErrNotArchive) {
			l.logger.Debug("skipping unreadable candidate", logging.String("path", path), logging.Error(err))
		} else {
			l.logger.Debug("skipping file without archive signature", logging.String("path", path))
		}
		return
	}
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	l.seenFiles[real] = struct{}{}
	l.found = append(l.found, Location{Path: real, Format: format, Size: size})
}

func (l *locator) matchesExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range l.extensions {
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return true
		}
	}
	return false
}

func normalizeExtensions(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if !strings.HasPrefix(value, ".") {
			value = "." + value
		}
		out = append(out, value)
	}
	return out
}
