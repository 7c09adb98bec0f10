package preflight

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"textmill/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Access is the permission a directory check requires.
type Access int

const (
	// Read requires list and traverse permission.
	Read Access = iota
	// ReadWrite additionally requires permission to create files.
	ReadWrite
)

func (a Access) String() string {
	if a == ReadWrite {
		return "read/write"
	}
	return "read"
}

func (a Access) mode() uint32 {
	if a == ReadWrite {
		return unix.R_OK | unix.W_OK | unix.X_OK
	}
	return unix.R_OK | unix.X_OK
}

// CheckDirectoryAccess verifies that path is a directory granting access.
func CheckDirectoryAccess(name, path string, access Access) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, access.mode()); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s ok)", path, access)}
}

// RunAll checks the input root for reading and the data and log directories
// for writing.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	return []Result{
		CheckDirectoryAccess("Input directory", cfg.Paths.InputDir, Read),
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir, ReadWrite),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir, ReadWrite),
	}
}

// Failures joins the failed results into one error, or returns nil.
func Failures(results []Result) error {
	var errs []error
	for _, r := range results {
		if !r.Passed {
			errs = append(errs, fmt.Errorf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("preflight checks failed: %w", errors.Join(errs...))
}
