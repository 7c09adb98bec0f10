//go:build unix

package archive_test

import (
	"os"
	"path/filepath"
	"testing"

	"textmill/internal/archive"
	"textmill/internal/testsupport"
)

func TestLocateFollowsSymlinksWithoutLooping(t *testing.T) {
	root := realTempDir(t)
	outside := realTempDir(t)
	testsupport.WriteZip(t, filepath.Join(outside, "linked.zip"), testsupport.File("x.json", "{}"))
	testsupport.WriteZip(t, filepath.Join(root, "local.zip"), testsupport.File("y.json", "{}"))

	if err := os.Symlink(outside, filepath.Join(root, "outside")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(root, filepath.Join(root, "loop")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "local.zip"), filepath.Join(root, "alias.zip")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "gone"), filepath.Join(root, "broken.zip")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	found, err := archive.Locate(t.Context(), root, archive.LocateOptions{
		Extensions:     []string{".zip"},
		FollowSymlinks: true,
	})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected local and linked archives once each, got %+v", found)
	}
	// alias.zip is walked before local.zip; both resolve to the same file.
	want := map[string]bool{
		filepath.Join(root, "local.zip"):     true,
		filepath.Join(outside, "linked.zip"): true,
	}
	for _, loc := range found {
		if !want[loc.Path] {
			t.Fatalf("expected symlink-resolved paths, got %q", loc.Path)
		}
		delete(want, loc.Path)
	}

	withoutLinks, err := archive.Locate(t.Context(), root, archive.LocateOptions{Extensions: []string{".zip"}})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if len(withoutLinks) != 1 {
		t.Fatalf("expected only the local archive, got %+v", withoutLinks)
	}
}
