package testsupport

import (
	"context"
	"path"
	"strings"
	"testing"

	"textmill/internal/config"
	"textmill/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustEnqueue catalogs members of archivePath and returns the created jobs in
// insertion order.
func MustEnqueue(t testing.TB, store *jobs.Store, archivePath string, members ...string) []*jobs.Job {
	t.Helper()

	ctx := context.Background()
	batch := make([]jobs.NewJob, 0, len(members))
	for _, member := range members {
		name := path.Base(member)
		batch = append(batch, jobs.NewJob{
			ArchivePath: archivePath,
			MemberPath:  member,
			FileName:    name,
			Extension:   strings.TrimPrefix(strings.ToLower(path.Ext(name)), "."),
			FileSize:    int64(len(member)),
		})
	}
	if _, err := store.EnqueueBatch(ctx, batch); err != nil {
		t.Fatalf("store.EnqueueBatch: %v", err)
	}
	list, err := store.List(ctx, jobs.Filter{Archive: archivePath})
	if err != nil {
		t.Fatalf("store.List: %v", err)
	}
	return list
}
