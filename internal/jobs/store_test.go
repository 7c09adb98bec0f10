package jobs_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"textmill/internal/ingesterr"
	"textmill/internal/jobs"
	"textmill/internal/testsupport"
)

func newStore(t *testing.T) *jobs.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return testsupport.MustOpenStore(t, cfg)
}

func TestEnqueueIsIdempotent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	job := jobs.NewJob{ArchivePath: "/data/a.zip", MemberPath: "docs/one.json", FileName: "one.json", Extension: "json", FileSize: 10}
	created, err := store.Enqueue(ctx, job)
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}

	job.FileSize = 999
	created, err = store.Enqueue(ctx, job)
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created {
		t.Fatal("expected duplicate enqueue to be ignored")
	}

	list, err := store.List(ctx, jobs.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one job, got %d", len(list))
	}
	if list[0].FileSize != 10 {
		t.Fatalf("expected original size to be kept, got %d", list[0].FileSize)
	}
	if list[0].Status != jobs.StatusPending || list[0].Processed {
		t.Fatalf("unexpected initial state: %+v", list[0])
	}
}

func TestEnqueueBatchCountsOnlyNewJobs(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	batch := []jobs.NewJob{
		{ArchivePath: "/data/a.tar", MemberPath: "x/1.txt", FileName: "1.txt", Extension: "txt"},
		{ArchivePath: "/data/a.tar", MemberPath: "x/2.txt", FileName: "2.txt", Extension: "txt"},
		{ArchivePath: "/data/a.tar", MemberPath: "x/3.txt", FileName: "3.txt", Extension: "txt"},
	}
	created, err := store.EnqueueBatch(ctx, batch)
	if err != nil || created != 3 {
		t.Fatalf("first batch: created=%d err=%v", created, err)
	}
	batch = append(batch, jobs.NewJob{ArchivePath: "/data/a.tar", MemberPath: "x/4.txt", FileName: "4.txt", Extension: "txt"})
	created, err = store.EnqueueBatch(ctx, batch)
	if err != nil || created != 1 {
		t.Fatalf("second batch: created=%d err=%v", created, err)
	}

	count, err := store.CountUnprocessed(ctx)
	if err != nil || count != 4 {
		t.Fatalf("CountUnprocessed = %d, %v", count, err)
	}
}

func TestSameMemberPathInDifferentArchivesIsDistinct(t *testing.T) {
	store := newStore(t)
	testsupport.MustEnqueue(t, store, "/data/a.zip", "same.json")
	testsupport.MustEnqueue(t, store, "/data/b.zip", "same.json")

	count, err := store.CountUnprocessed(context.Background())
	if err != nil || count != 2 {
		t.Fatalf("CountUnprocessed = %d, %v", count, err)
	}
}

func TestClaimNextReturnsOldestPending(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	created := testsupport.MustEnqueue(t, store, "/data/a.zip", "a.json", "b.json", "c.json")

	first, err := store.ClaimNext(ctx, "worker-1")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if first == nil || first.ID != created[0].ID {
		t.Fatalf("expected job %d, got %+v", created[0].ID, first)
	}
	if first.Status != jobs.StatusClaimed || first.ClaimToken == "" || first.ClaimedBy != "worker-1" || first.Attempts != 1 {
		t.Fatalf("unexpected claimed job: %+v", first)
	}
	if first.LastHeartbeat == nil {
		t.Fatal("expected heartbeat to be stamped on claim")
	}

	second, err := store.ClaimNext(ctx, "worker-2")
	if err != nil || second == nil || second.ID != created[1].ID {
		t.Fatalf("expected second job, got %+v err=%v", second, err)
	}
}

func TestClaimNextOnEmptyQueue(t *testing.T) {
	store := newStore(t)
	job, err := store.ClaimNext(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job != nil {
		t.Fatalf("expected no job, got %+v", job)
	}
}

func TestConcurrentClaimsNeverShareAJob(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	members := make([]string, 40)
	for i := range members {
		members[i] = fmt.Sprintf("m/%02d.json", i)
	}
	testsupport.MustEnqueue(t, store, "/data/big.zip", members...)

	const workers = 8
	var (
		mu      sync.Mutex
		claimed = make(map[int64]string)
		wg      sync.WaitGroup
		errs    = make(chan error, workers)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				job, err := store.ClaimNext(ctx, worker)
				if err != nil {
					errs <- err
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				if prev, dup := claimed[job.ID]; dup {
					mu.Unlock()
					errs <- fmt.Errorf("job %d claimed by %s and %s", job.ID, prev, worker)
					return
				}
				claimed[job.ID] = worker
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	if len(claimed) != len(members) {
		t.Fatalf("expected %d claims, got %d", len(members), len(claimed))
	}
}

func TestMarkProcessedTransitions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	testsupport.MustEnqueue(t, store, "/data/a.zip", "a.json", "b.json")

	job, err := store.ClaimNext(ctx, "worker-1")
	if err != nil || job == nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	before, _ := store.CountUnprocessed(ctx)

	if err := store.MarkProcessed(ctx, job.ID, job.ClaimToken); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	after, _ := store.CountUnprocessed(ctx)
	if after != before-1 {
		t.Fatalf("expected unprocessed to drop by one: before=%d after=%d", before, after)
	}

	if err := store.MarkProcessed(ctx, job.ID, job.ClaimToken); err != nil {
		t.Fatalf("second MarkProcessed should be a no-op, got %v", err)
	}
	if again, _ := store.CountUnprocessed(ctx); again != after {
		t.Fatalf("idempotent mark changed count: %d -> %d", after, again)
	}

	stored, err := store.Get(ctx, job.ID)
	if err != nil || stored == nil {
		t.Fatalf("Get: %v", err)
	}
	if !stored.Processed || stored.Status != jobs.StatusProcessed || stored.ProcessedAt == nil {
		t.Fatalf("unexpected stored job: %+v", stored)
	}

	if err := store.MarkProcessed(ctx, 9999, "nope"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkProcessedWithAppliesWritesOnce(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	testsupport.MustEnqueue(t, store, "/data/a.zip", "a.json")

	job, _ := store.ClaimNext(ctx, "worker-1")
	bump := func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO word_counts (word, count) VALUES ('seen', 1)
            ON CONFLICT(word) DO UPDATE SET count = count + 1`)
		return err
	}

	boom := errors.New("consumer exploded")
	if err := store.MarkProcessedWith(ctx, job.ID, job.ClaimToken, func(tx *sql.Tx) error {
		if err := bump(tx); err != nil {
			return err
		}
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected apply error, got %v", err)
	}
	stored, _ := store.Get(ctx, job.ID)
	if stored.Processed || stored.Status != jobs.StatusClaimed {
		t.Fatalf("apply failure must roll back the transition, got %+v", stored)
	}

	if err := store.MarkProcessedWith(ctx, job.ID, job.ClaimToken, bump); err != nil {
		t.Fatalf("MarkProcessedWith: %v", err)
	}
	if err := store.MarkProcessedWith(ctx, job.ID, job.ClaimToken, bump); err != nil {
		t.Fatalf("repeat MarkProcessedWith should be a no-op, got %v", err)
	}

	var count int
	if err := store.DB().SQL().QueryRowContext(ctx, `SELECT count FROM word_counts WHERE word = 'seen'`).Scan(&count); err != nil {
		t.Fatalf("read count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected writes applied exactly once, got %d", count)
	}
}

func TestMarkFailedKeepsJobUnprocessed(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	testsupport.MustEnqueue(t, store, "/data/a.zip", "a.json", "b.json")

	job, _ := store.ClaimNext(ctx, "worker-1")
	before, _ := store.CountUnprocessed(ctx)
	if err := store.MarkFailed(ctx, job.ID, job.ClaimToken, ingesterr.KindCorruptMember, "bad bytes"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	after, _ := store.CountUnprocessed(ctx)
	if after != before {
		t.Fatalf("failure must not change unprocessed count: %d -> %d", before, after)
	}

	next, err := store.ClaimNext(ctx, "worker-1")
	if err != nil || next == nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if next.ID == job.ID {
		t.Fatal("failed job must not be claimed again automatically")
	}
	if empty, _ := store.ClaimNext(ctx, "worker-1"); empty != nil {
		t.Fatalf("expected queue to be drained, got %+v", empty)
	}

	stored, _ := store.Get(ctx, job.ID)
	if stored.Status != jobs.StatusFailed || stored.ErrorKind != ingesterr.KindCorruptMember || stored.ErrorMessage != "bad bytes" {
		t.Fatalf("unexpected failed job: %+v", stored)
	}

	retried, err := store.RetryFailed(ctx)
	if err != nil || retried != 1 {
		t.Fatalf("RetryFailed = %d, %v", retried, err)
	}
	again, err := store.ClaimNext(ctx, "worker-2")
	if err != nil || again == nil || again.ID != job.ID {
		t.Fatalf("expected retried job to be claimable, got %+v err=%v", again, err)
	}
	if again.Attempts != 2 {
		t.Fatalf("expected attempts to count both claims, got %d", again.Attempts)
	}
}

func TestStaleTokenIsRejected(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	testsupport.MustEnqueue(t, store, "/data/a.zip", "a.json")

	first, _ := store.ClaimNext(ctx, "worker-1")
	if _, err := store.ResetClaimed(ctx); err != nil {
		t.Fatalf("ResetClaimed: %v", err)
	}
	second, _ := store.ClaimNext(ctx, "worker-2")
	if second == nil || second.ID != first.ID {
		t.Fatalf("expected job to be re-claimed, got %+v", second)
	}

	if err := store.MarkProcessed(ctx, first.ID, first.ClaimToken); !errors.Is(err, jobs.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost, got %v", err)
	}
	if err := store.UpdateHeartbeat(ctx, first.ID, first.ClaimToken); !errors.Is(err, jobs.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost from heartbeat, got %v", err)
	}
	if err := store.MarkProcessed(ctx, second.ID, second.ClaimToken); err != nil {
		t.Fatalf("current holder should succeed: %v", err)
	}
}

func TestResetClaimedRecoversCrashedClaims(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := jobs.Open(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	testsupport.MustEnqueue(t, store, "/data/a.zip", "a.json", "b.json")
	if job, _ := store.ClaimNext(ctx, "worker-1"); job == nil {
		t.Fatal("expected claim")
	}
	_ = store.Close()

	reopened := testsupport.MustOpenStore(t, cfg)
	reset, err := reopened.ResetClaimed(ctx)
	if err != nil || reset != 1 {
		t.Fatalf("ResetClaimed = %d, %v", reset, err)
	}
	pending, err := reopened.CountPending(ctx)
	if err != nil || pending != 2 {
		t.Fatalf("CountPending = %d, %v", pending, err)
	}
}

func TestReclaimStaleOnlyTouchesExpiredHeartbeats(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	testsupport.MustEnqueue(t, store, "/data/a.zip", "a.json", "b.json")

	stale, _ := store.ClaimNext(ctx, "worker-1")
	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(20 * time.Millisecond)
	fresh, _ := store.ClaimNext(ctx, "worker-2")

	reclaimed, err := store.ReclaimStale(ctx, cutoff)
	if err != nil || reclaimed != 1 {
		t.Fatalf("ReclaimStale = %d, %v", reclaimed, err)
	}

	got, _ := store.Get(ctx, stale.ID)
	if got.Status != jobs.StatusPending || got.ClaimToken != "" {
		t.Fatalf("expected stale job back in pending, got %+v", got)
	}
	got, _ = store.Get(ctx, fresh.ID)
	if got.Status != jobs.StatusClaimed {
		t.Fatalf("expected fresh claim to survive, got %+v", got)
	}
}

func TestHeartbeatKeepsClaimAlive(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	testsupport.MustEnqueue(t, store, "/data/a.zip", "a.json")

	job, _ := store.ClaimNext(ctx, "worker-1")
	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(20 * time.Millisecond)
	if err := store.UpdateHeartbeat(ctx, job.ID, job.ClaimToken); err != nil {
		t.Fatalf("UpdateHeartbeat: %v", err)
	}
	reclaimed, err := store.ReclaimStale(ctx, cutoff)
	if err != nil || reclaimed != 0 {
		t.Fatalf("ReclaimStale = %d, %v", reclaimed, err)
	}
}

func TestReleaseReturnsJobToPending(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	testsupport.MustEnqueue(t, store, "/data/a.zip", "a.json")

	job, _ := store.ClaimNext(ctx, "worker-1")
	if err := store.Release(ctx, job.ID, job.ClaimToken); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := store.ClaimNext(ctx, "worker-1")
	if err != nil || again == nil || again.ID != job.ID {
		t.Fatalf("expected released job to be claimable, got %+v err=%v", again, err)
	}
}

func TestClaimByID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	created := testsupport.MustEnqueue(t, store, "/data/a.zip", "a.json", "b.json")

	job, err := store.ClaimByID(ctx, created[1].ID, "manual")
	if err != nil {
		t.Fatalf("ClaimByID: %v", err)
	}
	if job.ID != created[1].ID || job.Status != jobs.StatusClaimed {
		t.Fatalf("unexpected job: %+v", job)
	}
	if _, err := store.ClaimByID(ctx, created[1].ID, "manual"); !errors.Is(err, jobs.ErrNotClaimable) {
		t.Fatalf("expected ErrNotClaimable for claimed job, got %v", err)
	}
	if _, err := store.ClaimByID(ctx, 9999, "manual"); !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHealthAndArchives(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	testsupport.MustEnqueue(t, store, "/data/a.zip", "a.json", "b.json")
	testsupport.MustEnqueue(t, store, "/data/b.tar", "c.json")

	job, _ := store.ClaimNext(ctx, "worker-1")
	_ = store.MarkProcessed(ctx, job.ID, job.ClaimToken)
	job, _ = store.ClaimNext(ctx, "worker-1")
	_ = store.MarkFailed(ctx, job.ID, job.ClaimToken, ingesterr.KindMemberNotFound, "gone")
	_, _ = store.ClaimNext(ctx, "worker-1")

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	want := jobs.HealthSummary{Total: 3, Pending: 0, Claimed: 1, Failed: 1, Processed: 1}
	if health != want {
		t.Fatalf("Health = %+v, want %+v", health, want)
	}
	if health.Unprocessed() != 2 {
		t.Fatalf("Unprocessed = %d", health.Unprocessed())
	}

	archives, err := store.Archives(ctx)
	if err != nil {
		t.Fatalf("Archives: %v", err)
	}
	if len(archives) != 2 || archives[0].ArchivePath != "/data/a.zip" || archives[0].Jobs != 2 || archives[0].Processed != 1 {
		t.Fatalf("unexpected archive summary: %+v", archives)
	}
}

func TestListFilters(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	testsupport.MustEnqueue(t, store, "/data/a.zip", "a.json", "b.json", "c.json")
	job, _ := store.ClaimNext(ctx, "worker-1")
	_ = store.MarkFailed(ctx, job.ID, job.ClaimToken, ingesterr.KindCorruptMember, "x")

	failed, err := store.List(ctx, jobs.Filter{Statuses: []jobs.Status{jobs.StatusFailed}})
	if err != nil || len(failed) != 1 || failed[0].ID != job.ID {
		t.Fatalf("failed filter: %+v err=%v", failed, err)
	}
	page, err := store.List(ctx, jobs.Filter{AfterID: job.ID, Limit: 1})
	if err != nil || len(page) != 1 || page[0].ID <= job.ID {
		t.Fatalf("paged filter: %+v err=%v", page, err)
	}
	if status, ok := jobs.ParseStatus(" Failed "); !ok || status != jobs.StatusFailed {
		t.Fatalf("ParseStatus = %q, %v", status, ok)
	}
}
