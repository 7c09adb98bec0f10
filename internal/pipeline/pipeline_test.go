package pipeline_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"textmill/internal/catalog"
	"textmill/internal/content"
	"textmill/internal/handles"
	"textmill/internal/ingesterr"
	"textmill/internal/jobs"
	"textmill/internal/pipeline"
	"textmill/internal/stats"
	"textmill/internal/testsupport"
)

type readerFunc func(ctx context.Context, job *jobs.Job) (string, error)

func (f readerFunc) Read(ctx context.Context, job *jobs.Job) (string, error) {
	return f(ctx, job)
}

func staticReader(text string) pipeline.JobReader {
	return readerFunc(func(context.Context, *jobs.Job) (string, error) { return text, nil })
}

func enqueueMany(t *testing.T, store *jobs.Store, n int) []*jobs.Job {
	t.Helper()
	members := make([]string, 0, n)
	for i := range n {
		members = append(members, fmt.Sprintf("docs/%03d.json", i))
	}
	return testsupport.MustEnqueue(t, store, "/data/a.zip", members...)
}

func TestRunExtractsCatalogEndToEnd(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(3))
	ctx := context.Background()

	archivePath := filepath.Join(cfg.Paths.InputDir, "batch.zip")
	testsupport.WriteZip(t, archivePath,
		testsupport.File("docs/a.json", `[{"text":"Hello world"},{"other":1},{"text":"hello again"}]`),
		testsupport.File("docs/b.json", `{"text":"0454060-cd29.txt 0000644 ustar\nsingle"}`),
		testsupport.File("docs/c.json", `"not json{`),
		testsupport.Entry{Name: "docs/d.json.xz", Body: []byte("definitely not xz")},
	)

	store := testsupport.MustOpenStore(t, cfg)
	summary, err := catalog.New(store, nil).Build(ctx, []string{archivePath})
	if err != nil || summary.Created != 4 {
		t.Fatalf("catalog: created=%d err=%v", summary.Created, err)
	}
	testsupport.MustEnqueue(t, store, archivePath, "docs/gone.json")

	cache := handles.New(cfg.Archives.MaxOpenHandles, nil, nil)
	t.Cleanup(func() { _ = cache.Close() })
	reader, err := content.NewFromConfig(cfg, cache)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}

	mgr := pipeline.NewManager(cfg, store, reader, nil, pipeline.WithHandleStats(cache.Stats))
	result, err := mgr.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Claimed != 5 || result.Processed != 3 {
		t.Fatalf("unexpected summary: %+v", result)
	}
	if result.Failed[ingesterr.KindMemberNotFound] != 1 || result.Failed[ingesterr.KindCorruptMember] != 1 {
		t.Fatalf("unexpected failures: %v", result.Failed)
	}
	if result.Texts != 3 || result.Remaining != 2 || result.Interrupted {
		t.Fatalf("unexpected totals: %+v", result)
	}
	if result.Handles.Opens != 1 {
		t.Fatalf("expected the archive to be opened once, got %+v", result.Handles)
	}

	counter := stats.NewWordCounter(store.DB())
	for word, want := range map[string]int64{"hello": 2, "world": 1, "again": 1, "single": 1, "ustar": 0} {
		got, err := counter.Count(ctx, word)
		if err != nil || got != want {
			t.Fatalf("Count(%q) = %d, %v; want %d", word, got, err, want)
		}
	}

	again, err := mgr.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if again.Claimed != 0 || again.Processed != 0 {
		t.Fatalf("expected nothing left to do, got %+v", again)
	}
	if got, _ := counter.Count(ctx, "hello"); got != 2 {
		t.Fatalf("second run must not recount words, got %d", got)
	}
}

func TestRunClaimsEveryJobExactlyOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(6))
	store := testsupport.MustOpenStore(t, cfg)
	enqueueMany(t, store, 60)

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
	)
	record := pipeline.ConsumerFunc(func(_ context.Context, job *jobs.Job, _ string) (pipeline.Result, error) {
		mu.Lock()
		seen[job.ID]++
		mu.Unlock()
		return pipeline.Result{Texts: 1}, nil
	})

	mgr := pipeline.NewManager(cfg, store, staticReader("{}"), nil, pipeline.WithConsumers(record))
	summary, err := mgr.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 60 || summary.Remaining != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(seen) != 60 {
		t.Fatalf("expected 60 distinct jobs, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("job %d consumed %d times", id, n)
		}
	}
}

func TestRunRecoversClaimsFromCrashedRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	enqueueMany(t, store, 3)

	crashed, err := store.ClaimNext(ctx, "crashed-worker")
	if err != nil || crashed == nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	mgr := pipeline.NewManager(cfg, store, staticReader(`{"text":"ok"}`), nil)
	summary, err := mgr.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.ResetOnRun != 1 || summary.Processed != 3 {
		t.Fatalf("expected crashed claim to be recovered, got %+v", summary)
	}
	stored, _ := store.Get(ctx, crashed.ID)
	if !stored.Processed || stored.Attempts != 2 {
		t.Fatalf("unexpected recovered job: %+v", stored)
	}
}

func TestRunRefusesConcurrentRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("TryLock: locked=%v err=%v", locked, err)
	}
	t.Cleanup(func() { _ = lock.Unlock() })

	mgr := pipeline.NewManager(cfg, store, staticReader(""), nil)
	if _, err := mgr.Run(context.Background()); !errors.Is(err, pipeline.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRunLockIsExclusiveUntilReleased(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MustOpenStore(t, cfg)

	first, err := pipeline.AcquireRunLock(cfg)
	if err != nil {
		t.Fatalf("AcquireRunLock: %v", err)
	}
	if _, err := pipeline.AcquireRunLock(cfg); !errors.Is(err, pipeline.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := pipeline.AcquireRunLock(cfg)
	if err != nil {
		t.Fatalf("AcquireRunLock after release: %v", err)
	}
	_ = again.Release()
}

func TestConsumerFailureFailsOnlyThatJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	created := enqueueMany(t, store, 3)
	badID := created[1].ID

	picky := pipeline.ConsumerFunc(func(_ context.Context, job *jobs.Job, _ string) (pipeline.Result, error) {
		if job.ID == badID {
			return pipeline.Result{}, errors.New("refusing this one")
		}
		return pipeline.Result{}, nil
	})
	mgr := pipeline.NewManager(cfg, store, staticReader(""), nil, pipeline.WithConsumers(picky))
	summary, err := mgr.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 2 || summary.Failed[ingesterr.KindConsumer] != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	bad, _ := store.Get(ctx, badID)
	if bad.Processed || bad.Status != jobs.StatusFailed || bad.ErrorKind != ingesterr.KindConsumer {
		t.Fatalf("unexpected failed job: %+v", bad)
	}
	if !strings.Contains(bad.ErrorMessage, "refusing this one") {
		t.Fatalf("expected error message to be recorded, got %q", bad.ErrorMessage)
	}
	if remaining, _ := store.CountUnprocessed(ctx); remaining != 1 {
		t.Fatalf("expected one unprocessed job, got %d", remaining)
	}
}

func TestFailedApplyRollsBackJob(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	created := enqueueMany(t, store, 1)

	counter := stats.NewWordCounter(store.DB())
	broken := pipeline.ConsumerFunc(func(context.Context, *jobs.Job, string) (pipeline.Result, error) {
		return pipeline.Result{Apply: func(ctx context.Context, tx *sql.Tx) error {
			if err := counter.IncrementTx(ctx, tx, map[string]int64{"partial": 1}); err != nil {
				return err
			}
			return errors.New("disk full")
		}}, nil
	})
	mgr := pipeline.NewManager(cfg, store, staticReader(""), nil, pipeline.WithConsumers(broken))
	summary, err := mgr.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 0 || summary.Failed[ingesterr.KindConsumer] != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got, _ := counter.Count(ctx, "partial"); got != 0 {
		t.Fatalf("expected consumer writes to roll back, got count %d", got)
	}
	stored, _ := store.Get(ctx, created[0].ID)
	if stored.Processed || stored.Status != jobs.StatusFailed {
		t.Fatalf("unexpected job after failed apply: %+v", stored)
	}
}

func TestCancellationReleasesInFlightJob(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	created := enqueueMany(t, store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	blocking := readerFunc(func(ctx context.Context, _ *jobs.Job) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	mgr := pipeline.NewManager(cfg, store, blocking, nil)
	done := make(chan pipeline.Summary, 1)
	go func() {
		summary, err := mgr.Run(ctx)
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		done <- summary
	}()

	<-started
	cancel()
	var summary pipeline.Summary
	select {
	case summary = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
	if !summary.Interrupted || summary.Released != 1 || summary.Processed != 0 || summary.FailedTotal() != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	stored, _ := store.Get(context.Background(), created[0].ID)
	if stored.Status != jobs.StatusPending || stored.Processed {
		t.Fatalf("expected interrupted job back in pending, got %+v", stored)
	}
}

func TestRepeatedStoreFailuresStopTheRun(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(2))
	cfg.Workflow.ResetClaimedOnStart = false
	cfg.Workflow.ErrorRetryInterval = 0
	cfg.Workflow.MaxStoreFailures = 2
	store := testsupport.MustOpenStore(t, cfg)
	enqueueMany(t, store, 2)
	if err := store.DB().SQL().Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	mgr := pipeline.NewManager(cfg, store, staticReader(""), nil)
	_, err := mgr.Run(context.Background())
	if err == nil {
		t.Fatal("expected run to fail")
	}
	if !errors.Is(err, ingesterr.ErrStoreUnavailable) || !strings.Contains(err.Error(), "consecutive store failures") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFollowModePicksUpNewJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkers(1))
	store := testsupport.MustOpenStore(t, cfg)
	enqueueMany(t, store, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr := pipeline.NewManager(cfg, store, staticReader(`{"text":"later"}`), nil, pipeline.WithMode(pipeline.ModeFollow))
	done := make(chan pipeline.Summary, 1)
	go func() {
		summary, _ := mgr.Run(ctx)
		done <- summary
	}()

	waitForUnprocessed(t, store, 0)
	testsupport.MustEnqueue(t, store, "/data/b.zip", "late.json")
	waitForUnprocessed(t, store, 0)
	cancel()

	select {
	case summary := <-done:
		if summary.Processed != 2 || summary.Mode != "follow" {
			t.Fatalf("unexpected summary: %+v", summary)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("follow run did not stop")
	}
}

func waitForUnprocessed(t *testing.T, store *jobs.Store, want int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if n, err := store.CountUnprocessed(context.Background()); err == nil && n == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d unprocessed jobs", want)
}

func TestTextConsumerCountsCleanedText(t *testing.T) {
	consumer := pipeline.NewTextConsumer(nil)
	res, err := consumer.Consume(context.Background(), &jobs.Job{}, `[{"text":"A a\n\n\nb"},{"text":"c"}]`)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if res.Texts != 2 || res.Words != 4 || res.Apply != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}
