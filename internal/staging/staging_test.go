package staging

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gfhdhytghd/oqqwall/internal/config"
	"github.com/gfhdhytghd/oqqwall/internal/db"
	"github.com/gfhdhytghd/oqqwall/internal/models"
	"gorm.io/gorm"
)

func openStagingTestDB(t *testing.T, groups ...string) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(config.DBConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "wall.db")})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.Init(gdb, groups); err != nil {
		t.Fatalf("init test db: %v", err)
	}
	return gdb
}

func sub(tag int64, group string) models.Submission {
	return models.Submission{
		Tag:        tag,
		SenderID:   "1000",
		ReceiverID: "2000",
		GroupName:  group,
		Flags:      models.EncodeFlags(false),
	}
}

func tagsOf(rows []models.StagingRow) []int64 {
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Tag)
	}
	return out
}

func equalTags(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEnqueue_ListStaged_Ordered(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openStagingTestDB(t, "alpha"), []string{"alpha"})

	for _, tag := range []int64{9, 3, 5} {
		if err := s.Enqueue(ctx, "alpha", sub(tag, "alpha")); err != nil {
			t.Fatalf("Enqueue(%d): %v", tag, err)
		}
	}

	rows, err := s.ListStaged(ctx, "alpha")
	if err != nil {
		t.Fatalf("ListStaged: %v", err)
	}
	if got := tagsOf(rows); !equalTags(got, []int64{3, 5, 9}) {
		t.Errorf("tags = %v, want [3 5 9]", got)
	}
	n, err := s.Count(ctx, "alpha")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestListStaged_EmptyIsNotAnError(t *testing.T) {
	s := NewStore(openStagingTestDB(t, "alpha"), []string{"alpha"})
	rows, err := s.ListStaged(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("ListStaged: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("rows = %v, want empty non-nil slice", rows)
	}
}

func TestEnqueue_UnprovisionedGroup(t *testing.T) {
	s := NewStore(openStagingTestDB(t), []string{"ghost"})
	err := s.Enqueue(context.Background(), "ghost", sub(1, "ghost"))
	if err == nil {
		t.Fatal("expected error")
	}
	var se *StagingError
	if !errors.As(err, &se) {
		t.Fatalf("error %T is not *StagingError", err)
	}
	if !errors.Is(err, ErrGroupNotProvisioned) {
		t.Errorf("error = %v, want ErrGroupNotProvisioned", err)
	}
	if _, err := s.ListStaged(context.Background(), "ghost"); !errors.Is(err, ErrGroupNotProvisioned) {
		t.Errorf("ListStaged error = %v, want ErrGroupNotProvisioned", err)
	}
}

func TestEnqueue_TagInAtMostOneGroup(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openStagingTestDB(t, "alpha", "beta"), []string{"alpha", "beta"})

	if err := s.Enqueue(ctx, "alpha", sub(42, "alpha")); err != nil {
		t.Fatalf("Enqueue alpha: %v", err)
	}
	err := s.Enqueue(ctx, "beta", sub(42, "beta"))
	if !errors.Is(err, ErrTagConflict) {
		t.Fatalf("error = %v, want ErrTagConflict", err)
	}

	// Same group again is a no-op.
	if err := s.Enqueue(ctx, "alpha", sub(42, "alpha")); err != nil {
		t.Fatalf("re-enqueue alpha: %v", err)
	}
	n, _ := s.Count(ctx, "alpha")
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestRemove_ExactTagsAndMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openStagingTestDB(t, "alpha"), []string{"alpha"})
	for _, tag := range []int64{1, 2, 3} {
		s.Enqueue(ctx, "alpha", sub(tag, "alpha"))
	}

	if err := s.Remove(ctx, "alpha", []int64{1, 3, 99}); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	rows, _ := s.ListStaged(ctx, "alpha")
	if got := tagsOf(rows); !equalTags(got, []int64{2}) {
		t.Errorf("tags = %v, want [2]", got)
	}
	if err := s.Remove(ctx, "alpha", nil); err != nil {
		t.Errorf("Remove(nil): %v", err)
	}
}

func TestSubmission_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openStagingTestDB(t, "alpha"), []string{"alpha"})

	if _, err := s.Submission(ctx, 5); !errors.Is(err, ErrSubmissionNotFound) {
		t.Fatalf("error = %v, want ErrSubmissionNotFound", err)
	}
	if err := s.PutSubmission(ctx, sub(5, "alpha")); err != nil {
		t.Fatalf("PutSubmission: %v", err)
	}
	got, err := s.Submission(ctx, 5)
	if err != nil {
		t.Fatalf("Submission: %v", err)
	}
	if got.GroupName != "alpha" || got.SenderID != "1000" {
		t.Errorf("Submission = %+v", got)
	}
	if err := s.PutSubmission(ctx, models.Submission{Tag: 6}); err == nil {
		t.Error("expected error for submission without group")
	}
}

func TestLocker_SerializesSameGroup(t *testing.T) {
	gdb := openStagingTestDB(t)
	l := NewLocker(gdb, time.Minute)
	l.poll = 5 * time.Millisecond

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "alpha")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	if got := maxInside.Load(); got != 1 {
		t.Errorf("max concurrent holders = %d, want 1", got)
	}
}

func TestLocker_DifferentGroupsDoNotBlock(t *testing.T) {
	l := NewLocker(openStagingTestDB(t), time.Minute)

	unlockA, err := l.Lock(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("Lock alpha: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "beta")
	if err != nil {
		t.Fatalf("Lock beta while alpha held: %v", err)
	}
	unlockB()
}

func TestLocker_LeaseBlocksOtherProcess(t *testing.T) {
	gdb := openStagingTestDB(t)
	first := NewLocker(gdb, time.Minute)
	second := NewLocker(gdb, time.Minute)
	second.poll = 5 * time.Millisecond

	unlock, err := first.Lock(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("first Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := second.Lock(ctx, "alpha"); err == nil {
		t.Fatal("second locker acquired a held lease")
	}

	unlock()
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	unlock2, err := second.Lock(ctx2, "alpha")
	if err != nil {
		t.Fatalf("second Lock after release: %v", err)
	}
	unlock2()
}

func TestLocker_ReclaimsStaleLease(t *testing.T) {
	gdb := openStagingTestDB(t)
	stale := models.GroupLock{
		GroupName:     "alpha",
		Holder:        "crashed-process",
		AcquiredAt:    time.Now().Add(-time.Hour),
		LastHeartbeat: time.Now().Add(-time.Hour),
	}
	if err := gdb.Create(&stale).Error; err != nil {
		t.Fatalf("seed stale lease: %v", err)
	}

	l := NewLocker(gdb, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock, err := l.Lock(ctx, "alpha")
	if err != nil {
		t.Fatalf("Lock over stale lease: %v", err)
	}
	unlock()

	var n int64
	gdb.Model(&models.GroupLock{}).Where("group_name = ?", "alpha").Count(&n)
	if n != 0 {
		t.Errorf("lease rows after unlock = %d, want 0", n)
	}
}

func TestRecordFlush_History(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openStagingTestDB(t, "alpha"), []string{"alpha"})

	for i, status := range []string{"exhausted", "succeeded"} {
		rec := models.FlushRecord{
			AttemptID: string(rune('a' + i)),
			GroupName: "alpha",
			Tags:      EncodeTags([]int64{1, 2}),
			Trigger:   "count",
			Status:    status,
		}
		if err := s.RecordFlush(ctx, rec); err != nil {
			t.Fatalf("RecordFlush: %v", err)
		}
	}

	recs, err := s.History(ctx, "alpha", 1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != "succeeded" {
		t.Fatalf("History = %+v, want newest succeeded record", recs)
	}
	tags, err := DecodeTags(recs[0].Tags)
	if err != nil || !equalTags(tags, []int64{1, 2}) {
		t.Errorf("DecodeTags = %v, %v", tags, err)
	}

	all, _ := s.History(ctx, "alpha", 0)
	if len(all) != 2 {
		t.Errorf("len(History) = %d, want 2", len(all))
	}
	other, _ := s.History(ctx, "beta", 0)
	if len(other) != 0 {
		t.Errorf("History(beta) = %v, want empty", other)
	}
}
