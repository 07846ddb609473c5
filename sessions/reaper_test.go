package sessions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jacklul/gamestore/storage"
)

// listingBackend extends fakeBackend with a scripted stale-session listing
// and a per-delete clock hook.
type listingBackend struct {
	*fakeBackend
	infos    []storage.SessionInfo
	listErr  error
	onDelete func()
}

func (l *listingBackend) List(ctx context.Context, olderThan time.Duration) ([]storage.SessionInfo, error) {
	if l.listErr != nil {
		return nil, l.listErr
	}
	return l.infos, nil
}

func (l *listingBackend) Delete(ctx context.Context, id string) error {
	if l.onDelete != nil {
		l.onDelete()
	}
	return l.fakeBackend.Delete(ctx, id)
}

func staleInfos(n int) []storage.SessionInfo {
	base := time.Now().Add(-24 * time.Hour)
	infos := make([]storage.SessionInfo, 0, n)
	for i := 0; i < n; i++ {
		infos = append(infos, storage.SessionInfo{
			ID:        fmt.Sprintf("stale-%02d", i),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	return infos
}

func TestReapDeletesAllWithinBudget(t *testing.T) {
	lb := &listingBackend{fakeBackend: newFakeBackend(), infos: staleInfos(5)}
	for _, info := range lb.infos {
		lb.sessions[info.ID] = &storage.Session{ID: info.ID, Data: []byte("x")}
	}

	r := NewReaper(lb, nil, nil)
	report, err := r.Reap(context.Background(), time.Hour, time.Minute)
	if err != nil {
		t.Fatalf("Reap() failed: %v", err)
	}
	if report.Processed != 5 || report.Total != 5 {
		t.Fatalf("Reap() report = %+v, want {5 5}", report)
	}
	if len(lb.sessions) != 0 {
		t.Fatalf("%d sessions survived the reap", len(lb.sessions))
	}
}

func TestReapStopsAtBudget(t *testing.T) {
	lb := &listingBackend{fakeBackend: newFakeBackend(), infos: staleInfos(30)}

	r := NewReaper(lb, nil, nil)

	// Virtual clock: each delete costs one second against a ten-second
	// budget, so exactly ten of the thirty candidates get processed.
	now := time.Unix(1700000000, 0)
	r.now = func() time.Time { return now }
	lb.onDelete = func() { now = now.Add(time.Second) }

	report, err := r.Reap(context.Background(), time.Hour, 10*time.Second)
	if err != nil {
		t.Fatalf("Reap() failed: %v", err)
	}
	if report.Processed != 10 || report.Total != 30 {
		t.Fatalf("Reap() report = %+v, want {10 30}", report)
	}
}

func TestReapNotifies(t *testing.T) {
	lb := &listingBackend{fakeBackend: newFakeBackend(), infos: staleInfos(3)}

	var notified []string
	notify := func(ctx context.Context, id string) error {
		notified = append(notified, id)
		return nil
	}

	r := NewReaper(lb, notify, nil)
	if _, err := r.Reap(context.Background(), time.Hour, time.Minute); err != nil {
		t.Fatalf("Reap() failed: %v", err)
	}
	if len(notified) != 3 || notified[0] != "stale-00" {
		t.Fatalf("notified = %v, want all three oldest-first", notified)
	}
}

func TestReapNotifyFailureDoesNotBlockDelete(t *testing.T) {
	lb := &listingBackend{fakeBackend: newFakeBackend(), infos: staleInfos(2)}
	for _, info := range lb.infos {
		lb.sessions[info.ID] = &storage.Session{ID: info.ID, Data: []byte("x")}
	}

	notify := func(ctx context.Context, id string) error {
		return errors.New("edit message failed")
	}

	r := NewReaper(lb, notify, nil)
	report, err := r.Reap(context.Background(), time.Hour, time.Minute)
	if err != nil {
		t.Fatalf("Reap() failed: %v", err)
	}
	if report.Processed != 2 || len(lb.sessions) != 0 {
		t.Fatalf("report = %+v with %d survivors, want everything deleted", report, len(lb.sessions))
	}
}

func TestReapDeleteFailureDoesNotAbort(t *testing.T) {
	lb := &listingBackend{fakeBackend: newFakeBackend(), infos: staleInfos(3)}
	lb.deleteErr = errors.New("row locked")

	r := NewReaper(lb, nil, nil)
	report, err := r.Reap(context.Background(), time.Hour, time.Minute)
	if err != nil {
		t.Fatalf("Reap() failed: %v", err)
	}
	if report.Processed != 3 {
		t.Fatalf("report = %+v, want all three processed despite delete failures", report)
	}
}

func TestReapPausesEveryBatch(t *testing.T) {
	lb := &listingBackend{fakeBackend: newFakeBackend(), infos: staleInfos(60)}

	notify := func(ctx context.Context, id string) error { return nil }
	r := NewReaper(lb, notify, nil)

	var pauses int
	r.sleep = func(time.Duration) { pauses++ }

	if _, err := r.Reap(context.Background(), time.Hour, time.Minute); err != nil {
		t.Fatalf("Reap() failed: %v", err)
	}
	// 60 notifications in batches of 25 rest twice.
	if pauses != 2 {
		t.Fatalf("paused %d times, want 2", pauses)
	}
}

func TestReapNegativeThreshold(t *testing.T) {
	r := NewReaper(newFakeBackend(), nil, nil)
	if _, err := r.Reap(context.Background(), -time.Hour, time.Minute); err == nil {
		t.Fatal("Reap() with negative threshold succeeded")
	}
}

func TestReapEmptyListing(t *testing.T) {
	// A backend without listing support (like the cache) reports an
	// empty batch rather than an error.
	r := NewReaper(newFakeBackend(), nil, nil)
	report, err := r.Reap(context.Background(), time.Hour, time.Minute)
	if err != nil {
		t.Fatalf("Reap() failed: %v", err)
	}
	if report.Processed != 0 || report.Total != 0 {
		t.Fatalf("report = %+v, want {0 0}", report)
	}
}
