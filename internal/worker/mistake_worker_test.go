package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/repository"
	"github.com/stemsi/exstem-grader/internal/service"
)

type fakeWriter struct {
	mu        sync.Mutex
	bulkFail  bool
	failUser  int64
	bulkCalls int
	persisted []repository.MistakeOccurrence
}

func (f *fakeWriter) BulkUpsert(_ context.Context, batch []repository.MistakeOccurrence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkCalls++
	if f.bulkFail {
		return errors.New("deadlock detected")
	}
	f.persisted = append(f.persisted, batch...)
	return nil
}

func (f *fakeWriter) Upsert(_ context.Context, m repository.MistakeOccurrence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m.UserID == f.failUser {
		return errors.New("foreign key violation")
	}
	f.persisted = append(f.persisted, m)
	return nil
}

func (f *fakeWriter) Persisted() []repository.MistakeOccurrence {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.MistakeOccurrence(nil), f.persisted...)
}

func newTestWorker(t *testing.T, store MistakeWriter) (*MistakeWorker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	w := NewMistakeWorker(store, rdb, zerolog.Nop())
	w.batchTimeout = 20 * time.Millisecond
	w.pollTimeout = 50 * time.Millisecond
	return w, mr
}

func pushEvent(t *testing.T, mr *miniredis.Miniredis, userID, questionID int64) {
	t.Helper()
	raw, err := json.Marshal(service.MistakeEvent{
		UserID: userID, QuestionID: questionID, Source: "exam",
		At: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := mr.Push(config.WorkerKey.PersistMistakesQueue, string(raw)); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestMistakeWorkerPersistsQueuedEvents(t *testing.T) {
	store := &fakeWriter{}
	w, mr := newTestWorker(t, store)
	pushEvent(t, mr, 1, 10)
	pushEvent(t, mr, 1, 11)
	pushEvent(t, mr, 2, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return len(store.Persisted()) == 3 })
	cancel()
	<-done

	got := store.Persisted()
	if got[0].UserID != 1 || got[0].QuestionID != 10 || got[0].Source != "exam" {
		t.Fatalf("unexpected first occurrence %+v", got[0])
	}
}

func TestMistakeWorkerDropsMalformedPayloads(t *testing.T) {
	store := &fakeWriter{}
	w, mr := newTestWorker(t, store)
	if _, err := mr.Push(config.WorkerKey.PersistMistakesQueue, "{broken", `{"user_id":0,"question_id":3}`); err != nil {
		t.Fatalf("push: %v", err)
	}
	pushEvent(t, mr, 4, 40)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	waitFor(t, func() bool { return len(store.Persisted()) == 1 })
	cancel()
	<-done

	if got := store.Persisted()[0]; got.UserID != 4 {
		t.Fatalf("unexpected occurrence %+v", got)
	}
}

func TestMistakeWorkerFallbackRequeuesFailures(t *testing.T) {
	store := &fakeWriter{bulkFail: true, failUser: 9}
	w, mr := newTestWorker(t, store)

	batch := []queuedMistake{}
	for _, uid := range []int64{1, 9, 2} {
		raw, _ := json.Marshal(service.MistakeEvent{UserID: uid, QuestionID: 5, At: time.Now()})
		q, ok := w.decode(string(raw))
		if !ok {
			t.Fatalf("decode failed")
		}
		batch = append(batch, q)
	}

	if n := w.flush(context.Background(), batch); n != 2 {
		t.Fatalf("expected 2 persisted through the fallback, got %d", n)
	}
	queued, err := mr.List(config.WorkerKey.PersistMistakesQueue)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("expected the failing item to be requeued, got %d", len(queued))
	}
	var ev service.MistakeEvent
	_ = json.Unmarshal([]byte(queued[0]), &ev)
	if ev.UserID != 9 {
		t.Fatalf("requeued the wrong item: %+v", ev)
	}
}

func TestMistakeWorkerDrainsOnShutdown(t *testing.T) {
	store := &fakeWriter{}
	w, mr := newTestWorker(t, store)
	for i := int64(1); i <= 120; i++ {
		pushEvent(t, mr, i, 1)
	}

	w.drain(context.Background())

	if got := len(store.Persisted()); got != 120 {
		t.Fatalf("expected 120 drained, got %d", got)
	}
	if store.bulkCalls != 3 {
		t.Fatalf("expected 3 batches, got %d", store.bulkCalls)
	}
	if mr.Exists(config.WorkerKey.PersistMistakesQueue) {
		t.Fatalf("expected an empty queue")
	}
}

func TestMistakeWorkerDrainStopsOnPersistentFailure(t *testing.T) {
	store := &fakeWriter{bulkFail: true, failUser: 3}
	w, mr := newTestWorker(t, store)
	pushEvent(t, mr, 3, 1)

	done := make(chan struct{})
	go func() {
		w.drain(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("drain kept spinning on a failing item")
	}

	queued, _ := mr.List(config.WorkerKey.PersistMistakesQueue)
	if len(queued) != 1 {
		t.Fatalf("expected the item to stay queued, got %d", len(queued))
	}
}
