package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"digitaltwin/common/models"
	"digitaltwin/common/queue"

	"go.uber.org/zap/zaptest"
)

func TestPublisher_PushThenRecord(t *testing.T) {
	ctx := context.Background()
	broker := queue.NewMemory()
	pub := NewPublisher(broker, zaptest.NewLogger(t))

	original, err := queue.NewJob(queue.JobExtractCapture, models.RawCapture{RawText: "Casting Call: Lead Actor"})
	if err != nil {
		t.Fatal(err)
	}
	original.Attempts = 3

	if err := pub.Push(ctx, models.KindFailedExtraction, original, errors.New("llm timeout"), time.Now()); err != nil {
		t.Fatalf("Push: %v", err)
	}

	jobs := broker.Enqueued(queue.DeadLetter)
	if len(jobs) != 1 || jobs[0].Name != queue.JobDeadLetter {
		t.Fatalf("expected one dead-letter job, got %+v", jobs)
	}

	store := NewMemoryStore()
	result, err := Recorder(store, zaptest.NewLogger(t))(ctx, jobs[0])
	if err != nil {
		t.Fatalf("Recorder: %v", err)
	}
	if result.Outcome != queue.OutcomeCompleted {
		t.Errorf("unexpected outcome %s", result.Outcome)
	}

	entries, _ := store.List(ctx, models.DeadLetterFilter{Kind: models.KindFailedExtraction})
	if len(entries) != 1 {
		t.Fatalf("expected one stored entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Error != "llm timeout" || entry.JobID != original.ID {
		t.Errorf("unexpected entry %+v", entry)
	}

	var decoded queue.Job
	if err := json.Unmarshal(entry.OriginalJob, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Attempts != 3 {
		t.Errorf("expected original attempts preserved, got %d", decoded.Attempts)
	}
}

func TestPublisher_RejectsUnknownKind(t *testing.T) {
	pub := NewPublisher(queue.NewMemory(), zaptest.NewLogger(t))
	job, _ := queue.NewJob(queue.JobExtractCapture, struct{}{})
	if err := pub.Push(context.Background(), "failed-everything", job, nil, time.Now()); err == nil {
		t.Fatal("expected an error for an unknown kind")
	}
}

func TestMemoryStore_FilterCountClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()
	for i, kind := range []models.DeadLetterKind{models.KindFailedScrape, models.KindFailedScrape, models.KindFailedExtraction} {
		job, _ := queue.NewJob("job", i)
		e, _ := NewEntry(kind, job, errors.New("x"), now.Add(time.Duration(i)*time.Minute))
		_ = store.Save(ctx, e)
	}

	if n, _ := store.Count(ctx, models.KindFailedScrape); n != 2 {
		t.Errorf("expected 2 scrape failures, got %d", n)
	}
	recent, _ := store.List(ctx, models.DeadLetterFilter{Since: now.Add(30 * time.Second)})
	if len(recent) != 2 {
		t.Errorf("expected 2 entries since cutoff, got %d", len(recent))
	}
	if !recent[0].FailedAt.After(recent[1].FailedAt) {
		t.Error("expected newest first")
	}

	removed, _ := store.Clear(ctx, models.KindFailedScrape)
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if n, _ := store.Count(ctx, ""); n != 1 {
		t.Errorf("expected 1 remaining, got %d", n)
	}
}
