package extraction

import (
	"context"
	"testing"
	"time"

	"digitaltwin/common/cache"
	"digitaltwin/common/cache/memory"
	"digitaltwin/common/learning"
	"digitaltwin/common/models"
	"digitaltwin/common/queue"
	"digitaltwin/common/textnorm"
	"digitaltwin/services/processing/internal/classifier"
	"digitaltwin/services/processing/internal/dedup"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"
)

type countingClassifier struct {
	inner classifier.Classifier
	calls int
}

func (c *countingClassifier) Classify(ctx context.Context, text, sourceURL string) (classifier.ClassificationResult, error) {
	c.calls++
	return c.inner.Classify(ctx, text, sourceURL)
}

func captureJob(t *testing.T, text string) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(queue.JobExtractCapture, models.RawCapture{
		SourceID:   uuid.New(),
		SourceURL:  "https://example.com/casting",
		SourceName: "Example",
		RawText:    text,
		CapturedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func TestNormalize(t *testing.T) {
	got := Normalize(models.CastingCallFields{
		Title:        "  Lead \n Actor ",
		Company:      "mbc  studios",
		Location:     "riyadh",
		Requirements: []string{"Fluent Arabic", " fluent  arabic ", "", "Age 25-35"},
	})
	if got.Title != "Lead Actor" || got.Company != "Mbc Studios" || got.Location != "Riyadh" {
		t.Errorf("unexpected normalization %+v", got)
	}
	if len(got.Requirements) != 2 || got.Requirements[1] != "Age 25-35" {
		t.Errorf("unexpected requirements %v", got.Requirements)
	}
}

func TestExtractor_Handle_EnqueuesCandidate(t *testing.T) {
	broker := queue.NewMemory()
	e := New(classifier.NewHeuristicClassifier(), broker, nil, Options{MinConfidence: 0.5}, zaptest.NewLogger(t))

	res, err := e.Handle(context.Background(), captureJob(t, "Casting Call: Lead Actor, riyadh, MBC"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != queue.OutcomeCompleted {
		t.Fatalf("unexpected outcome %+v", res)
	}

	jobs := broker.Enqueued(queue.Validation)
	if len(jobs) != 1 {
		t.Fatalf("expected one validation job, got %d", len(jobs))
	}
	var candidate models.ExtractedCandidate
	if err := jobs[0].Decode(&candidate); err != nil {
		t.Fatal(err)
	}
	f := candidate.Fields
	if f.Title != "Lead Actor" || f.Location != "Riyadh" || f.Company != "MBC" {
		t.Errorf("unexpected fields %+v", f)
	}
	if candidate.SourceURL != "https://example.com/casting" {
		t.Errorf("source url not carried over: %q", candidate.SourceURL)
	}
}

func TestExtractor_Handle_NotACastingCall(t *testing.T) {
	broker := queue.NewMemory()
	e := New(classifier.NewHeuristicClassifier(), broker, nil, Options{MinConfidence: 0.5}, zaptest.NewLogger(t))

	res, err := e.Handle(context.Background(), captureJob(t, "Happy national day to everyone!"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != queue.OutcomeCompleted || len(broker.Enqueued(queue.Validation)) != 0 {
		t.Errorf("expected completion without candidate, got %+v", res)
	}
}

func TestExtractor_Handle_SkipsConfirmedNegative(t *testing.T) {
	ctx := context.Background()
	learn := learning.NewStore(memory.New(cache.DefaultOptions()), time.Hour)
	text := "Casting Call: Lead Actor, Riyadh, MBC"
	fields := Normalize(models.CastingCallFields{Title: "Lead Actor", Location: "Riyadh", Company: "MBC", Description: text})

	clf := &countingClassifier{inner: classifier.NewHeuristicClassifier()}
	broker := queue.NewMemory()
	e := New(clf, broker, learn, Options{MinConfidence: 0.5}, zaptest.NewLogger(t))

	if _, err := e.Handle(ctx, captureJob(t, text)); err != nil {
		t.Fatal(err)
	}
	if ok, err := learn.Confirm(ctx, dedup.ComputeContentHash(fields), false); err != nil || !ok {
		t.Fatalf("expected the prediction to be linked to its hash: ok=%v err=%v", ok, err)
	}

	res, err := e.Handle(ctx, captureJob(t, text))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != queue.OutcomeDiscarded || clf.calls != 1 {
		t.Errorf("expected rejected text to skip the classifier, got %+v calls=%d", res, clf.calls)
	}

	v, _ := learn.Lookup(ctx, textnorm.Fingerprint(text))
	if v == nil || v.Label != learning.LabelRejected {
		t.Errorf("expected confirmed verdict to survive, got %+v", v)
	}
}

func TestExtractor_Handle_RejectionExpiresWithResubmitWindow(t *testing.T) {
	ctx := context.Background()
	learn := learning.NewStore(memory.New(cache.DefaultOptions()), time.Hour)
	text := "Casting Call: Lead Actor, Riyadh, MBC"
	fields := Normalize(models.CastingCallFields{Title: "Lead Actor", Location: "Riyadh", Company: "MBC", Description: text})

	now := time.Now().UTC()
	clf := &countingClassifier{inner: classifier.NewHeuristicClassifier()}
	broker := queue.NewMemory()
	e := New(clf, broker, learn, Options{
		MinConfidence:         0.5,
		RejectedResubmitAfter: 24 * time.Hour,
		Now:                   func() time.Time { return now },
	}, zaptest.NewLogger(t))

	if _, err := e.Handle(ctx, captureJob(t, text)); err != nil {
		t.Fatal(err)
	}
	if ok, err := learn.Confirm(ctx, dedup.ComputeContentHash(fields), false); err != nil || !ok {
		t.Fatalf("confirm: ok=%v err=%v", ok, err)
	}

	// Inside the window the rejection still short-circuits.
	res, err := e.Handle(ctx, captureJob(t, text))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != queue.OutcomeDiscarded || clf.calls != 1 {
		t.Fatalf("expected discard inside the window, got %+v calls=%d", res, clf.calls)
	}

	// Past the window the text is classified and handed to validation again.
	now = now.Add(25 * time.Hour)
	res, err = e.Handle(ctx, captureJob(t, text))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != queue.OutcomeCompleted || clf.calls != 2 {
		t.Errorf("expected reclassification past the window, got %+v calls=%d", res, clf.calls)
	}
	if n := len(broker.Enqueued(queue.Validation)); n != 2 {
		t.Errorf("expected 2 validation jobs, got %d", n)
	}
}
